// Package courtesy 工作人员发放赠票：创建即生效，token 当场生成。
package courtesy

import (
	"context"
	"strings"
	"time"

	"abada_sales/internal/apperr"
	"abada_sales/internal/model"
	"abada_sales/internal/queue"
	"abada_sales/internal/store"
	"abada_sales/internal/token"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type GrantRequest struct {
	HolderName  string              `json:"holderName" binding:"required"`
	HolderPhone string              `json:"holderPhone"`
	Items       []model.ItemRequest `json:"items" binding:"required"`
}

type Service struct {
	store  *store.Store
	events queue.Publisher
	now    func() time.Time
}

func NewService(s *store.Store, events queue.Publisher) *Service {
	if events == nil {
		events = queue.NopPublisher{}
	}
	return &Service{store: s, events: events, now: time.Now}
}

func (s *Service) Grant(ctx context.Context, req GrantRequest, grantedBy string) (*model.Courtesy, error) {
	name := strings.TrimSpace(req.HolderName)
	if name == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "holder name is required")
	}
	if grantedBy == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "granting staff is required")
	}
	items, err := model.BuildItems(req.Items)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, err.Error(), err)
	}

	c := &model.Courtesy{
		ID:          uuid.NewString(),
		Status:      model.CourtesyActive,
		HolderName:  name,
		HolderPhone: strings.TrimSpace(req.HolderPhone),
		GrantedBy:   grantedBy,
		Items:       items,
	}
	_, err = token.Mint(ctx, s.store, func(tok string) error {
		c.Token = tok
		return s.store.CreateCourtesy(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"courtesy_id": c.ID, "granted_by": grantedBy}).Info("courtesy granted")
	if err := s.events.Publish(ctx, queue.NewEvent(queue.EventCourtesyGranted, c, grantedBy, s.now())); err != nil {
		log.WithError(err).WithField("courtesy_id", c.ID).Warn("publish courtesy.granted")
	}
	return c, nil
}
