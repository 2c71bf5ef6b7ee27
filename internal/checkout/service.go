// Package checkout 是下单入口：冻结批次价格、创建支付偏好、落 PENDING 订单。
package checkout

import (
	"context"
	"errors"
	"strings"
	"time"

	"abada_sales/internal/apperr"
	"abada_sales/internal/model"
	"abada_sales/internal/notify"
	"abada_sales/internal/payment"
	"abada_sales/internal/queue"
	"abada_sales/internal/store"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Settings 每次请求时读取的售卖开关，不做全局可变状态。
type Settings struct {
	PurchaseEnabled bool
}

type SettingsFunc func() Settings

// Static 返回固定配置。
func Static(s Settings) SettingsFunc {
	return func() Settings { return s }
}

type CreateRequest struct {
	HolderName  string              `json:"holderName" binding:"required"`
	HolderPhone string              `json:"holderPhone"`
	HolderEmail string              `json:"holderEmail" binding:"required"`
	Items       []model.ItemRequest `json:"items" binding:"required"`
}

type CreateResult struct {
	OrderID      string `json:"orderId"`
	PreferenceID string `json:"preferenceId"`
	CheckoutURL  string `json:"checkoutUrl"`
	Total        int64  `json:"total"`
}

type Service struct {
	store           *store.Store
	processor       payment.Processor
	events          queue.Publisher
	notificationURL string
	backURL         string
	now             func() time.Time
}

func NewService(s *store.Store, processor payment.Processor, events queue.Publisher, notificationURL, backURL string) *Service {
	if events == nil {
		events = queue.NopPublisher{}
	}
	return &Service{
		store:           s,
		processor:       processor,
		events:          events,
		notificationURL: notificationURL,
		backURL:         backURL,
		now:             time.Now,
	}
}

func itemTitle(it model.Item) string {
	if it.Type == model.ItemPrimary {
		return "Abadá " + it.Size
	}
	return "Adicional"
}

func (s *Service) Create(ctx context.Context, settings Settings, req CreateRequest) (*CreateResult, error) {
	if !settings.PurchaseEnabled {
		return nil, apperr.New(apperr.KindPreconditionFailed, "sales are closed")
	}
	name := strings.TrimSpace(req.HolderName)
	if name == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "holder name is required")
	}
	email := strings.TrimSpace(req.HolderEmail)
	if err := notify.ValidateEmail(email); err != nil {
		return nil, err
	}
	items, err := model.BuildItems(req.Items)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, err.Error(), err)
	}

	now := s.now()
	lot, err := s.store.ActiveLot(ctx, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.KindPreconditionFailed, "no price tier is open")
		}
		return nil, err
	}

	var total int64
	prefItems := make([]payment.PreferenceItem, 0, len(items))
	for i := range items {
		items[i].UnitPrice = lot.PriceFor(items[i].Type)
		total += items[i].UnitPrice * int64(items[i].Quantity)
		prefItems = append(prefItems, payment.PreferenceItem{
			Title:     itemTitle(items[i]),
			Quantity:  items[i].Quantity,
			UnitPrice: items[i].UnitPrice,
		})
	}

	orderID := uuid.NewString()
	pref, err := s.processor.CreatePreference(ctx, payment.PreferenceRequest{
		ExternalReference: orderID,
		Items:             prefItems,
		PayerName:         name,
		PayerEmail:        email,
		NotificationURL:   s.notificationURL,
		BackURL:           s.backURL,
	})
	if err != nil {
		return nil, err
	}

	o := &model.Order{
		ID:                orderID,
		Status:            model.OrderPending,
		PaymentStatus:     model.PaymentPending,
		Total:             total,
		LotID:             lot.ID,
		HolderName:        name,
		HolderPhone:       strings.TrimSpace(req.HolderPhone),
		HolderEmail:       email,
		PreferenceID:      pref.ID,
		ExternalReference: orderID,
		Items:             items,
	}
	if err := s.store.CreateOrder(ctx, o); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"order_id": orderID, "lot": lot.Name, "total": total}).Info("order created")
	if err := s.events.Publish(ctx, queue.NewEvent(queue.EventOrderCreated, o, "checkout", now)); err != nil {
		log.WithError(err).WithField("order_id", orderID).Warn("publish order.created")
	}

	return &CreateResult{
		OrderID:      orderID,
		PreferenceID: pref.ID,
		CheckoutURL:  pref.InitPoint,
		Total:        total,
	}, nil
}
