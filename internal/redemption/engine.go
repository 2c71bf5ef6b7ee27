// Package redemption 实现现场核销：按 token 找到凭证，按明细发放实物。
package redemption

import (
	"context"
	"time"

	"abada_sales/internal/apperr"
	"abada_sales/internal/model"
	"abada_sales/internal/queue"
	"abada_sales/internal/store"
	"abada_sales/internal/token"

	log "github.com/sirupsen/logrus"
)

// Claim 一次发放请求中的单行：某个明细发放多少件。
type Claim struct {
	ItemID   uint `json:"itemId" binding:"required"`
	Quantity int  `json:"quantity"`
}

type Engine struct {
	store  *store.Store
	events queue.Publisher
	now    func() time.Time
}

func NewEngine(s *store.Store, events queue.Publisher) *Engine {
	if events == nil {
		events = queue.NopPublisher{}
	}
	return &Engine{store: s, events: events, now: time.Now}
}

// Resolve 只读查询 token 对应的凭证。
func (e *Engine) Resolve(ctx context.Context, rawToken string) (*model.View, error) {
	ent, err := token.NewResolver(e.store).Resolve(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	return model.NewView(ent), nil
}

// Redeem 在一个事务内完成：加锁解析 token → 校验状态 → 校验归属与数量 → CAS 发放 → 必要时切终态。
// 任何一行校验失败整批回滚，不会出现部分发放。
func (e *Engine) Redeem(ctx context.Context, rawToken string, claims []Claim, actor string) (*model.View, error) {
	if len(claims) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "at least one claim is required")
	}
	now := e.now()

	var (
		result    model.Entitlement
		units     int
		completed bool
	)
	err := e.store.WithTx(ctx, func(tx *store.Store) error {
		ent, err := token.NewResolver(tx.Locking()).Resolve(ctx, rawToken)
		if err != nil {
			return err
		}
		if !ent.CanAcceptDelivery() {
			return apperr.Newf(apperr.KindPreconditionFailed, "%s is %s and cannot accept delivery", ent.Kind(), ent.CurrentStatus())
		}

		items := ent.LineItems()
		index := make(map[uint]int, len(items))
		for i, it := range items {
			index[it.ID] = i
		}

		// 归属校验：防止拿别的凭证的明细 id 来核销。
		for _, c := range claims {
			if _, ok := index[c.ItemID]; !ok {
				return apperr.Newf(apperr.KindNotFound, "item %d does not belong to this entitlement", c.ItemID)
			}
		}

		// 数量校验：同一明细出现多次时按合计判断。
		// 每次累加前先和剩余量比较，合计不会超过 remaining，也就不会溢出。
		requested := make(map[uint]int, len(claims))
		var order []uint
		for _, c := range claims {
			if c.Quantity < 1 {
				return apperr.Newf(apperr.KindInvalidQuantity, "quantity for item %d must be at least 1", c.ItemID)
			}
			remaining := items[index[c.ItemID]].Remaining()
			if c.Quantity > remaining-requested[c.ItemID] {
				return apperr.Newf(apperr.KindInvalidQuantity, "quantity exceeds %d remaining for item %d", remaining, c.ItemID)
			}
			if _, seen := requested[c.ItemID]; !seen {
				order = append(order, c.ItemID)
			}
			requested[c.ItemID] += c.Quantity
		}

		for _, id := range order {
			i := index[id]
			qty := requested[id]
			if err := tx.ApplyDelivery(ctx, items[i], qty, now, actor); err != nil {
				return err
			}
			items[i].Delivered += qty
			items[i].LastDeliveredAt = &now
			items[i].LastDeliveredBy = actor
			units += qty
		}
		ent.SetLineItems(items)

		if ent.MarkRedeemed(now, actor) {
			if err := tx.MarkRedeemed(ctx, ent); err != nil {
				return err
			}
			completed = true
		}
		result = ent
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := log.WithFields(log.Fields{
		"kind":           result.Kind(),
		"entitlement_id": result.EntitlementID(),
		"units":          units,
		"actor":          actor,
		"redeemed":       completed,
	})
	logCtx.Info("items delivered")

	delivered := queue.NewEvent(queue.EventDelivered, result, actor, now)
	delivered.Units = units
	e.publish(ctx, delivered)
	if completed {
		e.publish(ctx, queue.NewEvent(queue.EventRedeemed, result, actor, now))
	}
	return model.NewView(result), nil
}

func (e *Engine) publish(ctx context.Context, evt queue.EntitlementEvent) {
	if err := e.events.Publish(ctx, evt); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"event_type":     evt.Type,
			"entitlement_id": evt.EntitlementID,
		}).Warn("publish entitlement event")
	}
}
