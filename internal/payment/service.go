package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"abada_sales/internal/apperr"
	"abada_sales/internal/model"
	"abada_sales/internal/notify"
	"abada_sales/internal/queue"
	"abada_sales/internal/store"
	"abada_sales/internal/token"

	log "github.com/sirupsen/logrus"
)

// TokenNotifier 首次支付成功后的通知协作方。
type TokenNotifier interface {
	NotifyTokenIssued(ctx context.Context, notice notify.TokenNotice) error
}

// SyncRequest 三个关联键任给其一即可。
type SyncRequest struct {
	PaymentID         string `json:"paymentId"`
	PreferenceID      string `json:"preferenceId"`
	ExternalReference string `json:"externalReference"`
}

func (r SyncRequest) empty() bool {
	return strings.TrimSpace(r.PaymentID) == "" &&
		strings.TrimSpace(r.PreferenceID) == "" &&
		strings.TrimSpace(r.ExternalReference) == ""
}

type SyncResult struct {
	OK               bool                `json:"ok"`
	FoundPayment     bool                `json:"foundPayment"`
	OrderID          string              `json:"orderId"`
	Status           model.OrderStatus   `json:"status"`
	PaymentStatus    model.PaymentStatus `json:"paymentStatus"`
	MPPaymentID      string              `json:"mpPaymentId,omitempty"`
	ExchangeToken    string              `json:"exchangeToken,omitempty"`
	NotificationSent *bool               `json:"notificationSent,omitempty"`
}

type Service struct {
	store     *store.Store
	processor Processor
	notifier  TokenNotifier
	events    queue.Publisher
	now       func() time.Time
}

func NewService(s *store.Store, processor Processor, notifier TokenNotifier, events queue.Publisher) *Service {
	if events == nil {
		events = queue.NopPublisher{}
	}
	return &Service{store: s, processor: processor, notifier: notifier, events: events, now: time.Now}
}

// Sync 主动同步：定位订单 → 向支付通道查最近一笔支付 → 走统一的对账逻辑。
func (s *Service) Sync(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	if req.empty() {
		return nil, apperr.New(apperr.KindInvalidInput, "paymentId, preferenceId or externalReference is required")
	}
	paymentID := strings.TrimSpace(req.PaymentID)

	order, payment, err := s.locate(ctx, req)
	if err != nil {
		return nil, err
	}

	if payment == nil {
		if paymentID != "" {
			payment, err = s.processor.GetPayment(ctx, paymentID)
		} else {
			payment, err = s.processor.LatestPaymentByReference(ctx, order.ID)
		}
		if err != nil {
			return nil, err
		}
	}
	if payment == nil {
		return resultFor(order, false), nil
	}
	if payment.ExternalReference != "" && payment.ExternalReference != order.ID {
		return nil, apperr.New(apperr.KindInvalidInput, "payment does not belong to this order")
	}
	return s.apply(ctx, order.ID, payment)
}

// locate 按 externalReference → preferenceId → paymentId 的顺序找订单。
// 只给了 paymentId 且本地还没记录时，先查支付通道，用它的 external_reference 反查订单。
func (s *Service) locate(ctx context.Context, req SyncRequest) (*model.Order, *Payment, error) {
	if ref := strings.TrimSpace(req.ExternalReference); ref != "" {
		o, err := s.store.GetOrder(ctx, ref)
		if err == nil {
			return o, nil, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, nil, err
		}
	}
	if pref := strings.TrimSpace(req.PreferenceID); pref != "" {
		o, err := s.store.FindOrderByPreferenceID(ctx, pref)
		if err == nil {
			return o, nil, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, nil, err
		}
	}
	if pid := strings.TrimSpace(req.PaymentID); pid != "" {
		o, err := s.store.FindOrderByPaymentID(ctx, pid)
		if err == nil {
			return o, nil, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, nil, err
		}
		p, err := s.processor.GetPayment(ctx, pid)
		if err != nil {
			return nil, nil, err
		}
		if p.ExternalReference != "" {
			o, err := s.store.GetOrder(ctx, p.ExternalReference)
			if err == nil {
				return o, p, nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return nil, nil, err
			}
		}
	}
	return nil, nil, apperr.New(apperr.KindNotFound, "order not found")
}

// HandleNotification 被动入口：通知只是"去查一下"的信号，状态一律以支付通道查询结果为准。
func (s *Service) HandleNotification(ctx context.Context, paymentID string) (*SyncResult, error) {
	payment, err := s.processor.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	orderID := payment.ExternalReference
	if orderID == "" {
		o, err := s.store.FindOrderByPaymentID(ctx, paymentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, apperr.New(apperr.KindNotFound, "order not found")
			}
			return nil, err
		}
		orderID = o.ID
	}
	return s.apply(ctx, orderID, payment)
}

// apply 唯一的对账写路径：行锁读订单、映射状态、首次 PAID 时补发 token，提交后再通知。
// 重复调用是幂等的：状态与 token 不会变化，只会刷新 payment id。
func (s *Service) apply(ctx context.Context, orderID string, payment *Payment) (*SyncResult, error) {
	mapping := MapStatus(payment.Status)

	var (
		order      *model.Order
		becamePaid bool
		events     []queue.EventType
	)
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		o, err := tx.Locking().GetOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.New(apperr.KindNotFound, "order not found")
			}
			return err
		}

		status, ps := mapping.Apply(o.Status, o.PaymentStatus)
		upd := store.PaymentUpdate{Status: status, PaymentStatus: ps}
		// 其余情况总是刷新 payment_id；已结清订单例外，它固定为批准它的那笔支付，
		// 过期的 pending / rejected 结果不会把它改成一笔未批准的支付。
		if payment.ID != "" && payment.ID != o.PaymentID && !mapping.Stale(o.Status) {
			upd.PaymentID = payment.ID
		}

		if status == model.OrderPaid && o.Status != model.OrderPaid {
			becamePaid = true
			now := s.now()
			upd.PaidAt = &now
			if o.ExchangeToken == nil {
				tok, err := token.Mint(ctx, tx, func(t string) error {
					return tx.IssueToken(ctx, o.ID, t)
				})
				if err != nil {
					return err
				}
				o.ExchangeToken = &tok
			}
			events = append(events, queue.EventOrderPaid)
		}
		if status == model.OrderCancelled && o.Status != model.OrderCancelled {
			events = append(events, queue.EventOrderCancelled)
		}
		if ps == model.PaymentRefunded && o.PaymentStatus != model.PaymentRefunded {
			events = append(events, queue.EventOrderRefunded)
		}

		if status == o.Status && ps == o.PaymentStatus && upd.PaymentID == "" {
			order = o
			return nil
		}
		if err := tx.ApplyPayment(ctx, o.ID, o.Status, upd); err != nil {
			return err
		}
		o.Status, o.PaymentStatus = status, ps
		if upd.PaymentID != "" {
			o.PaymentID = upd.PaymentID
		}
		if upd.PaidAt != nil {
			o.PaidAt = upd.PaidAt
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := log.WithFields(log.Fields{
		"order_id":         order.ID,
		"payment_id":       payment.ID,
		"processor_status": payment.Status,
		"status":           order.Status,
		"payment_status":   order.PaymentStatus,
	})
	logCtx.Info("payment reconciled")

	result := resultFor(order, true)
	result.MPPaymentID = payment.ID

	if becamePaid {
		sent := s.notify(ctx, order, payment.ID)
		result.NotificationSent = &sent
	}

	now := s.now()
	for _, t := range events {
		evt := queue.NewEvent(t, order, "payment", now)
		if err := s.events.Publish(ctx, evt); err != nil {
			logCtx.WithError(err).WithField("event_type", t).Warn("publish payment event")
		}
	}
	return result, nil
}

func (s *Service) notify(ctx context.Context, o *model.Order, paymentID string) bool {
	if s.notifier == nil {
		return false
	}
	err := s.notifier.NotifyTokenIssued(ctx, notify.TokenNotice{
		OrderID:    o.ID,
		Token:      o.RedemptionToken(),
		PaymentID:  paymentID,
		HolderName: o.HolderName,
		Email:      o.HolderEmail,
	})
	if err != nil {
		log.WithError(err).WithField("order_id", o.ID).Error("token notification failed")
		return false
	}
	return true
}

func resultFor(o *model.Order, found bool) *SyncResult {
	return &SyncResult{
		OK:            true,
		FoundPayment:  found,
		OrderID:       o.ID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		MPPaymentID:   o.PaymentID,
		ExchangeToken: o.RedemptionToken(),
	}
}
