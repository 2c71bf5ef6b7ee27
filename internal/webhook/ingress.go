package webhook

import (
	"context"
	"net/url"
	"time"

	"abada_sales/internal/payment"
	rds "abada_sales/pkg/redis"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Reconciler 对账服务的被动入口。
type Reconciler interface {
	HandleNotification(ctx context.Context, paymentID string) (*payment.SyncResult, error)
}

// Notification 一次原始投递。
type Notification struct {
	Query     url.Values
	Body      []byte
	Signature string
	RequestID string
}

type Outcome struct {
	PaymentID string
	Handled   bool
	Reason    string
}

type Ingress struct {
	reconciler Reconciler
	rdb        *rd.Client // 可为 nil：不做重复投递去重
	secret     string
	dedupeTTL  time.Duration
	stateTTL   time.Duration
}

func NewIngress(reconciler Reconciler, rdb *rd.Client, secret string, dedupeTTL time.Duration) *Ingress {
	if dedupeTTL <= 0 {
		dedupeTTL = 10 * time.Minute
	}
	return &Ingress{
		reconciler: reconciler,
		rdb:        rdb,
		secret:     secret,
		dedupeTTL:  dedupeTTL,
		stateTTL:   24 * time.Hour,
	}
}

// Handle 处理一次通知。不返回错误：所有失败都只记日志，由调用方回 200。
func (in *Ingress) Handle(ctx context.Context, n Notification) Outcome {
	paymentID, ok := ExtractPaymentID(n.Query, n.Body)
	if !ok {
		log.WithField("query", n.Query.Encode()).Info("webhook without payment id ignored")
		return Outcome{Reason: "no payment id"}
	}
	logCtx := log.WithFields(log.Fields{"payment_id": paymentID, "request_id": n.RequestID})

	if in.secret != "" && !VerifySignature(in.secret, n.Signature, n.RequestID, n.Query.Get("data.id")) {
		logCtx.Warn("webhook signature mismatch, dropped")
		in.record(ctx, rds.WebhookState{PaymentID: paymentID, Outcome: rds.WebhookSkipped, Reason: "invalid signature"})
		return Outcome{PaymentID: paymentID, Reason: "invalid signature"}
	}

	claimID := ""
	if in.rdb != nil && n.RequestID != "" {
		claimID = uuid.NewString()
		claimed, err := rds.ClaimWebhook(ctx, in.rdb, paymentID, n.RequestID, claimID, in.dedupeTTL)
		switch {
		case err != nil:
			// Redis 不可用时放行，对账本身是幂等的
			logCtx.WithError(err).Warn("webhook dedupe unavailable")
			claimID = ""
		case !claimed:
			logCtx.Info("duplicate webhook delivery skipped")
			return Outcome{PaymentID: paymentID, Reason: "duplicate delivery"}
		}
	}

	res, err := in.reconciler.HandleNotification(ctx, paymentID)
	if err != nil {
		logCtx.WithError(err).Error("webhook reconciliation failed")
		if claimID != "" {
			if rerr := rds.ReleaseWebhookIfMatch(context.WithoutCancel(ctx), in.rdb, paymentID, n.RequestID, claimID); rerr != nil {
				logCtx.WithError(rerr).Warn("release webhook claim")
			}
		}
		in.record(ctx, rds.WebhookState{PaymentID: paymentID, Outcome: rds.WebhookFailed, Reason: err.Error()})
		return Outcome{PaymentID: paymentID, Reason: err.Error()}
	}

	logCtx.WithFields(log.Fields{"order_id": res.OrderID, "status": res.Status}).Info("webhook processed")
	in.record(ctx, rds.WebhookState{
		PaymentID: paymentID,
		Outcome:   rds.WebhookProcessed,
		OrderID:   res.OrderID,
		Status:    string(res.Status),
	})
	return Outcome{PaymentID: paymentID, Handled: true}
}

func (in *Ingress) record(ctx context.Context, st rds.WebhookState) {
	if in.rdb == nil {
		return
	}
	if err := rds.PutWebhookState(context.WithoutCancel(ctx), in.rdb, st, in.stateTTL); err != nil {
		log.WithError(err).WithField("payment_id", st.PaymentID).Warn("record webhook state")
	}
}
