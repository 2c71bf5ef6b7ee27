package router

import (
	"io"
	"net/http"

	"abada_sales/internal/checkout"
	"abada_sales/internal/courtesy"
	"abada_sales/internal/middleware"
	"abada_sales/internal/payment"
	"abada_sales/internal/redemption"
	"abada_sales/internal/store"
	"abada_sales/internal/webhook"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const maxWebhookBody = 64 << 10

// createOrder 下单：售卖开关在每次请求时读取。
func createOrder(svc *checkout.Service, settings checkout.SettingsFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req checkout.CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := svc.Create(c.Request.Context(), settings(), req)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, res)
	}
}

// syncPayment 主动对账，前端轮询使用，可无限次重复调用。
func syncPayment(svc *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req payment.SyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := svc.Sync(c.Request.Context(), req)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, res)
	}
}

// paymentWebhook 支付通道回调：无论内部处理结果如何都回 200，否则通道会无限重试。
func paymentWebhook(in *webhook.Ingress) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithField("panic", r).Error("webhook handler panicked")
			}
			c.JSON(http.StatusOK, gin.H{"received": true})
		}()

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			log.WithError(err).Warn("read webhook body")
		}
		in.Handle(c.Request.Context(), webhook.Notification{
			Query:     c.Request.URL.Query(),
			Body:      body,
			Signature: c.GetHeader("x-signature"),
			RequestID: c.GetHeader("x-request-id"),
		})
	}
}

func resolveToken(engine *redemption.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Token string `json:"token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "token is required")
			return
		}
		view, err := engine.Resolve(c.Request.Context(), req.Token)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, view)
	}
}

// redeemToken 核销；操作人来自工作人员 token。
func redeemToken(engine *redemption.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Token  string             `json:"token" binding:"required"`
			Claims []redemption.Claim `json:"claims" binding:"required,dive"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		view, err := engine.Redeem(c.Request.Context(), req.Token, req.Claims, middleware.StaffID(c))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, view)
	}
}

func grantCourtesy(svc *courtesy.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req courtesy.GrantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		granted, err := svc.Grant(c.Request.Context(), req, middleware.StaffID(c))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"id": granted.ID, "token": granted.Token, "status": granted.Status, "items": granted.Items})
	}
}

// listEvents 凭证的审计事件（由 Kafka 消费者落库）。
func listEvents(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := s.ListEvents(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, events)
	}
}

// purgeCancelled 清理 before（默认当前时间）之前取消的订单。
func purgeCancelled(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		before, valid := parseBefore(c)
		if !valid {
			badRequest(c, "before must be RFC3339")
			return
		}
		n, err := s.PurgeCancelledOrders(c.Request.Context(), before)
		if err != nil {
			fail(c, err)
			return
		}
		log.WithFields(log.Fields{"purged": n, "staff_id": middleware.StaffID(c)}).Info("cancelled orders purged")
		ok(c, gin.H{"purged": n})
	}
}
