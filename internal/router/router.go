package router

import (
	"net/http"
	"time"

	"abada_sales/internal/checkout"
	"abada_sales/internal/config"
	"abada_sales/internal/courtesy"
	"abada_sales/internal/middleware"
	"abada_sales/internal/payment"
	"abada_sales/internal/redemption"
	"abada_sales/internal/store"
	"abada_sales/internal/webhook"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
)

// Deps 路由需要的全部协作方，由 app 层组装。
type Deps struct {
	Store      *store.Store
	Redis      *rd.Client // 可为 nil
	Redemption *redemption.Engine
	Payments   *payment.Service
	Webhooks   *webhook.Ingress
	Checkout   *checkout.Service
	Settings   checkout.SettingsFunc
	Courtesies *courtesy.Service
	Config     config.AppConfig
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	cfg := d.Config
	staff := middleware.StaffAuth(cfg.StaffJWTSecret)
	tokenLimit := middleware.RedisRateLimit(d.Redis, "token", cfg.TokenRateLimit, cfg.TokenRateWindow)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	// 下单与支付
	r.POST("/checkout", createOrder(d.Checkout, d.Settings))
	r.POST("/payment/sync", syncPayment(d.Payments))
	r.POST("/webhooks/payment", paymentWebhook(d.Webhooks))
	// 现场核销
	r.POST("/token/resolve", tokenLimit, resolveToken(d.Redemption))
	r.POST("/token/redeem", tokenLimit, staff, redeemToken(d.Redemption))
	// 工作人员
	r.POST("/courtesies", staff, grantCourtesy(d.Courtesies))
	r.GET("/admin/entitlements/:id/events", staff, listEvents(d.Store))
	r.DELETE("/admin/orders/cancelled", staff, purgeCancelled(d.Store))
}

// New 创建带访问日志与 recovery 的 engine。
func New(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())
	Setup(r, d)
	return r
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": data})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "msg": msg})
}

func parseBefore(c *gin.Context) (time.Time, bool) {
	raw := c.Query("before")
	if raw == "" {
		return time.Now(), true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
