package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"abada_sales/internal/app"
	"abada_sales/internal/config"
	"abada_sales/internal/router"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func main() {
	// 1. 读取配置，初始化日志
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config load")
	}
	cfg.SetupLogger()
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. 组装存储与各服务，同步价格批次
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("app init")
	}
	defer a.Close()

	if n, err := a.SyncLots(ctx); err != nil {
		log.WithError(err).Fatal("sync lots")
	} else if n > 0 {
		log.WithField("lots", n).Info("price tiers synced")
	}

	// 3. 事件 relay / 审计消费者
	workersCtx, cancelWorkers := context.WithCancel(context.Background())
	waitWorkers := a.StartWorkers(workersCtx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(a.RouterDeps()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	cancelWorkers()
	waitWorkers()
}
