// Package app 按配置组装存储、Redis、支付通道、通知、事件与各业务服务，供 server 与 abadactl 共用。
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"abada_sales/internal/checkout"
	"abada_sales/internal/config"
	"abada_sales/internal/courtesy"
	"abada_sales/internal/notify"
	"abada_sales/internal/payment"
	"abada_sales/internal/queue"
	"abada_sales/internal/redemption"
	"abada_sales/internal/router"
	"abada_sales/internal/store"
	"abada_sales/internal/webhook"

	rd "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type App struct {
	Config config.AppConfig
	DB     *gorm.DB
	Store  *store.Store
	Redis  *rd.Client

	Events     queue.Publisher
	Processor  payment.Processor
	Notifier   *notify.Notifier
	Redemption *redemption.Engine
	Payments   *payment.Service
	Webhooks   *webhook.Ingress
	Checkout   *checkout.Service
	Courtesies *courtesy.Service

	closers []func() error
}

// OpenDB 按 DB_DRIVER 打开数据库；postgres 会先跑迁移。
func OpenDB(cfg config.AppConfig) (*gorm.DB, error) {
	switch cfg.DBDriver {
	case "postgres":
		return store.OpenPostgres(cfg.DatabaseURL)
	default:
		return store.OpenSQLite(cfg.DBPath)
	}
}

func New(ctx context.Context, cfg config.AppConfig) (*App, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: db, Store: store.New(db)}
	a.closers = append(a.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	if cfg.RedisAddr != "" {
		a.Redis = rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		a.closers = append(a.closers, a.Redis.Close)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := a.Redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			if cfg.EventsEnabled {
				_ = a.Close()
				return nil, fmt.Errorf("redis ping: %w", err)
			}
			// 限流和去重都是放行降级，不阻止启动
			log.WithError(err).Warn("redis unreachable, rate limit and webhook dedupe degraded")
		}
	}

	a.Events = queue.NopPublisher{}
	if cfg.EventsEnabled {
		a.Events = queue.NewStreamOutbox(a.Redis, cfg.EventStream)
	}

	a.Processor = payment.NewMercadoPago(cfg.MPBaseURL, cfg.MPAccessToken, cfg.MPTimeout)
	if cfg.MPAccessToken == "" {
		log.Warn("MP_ACCESS_TOKEN not set, payment calls will fail with a configuration error")
	}

	var sender notify.Sender = notify.LogSender{}
	if cfg.SMTPHost != "" {
		sender = notify.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)
	}
	a.Notifier = notify.NewNotifier(sender, a.Store)

	a.Redemption = redemption.NewEngine(a.Store, a.Events)
	a.Payments = payment.NewService(a.Store, a.Processor, a.Notifier, a.Events)
	a.Webhooks = webhook.NewIngress(a.Payments, a.Redis, cfg.MPWebhookSecret, cfg.WebhookDedupeTTL)
	a.Checkout = checkout.NewService(a.Store, a.Processor, a.Events, cfg.MPNotificationURL, cfg.MPBackURL)
	a.Courtesies = courtesy.NewService(a.Store, a.Events)
	return a, nil
}

// SyncLots 把 LOTS_FILE 中的价格批次写入数据库；文件不存在时跳过。
func (a *App) SyncLots(ctx context.Context) (int, error) {
	if a.Config.LotsFile == "" {
		return 0, nil
	}
	lots, err := config.LoadLots(a.Config.LotsFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.WithField("file", a.Config.LotsFile).Warn("lots file not found, skipping sync")
			return 0, nil
		}
		return 0, err
	}
	if err := a.Store.SyncLots(ctx, lots); err != nil {
		return 0, err
	}
	return len(lots), nil
}

// Settings 售卖开关；每次下单时调用。
func (a *App) Settings() checkout.Settings {
	return checkout.Settings{PurchaseEnabled: a.Config.PurchaseEnabled}
}

func (a *App) RouterDeps() router.Deps {
	return router.Deps{
		Store:      a.Store,
		Redis:      a.Redis,
		Redemption: a.Redemption,
		Payments:   a.Payments,
		Webhooks:   a.Webhooks,
		Checkout:   a.Checkout,
		Settings:   a.Settings,
		Courtesies: a.Courtesies,
		Config:     a.Config,
	}
}

// StartWorkers 启动 outbox relay 与审计消费者；返回的 wait 在 ctx 取消后等待它们退出。
func (a *App) StartWorkers(ctx context.Context) (wait func()) {
	var wg sync.WaitGroup
	if !a.Config.EventsEnabled {
		return wg.Wait
	}
	cfg := a.Config

	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	relay := queue.NewRelay(a.Redis, producer, cfg.EventStream, cfg.EventGroup, cfg.EventConsumer)
	consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, a.Store)

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer producer.Close()
		relay.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		defer consumer.Close()
		consumer.Run(ctx)
	}()
	log.WithFields(log.Fields{"stream": cfg.EventStream, "topic": cfg.KafkaTopic}).Info("event workers started")
	return wg.Wait
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
