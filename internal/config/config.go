package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// 存储：开发/测试用 sqlite，生产用 postgres（DATABASE_URL）
	DBDriver    string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBPath      string `env:"DB_PATH" envDefault:"abada_sales.db"`
	DatabaseURL string `env:"DATABASE_URL"`

	// 留空则不连 Redis：限流与 webhook 去重降级为放行
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// 生命周期事件：Redis Stream outbox → Relay → Kafka → 审计消费者
	EventsEnabled bool     `env:"EVENTS_ENABLED" envDefault:"false"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaTopic    string   `env:"KAFKA_TOPIC" envDefault:"abada-entitlement-events"`
	KafkaGroupID  string   `env:"KAFKA_GROUP_ID" envDefault:"abada-audit-consumer"`
	EventStream   string   `env:"EVENT_STREAM" envDefault:"abada:entitlement_events"`
	EventGroup    string   `env:"EVENT_GROUP" envDefault:"abada-relay-group"`
	EventConsumer string   `env:"EVENT_CONSUMER" envDefault:"abada-relay-1"`

	// token 查询/核销接口限流
	TokenRateLimit  int           `env:"TOKEN_RATE_LIMIT" envDefault:"60"`
	TokenRateWindow time.Duration `env:"TOKEN_RATE_WINDOW" envDefault:"1m"`

	// 支付通道
	MPAccessToken     string        `env:"MP_ACCESS_TOKEN"`
	MPBaseURL         string        `env:"MP_BASE_URL" envDefault:"https://api.mercadopago.com"`
	MPWebhookSecret   string        `env:"MP_WEBHOOK_SECRET"`
	MPTimeout         time.Duration `env:"MP_TIMEOUT" envDefault:"5s"`
	MPNotificationURL string        `env:"MP_NOTIFICATION_URL"`
	MPBackURL         string        `env:"MP_BACK_URL"`
	WebhookDedupeTTL  time.Duration `env:"WEBHOOK_DEDUPE_TTL" envDefault:"10m"`

	// 邮件；SMTP_HOST 为空时只打日志
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM" envDefault:"ingressos@abada.local"`

	StaffJWTSecret  string `env:"STAFF_JWT_SECRET"`
	PurchaseEnabled bool   `env:"PURCHASE_ENABLED" envDefault:"true"`
	LotsFile        string `env:"LOTS_FILE" envDefault:"lots.yaml"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load 读取并校验配置，缺失时使用默认值。存在 .env 时先加载（不覆盖已有环境变量）。
func Load() (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := env.ParseAs[AppConfig]()
	if err != nil {
		return AppConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) Validate() error {
	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH must not be empty")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}

	if c.TokenRateLimit <= 0 {
		return fmt.Errorf("TOKEN_RATE_LIMIT must be > 0")
	}
	if c.TokenRateWindow < time.Second {
		return fmt.Errorf("TOKEN_RATE_WINDOW must be >= 1s")
	}
	if c.MPTimeout <= 0 {
		return fmt.Errorf("MP_TIMEOUT must be > 0")
	}
	if c.WebhookDedupeTTL <= 0 {
		return fmt.Errorf("WEBHOOK_DEDUPE_TTL must be > 0")
	}

	if c.EventsEnabled {
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when EVENTS_ENABLED=true")
		}
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS must not be empty")
		}
		if c.KafkaTopic == "" {
			return fmt.Errorf("KAFKA_TOPIC must not be empty")
		}
		if c.KafkaGroupID == "" {
			return fmt.Errorf("KAFKA_GROUP_ID must not be empty")
		}
		if c.EventStream == "" {
			return fmt.Errorf("EVENT_STREAM must not be empty")
		}
		if c.EventGroup == "" {
			return fmt.Errorf("EVENT_GROUP must not be empty")
		}
		if c.EventConsumer == "" {
			return fmt.Errorf("EVENT_CONSUMER must not be empty")
		}
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// SetupLogger 按配置设置全局 logrus。
func (c AppConfig) SetupLogger() {
	if strings.ToLower(c.LogFormat) == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.SetOutput(os.Stdout)
	if lvl, err := log.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
}
