package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"abada_sales/internal/model"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// 与其他服务共用数据库时使用独立的迁移表。
const migrationsTable = "abada_schema_migrations"

// OpenSQLite 本地开发与测试用。单连接保证写事务串行，避免 "database is locked"。
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return db, nil
}

// OpenPostgres 先跑嵌入的 SQL 迁移，再通过 lib/pq 连接交给 gorm。
func OpenPostgres(databaseURL string) (*gorm.DB, error) {
	if err := Migrate(databaseURL); err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	return db, nil
}

// Migrate 执行 migrations/ 下的 up 迁移，使用独立连接，结束后关闭。
func Migrate(databaseURL string) error {
	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("migrate open: %w", err)
	}
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		sqlDB.Close()
		return fmt.Errorf("migrate source: %w", err)
	}
	drv, err := migratepg.WithInstance(sqlDB, &migratepg.Config{MigrationsTable: migrationsTable})
	if err != nil {
		sqlDB.Close()
		return fmt.Errorf("migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		sqlDB.Close()
		return fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// AutoMigrate 仅用于 SQLite；Postgres 以 migrations/ 为准。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Lot{},
		&model.Order{},
		&model.Courtesy{},
		&model.Item{},
		&model.RedemptionToken{},
		&model.EmailLog{},
		&model.EntitlementEventRecord{},
	)
}
