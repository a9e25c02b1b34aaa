package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pdfdispatch/internal/config"
)

// InitDatabase 使用配置初始化 PostgreSQL 连接，并返回 GORM 数据库实例。
func InitDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap db: %w", err)
	}

	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// Ledger persists per-record delivery outcomes.
type Ledger struct {
	db *gorm.DB
}

// NewLedger migrates the deliveries table and returns a Ledger.
func NewLedger(db *gorm.DB) (*Ledger, error) {
	if err := db.AutoMigrate(&Delivery{}); err != nil {
		return nil, fmt.Errorf("auto migrate deliveries: %w", err)
	}
	return &Ledger{db: db}, nil
}

// RecordDelivery inserts one outcome row. Oversized fields are clipped so
// the row always fits its columns.
func (l *Ledger) RecordDelivery(ctx context.Context, d Delivery) error {
	d = d.clamped()
	if err := l.db.WithContext(ctx).Create(&d).Error; err != nil {
		return fmt.Errorf("insert delivery %q: %w", d.RecordID, err)
	}
	return nil
}

// RecentByRecipient returns the latest deliveries for recipient.
func (l *Ledger) RecentByRecipient(ctx context.Context, recipient string, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []Delivery
	if err := l.db.WithContext(ctx).
		Where("recipient = ?", recipient).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query deliveries for %q: %w", recipient, err)
	}
	return out, nil
}
