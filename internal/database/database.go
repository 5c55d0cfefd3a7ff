package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ksred/brokerlink-api/internal/config"
	"github.com/ksred/brokerlink-api/internal/database/migrations"
	"github.com/ksred/brokerlink-api/internal/notify"
	"github.com/ksred/brokerlink-api/internal/subscription"
	"github.com/ksred/brokerlink-api/internal/types"
)

// NewDatabase opens the sqlite database at cfg.Path and migrates every
// schema.
func NewDatabase(cfg config.Database) (*gorm.DB, error) {
	dsn := cfg.Path + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate runs the ordered migrations and then auto-migrates the remaining
// schemas.
func Migrate(db *gorm.DB) error {
	if err := migrations.CreateOrderLedger(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddPortfolioInsights(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return db.AutoMigrate(
		&types.User{},
		&types.UserSetting{},
		&types.BrokerCredential{},
		&subscription.Subscription{},
		&subscription.SubscriptionHistory{},
		&notify.Notification{},
		&notify.AdminNotification{},
	)
}
