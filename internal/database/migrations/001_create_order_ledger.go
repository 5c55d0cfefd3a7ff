package migrations

import (
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/settlement"
	"github.com/ksred/brokerlink-api/internal/trading"
	"github.com/ksred/brokerlink-api/internal/types"
)

// CreateOrderLedger creates the orders table with the indexes used by the
// subscription gate, the handoff and postback reconciliation.
func CreateOrderLedger(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&types.Order{},
		&trading.IdempotencyRecord{},
		&settlement.PostbackLog{},
	); err != nil {
		return err
	}

	indexes := []string{
		// Verified-order count per user and portfolio replay
		`CREATE INDEX IF NOT EXISTS idx_orders_user_verified
		 ON orders(user_id, verified)`,

		// Trade history listing
		`CREATE INDEX IF NOT EXISTS idx_orders_user_created_at
		 ON orders(user_id, created_at)`,

		`CREATE INDEX IF NOT EXISTS idx_postback_logs_created_at
		 ON postback_logs(created_at)`,

		// Idempotency keys are unique per user, not globally
		`DROP INDEX IF EXISTS idx_idempotency_records_idempotency_key`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_idempotency_user_key
		 ON idempotency_records(user_id, idempotency_key)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
