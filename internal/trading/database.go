package trading

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/types"
)

const idempotencyTTL = 24 * time.Hour

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CountVerified returns how many of the user's orders the broker confirmed.
func (d *Database) CountVerified(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&types.Order{}).
		Where("user_id = ? AND verified = ?", userID, true).
		Count(&n).Error
	return n, err
}

// CreateOrderWithIdempotency creates the order and, when a key is given, the
// idempotency record pointing at it, in a single transaction.
func (d *Database) CreateOrderWithIdempotency(ctx context.Context, order *types.Order, idempotencyKey string) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		if idempotencyKey == "" {
			return nil
		}

		now := time.Now()
		if err := tx.Unscoped().
			Where("idempotency_key = ? AND user_id = ? AND expires_at <= ?", idempotencyKey, order.UserID, now).
			Delete(&IdempotencyRecord{}).Error; err != nil {
			return err
		}

		record := IdempotencyRecord{
			IdempotencyKey: idempotencyKey,
			UserID:         order.UserID,
			OrderID:        order.ID,
			ExpiresAt:      now.Add(idempotencyTTL),
		}
		return tx.Create(&record).Error
	})
}

// GetIdempotencyRecord returns the user's unexpired record for key, or nil.
func (d *Database) GetIdempotencyRecord(ctx context.Context, key string, userID uint) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	err := d.db.WithContext(ctx).
		Where("idempotency_key = ? AND user_id = ? AND expires_at > ?", key, userID, time.Now()).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (d *Database) GetOrder(ctx context.Context, id uint) (*types.Order, error) {
	var order types.Order
	if err := d.db.WithContext(ctx).First(&order, id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrderForUser(ctx context.Context, id, userID uint) (*types.Order, error) {
	var order types.Order
	err := d.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *Database) ListOrders(ctx context.Context, userID uint, limit, offset int) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&orders).Error
	return orders, err
}

// ClaimHandoff flips executed from false to true for the order behind token
// and returns it. It returns nil when the token is unknown or was already
// used; of several concurrent callers exactly one gets the order.
func (d *Database) ClaimHandoff(ctx context.Context, token string) (*types.Order, error) {
	var claimed *types.Order
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&types.Order{}).
			Where("token = ? AND executed = ?", token, false).
			Updates(map[string]interface{}{
				"executed":   true,
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		var order types.Order
		if err := tx.Where("token = ?", token).First(&order).Error; err != nil {
			return err
		}
		claimed = &order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
