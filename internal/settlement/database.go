package settlement

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) LogPostback(ctx context.Context, entry *PostbackLog) error {
	return d.db.WithContext(ctx).Create(entry).Error
}

// GetOrder returns the order with id, or nil when there is none.
func (d *Database) GetOrder(ctx context.Context, id uint) (*types.Order, error) {
	var order types.Order
	err := d.db.WithContext(ctx).First(&order, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ApplyFill records a completed execution. It reports true only for the call
// that moved the order from unverified to verified; a repeated fill rewrites
// the same values and reports false.
func (d *Database) ApplyFill(ctx context.Context, orderID uint, f fill) (bool, error) {
	fields := map[string]interface{}{
		"price":           f.price,
		"quantity":        f.quantity,
		"amount":          f.amount,
		"verified":        true,
		"status":          types.StatusCompleted,
		"broker_postback": f.payload,
		"updated_at":      time.Now(),
	}

	var transitioned bool
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&types.Order{}).
			Where("id = ? AND verified = ?", orderID, false).
			Updates(fields)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 1 {
			transitioned = true
			return nil
		}

		return tx.Model(&types.Order{}).
			Where("id = ?", orderID).
			Updates(fields).Error
	})
	return transitioned, err
}

// StorePayload keeps the raw postback on an unverified order without
// touching its status or financial fields.
func (d *Database) StorePayload(ctx context.Context, orderID uint, payload types.Document) error {
	return d.db.WithContext(ctx).Model(&types.Order{}).
		Where("id = ? AND verified = ?", orderID, false).
		Updates(map[string]interface{}{
			"broker_postback": payload,
			"updated_at":      time.Now(),
		}).Error
}

// ApplyStatus records a non-fill status. Verified orders are left as they
// are; it reports whether the order was updated.
func (d *Database) ApplyStatus(ctx context.Context, orderID uint, status string, payload types.Document) (bool, error) {
	result := d.db.WithContext(ctx).Model(&types.Order{}).
		Where("id = ? AND verified = ?", orderID, false).
		Updates(map[string]interface{}{
			"status":          status,
			"broker_postback": payload,
			"updated_at":      time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
