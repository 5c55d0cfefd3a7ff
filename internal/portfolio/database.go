package portfolio

import (
	"context"

	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// VerifiedOrders returns the user's confirmed orders in the order they were
// placed.
func (d *Database) VerifiedOrders(ctx context.Context, userID uint) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.WithContext(ctx).
		Where("user_id = ? AND verified = ?", userID, true).
		Order("id ASC").
		Find(&orders).Error
	return orders, err
}

// UsersWithVerifiedOrders lists every user that has at least one confirmed
// order.
func (d *Database) UsersWithVerifiedOrders(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := d.db.WithContext(ctx).
		Model(&types.Order{}).
		Where("verified = ?", true).
		Distinct().
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

func (d *Database) CreateInsight(ctx context.Context, insight *InvestmentInsight) error {
	return d.db.WithContext(ctx).Create(insight).Error
}

func (d *Database) ListInsights(ctx context.Context, userID uint, limit int) ([]InvestmentInsight, error) {
	var insights []InvestmentInsight
	err := d.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&insights).Error
	return insights, err
}
