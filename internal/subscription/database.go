package subscription

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetOrCreate returns the user's subscription, creating an inactive one on
// first access so every user has exactly one.
func (d *Database) GetOrCreate(ctx context.Context, userID uint) (*Subscription, error) {
	var sub Subscription
	if err := d.db.WithContext(ctx).Where(Subscription{UserID: userID}).FirstOrCreate(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// SaveRenewal persists the extended window together with its history row.
func (d *Database) SaveRenewal(ctx context.Context, sub *Subscription, history *SubscriptionHistory) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(sub).Error; err != nil {
			return err
		}
		history.SubscriptionID = sub.ID
		return tx.Create(history).Error
	})
}

// ExpireLapsed deactivates active subscriptions whose end is at or before
// now and returns the ones it changed.
func (d *Database) ExpireLapsed(ctx context.Context, now time.Time) ([]Subscription, error) {
	var lapsed []Subscription
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("active = ? AND date_to <= ?", true, now).Find(&lapsed).Error; err != nil {
			return err
		}
		if len(lapsed) == 0 {
			return nil
		}

		ids := make([]uint, 0, len(lapsed))
		for _, s := range lapsed {
			ids = append(ids, s.ID)
		}
		return tx.Model(&Subscription{}).
			Where("id IN ? AND active = ?", ids, true).
			Updates(map[string]interface{}{
				"active":     false,
				"updated_at": now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return lapsed, nil
}

func (d *Database) ListHistory(ctx context.Context, subscriptionID uint) ([]SubscriptionHistory, error) {
	var out []SubscriptionHistory
	err := d.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}
