package kyc

import (
	"context"
	"errors"
	"time"

	"github.com/ksred/brokerlink-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetCredential returns the user's credential, or nil when none is linked.
func (d *Database) GetCredential(ctx context.Context, userID uint) (*types.BrokerCredential, error) {
	var cred types.BrokerCredential
	if err := d.db.WithContext(ctx).Where("user_id = ?", userID).First(&cred).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cred, nil
}

// LatestCredential returns the most recently refreshed credential of any user.
func (d *Database) LatestCredential(ctx context.Context) (*types.BrokerCredential, error) {
	var cred types.BrokerCredential
	if err := d.db.WithContext(ctx).Order("updated_at DESC").First(&cred).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cred, nil
}

// ReplaceCredential deletes any prior credential for the user and inserts
// cred in a single transaction.
func (d *Database) ReplaceCredential(ctx context.Context, cred *types.BrokerCredential) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", cred.UserID).Delete(&types.BrokerCredential{}).Error; err != nil {
			return err
		}
		return tx.Create(cred).Error
	})
}

// RotateTokens swaps in new tokens only if the stored access token is still
// oldAccess. It reports whether this call performed the rotation.
func (d *Database) RotateTokens(ctx context.Context, userID uint, oldAccess, newAccess, newRefresh string) (bool, error) {
	updates := map[string]interface{}{
		"access_token": newAccess,
		"updated_at":   time.Now(),
	}
	if newRefresh != "" {
		updates["refresh_token"] = newRefresh
	}

	result := d.db.WithContext(ctx).
		Model(&types.BrokerCredential{}).
		Where("user_id = ? AND access_token = ?", userID, oldAccess).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (d *Database) UpdateFunds(ctx context.Context, userID uint, cash float64) error {
	return d.db.WithContext(ctx).
		Model(&types.BrokerCredential{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"funds":      cash,
			"updated_at": time.Now(),
		}).Error
}

func (d *Database) GetUserByUUID(ctx context.Context, uuid string) (*types.User, error) {
	var user types.User
	if err := d.db.WithContext(ctx).Where("uuid = ?", uuid).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}
