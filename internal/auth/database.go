package auth

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

func (d *Database) CreateUser(ctx context.Context, user *types.User) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		setting := types.UserSetting{UserID: user.ID, NotificationPreference: true}
		return tx.Create(&setting).Error
	})
}

func (d *Database) GetUser(ctx context.Context, id uint) (*types.User, error) {
	var user types.User
	if err := d.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (d *Database) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	var user types.User
	if err := d.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (d *Database) SetActive(ctx context.Context, id uint, active bool) error {
	result := d.db.WithContext(ctx).
		Model(&types.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_active":  active,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (d *Database) GetSetting(ctx context.Context, userID uint) (*types.UserSetting, error) {
	var setting types.UserSetting
	err := d.db.WithContext(ctx).
		Where(types.UserSetting{UserID: userID}).
		Attrs(types.UserSetting{NotificationPreference: true}).
		FirstOrCreate(&setting).Error
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

// SaveSetting updates the settings row loaded by GetSetting.
func (d *Database) SaveSetting(ctx context.Context, setting *types.UserSetting) error {
	return d.db.WithContext(ctx).Save(setting).Error
}
