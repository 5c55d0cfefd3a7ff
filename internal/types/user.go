package types

import "time"

type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UUID         string    `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	IsActive     bool      `gorm:"not null" json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserSetting carries the push-notification target for a user.
type UserSetting struct {
	ID                     uint      `gorm:"primaryKey" json:"-"`
	UserID                 uint      `gorm:"uniqueIndex;not null" json:"-"`
	DeviceToken            string    `json:"device_token"`
	DeviceType             string    `json:"device_type"` // Apple or Android
	NotificationPreference bool      `json:"notification_preference"`
	UpdatedAt              time.Time `json:"updated_at"`
}
