package types

import "time"

// BrokerCredential is the live Kite session of a user. There is at most one
// per user; relinking replaces the row instead of patching it.
type BrokerCredential struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	UserID       uint      `gorm:"uniqueIndex;not null" json:"-"`
	BrokerUserID string    `json:"user_id"`
	UserName     string    `json:"user_name"`
	Email        string    `json:"email"`
	Broker       string    `json:"broker"`
	APIKey       string    `json:"api_key"`
	AccessToken  string    `json:"-"`
	PublicToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	Funds        float64   `json:"funds"`
	LoginTime    time.Time `json:"login_time"`
	Meta         Document  `gorm:"type:text" json:"meta,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
