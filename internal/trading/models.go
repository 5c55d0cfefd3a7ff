package trading

import (
	"time"

	"gorm.io/gorm"
)

// TradeRequest is the body of a new trade intent.
type TradeRequest struct {
	TradingSymbol   string `json:"trading_symbol" binding:"required"`
	Exchange        string `json:"exchange"`
	TransactionType string `json:"transaction_type" binding:"required"`
	Quantity        int64  `json:"quantity" binding:"required"`
	Rationale       string `json:"rationale"`
}

// IdempotencyRecord lets a client retry trade placement without creating a
// second order. Keys are scoped to the user.
type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex:idx_idempotency_user_key,priority:2;not null" json:"idempotency_key"`
	UserID         uint      `gorm:"uniqueIndex:idx_idempotency_user_key,priority:1;not null" json:"user_id"`
	OrderID        uint      `gorm:"not null" json:"order_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}
