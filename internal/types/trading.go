package types

import (
	"time"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeMarket = "MARKET"

	StatusPending   = "Pending"
	StatusCompleted = "Completed"
	StatusCancelled = "Cancelled"
)

// Order is the internal record of a user's trade. ID doubles as the tag the
// broker echoes back in its postback; Token is the single-use handoff key.
type Order struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Token           string    `gorm:"uniqueIndex;size:36;not null" json:"-"`
	UserID          uint      `gorm:"index;not null" json:"user_id"`
	TradingSymbol   string    `gorm:"index;not null" json:"trading_symbol"`
	Exchange        string    `gorm:"not null" json:"exchange"`
	TransactionType string    `gorm:"not null" json:"transaction_type"` // BUY or SELL
	Quantity        int64     `gorm:"not null" json:"quantity"`
	Price           *float64  `json:"price"`
	Amount          *float64  `json:"amount"`
	OrderType       string    `gorm:"not null" json:"order_type"`
	Rationale       string    `json:"rationale"`
	Executed        bool      `gorm:"not null" json:"executed"`
	Verified        bool      `gorm:"index;not null" json:"verified"`
	Status          string    `gorm:"not null" json:"status"`
	BrokerPostback  Document  `gorm:"type:text" json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IsBuy reports whether the order adds to the position.
func (o *Order) IsBuy() bool {
	return o.TransactionType == SideBuy
}
