package portfolio

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvestmentInsight is a point-in-time valuation of a user's holdings.
// Rows are only ever appended.
type InvestmentInsight struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"-"`
	Value     float64   `gorm:"not null" json:"value"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// Position is the net holding in one symbol derived from verified orders.
type Position struct {
	TradingSymbol string
	Exchange      string
	Quantity      int64
	Cost          decimal.Decimal
	Orders        []uint
}
