package quotes

import "time"

// MarketQuote is the latest price of a tracked symbol. Change is the
// previous price minus the current one.
type MarketQuote struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	TradingSymbol string    `gorm:"uniqueIndex;not null" json:"trading_symbol"`
	Exchange      string    `gorm:"not null" json:"exchange"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	CreatedAt     time.Time `json:"-"`
	UpdatedAt     time.Time `json:"updated_at"`
}
