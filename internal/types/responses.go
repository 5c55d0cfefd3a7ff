package types

import "time"

// TradeResponse is returned to the app after a trade intent is recorded.
type TradeResponse struct {
	TradeURL      string `json:"trade_url"`
	TransactionID uint   `json:"transaction_id"`
}

// BasketOrder is one entry of the order-placement payload submitted to the
// broker-hosted basket widget.
type BasketOrder struct {
	Variety         string `json:"variety"`
	TradingSymbol   string `json:"tradingsymbol"`
	Exchange        string `json:"exchange"`
	TransactionType string `json:"transaction_type"`
	OrderType       string `json:"order_type"`
	Quantity        int64  `json:"quantity"`
	Readonly        bool   `json:"readonly"`
	Tag             string `json:"tag"`
}

// ExecutionPayload is what the handoff URL renders for client-side submission.
type ExecutionPayload struct {
	APIKey    string        `json:"api_key"`
	BasketURL string        `json:"basket_url"`
	Orders    []BasketOrder `json:"json_data"`
}

// PositionView is one holding in the portfolio screen.
type PositionView struct {
	TradingSymbol string  `json:"trading_symbol"`
	Exchange      string  `json:"exchange"`
	Quantity      int64   `json:"quantity"`
	PurchaseValue float64 `json:"purchase_value"`
	Price         float64 `json:"price"`
	CurrentValue  float64 `json:"current_value"`
	Percentage    float64 `json:"percentage"`
}

// PortfolioView aggregates a user's open positions.
type PortfolioView struct {
	Positions          []PositionView `json:"portfolio"`
	TransactionCount   int            `json:"transaction_count"`
	TotalPurchaseValue float64        `json:"total_purchase_value"`
	TotalCurrentValue  float64        `json:"total_current_value"`
	GeneratedAt        time.Time      `json:"generated_at"`
}
