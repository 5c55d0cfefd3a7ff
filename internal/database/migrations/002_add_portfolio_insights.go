package migrations

import (
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/portfolio"
	"github.com/ksred/brokerlink-api/internal/quotes"
)

// AddPortfolioInsights creates the market quote and insight tables.
func AddPortfolioInsights(db *gorm.DB) error {
	if err := db.AutoMigrate(&quotes.MarketQuote{}, &portfolio.InvestmentInsight{}); err != nil {
		return err
	}

	// Insight history is always read per user, newest first
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_investment_insights_user_created_at
		 ON investment_insights(user_id, created_at)`).Error
}
