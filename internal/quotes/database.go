package quotes

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) ListQuotes(ctx context.Context) ([]MarketQuote, error) {
	var out []MarketQuote
	err := d.db.WithContext(ctx).Order("trading_symbol ASC").Find(&out).Error
	return out, err
}

// Track adds symbol to the refreshed set if it is not there yet.
func (d *Database) Track(ctx context.Context, symbol, exchange string) (*MarketQuote, error) {
	quote := MarketQuote{}
	err := d.db.WithContext(ctx).
		Where(MarketQuote{TradingSymbol: symbol}).
		Attrs(MarketQuote{Exchange: exchange}).
		FirstOrCreate(&quote).Error
	if err != nil {
		return nil, err
	}
	return &quote, nil
}

func (d *Database) UpdatePrice(ctx context.Context, id uint, price, change float64) error {
	return d.db.WithContext(ctx).Model(&MarketQuote{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"price":      price,
			"change":     change,
			"updated_at": time.Now(),
		}).Error
}
