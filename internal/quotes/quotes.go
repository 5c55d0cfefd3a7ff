// Package quotes keeps the market price of every tracked symbol current.
package quotes

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/broker"
	"github.com/ksred/brokerlink-api/internal/config"
	"github.com/ksred/brokerlink-api/internal/types"
	"github.com/ksred/brokerlink-api/pkg/response"
)

// CredentialSource supplies a live broker session to read quotes with.
type CredentialSource interface {
	LatestCredential(ctx context.Context) (*types.BrokerCredential, error)
}

type Fetcher interface {
	Quotes(ctx context.Context, accessToken string, instruments []string) (map[string]broker.Quote, error)
}

type Service struct {
	db              *Database
	credentials     CredentialSource
	fetcher         Fetcher
	defaultExchange string
}

func NewService(gormDB *gorm.DB, credentials CredentialSource, fetcher Fetcher, cfg config.Broker) *Service {
	return &Service{
		db:              NewDatabase(gormDB),
		credentials:     credentials,
		fetcher:         fetcher,
		defaultExchange: cfg.Exchange,
	}
}

// RefreshQuotes pulls current prices for all tracked symbols using the most
// recently refreshed user session.
func (s *Service) RefreshQuotes(ctx context.Context) error {
	logger := log.With().Str("service", "quotes").Logger()

	cred, err := s.credentials.LatestCredential(ctx)
	if err != nil {
		return fmt.Errorf("failed to load broker credential: %w", err)
	}
	if cred == nil || cred.AccessToken == "" {
		logger.Warn().Msg("no linked broker session, skipping quote refresh")
		return nil
	}

	tracked, err := s.db.ListQuotes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tracked symbols: %w", err)
	}
	if len(tracked) == 0 {
		return nil
	}

	bySymbol := make(map[string]MarketQuote, len(tracked))
	instruments := make([]string, 0, len(tracked))
	for _, q := range tracked {
		bySymbol[q.TradingSymbol] = q
		instruments = append(instruments, q.Exchange+":"+q.TradingSymbol)
	}

	live, err := s.fetcher.Quotes(ctx, cred.AccessToken, instruments)
	if err != nil {
		logger.Error().Err(err).Msg("unable to refresh stock data from broker")
		return fmt.Errorf("failed to fetch quotes: %w", err)
	}

	updated := 0
	for key, q := range live {
		_, symbol, ok := strings.Cut(key, ":")
		if !ok {
			symbol = key
		}
		current, ok := bySymbol[symbol]
		if !ok {
			logger.Warn().Str("instrument", key).Msg("quote for untracked symbol")
			continue
		}

		price := q.AveragePrice
		if price == 0 {
			price = q.LastPrice
		}
		change := decimal.NewFromFloat(current.Price).Sub(decimal.NewFromFloat(price)).InexactFloat64()

		if err := s.db.UpdatePrice(ctx, current.ID, price, change); err != nil {
			logger.Error().Err(err).Str("symbol", symbol).Msg("failed to update market quote")
			continue
		}
		updated++
	}

	logger.Info().
		Int("tracked", len(tracked)).
		Int("updated", updated).
		Msg("quote refresh finished")
	return nil
}

// LatestPrices returns the stored price of every tracked symbol.
func (s *Service) LatestPrices(ctx context.Context) (map[string]float64, error) {
	tracked, err := s.db.ListQuotes(ctx)
	if err != nil {
		return nil, err
	}
	prices := make(map[string]float64, len(tracked))
	for _, q := range tracked {
		prices[q.TradingSymbol] = q.Price
	}
	return prices, nil
}

func (s *Service) ListQuotes(ctx context.Context) ([]MarketQuote, error) {
	return s.db.ListQuotes(ctx)
}

// TrackSymbol adds a symbol to the refreshed set.
func (s *Service) TrackSymbol(ctx context.Context, symbol, exchange string) (*MarketQuote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	exchange = strings.ToUpper(strings.TrimSpace(exchange))
	if exchange == "" {
		exchange = s.defaultExchange
	}
	return s.db.Track(ctx, symbol, exchange)
}

// GinHandlers contains HTTP handlers for market quote endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func (h *GinHandlers) ListQuotesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		quotes, err := h.service.ListQuotes(c.Request.Context())
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.JSON(c, http.StatusOK, gin.H{"quotes": quotes})
	}
}

// TrackSymbolHandler registers a symbol for periodic refresh.
// Requires internal authentication
func (h *GinHandlers) TrackSymbolHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			TradingSymbol string `json:"trading_symbol" binding:"required"`
			Exchange      string `json:"exchange"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		quote, err := h.service.TrackSymbol(c.Request.Context(), req.TradingSymbol, req.Exchange)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"quote": quote})
	}
}
