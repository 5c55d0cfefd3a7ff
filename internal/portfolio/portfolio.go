// Package portfolio derives holdings from verified orders and values them
// against the latest market quotes.
package portfolio

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/types"
	"github.com/ksred/brokerlink-api/pkg/middleware"
	"github.com/ksred/brokerlink-api/pkg/response"
)

// QuoteLookup returns the latest known price per trading symbol.
type QuoteLookup interface {
	LatestPrices(ctx context.Context) (map[string]float64, error)
}

type Service struct {
	db     *Database
	quotes QuoteLookup
	now    func() time.Time
}

func NewService(gormDB *gorm.DB, quotes QuoteLookup) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		quotes: quotes,
		now:    time.Now,
	}
}

var hundred = decimal.NewFromInt(100)

// value builds the portfolio view of positions at the given prices. A
// symbol without a price is listed with a current value of zero.
func value(positions []Position, prices map[string]float64, transactions int, at time.Time) *types.PortfolioView {
	view := &types.PortfolioView{
		Positions:        make([]types.PositionView, 0, len(positions)),
		TransactionCount: transactions,
		GeneratedAt:      at,
	}

	current := make([]decimal.Decimal, len(positions))
	totalCost := decimal.Zero
	total := decimal.Zero
	for i, pos := range positions {
		price := decimal.NewFromFloat(prices[pos.TradingSymbol])
		current[i] = price.Mul(decimal.NewFromInt(pos.Quantity))
		total = total.Add(current[i])
		totalCost = totalCost.Add(pos.Cost)
	}

	for i, pos := range positions {
		share := decimal.Zero
		if !total.IsZero() {
			share = current[i].Div(total).Mul(hundred)
		}
		view.Positions = append(view.Positions, types.PositionView{
			TradingSymbol: pos.TradingSymbol,
			Exchange:      pos.Exchange,
			Quantity:      pos.Quantity,
			PurchaseValue: pos.Cost.Round(2).InexactFloat64(),
			Price:         prices[pos.TradingSymbol],
			CurrentValue:  current[i].Round(2).InexactFloat64(),
			Percentage:    share.Round(2).InexactFloat64(),
		})
	}

	view.TotalPurchaseValue = totalCost.Round(2).InexactFloat64()
	view.TotalCurrentValue = total.Round(2).InexactFloat64()
	return view
}

func (s *Service) portfolio(ctx context.Context, userID uint, prices map[string]float64) (*types.PortfolioView, error) {
	orders, err := s.db.VerifiedOrders(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load verified orders: %w", err)
	}
	return value(NetPositions(orders), prices, len(orders), s.now()), nil
}

// GetPortfolio values the user's current holdings.
func (s *Service) GetPortfolio(ctx context.Context, userID uint) (*types.PortfolioView, error) {
	prices, err := s.quotes.LatestPrices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load quotes: %w", err)
	}
	return s.portfolio(ctx, userID, prices)
}

// Recompute appends one insight for every user holding verified orders.
// A failure for one user is logged and does not stop the run.
func (s *Service) Recompute(ctx context.Context) error {
	logger := log.With().Str("service", "portfolio").Logger()

	prices, err := s.quotes.LatestPrices(ctx)
	if err != nil {
		return fmt.Errorf("failed to load quotes: %w", err)
	}

	users, err := s.db.UsersWithVerifiedOrders(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	written := 0
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return err
		}

		view, err := s.portfolio(ctx, userID, prices)
		if err != nil {
			logger.Error().Err(err).Uint("user_id", userID).Msg("failed to value portfolio")
			continue
		}

		insight := &InvestmentInsight{UserID: userID, Value: view.TotalCurrentValue}
		if err := s.db.CreateInsight(ctx, insight); err != nil {
			logger.Error().Err(err).Uint("user_id", userID).Msg("failed to store insight")
			continue
		}
		written++
	}

	logger.Info().
		Int("users", len(users)).
		Int("insights_written", written).
		Msg("portfolio recompute finished")
	return nil
}

func (s *Service) ListInsights(ctx context.Context, userID uint, limit int) ([]InvestmentInsight, error) {
	if limit <= 0 || limit > 365 {
		limit = 30
	}
	return s.db.ListInsights(ctx, userID, limit)
}

// GinHandlers contains HTTP handlers for portfolio endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func (h *GinHandlers) GetPortfolioHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			response.Unauthorized(c, "Authentication credentials were not provided")
			return
		}

		view, err := h.service.GetPortfolio(c.Request.Context(), user.ID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.JSON(c, http.StatusOK, gin.H{
			"portfolio":            view.Positions,
			"transaction_count":    view.TransactionCount,
			"total_purchase_value": view.TotalPurchaseValue,
			"total_current_value":  view.TotalCurrentValue,
			"generated_at":         view.GeneratedAt,
		})
	}
}

// ListInsightsHandler returns the user's valuation history.
// Query parameter: limit
func (h *GinHandlers) ListInsightsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			response.Unauthorized(c, "Authentication credentials were not provided")
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "30"))
		insights, err := h.service.ListInsights(c.Request.Context(), user.ID, limit)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.JSON(c, http.StatusOK, gin.H{"insights": insights})
	}
}
