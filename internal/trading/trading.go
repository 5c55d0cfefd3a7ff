// Package trading records trade intents and hands them to the broker through
// a single-use execution link.
package trading

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/config"
	"github.com/ksred/brokerlink-api/internal/types"
	"github.com/ksred/brokerlink-api/pkg/middleware"
	"github.com/ksred/brokerlink-api/pkg/response"
)

var (
	ErrInvalidTrade    = errors.New("invalid trade")
	ErrPaymentRequired = errors.New("subscription required to place further trades")
	ErrTradeNotPlaced  = errors.New("Unable to place trade, please try again")
	ErrHandoffNotFound = errors.New("Invalid URL or Expired!")
)

const executePath = "/api/v1/zerodha/execute-trade/"

// SubscriptionChecker reports whether a user holds a paid plan.
type SubscriptionChecker interface {
	IsActive(ctx context.Context, userID uint) (bool, error)
}

// Service handles trade placement and the execution handoff.
type Service struct {
	db              *Database
	subscriptions   SubscriptionChecker
	publicBaseURL   string
	apiKey          string
	basketURL       string
	defaultExchange string
}

func NewService(gormDB *gorm.DB, subscriptions SubscriptionChecker, httpCfg config.HTTP, brokerCfg config.Broker) *Service {
	return &Service{
		db:              NewDatabase(gormDB),
		subscriptions:   subscriptions,
		publicBaseURL:   strings.TrimRight(httpCfg.PublicBaseURL, "/"),
		apiKey:          brokerCfg.APIKey,
		basketURL:       brokerCfg.BasketURL,
		defaultExchange: brokerCfg.Exchange,
	}
}

func (s *Service) validate(req *TradeRequest) error {
	req.TradingSymbol = strings.ToUpper(strings.TrimSpace(req.TradingSymbol))
	req.Exchange = strings.ToUpper(strings.TrimSpace(req.Exchange))
	req.TransactionType = strings.ToUpper(strings.TrimSpace(req.TransactionType))

	if req.Exchange == "" {
		req.Exchange = s.defaultExchange
	}

	switch {
	case req.TradingSymbol == "":
		return fmt.Errorf("%w: trading_symbol is required", ErrInvalidTrade)
	case req.Exchange == "":
		return fmt.Errorf("%w: exchange is required", ErrInvalidTrade)
	case req.TransactionType != types.SideBuy && req.TransactionType != types.SideSell:
		return fmt.Errorf("%w: transaction_type must be BUY or SELL", ErrInvalidTrade)
	case req.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be greater than zero", ErrInvalidTrade)
	}
	return nil
}

// canTrade allows users with at least one verified trade, or with an active
// subscription.
func (s *Service) canTrade(ctx context.Context, userID uint) (bool, error) {
	verified, err := s.db.CountVerified(ctx, userID)
	if err != nil {
		return false, err
	}
	if verified >= 1 {
		return true, nil
	}
	return s.subscriptions.IsActive(ctx, userID)
}

func (s *Service) tradeURL(token string) string {
	return s.publicBaseURL + executePath + token + "/"
}

// PlaceTrade records a pending order for the user and returns the handoff
// URL that submits it to the broker. A non-empty idempotencyKey that was
// already used by the same user returns the original order.
func (s *Service) PlaceTrade(ctx context.Context, userID uint, req TradeRequest, idempotencyKey string) (*types.TradeResponse, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}

	if idempotencyKey != "" {
		record, err := s.db.GetIdempotencyRecord(ctx, idempotencyKey, userID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTradeNotPlaced, err)
		}
		if record != nil {
			existing, err := s.db.GetOrder(ctx, record.OrderID)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTradeNotPlaced, err)
			}
			return &types.TradeResponse{
				TradeURL:      s.tradeURL(existing.Token),
				TransactionID: existing.ID,
			}, nil
		}
	}

	allowed, err := s.canTrade(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTradeNotPlaced, err)
	}
	if !allowed {
		return nil, ErrPaymentRequired
	}

	order := &types.Order{
		Token:           uuid.New().String(),
		UserID:          userID,
		TradingSymbol:   req.TradingSymbol,
		Exchange:        req.Exchange,
		TransactionType: req.TransactionType,
		Quantity:        req.Quantity,
		OrderType:       types.OrderTypeMarket,
		Rationale:       req.Rationale,
		Status:          types.StatusPending,
	}
	if err := s.db.CreateOrderWithIdempotency(ctx, order, idempotencyKey); err != nil {
		log.Error().
			Err(err).
			Uint("user_id", userID).
			Str("service", "trading").
			Msg("failed to persist trade")
		return nil, fmt.Errorf("%w: %v", ErrTradeNotPlaced, err)
	}

	log.Info().
		Uint("order_id", order.ID).
		Uint("user_id", userID).
		Str("symbol", order.TradingSymbol).
		Str("side", order.TransactionType).
		Int64("quantity", order.Quantity).
		Str("service", "trading").
		Msg("trade intent recorded")

	return &types.TradeResponse{
		TradeURL:      s.tradeURL(order.Token),
		TransactionID: order.ID,
	}, nil
}

// GetOrder returns one of the user's orders.
func (s *Service) GetOrder(ctx context.Context, userID, orderID uint) (*types.Order, error) {
	return s.db.GetOrderForUser(ctx, orderID, userID)
}

// ListOrders returns the user's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, userID uint, limit, offset int) ([]types.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.db.ListOrders(ctx, userID, limit, offset)
}

// GinHandlers contains HTTP handlers for trading endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// CreateTradeHandler handles POST requests to record a trade intent.
// Requires a valid JWT and a fresh broker session. An optional
// Idempotency-Key header makes retries safe.
func (h *GinHandlers) CreateTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			response.Unauthorized(c, "Authentication credentials were not provided")
			return
		}

		var req TradeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ErrorWith(c, http.StatusBadRequest, err.Error(), "trade_url", "transaction_id")
			return
		}

		result, err := h.service.PlaceTrade(c.Request.Context(), user.ID, req, c.GetHeader("Idempotency-Key"))
		switch {
		case errors.Is(err, ErrInvalidTrade):
			response.ErrorWith(c, http.StatusBadRequest, err.Error(), "trade_url", "transaction_id")
			return
		case errors.Is(err, ErrPaymentRequired):
			response.ErrorWith(c, http.StatusPaymentRequired, "Please subscribe to continue trading", "trade_url", "transaction_id")
			return
		case err != nil:
			response.ErrorWith(c, http.StatusBadRequest, ErrTradeNotPlaced.Error(), "trade_url", "transaction_id")
			return
		}

		response.Success(c, gin.H{
			"trade_url":      result.TradeURL,
			"transaction_id": result.TransactionID,
		})
	}
}

// ListTradesHandler lists the caller's orders.
// Query parameters: limit, offset
func (h *GinHandlers) ListTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			response.Unauthorized(c, "Authentication credentials were not provided")
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		orders, err := h.service.ListOrders(c.Request.Context(), user.ID, limit, offset)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.JSON(c, http.StatusOK, gin.H{"trades": orders})
	}
}

// GetTradeHandler returns one of the caller's orders.
// URL parameter: id
func (h *GinHandlers) GetTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			response.Unauthorized(c, "Authentication credentials were not provided")
			return
		}

		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			response.BadRequest(c, "Invalid trade ID")
			return
		}

		order, err := h.service.GetOrder(c.Request.Context(), user.ID, uint(id))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.JSON(c, http.StatusOK, gin.H{"trade": order})
	}
}
