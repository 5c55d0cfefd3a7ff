// Package subscription manages the yearly premium plan that users without a
// verified trade need before they can place orders.
package subscription

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/config"
	"github.com/ksred/brokerlink-api/internal/notify"
	"github.com/ksred/brokerlink-api/pkg/middleware"
	"github.com/ksred/brokerlink-api/pkg/response"
)

const (
	headPurchased = "Subscription Purchased!"
	bodyPurchased = "Your subscription renewal is successful."
	headExpired   = "Subscription Expired!"
	bodyExpired   = "Alert! Your subscription has ended. Subscribe again if you wish to continue with premium service."

	kindSubscription = "Subscription"
)

type Notifier interface {
	NotifyUser(ctx context.Context, userID uint, kind, head, body string)
}

type AdminAlerter interface {
	CreateAdminNotification(ctx context.Context, notificationType, title, content string) error
}

type Service struct {
	db          *Database
	notifier    Notifier
	alerts      AdminAlerter
	yearlyPrice float64
	now         func() time.Time
}

func NewService(gormDB *gorm.DB, notifier Notifier, alerts AdminAlerter, cfg config.Subscription) *Service {
	return &Service{
		db:          NewDatabase(gormDB),
		notifier:    notifier,
		alerts:      alerts,
		yearlyPrice: cfg.YearlyPrice,
		now:         time.Now,
	}
}

// IsActive reports whether the user currently holds a paid plan.
func (s *Service) IsActive(ctx context.Context, userID uint) (bool, error) {
	sub, err := s.db.GetOrCreate(ctx, userID)
	if err != nil {
		return false, err
	}
	return sub.CoversAt(s.now()), nil
}

func (s *Service) Get(ctx context.Context, userID uint) (*Subscription, error) {
	return s.db.GetOrCreate(ctx, userID)
}

// Renew records a confirmed payment and extends the user's plan by a year.
func (s *Service) Renew(ctx context.Context, userID uint, amount float64, transactionID, gateway string) (*Subscription, error) {
	sub, err := s.db.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	sub.Extend(s.now())

	history := &SubscriptionHistory{
		Amount:         amount,
		TransactionID:  transactionID,
		PaymentGateway: gateway,
	}
	if err := s.db.SaveRenewal(ctx, sub, history); err != nil {
		return nil, fmt.Errorf("failed to save subscription renewal: %w", err)
	}

	log.Info().
		Uint("user_id", userID).
		Time("date_to", *sub.DateTo).
		Str("service", "subscription").
		Msg("subscription renewed")

	if err := s.alerts.CreateAdminNotification(ctx, notify.AdminTypeSubscription, headPurchased,
		fmt.Sprintf("User - CU%d, has just purchased a subscription!", userID)); err != nil {
		log.Error().Err(err).Uint("user_id", userID).Msg("failed to create admin alert")
	}
	s.notifier.NotifyUser(ctx, userID, kindSubscription, headPurchased, bodyPurchased)

	return sub, nil
}

// DeactivateExpired is the periodic sweep that turns off lapsed plans and
// tells their owners.
func (s *Service) DeactivateExpired(ctx context.Context) error {
	lapsed, err := s.db.ExpireLapsed(ctx, s.now())
	if err != nil {
		return fmt.Errorf("failed to expire subscriptions: %w", err)
	}

	log.Info().
		Int("expired_count", len(lapsed)).
		Str("service", "subscription").
		Msg("subscription sweep finished")

	for _, sub := range lapsed {
		s.notifier.NotifyUser(ctx, sub.UserID, kindSubscription, headExpired, bodyExpired)
	}
	return nil
}

type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func (h *GinHandlers) GetSubscriptionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			response.Unauthorized(c, "Authentication credentials were not provided")
			return
		}

		sub, err := h.service.Get(c.Request.Context(), user.ID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.JSON(c, http.StatusOK, gin.H{
			"active":    sub.CoversAt(h.service.now()),
			"date_from": sub.DateFrom,
			"date_to":   sub.DateTo,
			"premium":   sub.Premium(h.service.yearlyPrice),
		})
	}
}

// RenewHandler is called by the payment flow once a payment is verified.
// URL parameter: user_id
func (h *GinHandlers) RenewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
		if err != nil {
			response.BadRequest(c, "Invalid user ID")
			return
		}

		var req struct {
			Amount         float64 `json:"amount" binding:"required,gt=0"`
			TransactionID  string  `json:"transaction_id" binding:"required"`
			PaymentGateway string  `json:"payment_gateway"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if req.PaymentGateway == "" {
			req.PaymentGateway = "PayU"
		}

		sub, err := h.service.Renew(c.Request.Context(), uint(userID), req.Amount, req.TransactionID, req.PaymentGateway)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.JSON(c, http.StatusOK, gin.H{
			"active":    sub.Active,
			"date_from": sub.DateFrom,
			"date_to":   sub.DateTo,
		})
	}
}
