// Package notify records in-app and admin notifications and forwards user
// notifications to the push provider.
package notify

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/types"
	"github.com/ksred/brokerlink-api/pkg/middleware"
	"github.com/ksred/brokerlink-api/pkg/response"
)

const (
	AdminTypeTrade        = "TRADE"
	AdminTypeSubscription = "SUBSCRIPTION"
)

// Pusher sends a push notification to one device.
type Pusher interface {
	SendPush(ctx context.Context, deviceToken, title, body, kind string) error
}

type Service struct {
	db     *gorm.DB
	pusher Pusher
}

func NewService(db *gorm.DB, pusher Pusher) *Service {
	return &Service{db: db, pusher: pusher}
}

// CreateAdminNotification stores an operator alert. Failures are logged and
// returned but callers treat the alert as best effort.
func (s *Service) CreateAdminNotification(ctx context.Context, notificationType, title, content string) error {
	alert := AdminNotification{
		NotificationType: notificationType,
		Title:            title,
		Content:          content,
	}
	if err := s.db.WithContext(ctx).Create(&alert).Error; err != nil {
		log.Error().Err(err).Str("service", "notify").Str("title", title).Msg("failed to create admin notification")
		return err
	}
	return nil
}

// NotifyUser records the notification and pushes it to the user's device if
// one is registered. It never fails the caller.
func (s *Service) NotifyUser(ctx context.Context, userID uint, kind, head, body string) {
	logger := log.With().
		Uint("user_id", userID).
		Str("kind", kind).
		Str("service", "notify").
		Logger()

	n := Notification{UserID: userID, Kind: kind, Head: head, Body: body}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		logger.Error().Err(err).Msg("failed to store notification")
	}

	var setting types.UserSetting
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Info().Msg("no settings exist for user, skipping push")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to load user settings")
		return
	}
	if setting.DeviceToken == "" {
		logger.Info().Msg("no device token for user, skipping push")
		return
	}
	if !setting.NotificationPreference {
		logger.Debug().Msg("user opted out of push notifications")
		return
	}

	if err := s.pusher.SendPush(ctx, setting.DeviceToken, head, body, kind); err != nil {
		logger.Warn().Err(err).Msg("push delivery failed")
	}
}

// ListNotifications returns the user's notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context, userID uint, limit int) ([]Notification, error) {
	var out []Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func (h *GinHandlers) ListNotificationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			response.Unauthorized(c, "Authentication credentials were not provided")
			return
		}

		items, err := h.service.ListNotifications(c.Request.Context(), user.ID, 25)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.JSON(c, http.StatusOK, gin.H{"notifications": items})
	}
}
