// Package auth handles app users: registration, password login issuing JWTs,
// and per-user notification settings.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/config"
	"github.com/ksred/brokerlink-api/internal/types"
	"github.com/ksred/brokerlink-api/pkg/middleware"
	"github.com/ksred/brokerlink-api/pkg/response"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrTokenGeneration    = errors.New("failed to generate token")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidToken       = errors.New("invalid token")
)

// Credentials is the email/password pair used to register and log in.
type Credentials struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// TokenResponse represents the JWT token response
type TokenResponse struct {
	Token      string    `json:"token"`
	Expiration time.Time `json:"expiration"`
}

// Claims represents the JWT claims structure
type Claims struct {
	jwt.RegisteredClaims
	UserID   uint   `json:"user_id"`
	UserUUID string `json:"uuid"`
}

// SettingsRequest updates the push-notification target of the user.
type SettingsRequest struct {
	DeviceToken            string `json:"device_token"`
	DeviceType             string `json:"device_type" binding:"omitempty,oneof=Apple Android"`
	NotificationPreference *bool  `json:"notification_preference"`
}

// Service handles authentication and authorization operations
type Service struct {
	db        *Database
	jwtSecret []byte
	tokenTTL  time.Duration
}

// NewService creates a new authentication service from the auth settings
func NewService(gormDB *gorm.DB, cfg config.Auth) *Service {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		db:        NewDatabase(gormDB),
		jwtSecret: []byte(cfg.JWTSecret),
		tokenTTL:  ttl,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an active user with a hashed password.
func (s *Service) Register(ctx context.Context, creds Credentials) (*types.User, error) {
	email := normalizeEmail(creds.Email)

	existing, err := s.db.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &types.User{
		UUID:         uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		IsActive:     true,
	}
	if err := s.db.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	log.Info().Uint("user_id", user.ID).Str("service", "auth").Msg("user registered")
	return user, nil
}

// GenerateToken checks the password and issues a JWT for the user
func (s *Service) GenerateToken(ctx context.Context, creds Credentials) (*TokenResponse, error) {
	user, err := s.db.GetUserByEmail(ctx, normalizeEmail(creds.Email))
	if err != nil {
		return nil, err
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, types.ErrUserBlocked
	}

	return s.issueToken(user)
}

func (s *Service) issueToken(user *types.User) (*TokenResponse, error) {
	now := time.Now()
	expiration := now.Add(s.tokenTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		UserID:   user.ID,
		UserUUID: user.UUID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		Expiration: expiration,
	}, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.UserID != 0 {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// Authenticate resolves a bearer token to its user. Blocked users are
// rejected on every request, not only at login.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*types.User, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	user, err := s.db.GetUser(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidToken
	}
	if !user.IsActive {
		return nil, types.ErrUserBlocked
	}
	return user, nil
}

// SetActive blocks or unblocks a user.
func (s *Service) SetActive(ctx context.Context, userID uint, active bool) error {
	return s.db.SetActive(ctx, userID, active)
}

func (s *Service) GetSettings(ctx context.Context, userID uint) (*types.UserSetting, error) {
	return s.db.GetSetting(ctx, userID)
}

func (s *Service) UpdateSettings(ctx context.Context, userID uint, req SettingsRequest) (*types.UserSetting, error) {
	setting, err := s.db.GetSetting(ctx, userID)
	if err != nil {
		return nil, err
	}

	setting.DeviceToken = req.DeviceToken
	if req.DeviceType != "" {
		setting.DeviceType = req.DeviceType
	}
	if req.NotificationPreference != nil {
		setting.NotificationPreference = *req.NotificationPreference
	}

	if err := s.db.SaveSetting(ctx, setting); err != nil {
		return nil, err
	}
	return setting, nil
}

// GinHandlers contains HTTP handlers for authentication endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for authentication endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

func (h *GinHandlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		user, err := h.service.Register(c.Request.Context(), creds)
		if errors.Is(err, ErrEmailTaken) {
			response.BadRequest(c, err.Error())
			return
		}
		response.Handle(c, gin.H{"user": user}, err)
	}
}

// GenerateTokenHandler handles POST requests to generate JWT tokens
// Request body should contain the user's email and password
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(c.Request.Context(), creds)
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			response.Unauthorized(c, err.Error())
			return
		case errors.Is(err, types.ErrUserBlocked):
			response.Forbidden(c, "User Blocked By Admin")
			return
		case err != nil:
			response.Handle(c, nil, err)
			return
		}
		response.JSON(c, http.StatusOK, gin.H{"token": token.Token, "expiration": token.Expiration})
	}
}

func (h *GinHandlers) GetSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			response.Unauthorized(c, "Authentication credentials were not provided")
			return
		}

		setting, err := h.service.GetSettings(c.Request.Context(), user.ID)
		response.Handle(c, gin.H{"settings": setting}, err)
	}
}

func (h *GinHandlers) UpdateSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			response.Unauthorized(c, "Authentication credentials were not provided")
			return
		}

		var req SettingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		setting, err := h.service.UpdateSettings(c.Request.Context(), user.ID, req)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.JSON(c, http.StatusOK, gin.H{"settings": setting})
	}
}

// SetActiveHandler lets an internal caller block or unblock a user.
// URL parameter: user_id
func (h *GinHandlers) SetActiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
		if err != nil {
			response.BadRequest(c, "Invalid user ID")
			return
		}

		var req struct {
			Active *bool `json:"active" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.SetActive(c.Request.Context(), uint(userID), *req.Active); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.JSON(c, http.StatusOK, gin.H{"user_id": userID, "active": *req.Active})
	}
}
