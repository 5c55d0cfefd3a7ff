// Package kyc manages the per-user Kite session: linking, the freshness gate
// in front of broker-backed actions, token renewal and the funds snapshot.
package kyc

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/broker"
	"github.com/ksred/brokerlink-api/internal/config"
	"github.com/ksred/brokerlink-api/internal/types"
	"github.com/ksred/brokerlink-api/pkg/middleware"
	"github.com/ksred/brokerlink-api/pkg/response"
)

var ErrKYCRequired = errors.New("KYC NOT DONE OR EXPIRED")

// Broker is the subset of the Kite client the session logic needs.
type Broker interface {
	Margins(ctx context.Context, accessToken string) (*broker.Margins, error)
	RenewAccessToken(ctx context.Context, refreshToken string) (*broker.SessionTokens, error)
	GenerateSession(requestToken string) (*broker.Session, error)
	LoginURL(redirectParams string) string
}

// Service owns broker credentials. Its configuration is injected so tests
// can point it at a fake broker.
type Service struct {
	db      *Database
	broker  Broker
	timeout time.Duration
}

func NewService(gormDB *gorm.DB, b Broker, cfg config.Broker) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		db:      NewDatabase(gormDB),
		broker:  b,
		timeout: timeout,
	}
}

// LatestCredential returns the most recently active session of any user.
func (s *Service) LatestCredential(ctx context.Context) (*types.BrokerCredential, error) {
	return s.db.LatestCredential(ctx)
}

// GetCredential returns the user's linked credential, or nil.
func (s *Service) GetCredential(ctx context.Context, userID uint) (*types.BrokerCredential, error) {
	return s.db.GetCredential(ctx, userID)
}

var redirectPage = template.Must(template.New("zerodha-redirect").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Result}}</title></head>
<body>
<h2>{{.Result}}</h2>
<p>{{.Message}}</p>
</body>
</html>`))

// GinHandlers contains HTTP handlers for the broker linking endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// KYCURLHandler returns the Kite login URL for the authenticated user.
func (h *GinHandlers) KYCURLHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			response.Unauthorized(c, "Authentication credentials were not provided")
			return
		}
		response.JSON(c, http.StatusOK, gin.H{"kyc_url": h.service.LoginURL(user)})
	}
}

// RedirectHandler is the public landing page Kite redirects to after login.
func (h *GinHandlers) RedirectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var cb LinkCallback
		if err := c.ShouldBindQuery(&cb); err != nil {
			cb = LinkCallback{}
		}

		result := h.service.CompleteLink(c.Request.Context(), cb)
		c.Render(http.StatusOK, render.HTML{
			Template: redirectPage,
			Data:     result,
		})
	}
}

// CheckStatusHandler checks the user's broker session.
func (h *GinHandlers) CheckStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			response.Unauthorized(c, "Authentication credentials were not provided")
			return
		}
		if !h.service.IsLinkedAndFresh(c.Request.Context(), user.ID) {
			response.Forbidden(c, ErrKYCRequired.Error())
			return
		}
		response.JSON(c, http.StatusOK, nil)
	}
}

// RefreshFundsHandler re-reads available cash from the broker.
func (h *GinHandlers) RefreshFundsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			response.Unauthorized(c, "Authentication credentials were not provided")
			return
		}

		funds, err := h.service.RefreshFunds(c.Request.Context(), user.ID)
		if errors.Is(err, ErrKYCRequired) {
			response.ErrorWith(c, http.StatusForbidden, err.Error(), "funds")
			return
		}
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.JSON(c, http.StatusOK, gin.H{"funds": funds})
	}
}
