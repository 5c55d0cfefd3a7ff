package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/ksred/brokerlink-api/internal/types"
	"github.com/ksred/brokerlink-api/pkg/response"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	visitors = make(map[string]*visitor)
	mu       sync.Mutex

	// Configure limits per endpoint type
	authLimit    = rate.Limit(10.0 / 60.0)  // 10 requests per minute
	tradingLimit = rate.Limit(100.0 / 60.0) // 100 requests per minute
	statusLimit  = rate.Limit(600.0 / 60.0) // 600 requests per minute
)

// Cleanup old visitors periodically
func init() {
	go cleanupVisitors()
}

func getLimiter(path, clientID string) *rate.Limiter {
	mu.Lock()
	defer mu.Unlock()

	key := clientID + ":" + path
	v, exists := visitors[key]

	if !exists {
		var limit rate.Limit
		burst := 1
		switch {
		case strings.HasPrefix(path, "/api/v1/auth"):
			limit = authLimit
		case strings.HasPrefix(path, "/api/v1/trades"):
			limit = tradingLimit
			burst = 5
		case strings.HasPrefix(path, "/api/v1/zerodha/check-status"),
			strings.HasPrefix(path, "/api/v1/zerodha/refresh-funds"):
			limit = statusLimit
			burst = 5
		default:
			// Broker callbacks and handoff pages are never throttled.
			limit = rate.Inf
		}

		v = &visitor{
			limiter:  rate.NewLimiter(limit, burst),
			lastSeen: time.Now(),
		}
		visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		mu.Lock()
		for key, v := range visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(visitors, key)
			}
		}
		mu.Unlock()
	}
}

func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := getLimiter(c.FullPath(), c.ClientIP())
		if !limiter.Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

const userKey = "user"

// Authenticator resolves a bearer token to an active user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*types.User, error)
}

// CurrentUser returns the user stored by JWTAuth.
func CurrentUser(c *gin.Context) (*types.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*types.User)
	return user, ok && user != nil
}

// SetCurrentUser stores the authenticated user on the request context.
func SetCurrentUser(c *gin.Context, user *types.User) {
	c.Set(userKey, user)
	c.Set("userID", user.ID)
}

func JWTAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearerToken := strings.Split(c.GetHeader("Authorization"), " ")
		if len(bearerToken) != 2 || strings.ToLower(bearerToken[0]) != "bearer" {
			response.Unauthorized(c, "Invalid authorization header")
			c.Abort()
			return
		}

		user, err := auth.Authenticate(c.Request.Context(), bearerToken[1])
		if errors.Is(err, types.ErrUserBlocked) {
			response.Forbidden(c, "User Blocked By Admin")
			c.Abort()
			return
		}
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		SetCurrentUser(c, user)
		c.Next()
	}
}

// SessionChecker reports whether a user's broker session is usable.
type SessionChecker interface {
	IsLinkedAndFresh(ctx context.Context, userID uint) bool
}

// KYCGate blocks broker-backed endpoints until the user's Kite session is
// valid. It must run after JWTAuth and re-checks on every request.
func KYCGate(checker SessionChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			response.Unauthorized(c, "Authentication credentials were not provided")
			c.Abort()
			return
		}

		if !checker.IsLinkedAndFresh(c.Request.Context(), user.ID) {
			response.Forbidden(c, "KYC NOT DONE OR EXPIRED")
			c.Abort()
			return
		}

		c.Next()
	}
}

// InternalAuth protects service-to-service routes, such as payment
// confirmation, with a shared key.
func InternalAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader("X-Internal-Key")
		if apiKey == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			response.Unauthorized(c, "Invalid internal credentials")
			c.Abort()
			return
		}

		c.Next()
	}
}
