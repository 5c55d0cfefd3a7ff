// Package broker talks to the Kite Connect HTTP API on behalf of linked users.
package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"github.com/ksred/brokerlink-api/internal/config"
)

var (
	ErrSessionExpired = errors.New("broker session expired or invalid")
	ErrBrokerRejected = errors.New("broker rejected request")
)

const kiteVersion = "3"

// Client wraps the Kite endpoints used by the backend. Every call is bounded
// by the configured timeout.
type Client struct {
	http      *resty.Client
	kite      *kiteconnect.Client
	apiKey    string
	apiSecret string
	loginURL  string
	basketURL string
}

// Margins is the subset of /user/margins the backend reads.
type Margins struct {
	Equity struct {
		Enabled   bool    `json:"enabled"`
		Net       float64 `json:"net"`
		Available struct {
			Cash        float64 `json:"cash"`
			LiveBalance float64 `json:"live_balance"`
		} `json:"available"`
	} `json:"equity"`
}

// SessionTokens is returned by the token renewal endpoint.
type SessionTokens struct {
	UserID       string `json:"user_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Session is the result of exchanging a request token after login.
type Session struct {
	BrokerUserID string
	UserName     string
	Email        string
	Broker       string
	APIKey       string
	AccessToken  string
	PublicToken  string
	RefreshToken string
	Raw          map[string]any
}

// Quote is one instrument of the /quote response.
type Quote struct {
	InstrumentToken int64   `json:"instrument_token"`
	LastPrice       float64 `json:"last_price"`
	AveragePrice    float64 `json:"average_price"`
}

type envelope[T any] struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
	Data      T      `json:"data"`
}

// NewClient creates a Kite client from the injected broker settings.
func NewClient(cfg config.Broker) *Client {
	httpClient := resty.New().
		SetDebug(cfg.Debug).
		SetTimeout(cfg.Timeout).
		SetBaseURL(cfg.BaseURL).
		SetHeader("X-Kite-Version", kiteVersion)

	kite := kiteconnect.New(cfg.APIKey)
	kite.SetBaseURI(cfg.BaseURL)
	kite.SetHTTPClient(&http.Client{Timeout: cfg.Timeout})

	return &Client{
		http:      httpClient,
		kite:      kite,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		loginURL:  cfg.LoginURL,
		basketURL: cfg.BasketURL,
	}
}

// APIKey returns the Kite app key shared by all users.
func (c *Client) APIKey() string {
	return c.apiKey
}

// BasketURL returns the broker-hosted order widget endpoint.
func (c *Client) BasketURL() string {
	return c.basketURL
}

// LoginURL builds the Kite Connect login URL. redirectParams is echoed back
// by Kite on the redirect so the callback can identify the user.
func (c *Client) LoginURL(redirectParams string) string {
	q := url.Values{}
	q.Set("v", kiteVersion)
	q.Set("api_key", c.apiKey)
	q.Set("redirect_params", redirectParams)
	return c.loginURL + "?" + q.Encode()
}

// Checksum is the hex SHA-256 Kite expects over the concatenated parts.
func Checksum(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Client) authorization(accessToken string) string {
	return fmt.Sprintf("token %s:%s", c.apiKey, accessToken)
}

// Margins fetches account margins. Any non-200 answer is ErrSessionExpired.
func (c *Client) Margins(ctx context.Context, accessToken string) (*Margins, error) {
	var out envelope[Margins]
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", c.authorization(accessToken)).
		SetResult(&out).
		Get("/user/margins")
	if err != nil {
		return nil, fmt.Errorf("margins request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		log.Debug().
			Int("status_code", resp.StatusCode()).
			Str("service", "broker").
			Msg("margins rejected")
		return nil, ErrSessionExpired
	}
	return &out.Data, nil
}

// RenewAccessToken exchanges a refresh token for a new session.
func (c *Client) RenewAccessToken(ctx context.Context, refreshToken string) (*SessionTokens, error) {
	var out envelope[SessionTokens]
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"api_key":       c.apiKey,
			"refresh_token": refreshToken,
			"checksum":      Checksum(c.apiKey, refreshToken, c.apiSecret),
		}).
		SetResult(&out).
		Post("/session/refresh_token")
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: refresh returned status %d", ErrBrokerRejected, resp.StatusCode())
	}
	if out.Data.AccessToken == "" {
		return nil, fmt.Errorf("%w: refresh returned no access token", ErrBrokerRejected)
	}
	return &out.Data, nil
}

// GenerateSession exchanges the request token from the login redirect for
// an access token. The Kite SDK has no context support; its HTTP client
// carries the configured timeout instead.
func (c *Client) GenerateSession(requestToken string) (*Session, error) {
	us, err := c.kite.GenerateSession(requestToken, c.apiSecret)
	if err != nil {
		return nil, fmt.Errorf("generate session: %w", err)
	}

	return &Session{
		BrokerUserID: us.UserID,
		UserName:     us.UserName,
		Email:        us.Email,
		Broker:       us.Broker,
		APIKey:       us.APIKey,
		AccessToken:  us.AccessToken,
		PublicToken:  us.PublicToken,
		RefreshToken: us.RefreshToken,
		Raw: map[string]any{
			"user_id":     us.UserID,
			"user_name":   us.UserName,
			"email":       us.Email,
			"broker":      us.Broker,
			"exchanges":   us.Exchanges,
			"products":    us.Products,
			"order_types": us.OrderTypes,
			"linked_at":   time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

// Quotes returns market quotes keyed by "EXCHANGE:SYMBOL".
func (c *Client) Quotes(ctx context.Context, accessToken string, instruments []string) (map[string]Quote, error) {
	if len(instruments) == 0 {
		return map[string]Quote{}, nil
	}

	params := url.Values{}
	for _, i := range instruments {
		params.Add("i", i)
	}

	var out envelope[map[string]Quote]
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", c.authorization(accessToken)).
		SetQueryParamsFromValues(params).
		SetResult(&out).
		Get("/quote")
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: quote returned status %d", ErrBrokerRejected, resp.StatusCode())
	}
	return out.Data, nil
}
