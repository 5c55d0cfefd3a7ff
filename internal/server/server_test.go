package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/config"
	"github.com/ksred/brokerlink-api/internal/database"
	"github.com/ksred/brokerlink-api/internal/testutil"
)

// fakeKite serves the Kite endpoints the backend calls. Only the current
// access token is accepted by /user/margins.
type fakeKite struct {
	mu          sync.Mutex
	validAccess string
	refreshes   int
}

func (k *fakeKite) expireSession() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.validAccess = ""
}

func (k *fakeKite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	k.mu.Lock()
	defer k.mu.Unlock()

	write := func(status int, data any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		body := map[string]any{"status": "success", "data": data}
		if status != http.StatusOK {
			body = map[string]any{"status": "error", "error_type": "TokenException", "message": "invalid session"}
		}
		_ = json.NewEncoder(w).Encode(body)
	}

	switch r.URL.Path {
	case "/session/token":
		k.validAccess = "access-1"
		write(http.StatusOK, map[string]any{
			"user_id":       "ZX0001",
			"user_name":     "Asha Rao",
			"email":         "asha@example.com",
			"broker":        "ZERODHA",
			"api_key":       "kite-key",
			"access_token":  "access-1",
			"public_token":  "public-1",
			"refresh_token": "refresh-1",
		})
	case "/session/refresh_token":
		_ = r.ParseForm()
		if r.PostForm.Get("refresh_token") != "refresh-1" {
			write(http.StatusForbidden, nil)
			return
		}
		k.refreshes++
		k.validAccess = "access-2"
		write(http.StatusOK, map[string]any{"access_token": "access-2", "refresh_token": "refresh-1"})
	case "/user/margins":
		if k.validAccess == "" || r.Header.Get("Authorization") != "token kite-key:"+k.validAccess {
			write(http.StatusForbidden, nil)
			return
		}
		write(http.StatusOK, map[string]any{"equity": map[string]any{"available": map[string]any{"cash": 25000.0}}})
	case "/quote":
		write(http.StatusOK, map[string]any{"NSE:ABC": map[string]any{"last_price": 121.0, "average_price": 120.0}})
	default:
		http.NotFound(w, r)
	}
}

type fakeFCM struct {
	mu    sync.Mutex
	heads []string
}

func (f *fakeFCM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var msg struct {
		Notification struct {
			Title string `json:"title"`
		} `json:"notification"`
	}
	_ = json.NewDecoder(r.Body).Decode(&msg)
	f.mu.Lock()
	f.heads = append(f.heads, msg.Notification.Title)
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"success":1,"failure":0}`))
}

type harness struct {
	t      *testing.T
	db     *gorm.DB
	app    *App
	router *gin.Engine
	kite   *fakeKite
	fcm    *fakeFCM
}

func newHarness(t *testing.T) *harness {
	gin.SetMode(gin.TestMode)

	kite := &fakeKite{}
	kiteSrv := httptest.NewServer(kite)
	t.Cleanup(kiteSrv.Close)
	fcm := &fakeFCM{}
	fcmSrv := httptest.NewServer(fcm)
	t.Cleanup(fcmSrv.Close)

	db := testutil.NewDB(t)
	require.NoError(t, database.Migrate(db))

	cfg := &config.Config{
		HTTP: config.HTTP{PublicBaseURL: "https://api.example.com", RateLimit: false},
		Auth: config.Auth{JWTSecret: "test-secret", TokenTTL: time.Hour, InternalAPIKey: "internal-key"},
		Broker: config.Broker{
			APIKey:    "kite-key",
			APISecret: "kite-secret",
			BaseURL:   kiteSrv.URL,
			LoginURL:  "https://kite.example.com/connect/login",
			BasketURL: "https://kite.example.com/connect/basket",
			Exchange:  "NSE",
			Timeout:   2 * time.Second,
		},
		FCM:          config.FCM{URL: fcmSrv.URL, ServerKey: "server-key", Timeout: 2 * time.Second},
		Subscription: config.Subscription{YearlyPrice: 999},
	}

	app := New(cfg, db)
	return &harness{t: t, db: db, app: app, router: app.Router(), kite: kite, fcm: fcm}
}

func (h *harness) do(method, path, body, token string, header ...string) (int, map[string]any, string) {
	h.t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var decoded map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	return w.Code, decoded, w.Body.String()
}

func (h *harness) login(email string) (string, string) {
	h.t.Helper()
	creds := `{"email":"` + email + `","password":"correct-horse"}`

	code, body, raw := h.do(http.MethodPost, "/api/v1/auth/register", creds, "")
	require.Equal(h.t, http.StatusCreated, code, raw)
	uuid := body["user"].(map[string]any)["uuid"].(string)

	code, body, raw = h.do(http.MethodPost, "/api/v1/auth/token", creds, "")
	require.Equal(h.t, http.StatusOK, code, raw)
	return body["token"].(string), uuid
}

func (h *harness) link(uuid string) {
	h.t.Helper()
	q := url.Values{
		"action":        {"login"},
		"type":          {"login"},
		"status":        {"success"},
		"request_token": {"request-1"},
		"uuid":          {uuid},
	}
	code, _, raw := h.do(http.MethodGet, "/api/v1/zerodha/redirect/?"+q.Encode(), "", "")
	require.Equal(h.t, http.StatusOK, code)
	require.Contains(h.t, raw, "KYC linked successfully")
}

const buyABC = `{"trading_symbol":"ABC","exchange":"NSE","transaction_type":"BUY","quantity":10}`

func TestTradeLifecycle(t *testing.T) {
	h := newHarness(t)
	token, uuid := h.login("asha@example.com")

	// Trading needs a linked broker account.
	code, body, _ := h.do(http.MethodPost, "/api/v1/trades/", buyABC, token)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "KYC NOT DONE OR EXPIRED", body["errors"])

	code, body, _ = h.do(http.MethodGet, "/api/v1/zerodha/get-kyc-url/", "", token)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["kyc_url"], url.QueryEscape("uuid="+uuid))

	h.link(uuid)

	code, _, _ = h.do(http.MethodPut, "/api/v1/settings/", `{"device_token":"device-1","device_type":"Android"}`, token)
	require.Equal(t, http.StatusOK, code)

	code, _, _ = h.do(http.MethodGet, "/api/v1/zerodha/check-status/", "", token)
	assert.Equal(t, http.StatusOK, code)

	// Without history a plan is required.
	code, body, _ = h.do(http.MethodPost, "/api/v1/trades/", buyABC, token)
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.Nil(t, body["trade_url"])

	code, _, _ = h.do(http.MethodPost, "/api/v1/internal/subscription/1/renew",
		`{"amount":999,"transaction_id":"pay-1"}`, "", "X-Internal-Key", "internal-key")
	require.Equal(t, http.StatusOK, code)

	code, body, _ = h.do(http.MethodGet, "/api/v1/subscription/", "", token)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, 999.0, body["premium"])

	// Place the trade and follow the handoff once.
	code, body, raw := h.do(http.MethodPost, "/api/v1/trades/", buyABC, token)
	require.Equal(t, http.StatusCreated, code, raw)
	assert.Nil(t, body["errors"])
	orderID := uint(body["transaction_id"].(float64))
	tradeURL := body["trade_url"].(string)
	require.True(t, strings.HasPrefix(tradeURL, "https://api.example.com/api/v1/zerodha/execute-trade/"))
	handoff := strings.TrimPrefix(tradeURL, "https://api.example.com")

	code, body, _ = h.do(http.MethodGet, "/api/v1/trades/"+strconv.Itoa(int(orderID)), "", token)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Pending", body["trade"].(map[string]any)["status"])

	code, body, _ = h.do(http.MethodGet, handoff, "", "", "Accept", "application/json")
	require.Equal(t, http.StatusOK, code)
	orders := body["json_data"].([]any)
	require.Len(t, orders, 1)
	assert.Equal(t, strconv.Itoa(int(orderID)), orders[0].(map[string]any)["tag"])

	code, _, _ = h.do(http.MethodGet, handoff, "", "")
	assert.Equal(t, http.StatusNotFound, code)

	// Broker confirms the fill, twice.
	postback := `{"tag":"` + strconv.Itoa(int(orderID)) + `","status":"COMPLETE","average_price":105,"quantity":10}`
	for i := 0; i < 2; i++ {
		code, body, _ = h.do(http.MethodPost, "/api/v1/zerodha/post-back/", postback, "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "Done", body["msg"])
	}

	code, body, _ = h.do(http.MethodGet, "/api/v1/trades/"+strconv.Itoa(int(orderID)), "", token)
	require.Equal(t, http.StatusOK, code)
	trade := body["trade"].(map[string]any)
	assert.Equal(t, true, trade["verified"])
	assert.Equal(t, true, trade["executed"])
	assert.Equal(t, "Completed", trade["status"])
	assert.Equal(t, 1050.0, trade["amount"])

	h.fcm.mu.Lock()
	assert.Equal(t, []string{"Purchase Complete!"}, h.fcm.heads)
	h.fcm.mu.Unlock()

	code, body, _ = h.do(http.MethodGet, "/api/v1/notifications/", "", token)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["notifications"], 1)

	// A verified trade keeps trading open after the plan lapses.
	require.NoError(t, h.db.Exec("UPDATE subscriptions SET active = ?", false).Error)
	code, _, raw = h.do(http.MethodPost, "/api/v1/trades/", buyABC, token)
	assert.Equal(t, http.StatusCreated, code, raw)

	// Value the holding at the refreshed quote.
	code, _, _ = h.do(http.MethodPost, "/api/v1/internal/quotes/", `{"trading_symbol":"ABC"}`, "", "X-Internal-Key", "internal-key")
	require.Equal(t, http.StatusCreated, code)
	require.NoError(t, h.app.Quotes.RefreshQuotes(context.Background()))

	code, body, _ = h.do(http.MethodGet, "/api/v1/portfolio/", "", token)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1200.0, body["total_current_value"])
	assert.Equal(t, 1050.0, body["total_purchase_value"])
	assert.Equal(t, 1.0, body["transaction_count"])

	require.NoError(t, h.app.Portfolio.Recompute(context.Background()))
	code, body, _ = h.do(http.MethodGet, "/api/v1/portfolio/insights/", "", token)
	require.Equal(t, http.StatusOK, code)
	insights := body["insights"].([]any)
	require.Len(t, insights, 1)
	assert.Equal(t, 1200.0, insights[0].(map[string]any)["value"])
}

func TestExpiredSessionIsRefreshedOnce(t *testing.T) {
	h := newHarness(t)
	token, uuid := h.login("ravi@example.com")
	h.link(uuid)

	h.kite.expireSession()

	code, _, _ := h.do(http.MethodGet, "/api/v1/zerodha/check-status/", "", token)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, h.kite.refreshes)

	code, body, _ := h.do(http.MethodGet, "/api/v1/zerodha/refresh-funds/", "", token)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 25000.0, body["funds"])
}

func TestRoutesRejectMissingCredentials(t *testing.T) {
	h := newHarness(t)

	code, _, _ := h.do(http.MethodGet, "/api/v1/portfolio/", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _, _ = h.do(http.MethodPost, "/api/v1/internal/quotes/", `{"trading_symbol":"ABC"}`, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _, _ = h.do(http.MethodGet, "/api/v1/zerodha/check-status/", "", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, code)

	// Unknown postbacks are still acknowledged.
	code, body, _ := h.do(http.MethodPost, "/api/v1/zerodha/post-back/", `{"status":"COMPLETE"}`, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "No Tag", body["msg"])
}

func TestBlockedUserIsRejected(t *testing.T) {
	h := newHarness(t)
	token, _ := h.login("blocked@example.com")

	code, _, _ := h.do(http.MethodPut, "/api/v1/internal/users/1/active", `{"active":false}`, "", "X-Internal-Key", "internal-key")
	require.Equal(t, http.StatusOK, code)

	code, body, _ := h.do(http.MethodGet, "/api/v1/portfolio/", "", token)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "User Blocked By Admin", body["errors"])
}
