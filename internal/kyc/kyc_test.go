package kyc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/brokerlink-api/internal/broker"
	"github.com/ksred/brokerlink-api/internal/config"
	"github.com/ksred/brokerlink-api/internal/testutil"
	"github.com/ksred/brokerlink-api/internal/types"
)

type fakeBroker struct {
	mu        sync.Mutex
	valid     map[string]bool
	cash      float64
	renewErr  error
	renewals  int
	marginErr error
}

func newFakeBroker(valid ...string) *fakeBroker {
	b := &fakeBroker{valid: map[string]bool{}, cash: 5000}
	for _, v := range valid {
		b.valid[v] = true
	}
	return b
}

func (b *fakeBroker) Margins(_ context.Context, accessToken string) (*broker.Margins, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.marginErr != nil {
		return nil, b.marginErr
	}
	if !b.valid[accessToken] {
		return nil, broker.ErrSessionExpired
	}
	m := &broker.Margins{}
	m.Equity.Available.Cash = b.cash
	return m, nil
}

func (b *fakeBroker) RenewAccessToken(_ context.Context, refreshToken string) (*broker.SessionTokens, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.renewErr != nil {
		return nil, b.renewErr
	}
	b.renewals++
	access := fmt.Sprintf("renewed-%d", b.renewals)
	b.valid[access] = true
	return &broker.SessionTokens{AccessToken: access, RefreshToken: refreshToken}, nil
}

func (b *fakeBroker) GenerateSession(requestToken string) (*broker.Session, error) {
	if requestToken == "bad" {
		return nil, broker.ErrBrokerRejected
	}
	access := "access-" + requestToken
	b.mu.Lock()
	b.valid[access] = true
	b.mu.Unlock()
	return &broker.Session{
		BrokerUserID: "ZX0001",
		UserName:     "Asha Rao",
		Broker:       "ZERODHA",
		APIKey:       "kite-key",
		AccessToken:  access,
		RefreshToken: "refresh-" + requestToken,
		Raw:          map[string]any{"user_id": "ZX0001"},
	}, nil
}

func (b *fakeBroker) LoginURL(redirectParams string) string {
	return "https://kite.example.com/connect/login?redirect_params=" + redirectParams
}

func newTestService(t *testing.T, b Broker) *Service {
	db := testutil.NewDB(t, &types.User{}, &types.BrokerCredential{})
	return NewService(db, b, config.Broker{Timeout: time.Second})
}

func seedUser(t *testing.T, svc *Service, uuid string) *types.User {
	user := &types.User{UUID: uuid, Email: uuid + "@example.com", PasswordHash: "x", IsActive: true}
	require.NoError(t, svc.db.db.Create(user).Error)
	return user
}

func seedCredential(t *testing.T, svc *Service, userID uint, access string) {
	cred := &types.BrokerCredential{
		UserID:       userID,
		AccessToken:  access,
		RefreshToken: "refresh-1",
		LoginTime:    time.Now(),
	}
	require.NoError(t, svc.db.ReplaceCredential(context.Background(), cred))
}

func TestIsLinkedAndFresh(t *testing.T) {
	ctx := context.Background()

	t.Run("no credential", func(t *testing.T) {
		b := newFakeBroker()
		svc := newTestService(t, b)
		assert.False(t, svc.IsLinkedAndFresh(ctx, 1))
		assert.Zero(t, b.renewals)
	})

	t.Run("accepted session", func(t *testing.T) {
		b := newFakeBroker("access-1")
		svc := newTestService(t, b)
		seedCredential(t, svc, 1, "access-1")

		assert.True(t, svc.IsLinkedAndFresh(ctx, 1))
		assert.Zero(t, b.renewals)
	})

	t.Run("rejected session is refreshed once", func(t *testing.T) {
		b := newFakeBroker()
		svc := newTestService(t, b)
		seedCredential(t, svc, 1, "stale")

		assert.True(t, svc.IsLinkedAndFresh(ctx, 1))
		assert.Equal(t, 1, b.renewals)

		cred, err := svc.GetCredential(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "renewed-1", cred.AccessToken)
		assert.Equal(t, "refresh-1", cred.RefreshToken)

		// The renewed token is accepted without another refresh.
		assert.True(t, svc.IsLinkedAndFresh(ctx, 1))
		assert.Equal(t, 1, b.renewals)
	})

	t.Run("failed refresh leaves tokens untouched", func(t *testing.T) {
		b := newFakeBroker()
		b.renewErr = broker.ErrBrokerRejected
		svc := newTestService(t, b)
		seedCredential(t, svc, 1, "stale")

		assert.False(t, svc.IsLinkedAndFresh(ctx, 1))

		cred, err := svc.GetCredential(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "stale", cred.AccessToken)
		assert.Equal(t, "refresh-1", cred.RefreshToken)
	})

	t.Run("broker outage fails closed", func(t *testing.T) {
		b := newFakeBroker("access-1")
		b.marginErr = context.DeadlineExceeded
		b.renewErr = context.DeadlineExceeded
		svc := newTestService(t, b)
		seedCredential(t, svc, 1, "access-1")

		assert.False(t, svc.IsLinkedAndFresh(ctx, 1))
	})
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	b := newFakeBroker()
	svc := newTestService(t, b)

	cred := &types.BrokerCredential{UserID: 1, AccessToken: "stale"}
	require.NoError(t, svc.db.ReplaceCredential(context.Background(), cred))

	assert.False(t, svc.Refresh(context.Background(), cred))
	assert.Zero(t, b.renewals)
}

func TestConcurrentRefreshRotatesOnce(t *testing.T) {
	b := newFakeBroker()
	svc := newTestService(t, b)
	ctx := context.Background()
	seedCredential(t, svc, 1, "stale")

	stored, err := svc.GetCredential(ctx, 1)
	require.NoError(t, err)

	const callers = 4
	var wg sync.WaitGroup
	results := make([]bool, callers)
	tokens := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred := *stored
			results[i] = svc.Refresh(ctx, &cred)
			tokens[i] = cred.AccessToken
		}(i)
	}
	wg.Wait()

	current, err := svc.GetCredential(ctx, 1)
	require.NoError(t, err)
	for i := 0; i < callers; i++ {
		assert.True(t, results[i])
		assert.Equal(t, current.AccessToken, tokens[i], "every caller ends up on the stored session")
	}
	assert.NotEqual(t, "stale", current.AccessToken)
}

func TestCompleteLink(t *testing.T) {
	ctx := context.Background()
	b := newFakeBroker()
	svc := newTestService(t, b)
	user := seedUser(t, svc, "0b7e6a56-1111-4c1e-9d55-3f1f1b2a0001")

	ok := LinkCallback{Action: "login", Type: "login", Status: "success", RequestToken: "req-1", UUID: user.UUID}

	cases := []struct {
		name string
		cb   LinkCallback
		want LinkResult
	}{
		{"basket return", LinkCallback{Action: "basket", Status: "success"}, LinkResult{Success: true, Message: msgBasketDone}},
		{"missing uuid", LinkCallback{Action: "login", Type: "login", Status: "success", RequestToken: "r"}, failedLink()},
		{"cancelled", LinkCallback{Action: "login", Type: "login", Status: "cancelled", UUID: user.UUID}, failedLink()},
		{"missing request token", LinkCallback{Action: "login", Type: "login", Status: "success", UUID: user.UUID}, failedLink()},
		{"unknown user", LinkCallback{Action: "login", Type: "login", Status: "success", RequestToken: "r", UUID: "nobody"}, failedLink()},
		{"session exchange rejected", LinkCallback{Action: "login", Type: "login", Status: "success", RequestToken: "bad", UUID: user.UUID}, failedLink()},
		{"linked", ok, LinkResult{Success: true, Message: msgLinked}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, svc.CompleteLink(ctx, tc.cb))
		})
	}

	cred, err := svc.GetCredential(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "access-req-1", cred.AccessToken)
	assert.Equal(t, 5000.0, cred.Funds)
	assert.Equal(t, "ZX0001", cred.Meta["user_id"])

	// Relinking replaces the credential instead of adding a second one.
	ok.RequestToken = "req-2"
	assert.True(t, svc.CompleteLink(ctx, ok).Success)

	var count int64
	require.NoError(t, svc.db.db.Model(&types.BrokerCredential{}).Where("user_id = ?", user.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	cred, err = svc.GetCredential(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "access-req-2", cred.AccessToken)
}

func TestRefreshFunds(t *testing.T) {
	ctx := context.Background()
	b := newFakeBroker("access-1")
	svc := newTestService(t, b)

	_, err := svc.RefreshFunds(ctx, 1)
	assert.ErrorIs(t, err, ErrKYCRequired)

	seedCredential(t, svc, 1, "access-1")
	b.cash = 1234.5
	cash, err := svc.RefreshFunds(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1234.5, cash)

	cred, err := svc.GetCredential(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1234.5, cred.Funds)

	b.mu.Lock()
	b.valid = map[string]bool{}
	b.mu.Unlock()
	_, err = svc.RefreshFunds(ctx, 1)
	assert.True(t, errors.Is(err, ErrKYCRequired))
}

func TestRedirectHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t, newFakeBroker())
	user := seedUser(t, svc, "0b7e6a56-1111-4c1e-9d55-3f1f1b2a0002")

	router := gin.New()
	router.GET("/redirect/", NewGinHandlers(svc).RedirectHandler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/redirect/?action=login&type=login&status=success&request_token=abc&uuid="+user.UUID, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<h2>Success</h2>")
	assert.Contains(t, w.Body.String(), "KYC linked successfully")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/redirect/?status=cancelled&uuid="+user.UUID, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<h2>Failure</h2>")
}
