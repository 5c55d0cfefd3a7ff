package settlement

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/testutil"
	"github.com/ksred/brokerlink-api/internal/types"
)

type notification struct {
	userID           uint
	kind, head, body string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (f *fakeNotifier) NotifyUser(_ context.Context, userID uint, kind, head, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{userID, kind, head, body})
}

type fakeAlerter struct {
	mu       sync.Mutex
	contents []string
}

func (f *fakeAlerter) CreateAdminNotification(_ context.Context, notificationType, title, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contents = append(f.contents, notificationType+"|"+title+"|"+content)
	return nil
}

func setup(t *testing.T) (*Service, *gorm.DB, *fakeNotifier, *fakeAlerter) {
	db := testutil.NewDB(t, &types.Order{}, &PostbackLog{})
	notifier := &fakeNotifier{}
	alerts := &fakeAlerter{}
	return NewService(db, notifier, alerts), db, notifier, alerts
}

func createOrder(t *testing.T, db *gorm.DB, side string, qty int64) *types.Order {
	t.Helper()
	order := &types.Order{
		Token:           uuid.New().String(),
		UserID:          42,
		TradingSymbol:   "ABC",
		Exchange:        "NSE",
		TransactionType: side,
		Quantity:        qty,
		OrderType:       types.OrderTypeMarket,
		Executed:        true,
		Status:          types.StatusPending,
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func reload(t *testing.T, db *gorm.DB, id uint) types.Order {
	t.Helper()
	var order types.Order
	require.NoError(t, db.First(&order, id).Error)
	return order
}

func tagOf(o *types.Order) string {
	return strconv.FormatUint(uint64(o.ID), 10)
}

func TestPostbackWithoutMatchingOrder(t *testing.T) {
	svc, db, notifier, _ := setup(t)
	ctx := context.Background()

	assert.Equal(t, MsgNoTag, svc.HandlePostback(ctx, types.Document{"status": "COMPLETE"}).Msg)
	assert.Equal(t, MsgNoTransaction, svc.HandlePostback(ctx, types.Document{"tag": "999", "status": "COMPLETE"}).Msg)
	assert.Equal(t, MsgNoTransaction, svc.HandlePostback(ctx, types.Document{"tag": "abc"}).Msg)
	assert.Empty(t, notifier.sent)

	var logged int64
	require.NoError(t, db.Model(&PostbackLog{}).Count(&logged).Error)
	assert.Equal(t, int64(3), logged, "every postback is kept for audit")
}

func TestCompletePostbackVerifiesOrder(t *testing.T) {
	svc, db, notifier, alerts := setup(t)
	order := createOrder(t, db, types.SideBuy, 10)

	ack := svc.HandlePostback(context.Background(), types.Document{
		"tag":           tagOf(order),
		"status":        "COMPLETE",
		"average_price": 105.0,
		"quantity":      10.0,
	})
	assert.Equal(t, MsgDone, ack.Msg)

	got := reload(t, db, order.ID)
	assert.True(t, got.Verified)
	assert.Equal(t, types.StatusCompleted, got.Status)
	require.NotNil(t, got.Price)
	require.NotNil(t, got.Amount)
	assert.Equal(t, 105.0, *got.Price)
	assert.Equal(t, 1050.0, *got.Amount)
	assert.Equal(t, "COMPLETE", got.BrokerPostback["status"])

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, notification{
		userID: 42,
		kind:   "Purchase",
		head:   "Purchase Complete!",
		body:   "Your purchase order for ABC was completed successfully!",
	}, notifier.sent[0])
	assert.Equal(t, []string{"TRADE|New trade!|A new trade just took place, ID : ORD" + tagOf(order) + "."}, alerts.contents)
}

func TestCompleteWithoutUsableFillLeavesOrderOpen(t *testing.T) {
	cases := map[string]types.Document{
		"missing price":  {"status": "COMPLETE", "quantity": 10.0},
		"zero price":     {"status": "COMPLETE", "average_price": 0.0, "quantity": 10.0},
		"zero quantity":  {"status": "COMPLETE", "average_price": 105.0, "quantity": 0.0},
		"negative qty":   {"status": "COMPLETE", "average_price": 105.0, "quantity": -3.0},
		"unparsed price": {"status": "COMPLETE", "average_price": "n/a", "quantity": 10.0},
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			svc, db, notifier, alerts := setup(t)
			order := createOrder(t, db, types.SideBuy, 10)
			payload["tag"] = tagOf(order)

			ack := svc.HandlePostback(context.Background(), payload)
			assert.Equal(t, MsgDone, ack.Msg)

			got := reload(t, db, order.ID)
			assert.False(t, got.Verified)
			assert.Equal(t, types.StatusPending, got.Status)
			assert.Nil(t, got.Price)
			assert.Nil(t, got.Amount)
			assert.Equal(t, int64(10), got.Quantity)
			assert.Equal(t, "COMPLETE", got.BrokerPostback["status"], "raw payload is kept")
			assert.Empty(t, notifier.sent)
			assert.Empty(t, alerts.contents)

			// A later valid completion still verifies the order.
			svc.HandlePostback(context.Background(), types.Document{
				"tag": tagOf(order), "status": "COMPLETE", "average_price": 105.0, "quantity": 10.0,
			})
			got = reload(t, db, order.ID)
			assert.True(t, got.Verified)
			require.NotNil(t, got.Amount)
			assert.Equal(t, 1050.0, *got.Amount)
			assert.Len(t, notifier.sent, 1)
		})
	}
}

func TestDuplicateCompleteIsIdempotent(t *testing.T) {
	svc, db, notifier, alerts := setup(t)
	order := createOrder(t, db, types.SideSell, 5)
	payload := types.Document{"tag": tagOf(order), "status": "COMPLETE", "average_price": 100.0, "quantity": 5.0}

	for i := 0; i < 2; i++ {
		assert.Equal(t, MsgDone, svc.HandlePostback(context.Background(), payload).Msg)
		got := reload(t, db, order.ID)
		require.NotNil(t, got.Amount)
		assert.Equal(t, 500.0, *got.Amount)
	}

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "Sale Complete!", notifier.sent[0].head)
	assert.Equal(t, "Your sale order for ABC was completed successfully!", notifier.sent[0].body)
	assert.Len(t, alerts.contents, 1)
}

func TestConcurrentCompletePostbacksNotifyOnce(t *testing.T) {
	svc, db, notifier, _ := setup(t)
	order := createOrder(t, db, types.SideBuy, 2)
	payload := types.Document{"tag": tagOf(order), "status": "COMPLETE", "average_price": 10.5, "quantity": 2.0}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.HandlePostback(context.Background(), payload)
		}()
	}
	wg.Wait()

	assert.Len(t, notifier.sent, 1)
	got := reload(t, db, order.ID)
	require.NotNil(t, got.Amount)
	assert.Equal(t, 21.0, *got.Amount)
}

func TestNonCompleteStatus(t *testing.T) {
	cases := map[string]string{
		"CANCELLED":       "Cancelled",
		"REJECTED":        "Rejected",
		"TRIGGER PENDING": "Trigger Pending",
		"":                "Cancelled",
	}

	for brokerStatus, want := range cases {
		t.Run(want, func(t *testing.T) {
			svc, db, notifier, _ := setup(t)
			order := createOrder(t, db, types.SideBuy, 3)

			payload := types.Document{"tag": tagOf(order)}
			if brokerStatus != "" {
				payload["status"] = brokerStatus
			}
			assert.Equal(t, MsgDone, svc.HandlePostback(context.Background(), payload).Msg)

			got := reload(t, db, order.ID)
			assert.Equal(t, want, got.Status)
			assert.False(t, got.Verified)
			assert.Nil(t, got.Amount)
			assert.Nil(t, got.Price)
			assert.Equal(t, int64(3), got.Quantity)
			assert.NotNil(t, got.BrokerPostback)
			assert.Empty(t, notifier.sent)
		})
	}
}

func TestStatusNeverDowngradesVerifiedOrder(t *testing.T) {
	svc, db, _, _ := setup(t)
	order := createOrder(t, db, types.SideBuy, 1)
	ctx := context.Background()

	svc.HandlePostback(ctx, types.Document{"tag": tagOf(order), "status": "COMPLETE", "average_price": 50.0, "quantity": 1.0})
	svc.HandlePostback(ctx, types.Document{"tag": tagOf(order), "status": "CANCELLED"})

	got := reload(t, db, order.ID)
	assert.True(t, got.Verified)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, "COMPLETE", got.BrokerPostback["status"])
}

func TestPostbackHandler(t *testing.T) {
	svc, db, _, _ := setup(t)
	order := createOrder(t, db, types.SideBuy, 4)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/v1/zerodha/post-back/", NewGinHandlers(svc).PostbackHandler())

	cases := []struct {
		body string
		want string
	}{
		{body: `not json`, want: `{"msg":"No Tag"}`},
		{body: `{"status":"COMPLETE"}`, want: `{"msg":"No Tag"}`},
		{body: `{"tag":"0"}`, want: `{"msg":"No Transaction Obj"}`},
		{
			body: `{"tag":"` + tagOf(order) + `","status":"COMPLETE","average_price":12.25,"quantity":4,"order_id":"2407"}`,
			want: `{"msg":"Done"}`,
		},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/zerodha/post-back/", strings.NewReader(tc.body)))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, tc.want, w.Body.String())
	}

	got := reload(t, db, order.ID)
	require.NotNil(t, got.Amount)
	assert.Equal(t, 49.0, *got.Amount)
}
