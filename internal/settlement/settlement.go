// Package settlement reconciles broker postbacks into the order ledger.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/notify"
	"github.com/ksred/brokerlink-api/internal/types"
)

type Notifier interface {
	NotifyUser(ctx context.Context, userID uint, kind, head, body string)
}

type AdminAlerter interface {
	CreateAdminNotification(ctx context.Context, notificationType, title, content string) error
}

type Service struct {
	db       *Database
	notifier Notifier
	alerts   AdminAlerter
}

func NewService(gormDB *gorm.DB, notifier Notifier, alerts AdminAlerter) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		notifier: notifier,
		alerts:   alerts,
	}
}

// HandlePostback applies one broker postback. It never fails: problems are
// logged and reported in the ack so the broker does not retry.
func (s *Service) HandlePostback(ctx context.Context, payload types.Document) Ack {
	tag, _ := payload.String("tag")
	status, _ := payload.String("status")

	logger := log.With().
		Str("tag", tag).
		Str("broker_status", status).
		Str("service", "settlement").
		Logger()

	if err := s.db.LogPostback(ctx, &PostbackLog{Tag: tag, Status: status, Payload: payload}); err != nil {
		logger.Error().Err(err).Msg("failed to log postback")
	}

	if tag == "" {
		logger.Warn().Msg("postback without tag")
		return Ack{Msg: MsgNoTag}
	}

	orderID, err := strconv.ParseUint(strings.TrimSpace(tag), 10, 64)
	if err != nil || orderID == 0 {
		logger.Warn().Msg("postback tag is not an order id")
		return Ack{Msg: MsgNoTransaction}
	}
	order, err := s.db.GetOrder(ctx, uint(orderID))
	if err != nil {
		logger.Error().Err(err).Msg("failed to load order")
		return Ack{Msg: MsgNoTransaction}
	}
	if order == nil {
		logger.Warn().Msg("postback for unknown order")
		return Ack{Msg: MsgNoTransaction}
	}

	if status == brokerStatusComplete {
		s.complete(ctx, order, payload)
	} else {
		s.applyStatus(ctx, order, status, payload)
	}
	return Ack{Msg: MsgDone}
}

// complete verifies the order from a COMPLETE postback. A fill without a
// price or with a non-positive quantity is stored for audit but leaves the
// order unverified.
func (s *Service) complete(ctx context.Context, order *types.Order, payload types.Document) {
	logger := log.With().
		Uint("order_id", order.ID).
		Str("service", "settlement").
		Logger()

	f := fill{quantity: order.Quantity, payload: payload}
	if qty, ok := payload.Float("quantity"); ok {
		f.quantity = decimal.NewFromFloat(qty).IntPart()
	}
	price, ok := payload.Float("average_price")
	if !ok || price <= 0 || f.quantity <= 0 {
		logger.Error().
			Bool("has_price", ok).
			Float64("average_price", price).
			Int64("quantity", f.quantity).
			Msg("completion postback without a usable fill")
		if err := s.db.StorePayload(ctx, order.ID, payload); err != nil {
			logger.Error().Err(err).Msg("failed to store postback payload")
		}
		return
	}

	p := decimal.NewFromFloat(price)
	amount := p.Mul(decimal.NewFromInt(f.quantity)).Round(2).InexactFloat64()
	priceF := p.InexactFloat64()
	f.price = &priceF
	f.amount = &amount

	transitioned, err := s.db.ApplyFill(ctx, order.ID, f)
	if err != nil {
		log.Error().
			Err(err).
			Uint("order_id", order.ID).
			Str("service", "settlement").
			Msg("failed to apply fill")
		return
	}
	if !transitioned {
		log.Info().
			Uint("order_id", order.ID).
			Str("service", "settlement").
			Msg("duplicate completion postback")
		return
	}

	log.Info().
		Uint("order_id", order.ID).
		Int64("quantity", f.quantity).
		Str("service", "settlement").
		Msg("order verified")

	if err := s.alerts.CreateAdminNotification(ctx, notify.AdminTypeTrade, "New trade!",
		fmt.Sprintf("A new trade just took place, ID : ORD%d.", order.ID)); err != nil {
		log.Error().Err(err).Uint("order_id", order.ID).Msg("failed to create admin alert")
	}

	kind := "Sale"
	if order.IsBuy() {
		kind = "Purchase"
	}
	head := kind + " Complete!"
	body := fmt.Sprintf("Your %s order for %s was completed successfully!", strings.ToLower(kind), order.TradingSymbol)
	s.notifier.NotifyUser(ctx, order.UserID, kind, head, body)
}

func (s *Service) applyStatus(ctx context.Context, order *types.Order, status string, payload types.Document) {
	if status == "" {
		status = types.StatusCancelled
	}
	status = cases.Title(language.Und).String(status)

	updated, err := s.db.ApplyStatus(ctx, order.ID, status, payload)
	if err != nil {
		log.Error().
			Err(err).
			Uint("order_id", order.ID).
			Str("service", "settlement").
			Msg("failed to update order status")
		return
	}
	if !updated {
		log.Warn().
			Uint("order_id", order.ID).
			Str("status", status).
			Str("service", "settlement").
			Msg("ignoring status for verified order")
	}
}

// GinHandlers contains the broker-facing postback endpoint
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// PostbackHandler always answers 200 so the broker does not retry.
func (h *GinHandlers) PostbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			log.Error().Err(err).Str("service", "settlement").Msg("failed to read postback body")
			c.JSON(http.StatusOK, Ack{Msg: MsgNoTag})
			return
		}

		var payload types.Document
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			log.Warn().Err(err).Str("service", "settlement").Msg("postback body is not a JSON object")
			c.JSON(http.StatusOK, Ack{Msg: MsgNoTag})
			return
		}

		c.JSON(http.StatusOK, h.service.HandlePostback(c.Request.Context(), payload))
	}
}
