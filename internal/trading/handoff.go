package trading

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ksred/brokerlink-api/internal/types"
	"github.com/ksred/brokerlink-api/pkg/response"
)

// Execute consumes the handoff token and returns the basket descriptor the
// broker widget needs to place the order. A token works once.
func (s *Service) Execute(ctx context.Context, token string) (*types.ExecutionPayload, error) {
	if _, err := uuid.Parse(token); err != nil {
		return nil, ErrHandoffNotFound
	}

	order, err := s.db.ClaimHandoff(ctx, token)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrHandoffNotFound
	}

	log.Info().
		Uint("order_id", order.ID).
		Str("service", "trading").
		Msg("execution handoff consumed")

	return &types.ExecutionPayload{
		APIKey:    s.apiKey,
		BasketURL: s.basketURL,
		Orders: []types.BasketOrder{{
			Variety:         "regular",
			TradingSymbol:   order.TradingSymbol,
			Exchange:        order.Exchange,
			TransactionType: strings.ToUpper(order.TransactionType),
			OrderType:       types.OrderTypeMarket,
			Quantity:        order.Quantity,
			Readonly:        true,
			Tag:             strconv.FormatUint(uint64(order.ID), 10),
		}},
	}, nil
}

var executePage = template.Must(template.New("execute-trade").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Placing order</title></head>
<body onload="document.getElementById('basket-form').submit()">
<form id="basket-form" method="post" action="{{.BasketURL}}">
<input type="hidden" name="api_key" value="{{.APIKey}}">
<input type="hidden" name="data" value="{{.Data}}">
<noscript><button type="submit">Continue to Kite</button></noscript>
</form>
</body>
</html>`))

type executeView struct {
	APIKey    string
	BasketURL string
	Data      string
}

// ExecuteTradeHandler is the public single-use URL returned by trade
// placement. Browsers get an auto-submitting form; JSON clients get the
// descriptor itself.
// URL parameter: token
func (h *GinHandlers) ExecuteTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		wantsJSON := c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) == gin.MIMEJSON

		payload, err := h.service.Execute(c.Request.Context(), c.Param("token"))
		if errors.Is(err, ErrHandoffNotFound) {
			if wantsJSON {
				response.NotFound(c, err.Error())
			} else {
				c.String(http.StatusNotFound, err.Error())
			}
			return
		}
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		if wantsJSON {
			response.JSON(c, http.StatusOK, gin.H{
				"api_key":    payload.APIKey,
				"basket_url": payload.BasketURL,
				"json_data":  payload.Orders,
			})
			return
		}

		data, err := json.Marshal(payload.Orders)
		if err != nil {
			response.InternalError(c, "An unexpected error occurred")
			return
		}
		c.Render(http.StatusOK, render.HTML{
			Template: executePage,
			Data: executeView{
				APIKey:    payload.APIKey,
				BasketURL: payload.BasketURL,
				Data:      string(data),
			},
		})
	}
}
