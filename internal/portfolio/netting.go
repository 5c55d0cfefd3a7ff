package portfolio

import (
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/brokerlink-api/internal/types"
)

// NetPositions replays verified orders per symbol. Buys add their quantity
// and amount, sells subtract them; symbols that net to zero are dropped.
func NetPositions(orders []types.Order) []Position {
	bySymbol := make(map[string]*Position)

	for _, o := range orders {
		if !o.Verified {
			continue
		}

		pos, ok := bySymbol[o.TradingSymbol]
		if !ok {
			pos = &Position{TradingSymbol: o.TradingSymbol, Exchange: o.Exchange}
			bySymbol[o.TradingSymbol] = pos
		}

		amount := decimal.Zero
		if o.Amount != nil {
			amount = decimal.NewFromFloat(*o.Amount)
		}

		pos.Orders = append(pos.Orders, o.ID)
		if o.IsBuy() {
			pos.Quantity += o.Quantity
			pos.Cost = pos.Cost.Add(amount)
		} else {
			pos.Quantity -= o.Quantity
			pos.Cost = pos.Cost.Sub(amount)
		}

		log.Debug().
			Uint("order_id", o.ID).
			Str("symbol", o.TradingSymbol).
			Str("side", o.TransactionType).
			Int64("net_quantity", pos.Quantity).
			Str("net_cost", pos.Cost.String()).
			Msg("netted order into position")
	}

	positions := make([]Position, 0, len(bySymbol))
	for _, pos := range bySymbol {
		if pos.Quantity == 0 {
			continue
		}
		positions = append(positions, *pos)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].TradingSymbol < positions[j].TradingSymbol
	})
	return positions
}
