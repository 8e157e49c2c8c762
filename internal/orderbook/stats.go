package orderbook

import (
	"depthsync/internal/types"

	"github.com/shopspring/decimal"
)

var (
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
)

// ComputeStats derives the book statistics from the full state and the
// visible sides. state may be nil before the first snapshot.
func ComputeStats(state *ReconcileState, bids, asks []types.OrderLevel) types.Stats {
	var stats types.Stats

	if len(bids) > 0 {
		stats.BestBid = bids[0].Price
		stats.MaxTotal = bids[len(bids)-1].Total
	}
	if len(asks) > 0 {
		stats.BestAsk = asks[0].Price
		if total := asks[len(asks)-1].Total; total.GreaterThan(stats.MaxTotal) {
			stats.MaxTotal = total
		}
	}

	if !stats.BestBid.IsZero() && !stats.BestAsk.IsZero() {
		stats.MidPrice = stats.BestBid.Add(stats.BestAsk).Div(two)
		stats.Spread = stats.BestAsk.Sub(stats.BestBid)
	}
	if stats.BestBid.IsPositive() {
		stats.SpreadPercent = stats.Spread.Div(stats.BestBid).Mul(hundred).Round(2)
	}

	if state == nil {
		return stats
	}

	stats.BidLevels = len(state.Bids)
	stats.AskLevels = len(state.Asks)
	stats.TotalBidsQty = sumQuantity(state.Bids)
	stats.TotalAsksQty = sumQuantity(state.Asks)
	stats.TotalDelta = stats.TotalBidsQty.Sub(stats.TotalAsksQty)

	return stats
}

func sumQuantity(levels types.PriceLevelMap) decimal.Decimal {
	total := decimal.Zero
	for _, level := range levels {
		total = total.Add(level.Quantity)
	}
	return total
}
