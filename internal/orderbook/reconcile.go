package orderbook

import (
	"sort"

	"depthsync/internal/exchange"
	"depthsync/internal/types"

	"github.com/shopspring/decimal"
)

// DefaultMaxLevels is the visible depth used when none is configured
const DefaultMaxLevels = 10

// ReconcileState is the mutable book of one synchronized session. It is owned
// by the engine; the functions in this package never retain it.
type ReconcileState struct {
	Bids         types.PriceLevelMap
	Asks         types.PriceLevelMap
	LastUpdateID int64
}

// NewReconcileState returns an empty book with LastUpdateID 0
func NewReconcileState() *ReconcileState {
	return &ReconcileState{
		Bids: make(types.PriceLevelMap),
		Asks: make(types.PriceLevelMap),
	}
}

// ApplyDelta merges updates into levels. A zero quantity removes the level and
// an unchanged quantity is skipped. It reports whether any level was added,
// removed or changed. Unparseable pairs are ignored.
func ApplyDelta(levels types.PriceLevelMap, updates []exchange.PriceLevel) bool {
	changed := false

	for _, update := range updates {
		qty, err := decimal.NewFromString(update.Quantity)
		if err != nil {
			continue
		}

		current, exists := levels[update.Price]
		if exists && current.Quantity.Equal(qty) {
			continue
		}

		if qty.IsZero() {
			if exists {
				delete(levels, update.Price)
				changed = true
			}
			continue
		}

		price, err := decimal.NewFromString(update.Price)
		if err != nil {
			continue
		}
		levels[update.Price] = types.PriceLevel{Price: price, Quantity: qty}
		changed = true
	}

	return changed
}

// MapToSortedArray converts levels into the visible side of the book: positive
// quantities only, sorted by price (ascending for asks, descending for bids),
// truncated to maxLevels and then cumulated. maxLevels <= 0 means DefaultMaxLevels.
func MapToSortedArray(levels types.PriceLevelMap, ascending bool, maxLevels int) []types.OrderLevel {
	if maxLevels <= 0 {
		maxLevels = DefaultMaxLevels
	}

	entries := make([]types.OrderLevel, 0, len(levels))
	for _, level := range levels {
		if !level.Quantity.IsPositive() {
			continue
		}
		entries = append(entries, types.OrderLevel{Price: level.Price, Quantity: level.Quantity})
	}

	sort.Slice(entries, func(i, j int) bool {
		if ascending {
			return entries[i].Price.LessThan(entries[j].Price)
		}
		return entries[i].Price.GreaterThan(entries[j].Price)
	})

	if len(entries) > maxLevels {
		entries = entries[:maxLevels]
	}

	cumulative := decimal.Zero
	for i := range entries {
		cumulative = cumulative.Add(entries[i].Quantity)
		entries[i].Total = cumulative
	}

	return entries
}

// InitializeFromSnapshot builds both sides from raw snapshot pairs, dropping
// non-positive and unparseable entries.
func InitializeFromSnapshot(bids, asks []exchange.PriceLevel) (types.PriceLevelMap, types.PriceLevelMap) {
	return levelsFromSnapshot(bids), levelsFromSnapshot(asks)
}

func levelsFromSnapshot(pairs []exchange.PriceLevel) types.PriceLevelMap {
	levels := make(types.PriceLevelMap, len(pairs))
	for _, pair := range pairs {
		qty, err := decimal.NewFromString(pair.Quantity)
		if err != nil || !qty.IsPositive() {
			continue
		}
		price, err := decimal.NewFromString(pair.Price)
		if err != nil {
			continue
		}
		levels[pair.Price] = types.PriceLevel{Price: price, Quantity: qty}
	}
	return levels
}

// ShouldApplyDelta reports whether a delta ending at finalID is newer than the book
func ShouldApplyDelta(finalID, lastUpdateID int64) bool {
	return finalID > lastUpdateID
}

// IsValidFirstDelta reports whether the first delta after a snapshot brackets
// the snapshot's next update id: firstID <= snapshotID+1 <= finalID.
func IsValidFirstDelta(firstID, finalID, snapshotID int64) bool {
	return firstID <= snapshotID+1 && finalID >= snapshotID+1
}
