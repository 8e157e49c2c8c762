package exchange

import (
	"errors"
	"testing"
)

func TestDepthUpdateValidate(t *testing.T) {
	valid := func() *DepthUpdate {
		return &DepthUpdate{
			Exchange:      Binance,
			Symbol:        "BTCUSDT",
			FirstUpdateID: 157,
			FinalUpdateID: 160,
			Bids:          []PriceLevel{{Price: "0.0024", Quantity: "10"}},
			Asks:          []PriceLevel{{Price: "0.0026", Quantity: "0"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(u *DepthUpdate)
		wantErr bool
	}{
		{"Valid update", func(u *DepthUpdate) {}, false},
		{"Single id range", func(u *DepthUpdate) { u.FirstUpdateID = 160 }, false},
		{"Missing symbol", func(u *DepthUpdate) { u.Symbol = "" }, true},
		{"Zero first id", func(u *DepthUpdate) { u.FirstUpdateID = 0 }, true},
		{"Inverted range", func(u *DepthUpdate) { u.FinalUpdateID = 150 }, true},
		{"Bad price", func(u *DepthUpdate) { u.Bids[0].Price = "abc" }, true},
		{"Bad quantity", func(u *DepthUpdate) { u.Asks[0].Quantity = "" }, true},
		{"Negative quantity", func(u *DepthUpdate) { u.Bids[0].Quantity = "-1" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := valid()
			tt.mutate(u)
			err := u.Validate()
			if tt.wantErr && !errors.Is(err, ErrMalformedMessage) {
				t.Errorf("Expected ErrMalformedMessage, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestLevelsFromPairs(t *testing.T) {
	levels := LevelsFromPairs([][]string{{"100.00", "1.5"}, {"101.00"}, {"102.00", "0", "extra"}})

	if len(levels) != 2 {
		t.Fatalf("Expected 2 levels, got %d", len(levels))
	}
	if levels[0].Price != "100.00" || levels[0].Quantity != "1.5" {
		t.Errorf("Unexpected first level: %+v", levels[0])
	}
	if levels[1].Price != "102.00" || levels[1].Quantity != "0" {
		t.Errorf("Unexpected second level: %+v", levels[1])
	}
}
