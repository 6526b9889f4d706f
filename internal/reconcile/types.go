package reconcile

import (
	"fmt"
	"runtime"

	"cardpulse/internal/errors"
	"cardpulse/pkg/contracts/domain"
)

// FillStrategy selects how price-field gaps along the day axis are
// closed. Listing and sales fields are never gap-filled; they zero-fill
// on absence regardless of strategy.
type FillStrategy string

const (
	// FillForwardBackward carries the last known value forward, then
	// closes any leading gap from the next known value.
	FillForwardBackward FillStrategy = "forward_backward"
	// FillForward carries forward only; days before the first
	// observation stay null.
	FillForward FillStrategy = "forward"
)

// ParseFillStrategy validates a configured strategy name.
func ParseFillStrategy(s string) (FillStrategy, error) {
	switch FillStrategy(s) {
	case FillForwardBackward, FillForward:
		return FillStrategy(s), nil
	default:
		return "", errors.New(errors.CodeConfig, fmt.Sprintf("unknown fill strategy %q", s))
	}
}

// Options configures the merge engine thresholds and capacity limits.
type Options struct {
	// LowInventoryThreshold marks rows whose direct inventory count is
	// at or below this value. Nil means the default; zero is a legal
	// explicit threshold and is honored as-is.
	LowInventoryThreshold *int64
	// ExtremeOutlierMultiplier flags rows whose max sale price exceeds
	// this multiple of the direct-low price.
	ExtremeOutlierMultiplier float64
	// FillStrategy closes gaps in the price-field day series.
	FillStrategy FillStrategy
	// Workers bounds the per-SKU fan-out.
	Workers int
	// RowBudget caps the SKU x day grid size; exceeding it is a
	// capacity error, never a silent truncation.
	RowBudget int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	threshold := int64(5)
	return Options{
		LowInventoryThreshold:    &threshold,
		ExtremeOutlierMultiplier: 100,
		FillStrategy:             FillForwardBackward,
		Workers:                  runtime.GOMAXPROCS(0),
		RowBudget:                5_000_000,
	}
}

// Inputs are the four source tables consumed by one reconciliation run.
// Sales must already be outlier-filtered and aggregated to daily rows.
type Inputs struct {
	Prices     []domain.MarketPriceSnapshot
	Listings   []domain.ListingSnapshot
	Sales      []domain.SalesAggregate
	Attributes []domain.CardAttributes
}

// Stats are the per-run merge counters surfaced to diagnostics.
type Stats struct {
	SKUCount            int `json:"sku_count"`
	DayCount            int `json:"day_count"`
	GridRows            int `json:"grid_rows"`
	OutputRows          int `json:"output_rows"`
	DroppedSKUCount     int `json:"dropped_sku_count"`
	MissingDayCount     int `json:"missing_day_count"`
	LowInventoryCount   int `json:"low_inventory_count"`
	ExtremeOutlierCount int `json:"extreme_outlier_count"`
	OutOfStockCount     int `json:"out_of_stock_count"`
}

// Result is the terminal output of the merge engine.
type Result struct {
	Rows        []domain.ReconciledRow
	DroppedSKUs []string
	Stats       Stats
}
