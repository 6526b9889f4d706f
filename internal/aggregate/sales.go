// Package aggregate collapses the irregular per-transaction sales feed
// into one summary row per (SKU, calendar day). It runs after outlier
// filtering: aggregating first would let a single extreme sale distort
// a day's mean before it could be identified.
package aggregate

import (
	"context"
	"log/slog"
	"sort"

	"github.com/samber/lo"

	"cardpulse/internal/stats"
	"cardpulse/internal/temporal"
	"cardpulse/pkg/contracts/domain"
)

// Aggregator builds daily sales summaries.
type Aggregator struct {
	logger *slog.Logger
	norm   *temporal.Normalizer
}

// NewAggregator creates an aggregator. A nil logger falls back to
// slog.Default().
func NewAggregator(logger *slog.Logger, norm *temporal.Normalizer) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{logger: logger, norm: norm}
}

// Aggregate groups events by (SKU, day) and computes the per-day
// summary statistics. Output is ordered by SKU then day. Inputs are
// never mutated.
func (a *Aggregator) Aggregate(ctx context.Context, events []domain.SaleEvent) []domain.SalesAggregate {
	if len(events) == 0 {
		return nil
	}

	groups := lo.GroupBy(events, func(ev domain.SaleEvent) string {
		return ev.CardSKUID + "|" + a.norm.DayKey(ev.OrderedAt)
	})

	aggregates := make([]domain.SalesAggregate, 0, len(groups))
	for _, group := range groups {
		aggregates = append(aggregates, a.summarize(group))
	}

	sort.Slice(aggregates, func(i, j int) bool {
		if aggregates[i].CardSKUID != aggregates[j].CardSKUID {
			return aggregates[i].CardSKUID < aggregates[j].CardSKUID
		}
		return aggregates[i].Day < aggregates[j].Day
	})

	a.logger.InfoContext(ctx, "aggregated sales history to daily records",
		slog.Int("event_count", len(events)),
		slog.Int("daily_record_count", len(aggregates)))

	return aggregates
}

func (a *Aggregator) summarize(group []domain.SaleEvent) domain.SalesAggregate {
	first := group[0]
	agg := domain.SalesAggregate{
		CardSKUID: first.CardSKUID,
		Day:       a.norm.DayKey(first.OrderedAt),
		Count:     len(group),
	}

	prices := make([]float64, 0, len(group))
	var salesValue float64
	for _, ev := range group {
		p := ev.Price.Dollars()
		prices = append(prices, p)
		agg.Quantity += ev.Quantity
		salesValue += p * float64(ev.Quantity)
	}

	sorted := make([]float64, len(prices))
	copy(sorted, prices)
	sort.Float64s(sorted)

	agg.PriceMean = stats.Mean(prices)
	agg.PriceMedian = stats.QuantileSorted(sorted, 0.5)
	agg.PriceMin = sorted[0]
	agg.PriceMax = sorted[len(sorted)-1]
	agg.Price25th = stats.QuantileSorted(sorted, 0.25)
	agg.Price75th = stats.QuantileSorted(sorted, 0.75)
	agg.PriceStd = stats.SampleStd(prices)

	// Quantity-weighted average is undefined for zero total quantity.
	if agg.Quantity > 0 {
		w := salesValue / float64(agg.Quantity)
		agg.PriceWeightedAvg = &w
	}

	return agg
}
