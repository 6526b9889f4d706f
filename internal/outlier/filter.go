// Package outlier removes statistically implausible sale prices before
// aggregation so a single bad transaction cannot distort a day's
// summary. Filtering is always per card SKU: price levels differ by
// orders of magnitude between SKUs, so global bounds are meaningless.
package outlier

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/samber/lo"

	"cardpulse/internal/errors"
	"cardpulse/internal/stats"
	"cardpulse/pkg/contracts/domain"
)

// Method selects the per-group outlier detection strategy.
type Method string

const (
	// MethodZScore keeps |x - mean| / std <= ZThreshold.
	MethodZScore Method = "zscore"
	// MethodIQR keeps [Q1 - 1.5*IQR, Q3 + 1.5*IQR].
	MethodIQR Method = "iqr"
	// MethodAsymmetricIQR keeps [Q1 - low*IQR, Q3 + high*IQR]. Biased to
	// retain genuine high-price spikes while dropping low-side errors.
	MethodAsymmetricIQR Method = "asymmetric_iqr"
	// MethodPercentile keeps [quantile(lower), quantile(upper)].
	MethodPercentile Method = "percentile"
)

// ParseMethod validates a configured method name.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodZScore, MethodIQR, MethodAsymmetricIQR, MethodPercentile:
		return Method(s), nil
	default:
		return "", errors.New(errors.CodeConfig, fmt.Sprintf("unknown outlier method %q", s))
	}
}

// Config holds the thresholds for every method; only the fields for the
// selected method are consulted.
type Config struct {
	ZThreshold      float64
	LowMultiplier   float64
	HighMultiplier  float64
	PercentileLower float64
	PercentileUpper float64
}

// DefaultConfig returns the thresholds carried over from the historical
// runs. They are configuration defaults, not statistically derived.
func DefaultConfig() Config {
	return Config{
		ZThreshold:      6,
		LowMultiplier:   1.5,
		HighMultiplier:  5.0,
		PercentileLower: 0.01,
		PercentileUpper: 0.99,
	}
}

// Stats summarizes one filtering pass. The Removed* pointers are nil
// when nothing was removed.
type Stats struct {
	Method            Method   `json:"method"`
	InputCount        int      `json:"input_count"`
	RemovedCount      int      `json:"removed_count"`
	RemovedProportion float64  `json:"removed_proportion"`
	RemovedPriceMin   *float64 `json:"price_min"`
	RemovedPriceMax   *float64 `json:"price_max"`
	RemovedPriceMean  *float64 `json:"price_mean"`
	RemovedPriceMedian *float64 `json:"price_median"`
}

// Filter classifies sale events into kept and removed subsequences.
type Filter struct {
	logger *slog.Logger
	method Method
	cfg    Config
}

// NewFilter creates a filter for the given method. A nil logger falls
// back to slog.Default().
func NewFilter(logger *slog.Logger, method Method, cfg Config) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{logger: logger, method: method, cfg: cfg}
}

// bounds is the inclusive keep interval for one SKU group.
type bounds struct {
	lower float64
	upper float64
	keepAll bool
}

// Filter partitions events per SKU. Event order within each SKU group
// is preserved, and the SKU key stays attached to both outputs. An
// event with an empty card_sku_id is a contract violation and fails
// the whole pass rather than being silently dropped.
func (f *Filter) Filter(ctx context.Context, events []domain.SaleEvent) (kept, removed []domain.SaleEvent, st Stats, err error) {
	st = Stats{Method: f.method, InputCount: len(events)}
	if len(events) == 0 {
		return nil, nil, st, nil
	}

	for _, ev := range events {
		if ev.CardSKUID == "" {
			return nil, nil, st, errors.NewFieldValidation("sales_history", "card_sku_id", "join key missing on sale event "+ev.ID)
		}
	}

	groups := lo.GroupBy(events, func(ev domain.SaleEvent) string { return ev.CardSKUID })
	skus := lo.Keys(groups)
	sort.Strings(skus)

	var removedPrices []float64
	for _, sku := range skus {
		group := groups[sku]
		prices := lo.Map(group, func(ev domain.SaleEvent, _ int) float64 { return ev.Price.Dollars() })

		b, berr := f.groupBounds(prices)
		if berr != nil {
			return nil, nil, st, berr
		}

		for _, ev := range group {
			p := ev.Price.Dollars()
			if b.keepAll || (p >= b.lower && p <= b.upper) {
				kept = append(kept, ev)
			} else {
				removed = append(removed, ev)
				removedPrices = append(removedPrices, p)
			}
		}
	}

	st.RemovedCount = len(removed)
	st.RemovedProportion = float64(len(removed)) / float64(len(events))
	if len(removedPrices) > 0 {
		st.RemovedPriceMin = ptr(stats.Min(removedPrices))
		st.RemovedPriceMax = ptr(stats.Max(removedPrices))
		st.RemovedPriceMean = ptr(stats.Mean(removedPrices))
		st.RemovedPriceMedian = ptr(stats.Median(removedPrices))
	}

	f.logger.InfoContext(ctx, "filtered sale price outliers",
		slog.String("method", string(f.method)),
		slog.Int("input_count", st.InputCount),
		slog.Int("removed_count", st.RemovedCount),
		slog.Int("sku_count", len(skus)))

	return kept, removed, st, nil
}

func (f *Filter) groupBounds(prices []float64) (bounds, error) {
	switch f.method {
	case MethodZScore:
		mean := stats.Mean(prices)
		std := stats.SampleStd(prices)
		if std == 0 {
			// Single observation or constant group: no filtering possible.
			return bounds{keepAll: true}, nil
		}
		return bounds{
			lower: mean - f.cfg.ZThreshold*std,
			upper: mean + f.cfg.ZThreshold*std,
		}, nil

	case MethodIQR:
		return iqrBounds(prices, 1.5, 1.5), nil

	case MethodAsymmetricIQR:
		return iqrBounds(prices, f.cfg.LowMultiplier, f.cfg.HighMultiplier), nil

	case MethodPercentile:
		sorted := make([]float64, len(prices))
		copy(sorted, prices)
		sort.Float64s(sorted)
		return bounds{
			lower: stats.QuantileSorted(sorted, f.cfg.PercentileLower),
			upper: stats.QuantileSorted(sorted, f.cfg.PercentileUpper),
		}, nil

	default:
		return bounds{}, errors.New(errors.CodeConfig, fmt.Sprintf("unknown outlier method %q", f.method))
	}
}

func iqrBounds(prices []float64, lowMult, highMult float64) bounds {
	sorted := make([]float64, len(prices))
	copy(sorted, prices)
	sort.Float64s(sorted)

	q1 := stats.QuantileSorted(sorted, 0.25)
	q3 := stats.QuantileSorted(sorted, 0.75)
	iqr := q3 - q1
	return bounds{
		lower: q1 - lowMult*iqr,
		upper: q3 + highMult*iqr,
	}
}

func ptr(v float64) *float64 {
	return &v
}
