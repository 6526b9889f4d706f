// Package diagnostics turns a reconciliation result and the per-stage
// stats into the structured report a human reviews after each run.
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"cardpulse/internal/errors"
	"cardpulse/internal/infrastructure"
	"cardpulse/internal/outlier"
	"cardpulse/internal/reconcile"
	"cardpulse/internal/stats"
	"cardpulse/pkg/contracts/domain"
)

// RecordCounts tracks table sizes at each pipeline stage.
type RecordCounts struct {
	MarketPrices         int `json:"market_prices"`
	SalesHistory         int `json:"sales_history"`
	SalesHistoryFiltered int `json:"sales_history_filtered"`
	Listings             int `json:"listings"`
	CardAttributes       int `json:"card_attributes"`
	Merged               int `json:"merged"`
}

// LowInventorySummary summarizes the low-inventory flag incidence.
type LowInventorySummary struct {
	Count      int     `json:"count"`
	Proportion float64 `json:"proportion"`
}

// Report is the nested key-value diagnostics structure handed to the
// excluded downstream consumers. It is a pure function of its inputs.
type Report struct {
	RunID              string                 `json:"run_id"`
	GeneratedAt        time.Time              `json:"generated_at"`
	RecordCounts       RecordCounts           `json:"record_counts"`
	NaNCounts          map[string]int         `json:"nan_counts"`
	LowInventory       LowInventorySummary    `json:"low_inventory"`
	OutlierStats       outlier.Stats          `json:"outlier_stats"`
	Validation         map[string]int         `json:"validation"`
	DirectLowZeroCount int                    `json:"direct_low_zero_count"`
	NonZeroSales       int                    `json:"non_zero_sales"`
	Correlation        *float64               `json:"correlation"`
	Merge              reconcile.Stats        `json:"merge"`
	DroppedSKUs        []string               `json:"dropped_card_sku_ids"`
	Samples            []domain.ReconciledRow `json:"flagged_samples"`
}

// Config tunes the reporter.
type Config struct {
	// Multipliers drive the outlier-validation sensitivity counts.
	Multipliers []float64
	// SampleSize bounds the random sample of flagged rows.
	SampleSize int
	// Seed fixes the sampling order; 0 means time-seeded.
	Seed int64
}

// DefaultConfig returns the production reporting defaults.
func DefaultConfig() Config {
	return Config{
		Multipliers: []float64{25, 50, 100},
		SampleSize:  20,
	}
}

// Reporter builds diagnostics reports.
type Reporter struct {
	logger *slog.Logger
	cfg    Config
	rng    *rand.Rand
}

// NewReporter creates a reporter. A nil logger falls back to
// slog.Default().
func NewReporter(logger *slog.Logger, cfg Config) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Multipliers) == 0 {
		cfg.Multipliers = DefaultConfig().Multipliers
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = DefaultConfig().SampleSize
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Reporter{logger: logger, cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Build assembles the report from a merge result and the stage stats.
// No input is mutated.
func (r *Reporter) Build(ctx context.Context, res reconcile.Result, filterStats outlier.Stats, counts RecordCounts) Report {
	counts.Merged = len(res.Rows)

	runID := infrastructure.GetRunID(ctx)
	if runID == "" {
		runID = uuid.NewString()
	}

	rep := Report{
		RunID:        runID,
		GeneratedAt:  time.Now().UTC(),
		RecordCounts: counts,
		NaNCounts:    nanCounts(res.Rows),
		OutlierStats: filterStats,
		Validation:   r.validationCounts(res.Rows),
		Merge:        res.Stats,
		DroppedSKUs:  res.DroppedSKUs,
		Samples:      r.sampleFlagged(res.Rows),
	}

	for _, row := range res.Rows {
		if row.IsLowInventory {
			rep.LowInventory.Count++
		}
		if row.DirectLow != nil && *row.DirectLow == 0 {
			rep.DirectLowZeroCount++
		}
		if row.SalesPriceMax > 0 {
			rep.NonZeroSales++
		}
	}
	if len(res.Rows) > 0 {
		rep.LowInventory.Proportion = float64(rep.LowInventory.Count) / float64(len(res.Rows))
	}
	rep.Correlation = priceCorrelation(res.Rows)

	r.logger.InfoContext(ctx, "built diagnostics report",
		slog.String("run_id", rep.RunID),
		slog.Int("merged_rows", counts.Merged),
		slog.Int("sample_count", len(rep.Samples)),
		slog.Any("validation", rep.Validation))

	return rep
}

// WriteJSON persists the report as an indented, timestamped JSON file
// and returns its path.
func (rep Report) WriteJSON(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, errors.CodeExport, "creating diagnostics directory")
	}

	name := fmt.Sprintf("reconcile_diagnostic_%s.json", rep.GeneratedAt.Format("20060102_150405"))
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(rep, "", "    ")
	if err != nil {
		return "", errors.Wrap(err, errors.CodeExport, "encoding diagnostics report")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", errors.Wrap(err, errors.CodeExport, "writing diagnostics report")
	}
	return path, nil
}

func nanCounts(rows []domain.ReconciledRow) map[string]int {
	counts := map[string]int{
		"low":                      0,
		"market":                   0,
		"lowest_list":              0,
		"direct_low":               0,
		"listing_price":            0,
		"sales_price_weighted_avg": 0,
	}
	for _, row := range rows {
		if row.Low == nil {
			counts["low"]++
		}
		if row.Market == nil {
			counts["market"]++
		}
		if row.LowestList == nil {
			counts["lowest_list"]++
		}
		if row.DirectLow == nil {
			counts["direct_low"]++
		}
		if row.ListingPrice == nil {
			counts["listing_price"]++
		}
		if row.SalesPriceWeightedAvg == nil {
			counts["sales_price_weighted_avg"]++
		}
	}
	return counts
}

// validationCounts re-tests the extreme-outlier rule at each
// sensitivity multiplier, zeros excluded as in the flag itself.
func (r *Reporter) validationCounts(rows []domain.ReconciledRow) map[string]int {
	counts := make(map[string]int, len(r.cfg.Multipliers))
	for _, m := range r.cfg.Multipliers {
		key := fmt.Sprintf("%gx", m)
		for _, row := range rows {
			if row.DirectLow != nil && *row.DirectLow > 0 && row.SalesPriceMax > m*(*row.DirectLow) {
				counts[key]++
			}
		}
		if _, ok := counts[key]; !ok {
			counts[key] = 0
		}
	}
	return counts
}

func (r *Reporter) sampleFlagged(rows []domain.ReconciledRow) []domain.ReconciledRow {
	var flagged []domain.ReconciledRow
	for _, row := range rows {
		if row.IsExtremeOutlier {
			flagged = append(flagged, row)
		}
	}
	if len(flagged) <= r.cfg.SampleSize {
		return flagged
	}

	r.rng.Shuffle(len(flagged), func(i, j int) {
		flagged[i], flagged[j] = flagged[j], flagged[i]
	})
	return flagged[:r.cfg.SampleSize]
}

// priceCorrelation is the Pearson correlation between the day's max
// sale price and direct_low over rows where both are defined. Nil when
// undefined (fewer than two pairs or zero variance).
func priceCorrelation(rows []domain.ReconciledRow) *float64 {
	var xs, ys []float64
	for _, row := range rows {
		if row.DirectLow == nil {
			continue
		}
		xs = append(xs, row.SalesPriceMax)
		ys = append(ys, *row.DirectLow)
	}

	c := stats.Pearson(xs, ys)
	if math.IsNaN(c) {
		return nil
	}
	return &c
}
