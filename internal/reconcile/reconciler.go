package reconcile

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"cardpulse/internal/errors"
	"cardpulse/internal/temporal"
	"cardpulse/pkg/contracts/domain"
)

// Reconciler is the merge engine. It is safe for reuse across runs but
// holds no state between them.
type Reconciler struct {
	logger *slog.Logger
	norm   *temporal.Normalizer
	opts   Options
}

// NewReconciler creates a reconciler. Zero-valued option fields fall
// back to DefaultOptions; a nil logger falls back to slog.Default().
func NewReconciler(logger *slog.Logger, norm *temporal.Normalizer, opts Options) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.LowInventoryThreshold == nil {
		opts.LowInventoryThreshold = def.LowInventoryThreshold
	}
	if opts.FillStrategy == "" {
		opts.FillStrategy = def.FillStrategy
	}
	if opts.ExtremeOutlierMultiplier == 0 {
		opts.ExtremeOutlierMultiplier = def.ExtremeOutlierMultiplier
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.RowBudget == 0 {
		opts.RowBudget = def.RowBudget
	}
	return &Reconciler{logger: logger, norm: norm, opts: opts}
}

// Reconcile merges the source tables onto the dense grid spanned by
// days. Inputs are never mutated; the returned rows are ordered by SKU
// then day, with exactly one row per surviving (SKU, day) pair.
func (r *Reconciler) Reconcile(ctx context.Context, in Inputs, days []string) (Result, error) {
	started := time.Now()

	if err := validateInputs(in); err != nil {
		return Result{}, err
	}

	grid, err := BuildGrid(Scope(in.Prices, in.Sales), days, r.opts.RowBudget)
	if err != nil {
		return Result{}, err
	}

	r.logger.InfoContext(ctx, "starting reconciliation",
		slog.Int("sku_count", len(grid.SKUs)),
		slog.Int("day_count", len(grid.Days)),
		slog.Int("grid_rows", grid.Rows()),
		slog.Int("workers", r.opts.Workers))

	idx := r.index(in)

	// Each SKU's day-ordered series is handled by exactly one worker;
	// results land in disjoint slots, so no locking is needed.
	results := make([]skuResult, len(grid.SKUs))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i, sku := range grid.SKUs {
		i, sku := i, sku
		g.Go(func() error {
			results[i] = r.reconcileSKU(sku, grid.Days, idx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{
		Stats: Stats{
			SKUCount: len(grid.SKUs),
			DayCount: len(grid.Days),
			GridRows: grid.Rows(),
		},
	}
	res.Rows = make([]domain.ReconciledRow, 0, grid.Rows())
	for i, sr := range results {
		if sr.allDirectLowNaN {
			res.DroppedSKUs = append(res.DroppedSKUs, grid.SKUs[i])
			continue
		}
		res.Rows = append(res.Rows, sr.rows...)
	}

	res.Stats.OutputRows = len(res.Rows)
	res.Stats.DroppedSKUCount = len(res.DroppedSKUs)
	for _, row := range res.Rows {
		if row.IsMissingDay {
			res.Stats.MissingDayCount++
		}
		if row.IsLowInventory {
			res.Stats.LowInventoryCount++
		}
		if row.IsExtremeOutlier {
			res.Stats.ExtremeOutlierCount++
		}
		if row.IsDropshipperOutOfStock {
			res.Stats.OutOfStockCount++
		}
	}

	if len(res.DroppedSKUs) > 0 {
		r.logger.WarnContext(ctx, "dropped SKUs with no direct_low anchor in window",
			slog.Int("dropped_count", len(res.DroppedSKUs)),
			slog.Any("card_sku_ids", res.DroppedSKUs))
	}
	r.logger.InfoContext(ctx, "reconciliation complete",
		slog.Int("output_rows", res.Stats.OutputRows),
		slog.Int("dropped_sku_count", res.Stats.DroppedSKUCount),
		slog.Duration("elapsed", time.Since(started)))

	return res, nil
}

// indexes are read-only once built and shared across workers.
type indexes struct {
	prices   map[string]map[string]domain.MarketPriceSnapshot
	listings map[string]map[string]domain.ListingSnapshot
	sales    map[string]map[string]domain.SalesAggregate
	attrs    map[string]domain.CardAttributes
}

func (r *Reconciler) index(in Inputs) indexes {
	idx := indexes{
		prices:   make(map[string]map[string]domain.MarketPriceSnapshot),
		listings: make(map[string]map[string]domain.ListingSnapshot),
		sales:    make(map[string]map[string]domain.SalesAggregate),
		attrs:    make(map[string]domain.CardAttributes, len(in.Attributes)),
	}

	for _, p := range in.Prices {
		day := r.norm.DayKey(p.UpdatedAt)
		byDay := idx.prices[p.CardSKUID]
		if byDay == nil {
			byDay = make(map[string]domain.MarketPriceSnapshot)
			idx.prices[p.CardSKUID] = byDay
		}
		// Multiple snapshots within one day collapse to the latest.
		if prev, ok := byDay[day]; !ok || p.UpdatedAt.After(prev.UpdatedAt) {
			byDay[day] = p
		}
	}

	for _, l := range in.Listings {
		day := r.norm.DayKey(l.UpdatedAt)
		byDay := idx.listings[l.CardSKUID]
		if byDay == nil {
			byDay = make(map[string]domain.ListingSnapshot)
			idx.listings[l.CardSKUID] = byDay
		}
		if prev, ok := byDay[day]; !ok || l.UpdatedAt.After(prev.UpdatedAt) {
			byDay[day] = l
		}
	}

	for _, s := range in.Sales {
		byDay := idx.sales[s.CardSKUID]
		if byDay == nil {
			byDay = make(map[string]domain.SalesAggregate)
			idx.sales[s.CardSKUID] = byDay
		}
		byDay[s.Day] = s
	}

	for _, a := range in.Attributes {
		idx.attrs[a.CardSKUID] = a
	}

	return idx
}

type skuResult struct {
	rows            []domain.ReconciledRow
	allDirectLowNaN bool
}

func (r *Reconciler) reconcileSKU(sku string, days []string, idx indexes) skuResult {
	n := len(days)

	// Step 1: left-join price snapshots into per-field day series.
	low := make([]*float64, n)
	market := make([]*float64, n)
	lowestList := make([]*float64, n)
	directLow := make([]*float64, n)
	if byDay := idx.prices[sku]; byDay != nil {
		for i, day := range days {
			snap, ok := byDay[day]
			if !ok {
				continue
			}
			low[i] = centsPtr(snap.Low)
			market[i] = centsPtr(snap.Market)
			lowestList[i] = centsPtr(snap.LowestList)
			directLow[i] = centsPtr(snap.DirectLow)
		}
	}

	// Step 2: gap-fill each price field per the configured strategy.
	for _, series := range [][]*float64{low, market, lowestList, directLow} {
		fillSeries(series, r.opts.FillStrategy)
	}

	attrs := idx.attrs[sku]
	allNaN := true

	rows := make([]domain.ReconciledRow, n)
	for i, day := range days {
		row := domain.ReconciledRow{
			CardSKUID:   sku,
			Day:         day,
			Low:         low[i],
			Market:      market[i],
			LowestList:  lowestList[i],
			DirectLow:   directLow[i],
			ProductName: attrs.ProductName,
			SetName:     attrs.SetName,
			Rarity:      attrs.Rarity,
			Condition:   attrs.Condition,
			ManaCost:    attrs.ManaCost,
			TypeLine:    attrs.TypeLine,
		}

		// Step 3: listings. Quantities are true zeros on absence; the
		// listing price stays nil so the gap remains visible.
		if ls, ok := idx.listings[sku][day]; ok {
			price := ls.Price.Dollars()
			row.ListingPrice = &price
			row.ListingQuantity = ls.Quantity
			row.DirectInventoryCount = ls.DirectInventoryCount
		}
		row.IsMissingDay = row.ListingPrice == nil

		// Step 4: sales aggregates, zero-filled on absence. The
		// weighted average stays nil when undefined.
		if sa, ok := idx.sales[sku][day]; ok {
			row.SalesQuantity = sa.Quantity
			row.SalesCount = sa.Count
			row.SalesPriceMean = sa.PriceMean
			row.SalesPriceMedian = sa.PriceMedian
			row.SalesPriceMin = sa.PriceMin
			row.SalesPriceMax = sa.PriceMax
			row.SalesPriceWeightedAvg = sa.PriceWeightedAvg
		}

		// Step 5: row-local flags.
		row.IsDropshipperOutOfStock = row.DirectLow == nil
		row.IsLowInventory = row.DirectInventoryCount <= *r.opts.LowInventoryThreshold
		row.IsExtremeOutlier = row.DirectLow != nil && *row.DirectLow > 0 &&
			row.SalesPriceMax > r.opts.ExtremeOutlierMultiplier*(*row.DirectLow)

		if row.DirectLow != nil {
			allNaN = false
		}
		rows[i] = row
	}

	if allNaN {
		for i := range rows {
			rows[i].IsAllDirectLowNaN = true
		}
	}

	return skuResult{rows: rows, allDirectLowNaN: allNaN}
}

// fillSeries carries the last known value forward and, under
// FillForwardBackward, the next known value backward, in place. A
// series with no observations stays nil.
func fillSeries(series []*float64, strategy FillStrategy) {
	var last *float64
	for i, v := range series {
		if v != nil {
			last = v
		} else if last != nil {
			series[i] = last
		}
	}

	if strategy == FillForward {
		return
	}

	var next *float64
	for i := len(series) - 1; i >= 0; i-- {
		if series[i] != nil {
			next = series[i]
		} else if next != nil {
			series[i] = next
		}
	}
}

func validateInputs(in Inputs) error {
	if len(in.Prices) == 0 {
		return errors.NewValidation("market_prices", "required table is absent or empty")
	}
	if len(in.Listings) == 0 {
		return errors.NewValidation("listings", "required table is absent or empty")
	}
	if len(in.Sales) == 0 {
		return errors.NewValidation("sales_history", "required table is absent or empty")
	}
	if len(in.Attributes) == 0 {
		return errors.NewValidation("card_attributes", "required table is absent or empty")
	}

	for _, p := range in.Prices {
		if p.CardSKUID == "" {
			return errors.NewFieldValidation("market_prices", "card_sku_id", "join key missing")
		}
	}
	for _, l := range in.Listings {
		if l.CardSKUID == "" {
			return errors.NewFieldValidation("listings", "card_sku_id", "join key missing")
		}
	}
	for _, s := range in.Sales {
		if s.CardSKUID == "" {
			return errors.NewFieldValidation("sales_history", "card_sku_id", "join key missing")
		}
	}
	for _, a := range in.Attributes {
		if a.CardSKUID == "" {
			return errors.NewFieldValidation("card_attributes", "card_sku_id", "join key missing")
		}
	}
	return nil
}

func centsPtr(c *domain.Cents) *float64 {
	if c == nil {
		return nil
	}
	v := c.Dollars()
	return &v
}
