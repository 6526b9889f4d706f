package reconcile

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardpulse/internal/errors"
	"cardpulse/internal/shared/testutil"
	"cardpulse/internal/temporal"
	"cardpulse/pkg/contracts/domain"
)

func cents(v float64) *domain.Cents {
	c := domain.Cents(v * 100)
	return &c
}

func utcNoon(t *testing.T, day string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04", day+" 12:00")
	require.NoError(t, err)
	return ts
}

func newTestReconciler(t *testing.T, opts Options) (*Reconciler, *temporal.Normalizer) {
	t.Helper()
	norm, err := temporal.NewNormalizer("UTC")
	require.NoError(t, err)
	return NewReconciler(nil, norm, opts), norm
}

// price returns a snapshot with every price field set to the same value.
func price(t *testing.T, sku, day string, direct *domain.Cents) domain.MarketPriceSnapshot {
	t.Helper()
	return domain.MarketPriceSnapshot{
		CardSKUID:  sku,
		UpdatedAt:  utcNoon(t, day),
		Low:        cents(9),
		Market:     cents(10),
		LowestList: cents(11),
		DirectLow:  direct,
	}
}

func listing(t *testing.T, sku, day string, qty, inv int64) domain.ListingSnapshot {
	t.Helper()
	return domain.ListingSnapshot{
		CardSKUID:            sku,
		UpdatedAt:            utcNoon(t, day),
		Price:                1250,
		Quantity:             qty,
		DirectInventoryCount: inv,
	}
}

func baseInputs(t *testing.T) Inputs {
	t.Helper()
	return Inputs{
		Prices:   []domain.MarketPriceSnapshot{price(t, "sku-a", "2025-03-11", cents(1))},
		Listings: []domain.ListingSnapshot{listing(t, "sku-a", "2025-03-11", 4, 2)},
		Sales: []domain.SalesAggregate{{
			CardSKUID: "sku-a", Day: "2025-03-11", Quantity: 1, Count: 1,
			PriceMean: 5, PriceMedian: 5, PriceMin: 5, PriceMax: 5,
		}},
		Attributes: []domain.CardAttributes{{
			CardSKUID: "sku-a", ProductName: "Black Lotus", SetName: "Alpha",
			Rarity: "rare", Condition: "NM",
		}},
	}
}

func days(t *testing.T, norm *temporal.Normalizer, start, end string) []string {
	t.Helper()
	d, err := norm.Days(start, end)
	require.NoError(t, err)
	return d
}

func TestReconcileGridDensity(t *testing.T) {
	r, norm := newTestReconciler(t, Options{})
	in := baseInputs(t)
	// Second SKU seen only in sales still enters the scope.
	in.Sales = append(in.Sales, domain.SalesAggregate{
		CardSKUID: "sku-b", Day: "2025-03-12", Quantity: 2, Count: 1,
		PriceMean: 3, PriceMedian: 3, PriceMin: 3, PriceMax: 3,
	})
	in.Prices = append(in.Prices, price(t, "sku-b", "2025-03-11", cents(2)))

	res, err := r.Reconcile(context.Background(), in, days(t, norm, "2025-03-11", "2025-03-15"))
	require.NoError(t, err)

	assert.Equal(t, 2*5, len(res.Rows), "one row per SKU per day")

	seen := make(map[string]bool)
	for _, row := range res.Rows {
		require.False(t, seen[row.Key()], "duplicate key %s", row.Key())
		seen[row.Key()] = true
	}
}

func TestReconcileGapFill(t *testing.T) {
	r, norm := newTestReconciler(t, Options{})
	in := baseInputs(t)
	// Series [10, null, null, 13] over four days.
	in.Prices = []domain.MarketPriceSnapshot{
		price(t, "sku-a", "2025-03-11", cents(10)),
		price(t, "sku-a", "2025-03-14", cents(13)),
	}

	res, err := r.Reconcile(context.Background(), in, days(t, norm, "2025-03-11", "2025-03-14"))
	require.NoError(t, err)
	require.Len(t, res.Rows, 4)

	var got []float64
	for _, row := range res.Rows {
		require.NotNil(t, row.DirectLow)
		got = append(got, *row.DirectLow)
	}
	assert.Equal(t, []float64{10, 10, 10, 13}, got)
}

func TestReconcileBackFillLeadingGap(t *testing.T) {
	r, norm := newTestReconciler(t, Options{})
	in := baseInputs(t)
	// Only observation lands mid-window; earlier days back-fill from it.
	in.Prices = []domain.MarketPriceSnapshot{price(t, "sku-a", "2025-03-13", cents(7))}

	res, err := r.Reconcile(context.Background(), in, days(t, norm, "2025-03-11", "2025-03-15"))
	require.NoError(t, err)

	for _, row := range res.Rows {
		require.NotNil(t, row.DirectLow, "day %s", row.Day)
		assert.Equal(t, 7.0, *row.DirectLow)
	}
}

func TestReconcileZeroFill(t *testing.T) {
	r, norm := newTestReconciler(t, Options{})
	in := baseInputs(t)

	res, err := r.Reconcile(context.Background(), in, days(t, norm, "2025-03-11", "2025-03-12"))
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)

	// Day 2 has no listing and no sales.
	day2 := res.Rows[1]
	assert.Equal(t, "2025-03-12", day2.Day)
	assert.Nil(t, day2.ListingPrice)
	assert.True(t, day2.IsMissingDay)
	assert.Equal(t, int64(0), day2.ListingQuantity)
	assert.Equal(t, int64(0), day2.DirectInventoryCount)
	assert.Equal(t, int64(0), day2.SalesQuantity)
	assert.Equal(t, 0, day2.SalesCount)
	assert.Zero(t, day2.SalesPriceMax)
	assert.Nil(t, day2.SalesPriceWeightedAvg)

	day1 := res.Rows[0]
	assert.False(t, day1.IsMissingDay)
	require.NotNil(t, day1.ListingPrice)
	assert.Equal(t, 12.5, *day1.ListingPrice)
	assert.Equal(t, int64(4), day1.ListingQuantity)
}

func TestReconcileAllDirectLowNaNDrop(t *testing.T) {
	r, norm := newTestReconciler(t, Options{})
	in := baseInputs(t)
	in.Prices = append(in.Prices, price(t, "sku-b", "2025-03-11", nil))
	in.Prices = append(in.Prices, price(t, "sku-b", "2025-03-13", nil))

	res, err := r.Reconcile(context.Background(), in, days(t, norm, "2025-03-11", "2025-03-15"))
	require.NoError(t, err)

	for _, row := range res.Rows {
		assert.NotEqual(t, "sku-b", row.CardSKUID, "dropped SKU must not appear in output")
	}
	assert.Equal(t, []string{"sku-b"}, res.DroppedSKUs)
	assert.Equal(t, 1, res.Stats.DroppedSKUCount)
	assert.Equal(t, 5, len(res.Rows))
}

func TestReconcileDroppedSKUsAreLogged(t *testing.T) {
	logger, recorder := testutil.NewTestLogger(t)
	norm, err := temporal.NewNormalizer("UTC")
	require.NoError(t, err)
	r := NewReconciler(logger, norm, Options{})

	in := baseInputs(t)
	in.Prices = append(in.Prices, price(t, "sku-b", "2025-03-11", nil))

	_, err = r.Reconcile(context.Background(), in, days(t, norm, "2025-03-11", "2025-03-12"))
	require.NoError(t, err)

	testutil.AssertLogContains(t, recorder, slog.LevelWarn, "no direct_low anchor")
	testutil.AssertLogAttr(t, recorder, "dropped_count", int64(1))
	testutil.AssertNoErrors(t, recorder)
}

func TestReconcileExtremeOutlierFlag(t *testing.T) {
	tests := []struct {
		name      string
		directLow *domain.Cents
		salesMax  float64
		expected  bool
	}{
		{"150x the direct low", cents(1), 150, true},
		{"under the multiplier", cents(2), 150, false},
		{"zero direct low is guarded", cents(0), 150, false},
		{"exactly at multiplier is kept", cents(1), 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, norm := newTestReconciler(t, Options{ExtremeOutlierMultiplier: 100})
			in := baseInputs(t)
			in.Prices = []domain.MarketPriceSnapshot{price(t, "sku-a", "2025-03-11", tt.directLow)}
			in.Sales = []domain.SalesAggregate{{
				CardSKUID: "sku-a", Day: "2025-03-11", Quantity: 1, Count: 1,
				PriceMean: tt.salesMax, PriceMedian: tt.salesMax,
				PriceMin: tt.salesMax, PriceMax: tt.salesMax,
			}}

			res, err := r.Reconcile(context.Background(), in, days(t, norm, "2025-03-11", "2025-03-11"))
			require.NoError(t, err)
			require.Len(t, res.Rows, 1)
			assert.Equal(t, tt.expected, res.Rows[0].IsExtremeOutlier)
		})
	}
}

func threshold(v int64) *int64 {
	return &v
}

func TestReconcileFlags(t *testing.T) {
	r, norm := newTestReconciler(t, Options{LowInventoryThreshold: threshold(5)})
	in := baseInputs(t)
	in.Listings = []domain.ListingSnapshot{
		listing(t, "sku-a", "2025-03-11", 10, 3),
		listing(t, "sku-a", "2025-03-12", 10, 6),
	}

	res, err := r.Reconcile(context.Background(), in, days(t, norm, "2025-03-11", "2025-03-12"))
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)

	assert.True(t, res.Rows[0].IsLowInventory, "inventory 3 <= threshold 5")
	assert.False(t, res.Rows[1].IsLowInventory, "inventory 6 > threshold 5")
	assert.False(t, res.Rows[0].IsDropshipperOutOfStock, "direct_low present")
}

func TestReconcileZeroLowInventoryThreshold(t *testing.T) {
	// An explicit threshold of 0 is a legal setting, not "use default":
	// only true zero inventory may be flagged.
	r, norm := newTestReconciler(t, Options{LowInventoryThreshold: threshold(0)})
	in := baseInputs(t)
	in.Listings = []domain.ListingSnapshot{
		listing(t, "sku-a", "2025-03-11", 4, 2),
		listing(t, "sku-a", "2025-03-12", 4, 0),
	}

	res, err := r.Reconcile(context.Background(), in, days(t, norm, "2025-03-11", "2025-03-12"))
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)

	assert.False(t, res.Rows[0].IsLowInventory, "inventory 2 > threshold 0")
	assert.True(t, res.Rows[1].IsLowInventory, "inventory 0 <= threshold 0")
}

func TestReconcileForwardOnlyFill(t *testing.T) {
	r, norm := newTestReconciler(t, Options{FillStrategy: FillForward})
	in := baseInputs(t)
	// Observations on days 2 and 4 of a five-day window.
	in.Prices = []domain.MarketPriceSnapshot{
		price(t, "sku-a", "2025-03-12", cents(10)),
		price(t, "sku-a", "2025-03-14", cents(13)),
	}

	res, err := r.Reconcile(context.Background(), in, days(t, norm, "2025-03-11", "2025-03-15"))
	require.NoError(t, err)
	require.Len(t, res.Rows, 5)

	// The leading gap stays null under forward-only fill; interior and
	// trailing gaps still carry forward.
	assert.Nil(t, res.Rows[0].DirectLow)
	assert.True(t, res.Rows[0].IsDropshipperOutOfStock)
	for i, want := range []float64{10, 10, 13, 13} {
		row := res.Rows[i+1]
		require.NotNil(t, row.DirectLow, "day %s", row.Day)
		assert.Equal(t, want, *row.DirectLow)
	}
}

func TestParseFillStrategy(t *testing.T) {
	for _, valid := range []string{"forward", "forward_backward"} {
		s, err := ParseFillStrategy(valid)
		require.NoError(t, err)
		assert.Equal(t, FillStrategy(valid), s)
	}

	_, err := ParseFillStrategy("backward")
	require.Error(t, err)
	var perr *errors.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, errors.CodeConfig, perr.Code)
}

func TestReconcileDropshipperOutOfStock(t *testing.T) {
	r, norm := newTestReconciler(t, Options{})
	in := baseInputs(t)
	// sku-b never has a direct_low but does have low/market prices, so
	// it survives the all-NaN drop only if any direct_low exists; give
	// it one on day 2 and nil on day 1 to check the fill interplay.
	in.Prices = append(in.Prices,
		price(t, "sku-b", "2025-03-11", nil),
		price(t, "sku-b", "2025-03-12", cents(3)),
	)

	res, err := r.Reconcile(context.Background(), in, days(t, norm, "2025-03-11", "2025-03-12"))
	require.NoError(t, err)

	var b1 domain.ReconciledRow
	for _, row := range res.Rows {
		if row.CardSKUID == "sku-b" && row.Day == "2025-03-11" {
			b1 = row
		}
	}
	// Day 1's nil direct_low back-fills from day 2, so the SKU is kept
	// and the out-of-stock flag clears after gap-filling.
	require.NotNil(t, b1.DirectLow)
	assert.Equal(t, 3.0, *b1.DirectLow)
	assert.False(t, b1.IsDropshipperOutOfStock)
}

func TestReconcileScenario(t *testing.T) {
	// Spec scenario: 2 SKUs over a 5-day window. A has a price every
	// day; B only on day 1. After forward-fill B's days 2-5 carry day
	// 1's price. If B had no price at all it would be dropped.
	r, norm := newTestReconciler(t, Options{})
	in := baseInputs(t)
	for _, day := range []string{"2025-03-11", "2025-03-12", "2025-03-13", "2025-03-14", "2025-03-15"} {
		in.Prices = append(in.Prices, price(t, "sku-full", day, cents(20)))
	}
	in.Prices = append(in.Prices, price(t, "sku-sparse", "2025-03-11", cents(8)))

	res, err := r.Reconcile(context.Background(), in, days(t, norm, "2025-03-11", "2025-03-15"))
	require.NoError(t, err)
	assert.Len(t, res.Rows, 3*5)

	for _, row := range res.Rows {
		if row.CardSKUID != "sku-sparse" {
			continue
		}
		require.NotNil(t, row.DirectLow, "day %s", row.Day)
		assert.Equal(t, 8.0, *row.DirectLow, "day %s carries day 1's price", row.Day)
	}
}

func TestReconcileLatestSnapshotWins(t *testing.T) {
	r, norm := newTestReconciler(t, Options{})
	in := baseInputs(t)
	morning := domain.MarketPriceSnapshot{
		CardSKUID: "sku-a",
		UpdatedAt: utcNoon(t, "2025-03-11").Add(-3 * time.Hour),
		DirectLow: cents(5),
	}
	evening := domain.MarketPriceSnapshot{
		CardSKUID: "sku-a",
		UpdatedAt: utcNoon(t, "2025-03-11").Add(6 * time.Hour),
		DirectLow: cents(9),
	}
	in.Prices = []domain.MarketPriceSnapshot{evening, morning}

	res, err := r.Reconcile(context.Background(), in, days(t, norm, "2025-03-11", "2025-03-11"))
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.NotNil(t, res.Rows[0].DirectLow)
	assert.Equal(t, 9.0, *res.Rows[0].DirectLow)
}

func TestReconcileAttributesJoin(t *testing.T) {
	r, norm := newTestReconciler(t, Options{})
	in := baseInputs(t)

	res, err := r.Reconcile(context.Background(), in, days(t, norm, "2025-03-11", "2025-03-12"))
	require.NoError(t, err)

	for _, row := range res.Rows {
		assert.Equal(t, "Black Lotus", row.ProductName)
		assert.Equal(t, "Alpha", row.SetName)
		assert.Equal(t, "rare", row.Rarity)
	}
}

func TestReconcileValidation(t *testing.T) {
	_, norm := newTestReconciler(t, Options{})
	window := days(t, norm, "2025-03-11", "2025-03-12")

	tests := []struct {
		name   string
		mutate func(*Inputs)
	}{
		{"empty prices", func(in *Inputs) { in.Prices = nil }},
		{"empty listings", func(in *Inputs) { in.Listings = nil }},
		{"empty sales", func(in *Inputs) { in.Sales = nil }},
		{"empty attributes", func(in *Inputs) { in.Attributes = nil }},
		{"price missing join key", func(in *Inputs) { in.Prices[0].CardSKUID = "" }},
		{"listing missing join key", func(in *Inputs) { in.Listings[0].CardSKUID = "" }},
		{"sale missing join key", func(in *Inputs) { in.Sales[0].CardSKUID = "" }},
		{"attribute missing join key", func(in *Inputs) { in.Attributes[0].CardSKUID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestReconciler(t, Options{})
			in := baseInputs(t)
			tt.mutate(&in)

			_, err := r.Reconcile(context.Background(), in, window)
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err), "expected a validation error, got %v", err)
		})
	}
}

func TestReconcileRowBudget(t *testing.T) {
	r, norm := newTestReconciler(t, Options{RowBudget: 3})
	in := baseInputs(t)

	_, err := r.Reconcile(context.Background(), in, days(t, norm, "2025-03-11", "2025-03-15"))
	require.Error(t, err)

	var perr *errors.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, errors.CodeCapacity, perr.Code)
}

func TestReconcileParallelMatchesSerial(t *testing.T) {
	// Same inputs through 1 worker and 8 workers must be identical;
	// cross-SKU order never affects per-SKU gap-filling.
	in := baseInputs(t)
	for i, day := range []string{"2025-03-11", "2025-03-13", "2025-03-15"} {
		sku := []string{"sku-x", "sku-y", "sku-z"}[i]
		in.Prices = append(in.Prices, price(t, sku, day, cents(float64(i+1))))
	}

	serial, norm := newTestReconciler(t, Options{Workers: 1})
	parallel, _ := newTestReconciler(t, Options{Workers: 8})
	window := days(t, norm, "2025-03-11", "2025-03-15")

	a, err := serial.Reconcile(context.Background(), in, window)
	require.NoError(t, err)
	b, err := parallel.Reconcile(context.Background(), in, window)
	require.NoError(t, err)

	assert.Equal(t, a.Rows, b.Rows)
	assert.Equal(t, a.DroppedSKUs, b.DroppedSKUs)
}

func TestScope(t *testing.T) {
	prices := []domain.MarketPriceSnapshot{{CardSKUID: "b"}, {CardSKUID: "a"}, {CardSKUID: "a"}}
	sales := []domain.SalesAggregate{{CardSKUID: "c"}, {CardSKUID: "b"}}

	assert.Equal(t, []string{"a", "b", "c"}, Scope(prices, sales))
}

func TestBuildGrid(t *testing.T) {
	t.Run("empty scope", func(t *testing.T) {
		_, err := BuildGrid(nil, []string{"2025-03-11"}, 0)
		assert.ErrorIs(t, err, errors.ErrEmptyEntityScope)
	})

	t.Run("empty window", func(t *testing.T) {
		_, err := BuildGrid([]string{"a"}, nil, 0)
		assert.Error(t, err)
	})

	t.Run("within budget", func(t *testing.T) {
		g, err := BuildGrid([]string{"a", "b"}, []string{"d1", "d2", "d3"}, 6)
		require.NoError(t, err)
		assert.Equal(t, 6, g.Rows())
	})

	t.Run("over budget", func(t *testing.T) {
		_, err := BuildGrid([]string{"a", "b"}, []string{"d1", "d2", "d3"}, 5)
		require.Error(t, err)
	})
}
