package reconcile

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"cardpulse/internal/errors"
	"cardpulse/pkg/contracts/domain"
)

// Grid is the dense SKU x day spine every source is left-joined onto.
type Grid struct {
	SKUs []string
	Days []string
}

// Rows returns the dense product size.
func (g Grid) Rows() int {
	return len(g.SKUs) * len(g.Days)
}

// Scope derives the SKUs in scope for a run: the union of SKUs seen in
// price snapshots and in sales. Listings-only SKUs are excluded on
// purpose; without a price observation there is no gap-fill anchor.
func Scope(prices []domain.MarketPriceSnapshot, sales []domain.SalesAggregate) []string {
	skus := make([]string, 0, len(prices)+len(sales))
	for _, p := range prices {
		skus = append(skus, p.CardSKUID)
	}
	for _, s := range sales {
		skus = append(skus, s.CardSKUID)
	}
	skus = lo.Uniq(skus)
	sort.Strings(skus)
	return skus
}

// BuildGrid assembles the spine and enforces the row budget. The
// product can dominate run memory, so a grid larger than the budget
// fails loudly instead of degrading.
func BuildGrid(skus, days []string, rowBudget int) (Grid, error) {
	if len(skus) == 0 {
		return Grid{}, errors.ErrEmptyEntityScope
	}
	if len(days) == 0 {
		return Grid{}, errors.NewValidation("grid", "analysis window contains no days")
	}
	if rowBudget > 0 && len(skus)*len(days) > rowBudget {
		return Grid{}, errors.New(errors.CodeCapacity,
			fmt.Sprintf("grid of %d SKUs x %d days exceeds row budget %d; raise the budget or narrow the window",
				len(skus), len(days), rowBudget))
	}
	return Grid{SKUs: skus, Days: days}, nil
}
