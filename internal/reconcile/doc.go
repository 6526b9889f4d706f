// Package reconcile joins the three market tables and the card
// attribute dimension onto a dense SKU x calendar-day grid and emits
// the analysis-ready fact table.
//
// The merge runs as one synchronous batch over a fixed day window:
//
//  1. Left-join daily price snapshots onto the grid.
//  2. Gap-fill price columns per SKU (forward then backward along the
//     day axis): prices move slowly, so absence means unchanged.
//  3. Left-join listing snapshots; zero-fill quantities (absence is a
//     true zero) and flag days with no listing observation.
//  4. Left-join daily sales aggregates; zero-fill on absence.
//  5. Left-join static card attributes by SKU.
//  6. Compute the row-local quality flags.
//  7. Drop SKUs whose direct_low is null across the entire window; a
//     price series with no anchor cannot be gap-filled honestly.
//
// SKUs are independent of each other, so the per-SKU work is fanned
// out across a bounded worker pool; day order within a SKU is always
// processed sequentially because gap-filling requires it.
package reconcile
