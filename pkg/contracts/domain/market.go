package domain

import (
	"time"
)

// Cents is a monetary amount stored as integer cents at rest.
// All market tables persist money this way; the pipeline converts to
// decimal dollars exactly once, at ingestion boundaries.
type Cents int64

// Dollars converts the amount to decimal currency.
func (c Cents) Dollars() float64 {
	return float64(c) / 100
}

// MarketPriceSnapshot is one daily price observation for a card SKU.
// DirectLow is nil when the dropshipper had no stock at snapshot time;
// downstream reconciliation turns that into the out-of-stock flag.
type MarketPriceSnapshot struct {
	CardSKUID  string    `json:"card_sku_id" db:"card_sku_id"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
	Low        *Cents    `json:"low" db:"low"`
	Market     *Cents    `json:"market" db:"market"`
	LowestList *Cents    `json:"lowest_list" db:"lowest_list"`
	DirectLow  *Cents    `json:"direct_low" db:"direct_low"`
}

// ListingSnapshot is one daily third-party seller inventory observation.
type ListingSnapshot struct {
	CardSKUID            string    `json:"card_sku_id" db:"card_sku_id"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
	Price                Cents     `json:"price" db:"price"`
	Quantity             int64     `json:"quantity" db:"quantity"`
	DirectInventoryCount int64     `json:"direct_inventory_count" db:"direct_inventory_count"`
}

// SaleEvent is a single completed transaction. Sales arrive irregularly
// and at much higher cardinality than the daily snapshots.
type SaleEvent struct {
	ID        string    `json:"id" db:"id"`
	CardSKUID string    `json:"card_sku_id" db:"card_sku_id"`
	OrderedAt time.Time `json:"order_date" db:"order_date"`
	Price     Cents     `json:"price" db:"price"`
	Quantity  int64     `json:"quantity" db:"quantity"`
}

// CardAttributes holds the static descriptive columns for a card SKU.
// Sourced once per run from the card catalog API or the attributes CSV.
type CardAttributes struct {
	CardSKUID   string `json:"card_sku_id" db:"card_sku_id" csv:"card_sku_id"`
	ProductName string `json:"product_name" db:"product_name" csv:"name"`
	SetName     string `json:"set_name" db:"set_name" csv:"set_name"`
	Rarity      string `json:"rarity" db:"rarity" csv:"rarity"`
	Condition   string `json:"condition" db:"condition" csv:"condition"`
	ManaCost    string `json:"mana_cost" db:"mana_cost" csv:"mana_cost"`
	TypeLine    string `json:"type_line" db:"type_line" csv:"type_line"`
}

// SalesAggregate collapses a SKU's sale events for one calendar day.
// PriceWeightedAvg is nil when the summed quantity is zero.
type SalesAggregate struct {
	CardSKUID        string   `json:"card_sku_id"`
	Day              string   `json:"date"`
	Quantity         int64    `json:"sales_quantity"`
	Count            int      `json:"sales_count"`
	PriceMean        float64  `json:"sales_price_mean"`
	PriceMedian      float64  `json:"sales_price_median"`
	PriceMin         float64  `json:"sales_price_min"`
	PriceMax         float64  `json:"sales_price_max"`
	Price25th        float64  `json:"sales_price_25th"`
	Price75th        float64  `json:"sales_price_75th"`
	PriceStd         float64  `json:"sales_price_std"`
	PriceWeightedAvg *float64 `json:"sales_price_weighted_avg"`
}

// ReconciledRow is one cell of the dense SKU x calendar-day grid, the
// terminal output of the reconciliation core. Price fields are decimal
// dollars, gap-filled along the day axis; listing and sales fields are
// zero-filled on absence. Every flag is a pure function of the row.
type ReconciledRow struct {
	CardSKUID string `json:"card_sku_id" csv:"card_sku_id"`
	Day       string `json:"date" csv:"date"`

	// Market price snapshot columns (forward/back-filled).
	Low        *float64 `json:"low" csv:"low"`
	Market     *float64 `json:"market" csv:"market"`
	LowestList *float64 `json:"lowest_list" csv:"lowest_list"`
	DirectLow  *float64 `json:"direct_low" csv:"direct_low"`

	// Listing snapshot columns. ListingPrice stays nil on missing days
	// so the gap is visible; quantities are true zeros.
	ListingPrice         *float64 `json:"listing_price" csv:"listing_price"`
	ListingQuantity      int64    `json:"listing_quantity" csv:"listing_quantity"`
	DirectInventoryCount int64    `json:"direct_inventory_count" csv:"direct_inventory_count"`

	// Sales aggregates (zero-filled on days without sales).
	SalesQuantity         int64    `json:"sales_quantity" csv:"sales_quantity"`
	SalesCount            int      `json:"sales_count" csv:"sales_count"`
	SalesPriceMean        float64  `json:"sales_price_mean" csv:"sales_price_mean"`
	SalesPriceMedian      float64  `json:"sales_price_median" csv:"sales_price_median"`
	SalesPriceMin         float64  `json:"sales_price_min" csv:"sales_price_min"`
	SalesPriceMax         float64  `json:"sales_price_max" csv:"sales_price_max"`
	SalesPriceWeightedAvg *float64 `json:"sales_price_weighted_avg" csv:"sales_price_weighted_avg"`

	// Static card attributes.
	ProductName string `json:"product_name" csv:"product_name"`
	SetName     string `json:"set_name" csv:"set_name"`
	Rarity      string `json:"rarity" csv:"rarity"`
	Condition   string `json:"condition" csv:"condition"`
	ManaCost    string `json:"mana_cost" csv:"mana_cost"`
	TypeLine    string `json:"type_line" csv:"type_line"`

	// Derived quality flags.
	IsMissingDay            bool `json:"is_missing_day" csv:"is_missing_day"`
	IsDropshipperOutOfStock bool `json:"is_dropshipper_out_of_stock" csv:"is_dropshipper_out_of_stock"`
	IsLowInventory          bool `json:"is_low_inventory" csv:"is_low_inventory"`
	IsExtremeOutlier        bool `json:"is_extreme_outlier" csv:"is_extreme_outlier"`
	IsAllDirectLowNaN       bool `json:"is_all_direct_low_nan" csv:"is_all_direct_low_nan"`
}

// Key returns the unique (sku, day) join key for the row.
func (r ReconciledRow) Key() string {
	return r.CardSKUID + "|" + r.Day
}

// HasDirectLow reports whether the row carries a usable direct-low price.
func (r ReconciledRow) HasDirectLow() bool {
	return r.DirectLow != nil
}
