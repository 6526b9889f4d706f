package exporter

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"cardpulse/pkg/contracts/domain"
)

// reconciledHeaders is the column order of every reconciled export.
var reconciledHeaders = []string{
	"card_sku_id", "date",
	"low", "market", "lowest_list", "direct_low",
	"listing_price", "listing_quantity", "direct_inventory_count",
	"sales_quantity", "sales_count", "sales_price_mean", "sales_price_median",
	"sales_price_min", "sales_price_max", "sales_price_weighted_avg",
	"product_name", "set_name", "rarity", "condition", "mana_cost", "type_line",
	"is_missing_day", "is_dropshipper_out_of_stock", "is_low_inventory",
	"is_extreme_outlier",
}

// ReconciledExporter writes the merged fact table.
type ReconciledExporter struct {
	csv    *CSVWriter
	logger *slog.Logger
}

// NewReconciledExporter creates an exporter rooted at outputDir.
func NewReconciledExporter(outputDir string, logger *slog.Logger) *ReconciledExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconciledExporter{
		csv:    NewCSVWriter(outputDir, logger),
		logger: logger,
	}
}

// ExportCSV streams the rows to a timestamped CSV file and returns the
// written file name. Streaming keeps peak memory flat: the reconciled
// table is the largest artifact of a run.
func (e *ReconciledExporter) ExportCSV(rows []domain.ReconciledRow) (string, error) {
	name := fmt.Sprintf("reconciled_%s.csv", time.Now().Format("20060102_150405"))

	sw, err := e.csv.CreateStreamWriter(name, reconciledHeaders)
	if err != nil {
		return "", err
	}

	for _, row := range rows {
		if err := sw.WriteRecord(reconciledRecord(row)); err != nil {
			sw.Close()
			return "", fmt.Errorf("failed to write row %s: %w", row.Key(), err)
		}
	}
	if err := sw.Close(); err != nil {
		return "", err
	}

	e.logger.Info("exported reconciled table to CSV",
		slog.String("file", name),
		slog.Int("row_count", len(rows)))
	return name, nil
}

func reconciledRecord(row domain.ReconciledRow) []string {
	return []string{
		row.CardSKUID,
		row.Day,
		formatNullable(row.Low),
		formatNullable(row.Market),
		formatNullable(row.LowestList),
		formatNullable(row.DirectLow),
		formatNullable(row.ListingPrice),
		strconv.FormatInt(row.ListingQuantity, 10),
		strconv.FormatInt(row.DirectInventoryCount, 10),
		strconv.FormatInt(row.SalesQuantity, 10),
		strconv.Itoa(row.SalesCount),
		formatFloat(row.SalesPriceMean),
		formatFloat(row.SalesPriceMedian),
		formatFloat(row.SalesPriceMin),
		formatFloat(row.SalesPriceMax),
		formatNullable(row.SalesPriceWeightedAvg),
		row.ProductName,
		row.SetName,
		row.Rarity,
		row.Condition,
		row.ManaCost,
		row.TypeLine,
		strconv.FormatBool(row.IsMissingDay),
		strconv.FormatBool(row.IsDropshipperOutOfStock),
		strconv.FormatBool(row.IsLowInventory),
		strconv.FormatBool(row.IsExtremeOutlier),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatNullable renders nil as an empty cell so nulls stay
// distinguishable from true zeros downstream.
func formatNullable(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
