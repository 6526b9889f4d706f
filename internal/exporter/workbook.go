package exporter

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"cardpulse/internal/diagnostics"
	"cardpulse/pkg/contracts/domain"
)

// WorkbookExporter writes an Excel workbook with the reconciled table
// and a diagnostics summary sheet, for analysts who review runs by
// hand rather than through the modeling stack.
type WorkbookExporter struct {
	outputDir string
	logger    *slog.Logger
}

// NewWorkbookExporter creates a workbook exporter rooted at outputDir.
func NewWorkbookExporter(outputDir string, logger *slog.Logger) *WorkbookExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkbookExporter{outputDir: outputDir, logger: logger}
}

const (
	sheetReconciled  = "Reconciled"
	sheetDiagnostics = "Diagnostics"
)

// Export writes the workbook and returns its file name.
func (e *WorkbookExporter) Export(rows []domain.ReconciledRow, report diagnostics.Report) (string, error) {
	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := e.writeReconciledSheet(f, rows); err != nil {
		return "", err
	}
	if err := e.writeDiagnosticsSheet(f, report); err != nil {
		return "", err
	}
	f.DeleteSheet("Sheet1")

	name := fmt.Sprintf("reconciled_%s.xlsx", time.Now().Format("20060102_150405"))
	if err := f.SaveAs(filepath.Join(e.outputDir, name)); err != nil {
		return "", fmt.Errorf("failed to save workbook: %w", err)
	}

	e.logger.Info("exported reconciled workbook",
		slog.String("file", name),
		slog.Int("row_count", len(rows)))
	return name, nil
}

func (e *WorkbookExporter) writeReconciledSheet(f *excelize.File, rows []domain.ReconciledRow) error {
	if _, err := f.NewSheet(sheetReconciled); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	// Streaming writer keeps large grids out of memory.
	sw, err := f.NewStreamWriter(sheetReconciled)
	if err != nil {
		return fmt.Errorf("failed to create stream writer: %w", err)
	}

	header := make([]interface{}, len(reconciledHeaders))
	for i, h := range reconciledHeaders {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("failed to write header row: %w", err)
	}

	for i, row := range rows {
		record := reconciledRecord(row)
		cells := make([]interface{}, len(record))
		for j, v := range record {
			cells[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return fmt.Errorf("failed to write row %s: %w", row.Key(), err)
		}
	}

	return sw.Flush()
}

func (e *WorkbookExporter) writeDiagnosticsSheet(f *excelize.File, report diagnostics.Report) error {
	if _, err := f.NewSheet(sheetDiagnostics); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	pairs := [][2]interface{}{
		{"run_id", report.RunID},
		{"generated_at", report.GeneratedAt.Format(time.RFC3339)},
		{"market_prices", report.RecordCounts.MarketPrices},
		{"sales_history", report.RecordCounts.SalesHistory},
		{"sales_history_filtered", report.RecordCounts.SalesHistoryFiltered},
		{"listings", report.RecordCounts.Listings},
		{"card_attributes", report.RecordCounts.CardAttributes},
		{"merged_rows", report.RecordCounts.Merged},
		{"dropped_sku_count", len(report.DroppedSKUs)},
		{"outliers_removed", report.OutlierStats.RemovedCount},
		{"low_inventory_count", report.LowInventory.Count},
		{"low_inventory_proportion", report.LowInventory.Proportion},
		{"direct_low_zero_count", report.DirectLowZeroCount},
		{"non_zero_sales", report.NonZeroSales},
	}
	for key, count := range report.Validation {
		pairs = append(pairs, [2]interface{}{"validation_" + key, count})
	}
	if report.Correlation != nil {
		pairs = append(pairs, [2]interface{}{"sales_max_vs_direct_low_corr", *report.Correlation})
	}

	for i, pair := range pairs {
		rowNum := i + 1
		if err := f.SetCellValue(sheetDiagnostics, fmt.Sprintf("A%d", rowNum), pair[0]); err != nil {
			return err
		}
		if err := f.SetCellValue(sheetDiagnostics, fmt.Sprintf("B%d", rowNum), pair[1]); err != nil {
			return err
		}
	}
	return nil
}
