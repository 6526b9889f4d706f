package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"cardpulse/internal/aggregate"
	"cardpulse/internal/config"
	"cardpulse/internal/diagnostics"
	"cardpulse/internal/exporter"
	"cardpulse/internal/fetch"
	"cardpulse/internal/infrastructure"
	"cardpulse/internal/outlier"
	"cardpulse/internal/reconcile"
	"cardpulse/internal/temporal"
	"cardpulse/pkg/contracts"
	"cardpulse/pkg/contracts/domain"
)

func main() {
	configFile := flag.String("config", "", "path to YAML config file (environment variables win)")
	startDate := flag.String("start", "", "window start day YYYY-MM-DD (overrides config)")
	endDate := flag.String("end", "", "window end day YYYY-MM-DD (overrides config)")
	writeXLSX := flag.Bool("xlsx", false, "also export the reconciled workbook (.xlsx)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(contracts.GetFullVersionString())
		return
	}

	// Flag overrides land before validation so a window supplied only on
	// the command line still passes the required checks.
	cfg, err := config.Load(*configFile, func(c *config.Config) {
		if *startDate != "" {
			c.Window.StartDate = *startDate
		}
		if *endDate != "" {
			c.Window.EndDate = *endDate
		}
	})
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		slog.Warn("Failed to initialize logger, using default", "error", err)
		logger = slog.Default()
	}
	defer infrastructure.CloseLogFile()

	ctx := infrastructure.WithRunID(context.Background(), uuid.NewString())

	logger.InfoContext(ctx, "Starting market data reconciliation",
		slog.String("version", contracts.Version),
		slog.String("start_date", cfg.Window.StartDate),
		slog.String("end_date", cfg.Window.EndDate),
		slog.String("timezone", cfg.Window.Timezone),
		slog.String("outlier_method", cfg.Outlier.Method))

	if err := run(ctx, cfg, logger, *writeXLSX); err != nil {
		logger.ErrorContext(ctx, "Pipeline run failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.InfoContext(ctx, "Pipeline run complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, writeXLSX bool) error {
	norm, err := temporal.NewNormalizer(cfg.Window.Timezone)
	if err != nil {
		return err
	}

	days, err := norm.Days(cfg.Window.StartDate, cfg.Window.EndDate)
	if err != nil {
		return err
	}

	from, err := norm.ParseDay(cfg.Window.StartDate)
	if err != nil {
		return err
	}
	lastDay, err := norm.ParseDay(cfg.Window.EndDate)
	if err != nil {
		return err
	}
	// Half-open fetch bound: the day after the inclusive window end.
	to := lastDay.AddDate(0, 0, 1)

	db, err := fetch.Open(ctx, cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer db.Close()

	store := fetch.NewMarketStore(db, logger)
	market, err := store.FetchAll(ctx, from, to)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "Fetched market tables",
		slog.Int("prices", len(market.Prices)),
		slog.Int("sales", len(market.Sales)),
		slog.Int("listings", len(market.Listings)))

	attributes, err := fetchAttributes(ctx, cfg, logger)
	if err != nil {
		return err
	}

	method, err := outlier.ParseMethod(cfg.Outlier.Method)
	if err != nil {
		return err
	}
	filter := outlier.NewFilter(logger, method, outlier.Config{
		ZThreshold:      cfg.Outlier.ZThreshold,
		LowMultiplier:   cfg.Outlier.LowMultiplier,
		HighMultiplier:  cfg.Outlier.HighMultiplier,
		PercentileLower: cfg.Outlier.PercentileLower,
		PercentileUpper: cfg.Outlier.PercentileUpper,
	})
	kept, _, filterStats, err := filter.Filter(ctx, market.Sales)
	if err != nil {
		return err
	}

	aggregates := aggregate.NewAggregator(logger, norm).Aggregate(ctx, kept)

	fillStrategy, err := reconcile.ParseFillStrategy(cfg.Reconcile.FillStrategy)
	if err != nil {
		return err
	}
	reconciler := reconcile.NewReconciler(logger, norm, reconcile.Options{
		LowInventoryThreshold:    &cfg.Reconcile.LowInventoryThreshold,
		ExtremeOutlierMultiplier: cfg.Reconcile.ExtremeOutlierMultiplier,
		FillStrategy:             fillStrategy,
		Workers:                  cfg.Reconcile.Workers,
		RowBudget:                cfg.Reconcile.RowBudget,
	})
	result, err := reconciler.Reconcile(ctx, reconcile.Inputs{
		Prices:     market.Prices,
		Listings:   market.Listings,
		Sales:      aggregates,
		Attributes: attributes,
	}, days)
	if err != nil {
		return err
	}

	reporter := diagnostics.NewReporter(logger, diagnostics.Config{
		Multipliers: cfg.Diagnostics.Multipliers,
		SampleSize:  cfg.Diagnostics.SampleSize,
	})
	report := reporter.Build(ctx, result, filterStats, diagnostics.RecordCounts{
		MarketPrices:         len(market.Prices),
		SalesHistory:         len(market.Sales),
		SalesHistoryFiltered: len(kept),
		Listings:             len(market.Listings),
		CardAttributes:       len(attributes),
	})

	reportPath, err := report.WriteJSON(cfg.Paths.DiagnosticsDir)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "Wrote diagnostics report", slog.String("path", reportPath))

	csvPath, err := exporter.NewReconciledExporter(cfg.Paths.OutputDir, logger).ExportCSV(result.Rows)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "Wrote reconciled CSV",
		slog.String("path", csvPath),
		slog.Int("rows", len(result.Rows)))
	fmt.Printf("Reconciled %d rows to %s\n", len(result.Rows), csvPath)

	if writeXLSX {
		xlsxPath, err := exporter.NewWorkbookExporter(cfg.Paths.OutputDir, logger).Export(result.Rows, report)
		if err != nil {
			return err
		}
		logger.InfoContext(ctx, "Wrote reconciled workbook", slog.String("path", xlsxPath))
	}

	return nil
}

// fetchAttributes loads the card catalog from the HTTP API when enabled,
// otherwise from the exported attributes CSV.
func fetchAttributes(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]domain.CardAttributes, error) {
	if cfg.CardAPI.UseAPI {
		client := fetch.NewCardClient(cfg.CardAPI.Endpoint, cfg.CardAPI.Timeout, cfg.CardAPI.RequestsPerSec, logger)
		return client.FetchAttributes(ctx)
	}
	return fetch.LoadAttributesCSV(cfg.CardAPI.AttributesCSV, cfg.CardAPI.CardListCSV, logger)
}
