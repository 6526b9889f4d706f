// Package fetch holds the acquisition collaborators: the TimescaleDB
// reads for the three market tables and the card catalog client. These
// are thin I/O wrappers; all reconciliation logic lives downstream.
package fetch

import (
	"context"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"cardpulse/internal/errors"
	"cardpulse/pkg/contracts/domain"
)

// MarketData bundles one run's immutable snapshot of the raw tables.
type MarketData struct {
	Prices   []domain.MarketPriceSnapshot
	Sales    []domain.SaleEvent
	Listings []domain.ListingSnapshot
}

// MarketStore reads the market tables from TimescaleDB.
type MarketStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeFetch, "connecting to market database")
	}
	return db, nil
}

// NewMarketStore creates a store over an open connection. A nil logger
// falls back to slog.Default().
func NewMarketStore(db *sqlx.DB, logger *slog.Logger) *MarketStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketStore{db: db, logger: logger}
}

const (
	marketPricesQuery = `
		SELECT card_sku_id, updated_at, low, market, lowest_list, direct_low
		FROM market_prices
		WHERE updated_at >= $1 AND updated_at < $2
		ORDER BY card_sku_id, updated_at`

	salesHistoryQuery = `
		SELECT id, card_sku_id, order_date, price, quantity
		FROM sales_history
		WHERE order_date >= $1 AND order_date < $2
		ORDER BY card_sku_id, order_date`

	listingsQuery = `
		SELECT card_sku_id, updated_at, price, quantity, direct_inventory_count
		FROM listings
		WHERE updated_at >= $1 AND updated_at < $2
		ORDER BY card_sku_id, updated_at`
)

// MarketPrices reads price snapshots updated within [from, to).
func (s *MarketStore) MarketPrices(ctx context.Context, from, to time.Time) ([]domain.MarketPriceSnapshot, error) {
	var rows []domain.MarketPriceSnapshot
	if err := s.db.SelectContext(ctx, &rows, marketPricesQuery, from, to); err != nil {
		return nil, errors.Wrap(err, errors.CodeFetch, "querying market_prices")
	}
	s.logger.InfoContext(ctx, "fetched market_prices", slog.Int("record_count", len(rows)))
	return rows, nil
}

// SalesHistory reads sale events ordered within [from, to).
func (s *MarketStore) SalesHistory(ctx context.Context, from, to time.Time) ([]domain.SaleEvent, error) {
	var rows []domain.SaleEvent
	if err := s.db.SelectContext(ctx, &rows, salesHistoryQuery, from, to); err != nil {
		return nil, errors.Wrap(err, errors.CodeFetch, "querying sales_history")
	}
	s.logger.InfoContext(ctx, "fetched sales_history", slog.Int("record_count", len(rows)))
	return rows, nil
}

// Listings reads listing snapshots updated within [from, to).
func (s *MarketStore) Listings(ctx context.Context, from, to time.Time) ([]domain.ListingSnapshot, error) {
	var rows []domain.ListingSnapshot
	if err := s.db.SelectContext(ctx, &rows, listingsQuery, from, to); err != nil {
		return nil, errors.Wrap(err, errors.CodeFetch, "querying listings")
	}
	s.logger.InfoContext(ctx, "fetched listings", slog.Int("record_count", len(rows)))
	return rows, nil
}

// FetchAll reads the three market tables as one immutable snapshot.
func (s *MarketStore) FetchAll(ctx context.Context, from, to time.Time) (MarketData, error) {
	prices, err := s.MarketPrices(ctx, from, to)
	if err != nil {
		return MarketData{}, err
	}
	sales, err := s.SalesHistory(ctx, from, to)
	if err != nil {
		return MarketData{}, err
	}
	listings, err := s.Listings(ctx, from, to)
	if err != nil {
		return MarketData{}, err
	}
	return MarketData{Prices: prices, Sales: sales, Listings: listings}, nil
}
