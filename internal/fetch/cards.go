package fetch

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"cardpulse/internal/errors"
	"cardpulse/pkg/contracts/domain"
)

// CardClient pulls card attributes from the catalog API. Requests are
// rate limited; the catalog throttles aggressive crawlers.
type CardClient struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewCardClient creates a client against the given endpoint.
func NewCardClient(endpoint string, timeout time.Duration, requestsPerSec float64, logger *slog.Logger) *CardClient {
	if logger == nil {
		logger = slog.Default()
	}
	if requestsPerSec <= 0 {
		requestsPerSec = 5
	}
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &CardClient{
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSec), 1),
		logger:  logger,
	}
}

type cardPage struct {
	Data    []domain.CardAttributes `json:"data"`
	HasMore bool                    `json:"has_more"`
}

// FetchAttributes walks the paged catalog endpoint until exhaustion.
func (c *CardClient) FetchAttributes(ctx context.Context) ([]domain.CardAttributes, error) {
	var cards []domain.CardAttributes
	for page := 1; ; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, errors.CodeFetch, "waiting on card API rate limit")
		}

		var body cardPage
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("page", strconv.Itoa(page)).
			SetResult(&body).
			Get("")
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeFetch, fmt.Sprintf("fetching card attributes page %d", page))
		}
		if resp.IsError() {
			return nil, errors.New(errors.CodeFetch,
				fmt.Sprintf("card API returned %s for page %d", resp.Status(), page))
		}

		cards = append(cards, body.Data...)
		if !body.HasMore {
			break
		}
	}

	c.logger.InfoContext(ctx, "fetched card attributes from catalog API",
		slog.Int("card_count", len(cards)))
	return cards, nil
}

// LoadAttributesCSV loads card attributes from the fallback CSV. When
// cardListPath is non-empty only SKUs present in that list are kept,
// matching how runs are scoped to a curated card list.
func LoadAttributesCSV(path, cardListPath string, logger *slog.Logger) ([]domain.CardAttributes, error) {
	if logger == nil {
		logger = slog.Default()
	}

	header, records, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	col := indexColumns(header)
	for _, required := range []string{"card_sku_id", "name", "rarity", "set_name", "mana_cost", "type_line"} {
		if _, ok := col[required]; !ok {
			return nil, errors.NewFieldValidation("card_attributes", required, "column missing from "+path)
		}
	}

	var allowed map[string]struct{}
	if cardListPath != "" {
		allowed, err = loadCardList(cardListPath)
		if err != nil {
			return nil, err
		}
	}

	var cards []domain.CardAttributes
	for _, rec := range records {
		sku := rec[col["card_sku_id"]]
		if allowed != nil {
			if _, ok := allowed[sku]; !ok {
				continue
			}
		}
		card := domain.CardAttributes{
			CardSKUID:   sku,
			ProductName: rec[col["name"]],
			Rarity:      rec[col["rarity"]],
			SetName:     rec[col["set_name"]],
			ManaCost:    rec[col["mana_cost"]],
			TypeLine:    rec[col["type_line"]],
		}
		if i, ok := col["condition"]; ok {
			card.Condition = rec[i]
		}
		cards = append(cards, card)
	}

	if len(cards) == 0 {
		return nil, errors.NewValidation("card_attributes", "no matching cards after filtering")
	}

	logger.Info("loaded card attributes from CSV",
		slog.String("path", path),
		slog.Int("card_count", len(cards)))
	return cards, nil
}

func loadCardList(path string) (map[string]struct{}, error) {
	header, records, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	col := indexColumns(header)
	idx, ok := col["card_sku_id"]
	if !ok {
		return nil, errors.NewFieldValidation("card_list", "card_sku_id", "column missing from "+path)
	}

	allowed := make(map[string]struct{}, len(records))
	for _, rec := range records {
		allowed[rec[idx]] = struct{}{}
	}
	return allowed, nil
}

func readCSV(path string) ([]string, [][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeFetch, "opening "+path)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeFetch, "parsing "+path)
	}
	if len(rows) == 0 {
		return nil, nil, errors.NewValidation("csv", path+" is empty")
	}
	return rows[0], rows[1:], nil
}

func indexColumns(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	return col
}
