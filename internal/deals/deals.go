package deals

import (
	"context"
	"fmt"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"

	"dealsignal/internal/clock"
	"dealsignal/internal/pricing"
	"dealsignal/internal/storage"
)

// Deal is the read-side projection served to the widget and deals page.
type Deal struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	DisplayName     null.String         `json:"display_name"`
	Teaser          null.String         `json:"teaser"`
	Category        string              `json:"category"`
	Platforms       []string            `json:"platforms"`
	Retailer        string              `json:"retailer"`
	Region          null.String         `json:"region"`
	Rating          null.Float          `json:"rating"`
	ReviewCount     null.Int            `json:"review_count"`
	ImageURL        null.String         `json:"image_url"`
	AmazonASIN      null.String         `json:"amazon_asin"`
	AffiliateURL    null.String         `json:"affiliate_url"`
	CreatedAt       time.Time           `json:"created_at"`
	OriginalPrice   decimal.Decimal     `json:"original_price"`
	CurrentPrice    decimal.Decimal     `json:"current_price"`
	DiscountPercent decimal.Decimal     `json:"discount_percent"`
	CheckedAt       time.Time           `json:"checked_at"`
	AllTimeLow      decimal.NullDecimal `json:"all_time_low"`
	Low90d          decimal.NullDecimal `json:"low_90d"`
	Low30d          decimal.NullDecimal `json:"low_30d"`
	PreviousPrice   decimal.NullDecimal `json:"previous_price"`
	SignalLabel     pricing.Signal      `json:"signal_label"`
}

// Query narrows a deal listing. Zero values mean "no filter".
type Query struct {
	Limit    int
	Category string
	Platform string
	Signal   pricing.Signal
}

// Reader lists active deals with their current signal.
type Reader struct {
	store storage.DealStore
	clock clock.Clock
}

// NewReader builds a Reader over store.
func NewReader(store storage.DealStore, clk clock.Clock) *Reader {
	if clk == nil {
		clk = clock.System{}
	}
	return &Reader{store: store, clock: clk}
}

// List returns the newest-first active deals matching q.
func (r *Reader) List(ctx context.Context, q Query) ([]Deal, error) {
	filter := storage.DealFilter{Category: q.Category, Platform: q.Platform, Limit: q.Limit}
	if q.Signal != "" {
		// the signal is derived after the query, so the limit is applied here
		filter.Limit = 0
	}

	rows, err := r.store.ListDeals(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}

	now := r.clock.Now()
	out := make([]Deal, 0, len(rows))
	for _, row := range rows {
		deal := Project(row, now)
		if q.Signal != "" && deal.SignalLabel != q.Signal {
			continue
		}
		out = append(out, deal)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// Categories returns the sorted categories of active products.
func (r *Reader) Categories(ctx context.Context) ([]string, error) {
	categories, err := r.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	if categories == nil {
		categories = []string{}
	}
	return categories, nil
}

// Project flattens a product and its latest price record, classified at now.
func Project(row storage.DealRow, now time.Time) Deal {
	p, rec := row.Product, row.Price
	platforms := p.Platforms
	if platforms == nil {
		platforms = []string{}
	}
	return Deal{
		ID:              p.ID,
		Name:            p.Name,
		DisplayName:     p.DisplayName,
		Teaser:          p.Teaser,
		Category:        p.Category,
		Platforms:       platforms,
		Retailer:        p.Retailer,
		Region:          p.Region,
		Rating:          p.Rating,
		ReviewCount:     p.ReviewCount,
		ImageURL:        p.ImageURL,
		AmazonASIN:      p.AmazonASIN,
		AffiliateURL:    p.AffiliateURL,
		CreatedAt:       p.CreatedAt,
		OriginalPrice:   rec.OriginalPrice,
		CurrentPrice:    rec.CurrentPrice,
		DiscountPercent: rec.DiscountPercent,
		CheckedAt:       rec.CheckedAt,
		AllTimeLow:      rec.AllTimeLow,
		Low90d:          rec.Low90d,
		Low30d:          rec.Low30d,
		PreviousPrice:   rec.PreviousPrice,
		SignalLabel:     rec.Signal(now),
	}
}
