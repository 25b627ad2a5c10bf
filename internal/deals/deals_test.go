package deals

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealsignal/internal/clock"
	"dealsignal/internal/pricing"
	"dealsignal/internal/storage"
)

var refNow = time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)

type fakeDealStore struct {
	rows       []storage.DealRow
	categories []string
	err        error
	lastFilter storage.DealFilter
}

func (f *fakeDealStore) ListDeals(_ context.Context, filter storage.DealFilter) ([]storage.DealRow, error) {
	f.lastFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	rows := f.rows
	if filter.Limit > 0 && len(rows) > filter.Limit {
		rows = rows[:filter.Limit]
	}
	return rows, nil
}

func (f *fakeDealStore) ListCategories(context.Context) ([]string, error) {
	return f.categories, f.err
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func nd(v string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(v)) }

func row(id, current, atl string) storage.DealRow {
	return storage.DealRow{
		Product: storage.Product{ID: id, Name: "Product " + id, Category: "mice", Retailer: "Amazon"},
		Price: pricing.PriceRecord{
			ProductID:       id,
			OriginalPrice:   dec("100"),
			CurrentPrice:    dec(current),
			DiscountPercent: pricing.DiscountPercent(dec("100"), dec(current)),
			AllTimeLow:      nd(atl),
			CheckedAt:       refNow.Add(-time.Hour),
		},
	}
}

func TestListClassifiesWithClock(t *testing.T) {
	store := &fakeDealStore{rows: []storage.DealRow{row("a", "80", "80"), row("b", "90", "70")}}
	reader := NewReader(store, clock.NewFixed(refNow))

	deals, err := reader.List(context.Background(), Query{Category: "mice", Platform: "PC", Limit: 10})
	require.NoError(t, err)
	require.Len(t, deals, 2)

	assert.Equal(t, storage.DealFilter{Category: "mice", Platform: "PC", Limit: 10}, store.lastFilter)
	assert.Equal(t, pricing.SignalHistoricalLow, deals[0].SignalLabel)
	assert.Equal(t, pricing.SignalNone, deals[1].SignalLabel)
	assert.Equal(t, []string{}, deals[0].Platforms)
}

func TestListFiltersBySignalBeforeLimit(t *testing.T) {
	store := &fakeDealStore{rows: []storage.DealRow{
		row("a", "90", "70"),
		row("b", "80", "80"),
		row("c", "75", "75"),
		row("d", "60", "60"),
	}}
	reader := NewReader(store, clock.NewFixed(refNow))

	deals, err := reader.List(context.Background(), Query{Signal: pricing.SignalHistoricalLow, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 0, store.lastFilter.Limit)
	require.Len(t, deals, 2)
	assert.Equal(t, "b", deals[0].ID)
	assert.Equal(t, "c", deals[1].ID)
}

func TestListPropagatesErrors(t *testing.T) {
	reader := NewReader(&fakeDealStore{err: errors.New("db down")}, nil)
	_, err := reader.List(context.Background(), Query{})
	assert.Error(t, err)
	_, err = reader.Categories(context.Background())
	assert.Error(t, err)
}

func TestCategoriesNeverNil(t *testing.T) {
	reader := NewReader(&fakeDealStore{}, nil)
	categories, err := reader.Categories(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, categories)
}

func TestDealJSONShape(t *testing.T) {
	deal := Project(row("a", "80", "80"), refNow)
	out, err := json.Marshal(deal)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(out, &fields))
	for _, key := range []string{"id", "name", "category", "platforms", "original_price", "current_price",
		"discount_percent", "checked_at", "all_time_low", "low_90d", "low_30d", "previous_price", "signal_label"} {
		assert.Contains(t, fields, key)
	}
	assert.Equal(t, "historical_low", fields["signal_label"])
	assert.Nil(t, fields["low_90d"])
	assert.Nil(t, fields["display_name"])
}
