package storage

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"

	"dealsignal/internal/pricing"
)

func TestStoreWithoutPool(t *testing.T) {
	var s *Store
	ctx := context.Background()

	if _, err := s.LatestPrice(ctx, "x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if err := s.InsertPriceRecord(ctx, pricing.PriceRecord{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := s.ListDeals(ctx, DealFilter{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := s.BackfillRegion(ctx, "US"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, _, err := s.TryAdvisoryLock(ctx, 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	s.Close()
}

func TestPriceScanRecord(t *testing.T) {
	prev := time.Date(2025, 11, 19, 12, 0, 0, 0, time.UTC)
	scan := priceScan{
		productID:         "p1",
		originalStr:       "84.99",
		currentStr:        "79.99",
		discountStr:       "6.00",
		allTimeLow:        null.StringFrom("79.99"),
		previous:          null.StringFrom("89.99"),
		previousCheckedAt: &prev,
		checkedAt:         prev.Add(24 * time.Hour),
	}

	rec, err := scan.record()
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !rec.DiscountPercent.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("unexpected discount %s", rec.DiscountPercent)
	}
	if rec.Low90d.Valid || rec.Low30d.Valid {
		t.Fatalf("expected absent window lows")
	}
	if !rec.PreviousPrice.Valid || rec.PreviousPrice.Decimal.String() != "89.99" {
		t.Fatalf("unexpected previous price %+v", rec.PreviousPrice)
	}
	if rec.Signal(rec.CheckedAt) != pricing.SignalHistoricalLow {
		t.Fatalf("unexpected signal %s", rec.Signal(rec.CheckedAt))
	}

	scan.currentStr = "abc"
	if _, err := scan.record(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestParseNullDecimalFromScannedText(t *testing.T) {
	var col null.String
	if err := col.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	d, err := parseNullDecimal(col)
	if err != nil || d.Valid {
		t.Fatalf("expected absent decimal, got %+v (%v)", d, err)
	}

	if err := col.Scan("64.90"); err != nil {
		t.Fatalf("scan text: %v", err)
	}
	d, err = parseNullDecimal(col)
	if err != nil || !d.Valid || !d.Decimal.Equal(decimal.RequireFromString("64.9")) {
		t.Fatalf("unexpected decimal %+v (%v)", d, err)
	}

	if _, err := parseNullDecimal(null.StringFrom("n/a")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestNullDecimalArg(t *testing.T) {
	if nullDecimalArg(decimal.NullDecimal{}) != nil {
		t.Fatalf("expected nil for absent decimal")
	}
	if got := nullDecimalArg(decimal.NewNullDecimal(decimal.RequireFromString("12.50"))); got != "12.5" {
		t.Fatalf("unexpected arg %v", got)
	}
	if NullString("").Valid {
		t.Fatalf("empty string should be null")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	var up, down int
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			up++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			down++
		}
	}
	if up == 0 || up != down {
		t.Fatalf("expected paired migrations, got %d up / %d down", up, down)
	}

	body, err := fs.ReadFile(migrationsFS, "migrations/000001_init.up.sql")
	if err != nil {
		t.Fatalf("read init migration: %v", err)
	}
	if !strings.Contains(string(body), "PRIMARY KEY (product_id, checked_at)") {
		t.Fatalf("prices ledger key missing from schema")
	}
}

func TestMigrateRequiresDSN(t *testing.T) {
	if _, err := Migrate("", "up", 0); err == nil {
		t.Fatalf("expected error for missing dsn")
	}
}
