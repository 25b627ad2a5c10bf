package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dealsignal/internal/alerting"
	"dealsignal/internal/config"
	"dealsignal/internal/keepa"
	"dealsignal/internal/pricing"
	"dealsignal/internal/storage"
)

const keepaOffsetMinutes = 21564000

var refNow = time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)

func keepaMinutes(t time.Time) int64 {
	return t.Unix()/60 - keepaOffsetMinutes
}

func daysAgo(d int) int64 {
	return keepaMinutes(refNow.Add(-time.Duration(d) * 24 * time.Hour))
}

func seriesJSON(values ...int64) json.RawMessage {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return json.RawMessage("[" + strings.Join(parts, ",") + "]")
}

func keepaProduct(asin, title string, amazon, newSeries json.RawMessage) keepa.Product {
	csv := []json.RawMessage{amazon, newSeries}
	return keepa.Product{ASIN: asin, Title: title, ImagesCSV: "abc.jpg,def.jpg", CSV: csv}
}

type fakeFetcher struct {
	mu       sync.Mutex
	products map[string]keepa.Product
	failFor  map[string]bool
	calls    [][]string
}

func (f *fakeFetcher) Products(_ context.Context, asins []string) ([]keepa.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), asins...))
	out := make([]keepa.Product, 0, len(asins))
	for _, a := range asins {
		if f.failFor[a] {
			return nil, fmt.Errorf("%w: simulated outage", keepa.ErrAPI)
		}
		if p, ok := f.products[a]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeStore struct {
	mu        sync.Mutex
	products  map[string]storage.Product
	prices    map[string][]pricing.PriceRecord
	alerts    []storage.AlertRecord
	insertErr map[string]error
	nextID    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:  make(map[string]storage.Product),
		prices:    make(map[string][]pricing.PriceRecord),
		insertErr: make(map[string]error),
	}
}

func (s *fakeStore) addProduct(asin, name, category string) storage.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p := storage.Product{
		ID:         fmt.Sprintf("00000000-0000-4000-8000-%012d", s.nextID),
		Name:       name,
		Category:   category,
		AmazonASIN: storage.NullString(asin),
		IsActive:   true,
	}
	s.products[p.ID] = p
	return p
}

func (s *fakeStore) UpsertProduct(_ context.Context, p storage.Product) (storage.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.products {
		if existing.AmazonASIN == p.AmazonASIN {
			p.ID = id
			p.CreatedAt = existing.CreatedAt
			s.products[id] = p
			return p, nil
		}
	}
	s.nextID++
	p.ID = fmt.Sprintf("00000000-0000-4000-8000-%012d", s.nextID)
	p.CreatedAt = refNow
	s.products[p.ID] = p
	return p, nil
}

func (s *fakeStore) sorted(activeOnly bool) []storage.Product {
	out := make([]storage.Product, 0, len(s.products))
	for _, p := range s.products {
		if activeOnly && (!p.IsActive || !p.AmazonASIN.Valid) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *fakeStore) ListActiveProducts(context.Context) ([]storage.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(true), nil
}

func (s *fakeStore) ListProducts(context.Context) ([]storage.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(false), nil
}

func (s *fakeStore) FindProduct(_ context.Context, ref string) (storage.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.ID == ref || p.AmazonASIN.ValueOrZero() == ref {
			return p, nil
		}
	}
	return storage.Product{}, storage.ErrNotFound
}

func (s *fakeStore) UpdatePlatforms(_ context.Context, id string, platforms []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return storage.ErrNotFound
	}
	p.Platforms = platforms
	s.products[id] = p
	return nil
}

func (s *fakeStore) BackfillRegion(_ context.Context, region string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, p := range s.products {
		if !p.Region.Valid {
			p.Region = storage.NullString(region)
			s.products[id] = p
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) LatestPrice(_ context.Context, productID string) (*pricing.PriceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ledger := s.prices[productID]
	if len(ledger) == 0 {
		return nil, nil
	}
	latest := ledger[len(ledger)-1]
	return &latest, nil
}

func (s *fakeStore) InsertPriceRecord(_ context.Context, rec pricing.PriceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertErr[rec.ProductID]; err != nil {
		return err
	}
	ledger := s.prices[rec.ProductID]
	if n := len(ledger); n > 0 && !rec.CheckedAt.After(ledger[n-1].CheckedAt) {
		return storage.ErrStaleObservation
	}
	s.prices[rec.ProductID] = append(ledger, rec)
	return nil
}

func (s *fakeStore) ListPriceHistory(_ context.Context, productID string, limit int) ([]pricing.PriceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ledger := s.prices[productID]
	if limit > 0 && len(ledger) > limit {
		ledger = ledger[len(ledger)-limit:]
	}
	return append([]pricing.PriceRecord(nil), ledger...), nil
}

func (s *fakeStore) InsertAlert(_ context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert.ID = int64(len(s.alerts) + 1)
	s.alerts = append(s.alerts, alert)
	return alert, nil
}

func (s *fakeStore) ListRecentAlerts(context.Context, int) ([]storage.AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.AlertRecord(nil), s.alerts...), nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Keepa:   config.KeepaConfig{BatchSize: 2},
		Refresh: config.RefreshConfig{Workers: 2},
		Import: config.ImportConfig{
			AffiliateTag: "dealsignal-20",
			Retailer:     "Amazon",
			Region:       "US",
		},
		Alerting: config.AlertingConfig{
			Enabled:  true,
			Signals:  []string{"historical_low"},
			Channels: []string{"telegram"},
		},
	}
}
