package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealsignal/internal/clock"
	"dealsignal/internal/keepa"
	"dealsignal/internal/storage"
)

type harness struct {
	svc      *Service
	store    *fakeStore
	fetcher  *fakeFetcher
	notifier *recordingNotifier
	clock    *clock.Fixed
}

func newHarness() *harness {
	h := &harness{
		store:    newFakeStore(),
		fetcher:  &fakeFetcher{products: map[string]keepa.Product{}, failFor: map[string]bool{}},
		notifier: &recordingNotifier{},
		clock:    clock.NewFixed(refNow),
	}
	h.svc = New(testConfig(), Dependencies{
		Fetcher:  h.fetcher,
		Products: h.store,
		Prices:   h.store,
		Alerts:   h.store,
		Notifier: h.notifier,
		Clock:    h.clock,
	}, zerolog.Nop())
	return h
}

func TestRefreshAll_EndToEndScenario(t *testing.T) {
	h := newHarness()
	p := h.store.addProduct("B0TEST0001", "Wireless Controller", "controllers")
	h.fetcher.products["B0TEST0001"] = keepaProduct("B0TEST0001", "Wireless Controller",
		seriesJSON(daysAgo(200), 0, daysAgo(45), 8999, daysAgo(20), -1, daysAgo(10), 7999), nil)

	report, err := h.svc.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleReport{Updated: 1}, report)

	ledger := h.store.prices[p.ID]
	require.Len(t, ledger, 1)
	rec := ledger[0]
	assert.True(t, decimal.RequireFromString("84.99").Equal(rec.OriginalPrice))
	assert.True(t, decimal.RequireFromString("79.99").Equal(rec.CurrentPrice))
	assert.True(t, decimal.NewFromInt(6).Equal(rec.DiscountPercent))
	assert.Equal(t, refNow, rec.CheckedAt)

	require.Len(t, h.notifier.notes, 1)
	assert.Equal(t, "historical_low", h.notifier.notes[0].Signal.String())
	require.Len(t, h.store.alerts, 1)
	assert.Equal(t, p.ID, h.store.alerts[0].ProductID)
}

func TestRefreshAll_SecondCycleCarriesForwardWithoutRepeatAlert(t *testing.T) {
	h := newHarness()
	p := h.store.addProduct("B0TEST0001", "Wireless Controller", "controllers")
	h.fetcher.products["B0TEST0001"] = keepaProduct("B0TEST0001", "Wireless Controller",
		seriesJSON(daysAgo(45), 8999, daysAgo(10), 7999), nil)

	_, err := h.svc.RefreshAll(context.Background())
	require.NoError(t, err)

	h.clock.Advance(24 * time.Hour)
	report, err := h.svc.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)

	ledger := h.store.prices[p.ID]
	require.Len(t, ledger, 2)
	assert.True(t, ledger[0].OriginalPrice.Equal(ledger[1].OriginalPrice))
	assert.True(t, ledger[1].PreviousPrice.Valid)
	require.NotNil(t, ledger[1].PreviousCheckedAt)
	assert.Equal(t, ledger[0].CheckedAt, *ledger[1].PreviousCheckedAt)

	assert.Len(t, h.notifier.notes, 1, "unchanged signal must not alert twice")
}

func TestRefreshAll_SameInstantIsSkipped(t *testing.T) {
	h := newHarness()
	h.store.addProduct("B0TEST0001", "Mouse", "mice")
	h.fetcher.products["B0TEST0001"] = keepaProduct("B0TEST0001", "Mouse", seriesJSON(daysAgo(1), 1000), nil)

	_, err := h.svc.RefreshAll(context.Background())
	require.NoError(t, err)

	report, err := h.svc.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleReport{Skipped: 1}, report, "re-running at the same instant appends nothing")
	assert.Len(t, h.store.prices, 1)
}

func TestRefreshAll_FailuresAreCounted(t *testing.T) {
	h := newHarness()
	ok := h.store.addProduct("B0OK000001", "Keyboard", "keyboards")
	broken := h.store.addProduct("B0BROKEN01", "Headset", "headsets")
	h.store.addProduct("B0NOPRICE1", "Monitor", "monitors")
	h.store.addProduct("B0OK000002", "Mouse", "mice")
	h.store.addProduct("B0DOWN0001", "Chair", "chairs")

	h.fetcher.products["B0OK000001"] = keepaProduct("B0OK000001", "Keyboard", seriesJSON(daysAgo(1), 5000), nil)
	h.fetcher.products["B0OK000002"] = keepaProduct("B0OK000002", "Mouse", seriesJSON(daysAgo(1), 2500), nil)
	h.fetcher.products["B0BROKEN01"] = keepaProduct("B0BROKEN01", "Headset", seriesJSON(daysAgo(1), 6000), nil)
	h.fetcher.products["B0NOPRICE1"] = keepaProduct("B0NOPRICE1", "Monitor", seriesJSON(daysAgo(1), -1), nil)
	h.fetcher.failFor["B0DOWN0001"] = true
	h.store.insertErr[broken.ID] = errors.New("disk full")

	report, err := h.svc.RefreshAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Updated)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 2, report.Failed, "one failed insert plus one failed single-product batch")
	assert.Len(t, h.store.prices[ok.ID], 1)
}

func TestRefreshAll_FallsBackToNewSeries(t *testing.T) {
	h := newHarness()
	p := h.store.addProduct("B0TEST0001", "Webcam", "webcams")
	h.fetcher.products["B0TEST0001"] = keepaProduct("B0TEST0001", "Webcam",
		seriesJSON(daysAgo(5), -1), seriesJSON(daysAgo(5), 4599))

	_, err := h.svc.RefreshAll(context.Background())
	require.NoError(t, err)
	require.Len(t, h.store.prices[p.ID], 1)
	assert.True(t, decimal.RequireFromString("45.99").Equal(h.store.prices[p.ID][0].CurrentPrice))
}

func TestRefreshAll_AlertsDisabled(t *testing.T) {
	h := newHarness()
	h.svc.alertsOn = false
	h.store.addProduct("B0TEST0001", "Mouse", "mice")
	h.fetcher.products["B0TEST0001"] = keepaProduct("B0TEST0001", "Mouse", seriesJSON(daysAgo(1), 1000), nil)

	_, err := h.svc.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.notifier.notes)
	assert.Empty(t, h.store.alerts)
}

type heldLocker struct{ *fakeStore }

func (heldLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	return nil, false, nil
}

func TestRefreshAll_SkipsWhenLockHeld(t *testing.T) {
	h := newHarness()
	cfg := testConfig()
	cfg.Scheduler.AdvisoryLockKey = 42
	locked := heldLocker{h.store}
	svc := New(cfg, Dependencies{Fetcher: h.fetcher, Products: locked, Prices: h.store, Clock: h.clock}, zerolog.Nop())

	report, err := svc.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.True(t, report.LockHeld)
	assert.Empty(t, h.fetcher.calls)
}

func TestRefreshAll_DuplicateASINIsCountedAsSkipped(t *testing.T) {
	h := newHarness()
	first := h.store.addProduct("B0DUP00001", "Wireless Controller", "controllers")
	second := h.store.addProduct("B0DUP00001", "Wireless Controller (listing 2)", "controllers")
	h.fetcher.products["B0DUP00001"] = keepaProduct("B0DUP00001", "Wireless Controller",
		seriesJSON(daysAgo(3), 5999), nil)

	report, err := h.svc.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleReport{Updated: 1, Skipped: 1}, report)
	assert.Len(t, h.store.prices[first.ID], 1)
	assert.Empty(t, h.store.prices[second.ID])
}

func TestRefreshAll_BatchesRespectSize(t *testing.T) {
	h := newHarness()
	for _, asin := range []string{"B0A", "B0B", "B0C", "B0D", "B0E"} {
		h.store.addProduct(asin, "Mouse "+asin, "mice")
		h.fetcher.products[asin] = keepaProduct(asin, "Mouse", seriesJSON(daysAgo(1), 1000), nil)
	}

	report, err := h.svc.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Updated)
	assert.Len(t, h.fetcher.calls, 3)
	for _, call := range h.fetcher.calls {
		assert.LessOrEqual(t, len(call), 2)
	}
}

var _ storage.AdvisoryLocker = heldLocker{}
