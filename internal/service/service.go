package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"dealsignal/internal/alerting"
	"dealsignal/internal/clock"
	"dealsignal/internal/config"
	"dealsignal/internal/keepa"
	"dealsignal/internal/pricing"
	"dealsignal/internal/scheduler"
	"dealsignal/internal/storage"
)

// Dependencies bundles the collaborators of a Service.
type Dependencies struct {
	Scheduler *scheduler.Scheduler
	Fetcher   keepa.ProductFetcher
	Products  storage.ProductStore
	Prices    storage.PriceStore
	Alerts    storage.AlertStore
	Notifier  alerting.Notifier
	Clock     clock.Clock
}

// Service orchestrates Keepa fetches, ledger appends and alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	fetcher   keepa.ProductFetcher
	products  storage.ProductStore
	prices    storage.PriceStore
	alerts    storage.AlertStore
	notifier  alerting.Notifier
	clock     clock.Clock
	logger    zerolog.Logger

	batchSize    int
	workers      int
	alertsOn     bool
	alertSignals []pricing.Signal
	channels     []string
	affiliateTag string
	retailer     string
	region       string
	locker       storage.AdvisoryLocker
	lockKey      int64
}

// New constructs the service.
func New(cfg *config.Config, deps Dependencies, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := deps.Products.(storage.AdvisoryLocker); ok {
		locker = l
	}

	clk := deps.Clock
	if clk == nil {
		clk = clock.System{}
	}

	return &Service{
		scheduler:    deps.Scheduler,
		fetcher:      deps.Fetcher,
		products:     deps.Products,
		prices:       deps.Prices,
		alerts:       deps.Alerts,
		notifier:     deps.Notifier,
		clock:        clk,
		logger:       logger.With().Str("component", "service").Logger(),
		batchSize:    cfg.Keepa.BatchSize,
		workers:      cfg.Refresh.Workers,
		alertsOn:     cfg.Alerting.Enabled,
		alertSignals: cfg.AlertSignals(),
		channels:     cfg.Alerting.Channels,
		affiliateTag: cfg.Import.AffiliateTag,
		retailer:     cfg.Import.Retailer,
		region:       cfg.Import.Region,
		locker:       locker,
		lockKey:      cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the scheduled refresh loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, _ time.Time) error {
		_, err := s.RefreshAll(ctx)
		return err
	})
}

// ResolveMetrics extracts metrics from the Amazon series and falls back to the
// New series only when the Amazon series has no current price.
func ResolveMetrics(p keepa.Product, now time.Time) pricing.Metrics {
	primary := pricing.Extract(p.Series(keepa.SeriesAmazon), now)
	if primary.HasCurrent() {
		return primary
	}
	return pricing.Extract(p.Series(keepa.SeriesNew), now)
}

// appendPrice computes and stores the next ledger entry for a product.
func (s *Service) appendPrice(ctx context.Context, productID string, metrics pricing.Metrics, now time.Time) (*pricing.PriceRecord, pricing.PriceRecord, error) {
	prior, err := s.prices.LatestPrice(ctx, productID)
	if err != nil {
		return nil, pricing.PriceRecord{}, fmt.Errorf("load latest price: %w", err)
	}

	rec, ok := pricing.AppendObservation(productID, metrics, prior, now)
	if !ok {
		return prior, pricing.PriceRecord{}, errNoPrice
	}
	if err := pricing.ValidateSuccessor(prior, rec); err != nil {
		return prior, pricing.PriceRecord{}, err
	}
	if err := s.prices.InsertPriceRecord(ctx, rec); err != nil {
		return prior, pricing.PriceRecord{}, err
	}
	return prior, rec, nil
}

func (s *Service) maybeAlert(ctx context.Context, product storage.Product, prior *pricing.PriceRecord, rec pricing.PriceRecord, now time.Time) {
	if !s.alertsOn || s.notifier == nil {
		return
	}

	signal := rec.Signal(now)
	if signal.IsNone() || !slices.Contains(s.alertSignals, signal) {
		return
	}
	if prior != nil && prior.Signal(prior.CheckedAt) == signal {
		return
	}

	log := s.logger.With().Str("product_id", product.ID).Str("signal", signal.String()).Logger()

	if s.alerts != nil {
		record := storage.AlertRecord{
			ProductID: product.ID,
			CheckedAt: rec.CheckedAt,
			Signal:    signal,
			Channels:  s.channels,
		}
		if _, err := s.alerts.InsertAlert(ctx, record); err != nil {
			log.Error().Err(err).Msg("failed to persist alert record")
		}
	}

	note := alerting.Notification{
		ProductID:       product.ID,
		Name:            product.Name,
		Signal:          signal,
		CurrentPrice:    rec.CurrentPrice,
		OriginalPrice:   rec.OriginalPrice,
		DiscountPercent: rec.DiscountPercent,
		AllTimeLow:      rec.AllTimeLow,
		AffiliateURL:    product.AffiliateURL.ValueOrZero(),
		CheckedAt:       rec.CheckedAt,
		Channels:        s.channels,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		log.Error().Err(err).Msg("failed to dispatch alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
