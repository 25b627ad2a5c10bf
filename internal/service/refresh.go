package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"dealsignal/internal/keepa"
	"dealsignal/internal/pricing"
	"dealsignal/internal/storage"
)

var (
	errNoPrice = errors.New("no current price")
	errNoTitle = errors.New("no title")
)

// isSkip reports outcomes that leave the ledger untouched without being failures.
func isSkip(err error) bool {
	return errors.Is(err, errNoPrice) ||
		errors.Is(err, errNoTitle) ||
		errors.Is(err, pricing.ErrOutOfOrder) ||
		errors.Is(err, storage.ErrStaleObservation)
}

// CycleReport summarises one refresh or import run.
type CycleReport struct {
	Updated  int
	Skipped  int
	Failed   int
	LockHeld bool
}

type reportCounter struct {
	mu     sync.Mutex
	report CycleReport
}

func (c *reportCounter) add(updated, skipped, failed int) {
	c.mu.Lock()
	c.report.Updated += updated
	c.report.Skipped += skipped
	c.report.Failed += failed
	c.mu.Unlock()
}

// RefreshAll fetches every active product from Keepa and appends one
// observation per product. Per-product and per-batch failures are counted, not
// returned.
func (s *Service) RefreshAll(ctx context.Context) (CycleReport, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return CycleReport{}, err
	}
	if !proceed {
		s.logger.Info().Msg("skip refresh because advisory lock held elsewhere")
		return CycleReport{LockHeld: true}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	products, err := s.products.ListActiveProducts(ctx)
	if err != nil {
		return CycleReport{}, fmt.Errorf("list active products: %w", err)
	}

	started := time.Now()
	counter := &reportCounter{}

	byASIN := make(map[string]storage.Product, len(products))
	asins := make([]string, 0, len(products))
	for _, p := range products {
		asin := p.AmazonASIN.ValueOrZero()
		if asin == "" {
			continue
		}
		if kept, dup := byASIN[asin]; dup {
			s.logger.Warn().
				Str("product_id", p.ID).
				Str("asin", asin).
				Str("kept_product_id", kept.ID).
				Msg("skip product sharing an asin with another active product")
			counter.add(0, 1, 0)
			continue
		}
		byASIN[asin] = p
		asins = append(asins, asin)
	}

	g := errgroup.Group{}
	workers := s.workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)

	for _, batch := range keepa.Batches(asins, s.batchSize) {
		g.Go(func() error {
			s.refreshBatch(ctx, batch, byASIN, counter)
			return nil
		})
	}
	_ = g.Wait()

	report := counter.report
	s.logger.Info().
		Int("products", len(asins)).
		Int("updated", report.Updated).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Dur("elapsed", time.Since(started)).
		Msg("refresh cycle complete")

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (s *Service) refreshBatch(ctx context.Context, batch []string, byASIN map[string]storage.Product, counter *reportCounter) {
	fetched, err := s.fetcher.Products(ctx, batch)
	if err != nil {
		s.logger.Error().Err(err).Int("size", len(batch)).Msg("keepa batch failed")
		counter.add(0, 0, len(batch))
		return
	}

	seen := make(map[string]bool, len(fetched))
	for _, kp := range fetched {
		product, ok := byASIN[kp.ASIN]
		if !ok || seen[kp.ASIN] {
			continue
		}
		seen[kp.ASIN] = true

		switch err := s.refreshProduct(ctx, product, kp); {
		case err == nil:
			counter.add(1, 0, 0)
		case isSkip(err):
			s.logger.Debug().Err(err).Str("asin", kp.ASIN).Msg("product skipped")
			counter.add(0, 1, 0)
		default:
			s.logger.Error().Err(err).Str("asin", kp.ASIN).Str("product_id", product.ID).Msg("product refresh failed")
			counter.add(0, 0, 1)
		}
	}

	for _, asin := range batch {
		if !seen[asin] {
			s.logger.Warn().Str("asin", asin).Msg("keepa returned no product")
			counter.add(0, 1, 0)
		}
	}
}

func (s *Service) refreshProduct(ctx context.Context, product storage.Product, kp keepa.Product) error {
	now := s.clock.Now()
	metrics := ResolveMetrics(kp, now)
	if !metrics.HasCurrent() {
		return errNoPrice
	}

	prior, rec, err := s.appendPrice(ctx, product.ID, metrics, now)
	if err != nil {
		return err
	}

	s.logger.Debug().
		Str("product_id", product.ID).
		Str("current_price", rec.CurrentPrice.StringFixed(2)).
		Str("discount_percent", rec.DiscountPercent.String()).
		Msg("price recorded")

	s.maybeAlert(ctx, product, prior, rec, now)
	return nil
}
