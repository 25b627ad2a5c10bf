package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/guregu/null/v6"

	"dealsignal/internal/keepa"
	"dealsignal/internal/storage"
)

// DedupeASINs trims, upper-cases and removes duplicate ASINs preserving order.
func DedupeASINs(asins []string) []string {
	seen := make(map[string]struct{}, len(asins))
	out := make([]string, 0, len(asins))
	for _, raw := range asins {
		asin := strings.ToUpper(strings.TrimSpace(raw))
		if asin == "" {
			continue
		}
		if _, ok := seen[asin]; ok {
			continue
		}
		seen[asin] = struct{}{}
		out = append(out, asin)
	}
	return out
}

// AffiliateURL builds the tagged Amazon product link.
func AffiliateURL(asin, tag string) string {
	link := "https://www.amazon.com/dp/" + url.PathEscape(asin)
	if tag == "" {
		return link
	}
	return link + "?tag=" + url.QueryEscape(tag)
}

// Import fetches asins from Keepa, upserts their products and records an observation.
func (s *Service) Import(ctx context.Context, asins []string) (CycleReport, error) {
	asins = DedupeASINs(asins)
	if len(asins) == 0 {
		return CycleReport{}, fmt.Errorf("no asins to import")
	}

	var report CycleReport
	for _, batch := range keepa.Batches(asins, s.batchSize) {
		fetched, err := s.fetcher.Products(ctx, batch)
		if err != nil {
			return report, fmt.Errorf("fetch keepa batch: %w", err)
		}
		s.logger.Info().Int("requested", len(batch)).Int("received", len(fetched)).Msg("importing keepa batch")

		for _, kp := range fetched {
			switch err := s.importProduct(ctx, kp); {
			case err == nil:
				report.Updated++
			case isSkip(err):
				s.logger.Info().Str("asin", kp.ASIN).Err(err).Msg("skipping product")
				report.Skipped++
			default:
				s.logger.Error().Err(err).Str("asin", kp.ASIN).Msg("import failed")
				report.Failed++
			}
		}
	}

	s.logger.Info().Int("imported", report.Updated).Int("skipped", report.Skipped).
		Int("failed", report.Failed).Msg("import complete")
	return report, nil
}

func (s *Service) importProduct(ctx context.Context, kp keepa.Product) error {
	title := strings.TrimSpace(kp.Title)
	if title == "" {
		return errNoTitle
	}

	now := s.clock.Now()
	metrics := ResolveMetrics(kp, now)
	if !metrics.HasCurrent() {
		return errNoPrice
	}

	category := DetectCategory(title)
	product := storage.Product{
		Name:         title,
		Category:     category,
		Platforms:    DetectPlatforms(title, category),
		Retailer:     s.retailer,
		Region:       storage.NullString(s.region),
		ImageURL:     storage.NullString(kp.ImageURL()),
		AmazonASIN:   null.StringFrom(kp.ASIN),
		AffiliateURL: null.StringFrom(AffiliateURL(kp.ASIN, s.affiliateTag)),
		IsActive:     true,
	}
	if rating, ok := kp.Rating(); ok {
		product.Rating = null.FloatFrom(rating)
	}
	if count, ok := kp.ReviewCount(); ok {
		product.ReviewCount = null.IntFrom(count)
	}

	saved, err := s.products.UpsertProduct(ctx, product)
	if err != nil {
		return err
	}

	prior, rec, err := s.appendPrice(ctx, saved.ID, metrics, now)
	if err != nil {
		return err
	}
	s.maybeAlert(ctx, saved, prior, rec, now)
	return nil
}

// Retag recomputes platform tags for every product and returns how many were
// updated. Products without a region get the configured one.
func (s *Service) Retag(ctx context.Context) (int, error) {
	if s.region != "" {
		filled, err := s.products.BackfillRegion(ctx, s.region)
		if err != nil {
			return 0, err
		}
		s.logger.Info().Int64("products", filled).Str("region", s.region).Msg("region backfilled")
	}

	products, err := s.products.ListProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list products: %w", err)
	}

	updated := 0
	for _, p := range products {
		platforms := DetectPlatforms(p.Name, p.Category)
		if err := s.products.UpdatePlatforms(ctx, p.ID, platforms); err != nil {
			s.logger.Error().Err(err).Str("product_id", p.ID).Msg("failed to update platforms")
			continue
		}
		s.logger.Debug().Str("product_id", p.ID).Strs("platforms", platforms).Msg("platforms updated")
		updated++
	}

	s.logger.Info().Int("updated", updated).Int("total", len(products)).Msg("retag complete")
	return updated, nil
}
