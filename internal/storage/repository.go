package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guregu/null/v6"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"dealsignal/internal/pricing"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a product lookup matches nothing.
	ErrNotFound = errors.New("storage: not found")
	// ErrStaleObservation is returned when a price record is not newer than the latest stored one.
	ErrStaleObservation = errors.New("storage: stale price observation")
)

const productColumns = `
        p.id::text,
        p.name,
        p.display_name,
        p.teaser,
        p.category,
        p.platforms,
        p.retailer,
        p.region,
        p.rating::float8,
        p.review_count,
        p.image_url,
        p.amazon_asin,
        p.affiliate_url,
        p.is_active,
        p.created_at`

const priceColumns = `
        pr.product_id::text,
        pr.original_price::text,
        pr.current_price::text,
        pr.discount_percent::text,
        pr.all_time_low::text,
        pr.low_90d::text,
        pr.low_30d::text,
        pr.previous_price::text,
        pr.previous_checked_at,
        pr.checked_at`

const (
	upsertProductSQL = `INSERT INTO products AS p (
        name,
        category,
        platforms,
        retailer,
        region,
        rating,
        review_count,
        image_url,
        amazon_asin,
        affiliate_url,
        is_active
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,true
    )
    ON CONFLICT (amazon_asin) DO UPDATE
    SET
        name          = EXCLUDED.name,
        category      = EXCLUDED.category,
        platforms     = EXCLUDED.platforms,
        retailer      = EXCLUDED.retailer,
        region        = EXCLUDED.region,
        rating        = COALESCE(EXCLUDED.rating, p.rating),
        review_count  = COALESCE(EXCLUDED.review_count, p.review_count),
        image_url     = COALESCE(EXCLUDED.image_url, p.image_url),
        affiliate_url = EXCLUDED.affiliate_url,
        is_active     = true
    RETURNING` + productColumns + `;`

	listActiveProductsSQL = `SELECT` + productColumns + `
    FROM products p
    WHERE p.is_active
      AND p.amazon_asin IS NOT NULL
    ORDER BY p.created_at;`

	listProductsSQL = `SELECT` + productColumns + `
    FROM products p
    ORDER BY p.created_at;`

	findProductSQL = `SELECT` + productColumns + `
    FROM products p
    WHERE p.id::text = $1
       OR p.amazon_asin = $1
    LIMIT 1;`

	updatePlatformsSQL = `UPDATE products
    SET platforms = $2
    WHERE id = $1::uuid;`

	backfillRegionSQL = `UPDATE products
    SET region = $1
    WHERE region IS NULL;`

	latestPriceSQL = `SELECT` + priceColumns + `
    FROM prices pr
    WHERE pr.product_id = $1::uuid
    ORDER BY pr.checked_at DESC
    LIMIT 1;`

	listPriceHistorySQL = `SELECT * FROM (
        SELECT` + priceColumns + `
        FROM prices pr
        WHERE pr.product_id = $1::uuid
        ORDER BY pr.checked_at DESC
        LIMIT $2
    ) recent
    ORDER BY checked_at;`

	insertPriceSQL = `INSERT INTO prices (
        product_id,
        original_price,
        current_price,
        discount_percent,
        all_time_low,
        low_90d,
        low_30d,
        previous_price,
        previous_checked_at,
        checked_at
    )
    SELECT $1::uuid, $2::numeric, $3::numeric, $4::numeric, $5::numeric,
           $6::numeric, $7::numeric, $8::numeric, $9::timestamptz, $10::timestamptz
    WHERE NOT EXISTS (
        SELECT 1 FROM prices
        WHERE product_id = $1::uuid
          AND checked_at >= $10::timestamptz
    )
    ON CONFLICT (product_id, checked_at) DO NOTHING;`

	listDealsSQL = `SELECT` + productColumns + `,` + priceColumns + `
    FROM products p
    JOIN LATERAL (
        SELECT *
        FROM prices
        WHERE prices.product_id = p.id
        ORDER BY prices.checked_at DESC
        LIMIT 1
    ) pr ON true
    WHERE p.is_active
      AND pr.discount_percent > 0
      AND ($1::text IS NULL OR p.category = $1::text)
      AND ($2::text IS NULL OR $2::text = ANY(p.platforms))
    ORDER BY pr.checked_at DESC, p.id
    LIMIT $3;`

	listCategoriesSQL = `SELECT DISTINCT category
    FROM products
    WHERE is_active
    ORDER BY category;`

	insertClickSQL = `INSERT INTO clicks (
        product_id,
        partner_site,
        clicked_at
    ) VALUES (
        $1::uuid,$2,$3
    );`

	insertAlertSQL = `INSERT INTO deal_alerts (
        product_id,
        checked_at,
        signal,
        channels
    ) VALUES (
        $1::uuid,$2,$3,$4
    )
    ON CONFLICT (product_id, checked_at) DO UPDATE
    SET signal   = EXCLUDED.signal,
        channels = EXCLUDED.channels
    RETURNING id, product_id::text, checked_at, signal, channels, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        product_id::text,
        checked_at,
        signal,
        channels,
        created_at
    FROM deal_alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ProductStore covers the product catalogue.
type ProductStore interface {
	UpsertProduct(ctx context.Context, product Product) (Product, error)
	ListActiveProducts(ctx context.Context) ([]Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	FindProduct(ctx context.Context, ref string) (Product, error)
	UpdatePlatforms(ctx context.Context, productID string, platforms []string) error
	BackfillRegion(ctx context.Context, region string) (int64, error)
}

// PriceStore covers the append-only price ledger.
type PriceStore interface {
	LatestPrice(ctx context.Context, productID string) (*pricing.PriceRecord, error)
	InsertPriceRecord(ctx context.Context, rec pricing.PriceRecord) error
	ListPriceHistory(ctx context.Context, productID string, limit int) ([]pricing.PriceRecord, error)
}

// DealStore reads active deals.
type DealStore interface {
	ListDeals(ctx context.Context, filter DealFilter) ([]DealRow, error)
	ListCategories(ctx context.Context) ([]string, error)
}

// ClickStore records attribution clicks.
type ClickStore interface {
	InsertClick(ctx context.Context, click Click) error
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to products, prices, clicks and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertProduct creates or refreshes a product keyed by its ASIN.
func (s *Store) UpsertProduct(ctx context.Context, product Product) (Product, error) {
	pool, err := s.getPool()
	if err != nil {
		return Product{}, err
	}
	if !product.AmazonASIN.Valid || product.AmazonASIN.String == "" {
		return Product{}, fmt.Errorf("upsert product: asin is required")
	}

	platforms := product.Platforms
	if platforms == nil {
		platforms = []string{}
	}

	row := pool.QueryRow(ctx, upsertProductSQL,
		product.Name,
		product.Category,
		platforms,
		product.Retailer,
		product.Region,
		product.Rating,
		product.ReviewCount,
		product.ImageURL,
		product.AmazonASIN,
		product.AffiliateURL,
	)
	saved, err := scanProduct(row)
	if err != nil {
		return Product{}, fmt.Errorf("upsert product: %w", err)
	}
	return saved, nil
}

// ListActiveProducts lists active products that can be refreshed from Keepa.
func (s *Store) ListActiveProducts(ctx context.Context) ([]Product, error) {
	return s.listProducts(ctx, listActiveProductsSQL, "list active products")
}

// ListProducts lists the whole catalogue.
func (s *Store) ListProducts(ctx context.Context) ([]Product, error) {
	return s.listProducts(ctx, listProductsSQL, "list products")
}

func (s *Store) listProducts(ctx context.Context, query, op string) ([]Product, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query)
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		product, scanErr := scanProduct(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%s: %w", op, scanErr)
		}
		products = append(products, product)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return products, nil
}

// FindProduct looks a product up by id or ASIN.
func (s *Store) FindProduct(ctx context.Context, ref string) (Product, error) {
	pool, err := s.getPool()
	if err != nil {
		return Product{}, err
	}

	product, scanErr := scanProduct(pool.QueryRow(ctx, findProductSQL, ref))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("%w: product %q", ErrNotFound, ref)
	}
	if scanErr != nil {
		return Product{}, fmt.Errorf("find product: %w", scanErr)
	}
	return product, nil
}

// UpdatePlatforms replaces a product's platform tags.
func (s *Store) UpdatePlatforms(ctx context.Context, productID string, platforms []string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if platforms == nil {
		platforms = []string{}
	}
	cmdTag, execErr := pool.Exec(ctx, updatePlatformsSQL, productID, platforms)
	if execErr != nil {
		return fmt.Errorf("update platforms: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %q", ErrNotFound, productID)
	}
	return nil
}

// BackfillRegion sets region on every product that has none and returns the row count.
func (s *Store) BackfillRegion(ctx context.Context, region string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, err := pool.Exec(ctx, backfillRegionSQL, region)
	if err != nil {
		return 0, fmt.Errorf("backfill region: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

// LatestPrice returns the newest ledger entry for a product, or nil when none exists.
func (s *Store) LatestPrice(ctx context.Context, productID string) (*pricing.PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rec, scanErr := scanPriceRecord(pool.QueryRow(ctx, latestPriceSQL, productID))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return nil, nil
	}
	if scanErr != nil {
		return nil, fmt.Errorf("latest price: %w", scanErr)
	}
	return &rec, nil
}

// InsertPriceRecord appends to the ledger. Records not newer than the latest
// stored entry are rejected with ErrStaleObservation.
func (s *Store) InsertPriceRecord(ctx context.Context, rec pricing.PriceRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	cmdTag, execErr := pool.Exec(ctx, insertPriceSQL,
		rec.ProductID,
		rec.OriginalPrice.String(),
		rec.CurrentPrice.String(),
		rec.DiscountPercent.String(),
		nullDecimalArg(rec.AllTimeLow),
		nullDecimalArg(rec.Low90d),
		nullDecimalArg(rec.Low30d),
		nullDecimalArg(rec.PreviousPrice),
		rec.PreviousCheckedAt,
		rec.CheckedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert price record: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %s at %s", ErrStaleObservation, rec.ProductID,
			rec.CheckedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// ListPriceHistory returns up to limit of the newest ledger entries in ascending order.
func (s *Store) ListPriceHistory(ctx context.Context, productID string, limit int) ([]pricing.PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPriceHistorySQL, productID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list price history: %w", queryErr)
	}
	defer rows.Close()

	records := make([]pricing.PriceRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanPriceRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("list price history: %w", scanErr)
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// ListDeals joins active products with their latest discounted price record.
func (s *Store) ListDeals(ctx context.Context, filter DealFilter) ([]DealRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var category, platform, limit interface{}
	if filter.Category != "" {
		category = filter.Category
	}
	if filter.Platform != "" {
		platform = filter.Platform
	}
	if filter.Limit > 0 {
		limit = filter.Limit
	}

	rows, queryErr := pool.Query(ctx, listDealsSQL, category, platform, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list deals: %w", queryErr)
	}
	defer rows.Close()

	deals := make([]DealRow, 0)
	for rows.Next() {
		var (
			product productScan
			price   priceScan
		)
		dest := append(product.dest(), price.dest()...)
		if scanErr := rows.Scan(dest...); scanErr != nil {
			return nil, fmt.Errorf("list deals: %w", scanErr)
		}
		rec, convErr := price.record()
		if convErr != nil {
			return nil, fmt.Errorf("list deals: %w", convErr)
		}
		deals = append(deals, DealRow{Product: product.product(), Price: rec})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return deals, nil
}

// ListCategories returns the distinct categories of active products.
func (s *Store) ListCategories(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCategoriesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list categories: %w", queryErr)
	}
	categories, collectErr := pgx.CollectRows(rows, pgx.RowTo[string])
	if collectErr != nil {
		return nil, fmt.Errorf("list categories: %w", collectErr)
	}
	return categories, nil
}

// InsertClick stores one click.
func (s *Store) InsertClick(ctx context.Context, click Click) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	clickedAt := click.ClickedAt
	if clickedAt.IsZero() {
		clickedAt = time.Now().UTC()
	}
	if _, execErr := pool.Exec(ctx, insertClickSQL, click.ProductID, click.PartnerSite, clickedAt); execErr != nil {
		return fmt.Errorf("insert click: %w", execErr)
	}
	return nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	channels := alert.Channels
	if channels == nil {
		channels = []string{}
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.ProductID,
		alert.CheckedAt,
		string(alert.Signal),
		channels,
	)
	rec, scanErr := scanAlert(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanAlert(row pgx.Row) (AlertRecord, error) {
	var (
		rec    AlertRecord
		signal string
	)
	if err := row.Scan(&rec.ID, &rec.ProductID, &rec.CheckedAt, &signal, &rec.Channels, &rec.CreatedAt); err != nil {
		return AlertRecord{}, err
	}
	parsed, err := pricing.ParseSignal(signal)
	if err != nil {
		return AlertRecord{}, err
	}
	rec.Signal = parsed
	return rec, nil
}

type productScan struct {
	p Product
}

func (s *productScan) dest() []interface{} {
	return []interface{}{
		&s.p.ID,
		&s.p.Name,
		&s.p.DisplayName,
		&s.p.Teaser,
		&s.p.Category,
		&s.p.Platforms,
		&s.p.Retailer,
		&s.p.Region,
		&s.p.Rating,
		&s.p.ReviewCount,
		&s.p.ImageURL,
		&s.p.AmazonASIN,
		&s.p.AffiliateURL,
		&s.p.IsActive,
		&s.p.CreatedAt,
	}
}

func (s *productScan) product() Product {
	if s.p.Platforms == nil {
		s.p.Platforms = []string{}
	}
	return s.p
}

func scanProduct(row pgx.Row) (Product, error) {
	var scan productScan
	if err := row.Scan(scan.dest()...); err != nil {
		return Product{}, err
	}
	return scan.product(), nil
}

type priceScan struct {
	productID         string
	originalStr       string
	currentStr        string
	discountStr       string
	allTimeLow        null.String
	low90d            null.String
	low30d            null.String
	previous          null.String
	previousCheckedAt *time.Time
	checkedAt         time.Time
}

func (s *priceScan) dest() []interface{} {
	return []interface{}{
		&s.productID,
		&s.originalStr,
		&s.currentStr,
		&s.discountStr,
		&s.allTimeLow,
		&s.low90d,
		&s.low30d,
		&s.previous,
		&s.previousCheckedAt,
		&s.checkedAt,
	}
}

func (s *priceScan) record() (pricing.PriceRecord, error) {
	rec := pricing.PriceRecord{
		ProductID:         s.productID,
		PreviousCheckedAt: s.previousCheckedAt,
		CheckedAt:         s.checkedAt,
	}

	var err error
	if rec.OriginalPrice, err = decimal.NewFromString(s.originalStr); err != nil {
		return pricing.PriceRecord{}, fmt.Errorf("parse original price: %w", err)
	}
	if rec.CurrentPrice, err = decimal.NewFromString(s.currentStr); err != nil {
		return pricing.PriceRecord{}, fmt.Errorf("parse current price: %w", err)
	}
	if rec.DiscountPercent, err = decimal.NewFromString(s.discountStr); err != nil {
		return pricing.PriceRecord{}, fmt.Errorf("parse discount percent: %w", err)
	}
	if rec.AllTimeLow, err = parseNullDecimal(s.allTimeLow); err != nil {
		return pricing.PriceRecord{}, fmt.Errorf("parse all time low: %w", err)
	}
	if rec.Low90d, err = parseNullDecimal(s.low90d); err != nil {
		return pricing.PriceRecord{}, fmt.Errorf("parse 90d low: %w", err)
	}
	if rec.Low30d, err = parseNullDecimal(s.low30d); err != nil {
		return pricing.PriceRecord{}, fmt.Errorf("parse 30d low: %w", err)
	}
	if rec.PreviousPrice, err = parseNullDecimal(s.previous); err != nil {
		return pricing.PriceRecord{}, fmt.Errorf("parse previous price: %w", err)
	}
	return rec, nil
}

func scanPriceRecord(row pgx.Row) (pricing.PriceRecord, error) {
	var scan priceScan
	if err := row.Scan(scan.dest()...); err != nil {
		return pricing.PriceRecord{}, err
	}
	return scan.record()
}

func parseNullDecimal(v null.String) (decimal.NullDecimal, error) {
	if !v.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func nullDecimalArg(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

// NullString is a helper for callers building optional text columns.
func NullString(s string) null.String {
	return null.NewString(s, s != "")
}
