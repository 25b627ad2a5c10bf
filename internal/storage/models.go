package storage

import (
	"time"

	"github.com/guregu/null/v6"

	"dealsignal/internal/pricing"
)

// Product is the mutable catalogue entry a price ledger hangs off.
type Product struct {
	ID           string
	Name         string
	DisplayName  null.String
	Teaser       null.String
	Category     string
	Platforms    []string
	Retailer     string
	Region       null.String
	Rating       null.Float
	ReviewCount  null.Int
	ImageURL     null.String
	AmazonASIN   null.String
	AffiliateURL null.String
	IsActive     bool
	CreatedAt    time.Time
}

// DealRow joins a product with its latest price record.
type DealRow struct {
	Product Product
	Price   pricing.PriceRecord
}

// DealFilter narrows the active deal listing.
type DealFilter struct {
	Category string
	Platform string
	// Limit <= 0 means no limit.
	Limit int
}

// Click is an attribution event from the widget or the deals page.
type Click struct {
	ProductID   string
	PartnerSite null.String
	ClickedAt   time.Time
}

// AlertRecord captures an emitted deal alert for auditing.
type AlertRecord struct {
	ID        int64
	ProductID string
	CheckedAt time.Time
	Signal    pricing.Signal
	Channels  []string
	CreatedAt time.Time
}
