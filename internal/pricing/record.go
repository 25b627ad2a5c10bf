package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrOutOfOrder is returned when an observation does not follow its predecessor.
var ErrOutOfOrder = errors.New("pricing: observation out of order")

var hundred = decimal.NewFromInt(100)

// PriceRecord is one entry of a product's append-only price ledger.
type PriceRecord struct {
	ProductID         string
	OriginalPrice     decimal.Decimal
	CurrentPrice      decimal.Decimal
	DiscountPercent   decimal.Decimal
	AllTimeLow        decimal.NullDecimal
	Low90d            decimal.NullDecimal
	Low30d            decimal.NullDecimal
	PreviousPrice     decimal.NullDecimal
	PreviousCheckedAt *time.Time
	CheckedAt         time.Time
}

// AppendObservation builds the next ledger entry for a product. It returns
// false when the metrics carry no current price; no record is produced then.
func AppendObservation(productID string, metrics Metrics, prior *PriceRecord, observedAt time.Time) (PriceRecord, bool) {
	if !metrics.Current.Valid {
		return PriceRecord{}, false
	}
	current := metrics.Current.Decimal

	rec := PriceRecord{
		ProductID:    productID,
		CurrentPrice: current,
		AllTimeLow:   metrics.AllTimeLow,
		Low90d:       metrics.Low90,
		Low30d:       metrics.Low30,
		CheckedAt:    observedAt,
	}

	switch {
	case prior != nil:
		rec.OriginalPrice = prior.OriginalPrice
		rec.PreviousPrice = decimal.NewNullDecimal(prior.CurrentPrice)
		checked := prior.CheckedAt
		rec.PreviousCheckedAt = &checked
	case metrics.Average90.Valid:
		rec.OriginalPrice = metrics.Average90.Decimal
	default:
		rec.OriginalPrice = current
	}

	rec.DiscountPercent = DiscountPercent(rec.OriginalPrice, current)
	return rec, true
}

// DiscountPercent returns the whole-percent markdown from original to current, never negative.
func DiscountPercent(original, current decimal.Decimal) decimal.Decimal {
	if !original.IsPositive() {
		return decimal.Zero
	}
	pct := original.Sub(current).Div(original).Mul(hundred).Round(0)
	if pct.IsNegative() {
		return decimal.Zero
	}
	return pct
}

// ValidateSuccessor checks that next may be appended after prior.
func ValidateSuccessor(prior *PriceRecord, next PriceRecord) error {
	if prior == nil {
		return nil
	}
	if prior.ProductID != next.ProductID {
		return fmt.Errorf("%w: product %s follows product %s", ErrOutOfOrder, next.ProductID, prior.ProductID)
	}
	if !next.CheckedAt.After(prior.CheckedAt) {
		return fmt.Errorf("%w: %s is not after %s", ErrOutOfOrder,
			next.CheckedAt.UTC().Format(time.RFC3339), prior.CheckedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// IsActiveDeal reports whether the record shows a positive discount.
func (r PriceRecord) IsActiveDeal() bool {
	return r.DiscountPercent.IsPositive()
}

// Observation converts the record into classifier input.
func (r PriceRecord) Observation() Observation {
	obs := Observation{
		Current:       r.CurrentPrice,
		AllTimeLow:    r.AllTimeLow,
		Low90d:        r.Low90d,
		Low30d:        r.Low30d,
		PreviousPrice: r.PreviousPrice,
	}
	if r.PreviousCheckedAt != nil {
		obs.PreviousCheckedAt = *r.PreviousCheckedAt
	} else {
		obs.PreviousPrice = decimal.NullDecimal{}
	}
	return obs
}

// Signal classifies the record at now.
func (r PriceRecord) Signal(now time.Time) Signal {
	return Classify(r.Observation(), now)
}
