package pricing

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productID = "3f1c2d4e-0000-4000-8000-000000000001"

func TestAppendObservation_NoCurrentPrice(t *testing.T) {
	_, ok := AppendObservation(productID, Metrics{Average90: nd("10")}, nil, refNow)
	assert.False(t, ok)
}

func TestAppendObservation_FirstRecordUsesAverage(t *testing.T) {
	m := Metrics{Current: nd("79.99"), Average90: nd("84.99"), AllTimeLow: nd("79.99"), Low90: nd("79.99"), Low30: nd("79.99")}

	rec, ok := AppendObservation(productID, m, nil, refNow)
	require.True(t, ok)

	assert.Equal(t, productID, rec.ProductID)
	assert.True(t, dec("84.99").Equal(rec.OriginalPrice))
	assert.True(t, dec("79.99").Equal(rec.CurrentPrice))
	assert.True(t, dec("6").Equal(rec.DiscountPercent), "got %s", rec.DiscountPercent)
	assert.False(t, rec.PreviousPrice.Valid)
	assert.Nil(t, rec.PreviousCheckedAt)
	assert.Equal(t, refNow, rec.CheckedAt)
	assert.True(t, rec.IsActiveDeal())
}

func TestAppendObservation_FirstRecordWithoutAverage(t *testing.T) {
	rec, ok := AppendObservation(productID, Metrics{Current: nd("79.99")}, nil, refNow)
	require.True(t, ok)
	assert.True(t, dec("79.99").Equal(rec.OriginalPrice))
	assert.True(t, rec.DiscountPercent.IsZero())
	assert.False(t, rec.IsActiveDeal())
}

func TestAppendObservation_SequenceCarriesForward(t *testing.T) {
	first, ok := AppendObservation(productID, Metrics{Current: nd("100"), Average90: nd("120")}, nil, refNow)
	require.True(t, ok)

	later := refNow.Add(24 * time.Hour)
	second, ok := AppendObservation(productID, Metrics{Current: nd("90"), Average90: nd("95")}, &first, later)
	require.True(t, ok)

	assert.True(t, first.CurrentPrice.Equal(second.PreviousPrice.Decimal))
	assert.True(t, second.PreviousPrice.Valid)
	require.NotNil(t, second.PreviousCheckedAt)
	assert.Equal(t, first.CheckedAt, *second.PreviousCheckedAt)
	assert.True(t, dec("120").Equal(second.OriginalPrice), "original price must persist")
	assert.True(t, dec("25").Equal(second.DiscountPercent))
	assert.NoError(t, ValidateSuccessor(&first, second))
}

func TestAppendObservation_DiscountClampedAtZero(t *testing.T) {
	prior := PriceRecord{ProductID: productID, OriginalPrice: dec("50"), CurrentPrice: dec("50"), CheckedAt: refNow}

	rec, ok := AppendObservation(productID, Metrics{Current: nd("65")}, &prior, refNow.Add(time.Hour))
	require.True(t, ok)
	assert.True(t, rec.DiscountPercent.IsZero())
	assert.False(t, rec.DiscountPercent.IsNegative())
	assert.False(t, rec.IsActiveDeal())
}

func TestDiscountPercent(t *testing.T) {
	assert.True(t, dec("33").Equal(DiscountPercent(dec("29.99"), dec("19.99"))))
	assert.True(t, dec("1").Equal(DiscountPercent(dec("100"), dec("99.49"))))
	assert.True(t, DiscountPercent(decimal.Zero, dec("10")).IsZero())
	assert.True(t, DiscountPercent(dec("10"), dec("12")).IsZero())
}

func TestValidateSuccessor(t *testing.T) {
	prior := PriceRecord{ProductID: productID, CheckedAt: refNow}

	assert.NoError(t, ValidateSuccessor(nil, prior))

	err := ValidateSuccessor(&prior, PriceRecord{ProductID: productID, CheckedAt: refNow})
	assert.True(t, errors.Is(err, ErrOutOfOrder))

	err = ValidateSuccessor(&prior, PriceRecord{ProductID: productID, CheckedAt: refNow.Add(-time.Minute)})
	assert.ErrorIs(t, err, ErrOutOfOrder)

	err = ValidateSuccessor(&prior, PriceRecord{ProductID: "other", CheckedAt: refNow.Add(time.Hour)})
	assert.ErrorIs(t, err, ErrOutOfOrder)
}

func TestPriceRecord_SignalFromLedger(t *testing.T) {
	m := Metrics{Current: nd("90"), AllTimeLow: nd("70"), Low90: nd("80"), Low30: nd("85")}
	prior := PriceRecord{ProductID: productID, OriginalPrice: dec("120"), CurrentPrice: dec("100"), CheckedAt: refNow}

	rec, ok := AppendObservation(productID, m, &prior, refNow.Add(12*time.Hour))
	require.True(t, ok)

	assert.Equal(t, SignalRecentDrop, rec.Signal(refNow.Add(13*time.Hour)))
	assert.Equal(t, SignalNone, rec.Signal(refNow.Add(25*time.Hour)))

	orphan := rec
	orphan.PreviousCheckedAt = nil
	assert.False(t, orphan.Observation().PreviousPrice.Valid)
}
