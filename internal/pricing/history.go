package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// keepaEpochOffsetMinutes is the distance between the Unix epoch and Keepa's minute epoch.
const keepaEpochOffsetMinutes int64 = 21_564_000

const day = 24 * time.Hour

// Standard windows used by the refresh job.
const (
	Window30d = 30
	Window90d = 90
)

// RawSeries is a provider price history flattened as [t0, p0, t1, p1, ...].
// Timestamps are provider minutes, prices are cents; a price <= 0 marks a gap.
type RawSeries []int64

// TimeDecoder converts a provider timestamp into an absolute instant.
type TimeDecoder func(ts int64) time.Time

// KeepaTime converts Keepa minutes into UTC.
func KeepaTime(minutes int64) time.Time {
	return time.Unix((minutes+keepaEpochOffsetMinutes)*60, 0).UTC()
}

// Sample is a single decoded point of a price history.
type Sample struct {
	At    time.Time
	Cents int64
}

// Valid reports whether the sample carries a price.
func (s Sample) Valid() bool {
	return s.Cents > 0
}

// Series is a decoded price history in source order (oldest first).
type Series struct {
	samples []Sample
}

// ParseSeries decodes raw pairs with the given decoder. Malformed input
// (odd length, fewer than one pair) yields an empty series.
func ParseSeries(raw RawSeries, decode TimeDecoder) Series {
	if len(raw) < 2 || len(raw)%2 != 0 {
		return Series{}
	}
	samples := make([]Sample, 0, len(raw)/2)
	for i := 0; i < len(raw); i += 2 {
		samples = append(samples, Sample{At: decode(raw[i]), Cents: raw[i+1]})
	}
	return Series{samples: samples}
}

// NewKeepaSeries decodes a Keepa csv series.
func NewKeepaSeries(raw RawSeries) Series {
	return ParseSeries(raw, KeepaTime)
}

// Len returns the number of decoded samples, valid or not.
func (s Series) Len() int {
	return len(s.samples)
}

// Samples returns a copy of the decoded samples.
func (s Series) Samples() []Sample {
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Current returns the most recent valid price.
func (s Series) Current() decimal.NullDecimal {
	for i := len(s.samples) - 1; i >= 0; i-- {
		if s.samples[i].Valid() {
			return present(s.samples[i].Cents)
		}
	}
	return decimal.NullDecimal{}
}

// AllTimeLow returns the lowest valid price over the whole series.
func (s Series) AllTimeLow() decimal.NullDecimal {
	lowest, ok := int64(0), false
	for _, sample := range s.samples {
		if !sample.Valid() {
			continue
		}
		if !ok || sample.Cents < lowest {
			lowest, ok = sample.Cents, true
		}
	}
	if !ok {
		return decimal.NullDecimal{}
	}
	return present(lowest)
}

// LowestSince returns the lowest valid price observed in [now-days, now].
func (s Series) LowestSince(days int, now time.Time) decimal.NullDecimal {
	lowest, ok := int64(0), false
	s.eachInWindow(days, now, func(cents int64) {
		if !ok || cents < lowest {
			lowest, ok = cents, true
		}
	})
	if !ok {
		return decimal.NullDecimal{}
	}
	return present(lowest)
}

// Average returns the mean valid price in [now-days, now], rounded to cents.
func (s Series) Average(days int, now time.Time) decimal.NullDecimal {
	var sum, count int64
	s.eachInWindow(days, now, func(cents int64) {
		sum += cents
		count++
	})
	if count == 0 {
		return decimal.NullDecimal{}
	}
	mean := decimal.New(sum, -2).Div(decimal.NewFromInt(count)).Round(2)
	return decimal.NewNullDecimal(mean)
}

func (s Series) eachInWindow(days int, now time.Time, fn func(cents int64)) {
	cutoff := now.Add(-time.Duration(days) * day)
	for _, sample := range s.samples {
		if !sample.Valid() || sample.At.Before(cutoff) || sample.At.After(now) {
			continue
		}
		fn(sample.Cents)
	}
}

// Metrics is the scalar summary of one price history.
type Metrics struct {
	Current    decimal.NullDecimal
	Average90  decimal.NullDecimal
	AllTimeLow decimal.NullDecimal
	Low90      decimal.NullDecimal
	Low30      decimal.NullDecimal
}

// HasCurrent reports whether a current price could be resolved.
func (m Metrics) HasCurrent() bool {
	return m.Current.Valid
}

// Extract reduces a Keepa series to its metrics relative to now.
func Extract(raw RawSeries, now time.Time) Metrics {
	return ExtractSeries(NewKeepaSeries(raw), now)
}

// ExtractSeries reduces an already decoded series.
func ExtractSeries(series Series, now time.Time) Metrics {
	return Metrics{
		Current:    series.Current(),
		Average90:  series.Average(Window90d, now),
		AllTimeLow: series.AllTimeLow(),
		Low90:      series.LowestSince(Window90d, now),
		Low30:      series.LowestSince(Window30d, now),
	}
}

func present(cents int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.New(cents, -2))
}
