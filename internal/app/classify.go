package app

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"dealsignal/internal/pricing"
)

// Classify labels an ad-hoc observation without touching storage.
func (a *App) Classify(opts ClassifyOptions) (pricing.Signal, error) {
	now := a.Clock.Now()
	obs, err := buildObservation(opts, now)
	if err != nil {
		return pricing.SignalNone, err
	}
	signal := pricing.Classify(obs, now)
	a.Logger.Debug().Str("signal", signal.String()).Msg("observation classified")
	return signal, nil
}

func buildObservation(opts ClassifyOptions, now time.Time) (pricing.Observation, error) {
	if opts.Current == "" {
		return pricing.Observation{}, fmt.Errorf("--current is required")
	}
	current, err := decimal.NewFromString(opts.Current)
	if err != nil {
		return pricing.Observation{}, fmt.Errorf("invalid --current: %w", err)
	}

	obs := pricing.Observation{Current: current}
	fields := []struct {
		flag   string
		raw    string
		target *decimal.NullDecimal
	}{
		{"--atl", opts.AllTimeLow, &obs.AllTimeLow},
		{"--low90", opts.Low90d, &obs.Low90d},
		{"--low30", opts.Low30d, &obs.Low30d},
		{"--previous", opts.Previous, &obs.PreviousPrice},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return pricing.Observation{}, fmt.Errorf("invalid %s: %w", f.flag, err)
		}
		*f.target = decimal.NewNullDecimal(v)
	}

	if obs.PreviousPrice.Valid {
		age := time.Duration(0)
		if opts.PreviousAge != "" {
			age, err = time.ParseDuration(opts.PreviousAge)
			if err != nil {
				return pricing.Observation{}, fmt.Errorf("invalid --previous-age: %w", err)
			}
		}
		obs.PreviousCheckedAt = now.Add(-age)
	}
	return obs, nil
}
