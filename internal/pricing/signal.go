package pricing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Signal is the single deal label attached to a price observation.
type Signal string

const (
	SignalHistoricalLow Signal = "historical_low"
	SignalLow90d        Signal = "low_90d"
	SignalLow30d        Signal = "low_30d"
	SignalRecentDrop    Signal = "recent_drop"
	SignalNone          Signal = "none"
)

// RecentDropWindow bounds how old the previous observation may be for recent_drop.
const RecentDropWindow = 24 * time.Hour

// Observation is the classifier input.
type Observation struct {
	Current           decimal.Decimal
	AllTimeLow        decimal.NullDecimal
	Low90d            decimal.NullDecimal
	Low30d            decimal.NullDecimal
	PreviousPrice     decimal.NullDecimal
	PreviousCheckedAt time.Time
}

// Rule pairs a label with the predicate that earns it.
type Rule struct {
	Label Signal
	Match func(obs Observation, now time.Time) bool
}

// rules is evaluated top to bottom; the first match wins.
var rules = []Rule{
	{Label: SignalHistoricalLow, Match: atOrBelow(func(o Observation) decimal.NullDecimal { return o.AllTimeLow })},
	{Label: SignalLow90d, Match: atOrBelow(func(o Observation) decimal.NullDecimal { return o.Low90d })},
	{Label: SignalLow30d, Match: atOrBelow(func(o Observation) decimal.NullDecimal { return o.Low30d })},
	{Label: SignalRecentDrop, Match: recentDrop},
}

// Rules returns the classification rules in priority order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Classify returns the strongest label the observation qualifies for.
func Classify(obs Observation, now time.Time) Signal {
	for _, rule := range rules {
		if rule.Match(obs, now) {
			return rule.Label
		}
	}
	return SignalNone
}

func atOrBelow(threshold func(Observation) decimal.NullDecimal) func(Observation, time.Time) bool {
	return func(obs Observation, _ time.Time) bool {
		floor := threshold(obs)
		return floor.Valid && obs.Current.LessThanOrEqual(floor.Decimal)
	}
}

func recentDrop(obs Observation, now time.Time) bool {
	if !obs.PreviousPrice.Valid || !obs.Current.LessThan(obs.PreviousPrice.Decimal) {
		return false
	}
	return now.Sub(obs.PreviousCheckedAt) <= RecentDropWindow
}

// String implements fmt.Stringer.
func (s Signal) String() string {
	return string(s)
}

// IsNone reports whether no label applies.
func (s Signal) IsNone() bool {
	return s == SignalNone || s == ""
}

// MarshalJSON renders SignalNone as null so consumers can skip the badge.
func (s Signal) MarshalJSON() ([]byte, error) {
	if s.IsNone() {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

// UnmarshalJSON accepts null as SignalNone.
func (s *Signal) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = SignalNone
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseSignal(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSignal maps a label string to a Signal.
func ParseSignal(v string) (Signal, error) {
	switch Signal(v) {
	case SignalHistoricalLow, SignalLow90d, SignalLow30d, SignalRecentDrop, SignalNone:
		return Signal(v), nil
	default:
		return "", fmt.Errorf("unknown signal label %q", v)
	}
}
