package shipping

import (
	"math"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

const (
	// DefaultRates is the per-km rate table: each entry applies below the
	// given distance, "+" covers everything beyond the last bound.
	DefaultRates = "5:2,10:4,20:5,25:6,30:7,35:8,40:9,50:10,+:15"
	// DefaultTiers names distance ranges for display.
	DefaultTiers = "5:Short Distance,10:Local Distance,20:Medium Distance,30:Long Distance,50:Extended Distance,+:Remote Area"
)

type band struct {
	below float64
	value string
}

// parseBands parses "bound:value,...,+:value". Bounds must be strictly
// increasing and the table must end with an open "+" entry.
func parseBands(s string) ([]band, error) {
	var out []band
	prev := 0.0
	for i, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		bound, value, ok := strings.Cut(entry, ":")
		if !ok || strings.TrimSpace(value) == "" {
			return nil, errors.Errorf("entry %d: expected bound:value, got %q", i, entry)
		}
		if len(out) > 0 && math.IsInf(out[len(out)-1].below, 1) {
			return nil, errors.Errorf("entry %d: nothing may follow the open entry", i)
		}
		b := band{value: strings.TrimSpace(value)}
		if strings.TrimSpace(bound) == "+" {
			b.below = math.Inf(1)
		} else {
			v, err := strconv.ParseFloat(strings.TrimSpace(bound), 64)
			if err != nil {
				return nil, errors.Wrapf(err, "entry %d: bound", i)
			}
			if v <= prev {
				return nil, errors.Errorf("entry %d: bound %v must be greater than %v", i, v, prev)
			}
			b.below, prev = v, v
		}
		out = append(out, b)
	}
	if len(out) == 0 || !math.IsInf(out[len(out)-1].below, 1) {
		return nil, errors.New("table must end with a \"+\" entry")
	}
	return out, nil
}

// RateBand is one row of a RateTable.
type RateBand struct {
	// Below is the exclusive upper distance bound in km; +Inf for the last row.
	Below float64
	Rate  decimal.Decimal
}

// RateTable maps a distance to a per-km rate.
type RateTable []RateBand

// ParseRateTable parses a rate table such as DefaultRates. Rates must be
// non-negative and must not decrease as distance grows.
func ParseRateTable(s string) (RateTable, error) {
	bands, err := parseBands(s)
	if err != nil {
		return nil, errors.Wrap(err, "parse rates")
	}
	t := make(RateTable, 0, len(bands))
	for _, b := range bands {
		rate, err := decimal.NewFromString(b.value)
		if err != nil {
			return nil, errors.Wrapf(err, "parse rates: rate %q", b.value)
		}
		if rate.IsNegative() {
			return nil, errors.Errorf("parse rates: rate %s is negative", rate)
		}
		if len(t) > 0 && rate.LessThan(t[len(t)-1].Rate) {
			return nil, errors.Errorf("parse rates: rate %s decreases after %s", rate, t[len(t)-1].Rate)
		}
		t = append(t, RateBand{Below: b.below, Rate: rate})
	}
	return t, nil
}

// RateFor returns the per-km rate for a distance.
func (t RateTable) RateFor(km float64) decimal.Decimal {
	for _, b := range t {
		if km < b.Below {
			return b.Rate
		}
	}
	return t[len(t)-1].Rate
}

// TierBand is one row of a TierTable.
type TierBand struct {
	Below float64
	Name  string
}

// TierTable maps a distance to a display name.
type TierTable []TierBand

// ParseTierTable parses a tier table such as DefaultTiers.
func ParseTierTable(s string) (TierTable, error) {
	bands, err := parseBands(s)
	if err != nil {
		return nil, errors.Wrap(err, "parse tiers")
	}
	t := make(TierTable, 0, len(bands))
	for _, b := range bands {
		t = append(t, TierBand{Below: b.below, Name: b.value})
	}
	return t, nil
}

// NameFor returns the tier name for a distance.
func (t TierTable) NameFor(km float64) string {
	for _, b := range t {
		if km < b.Below {
			return b.Name
		}
	}
	return t[len(t)-1].Name
}
