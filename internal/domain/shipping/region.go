package shipping

import (
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

const (
	// DefaultPostalRanges covers the Bengaluru delivery area.
	DefaultPostalRanges = "560001-560102"
	// DefaultExcludedPostalCodes are holes in DefaultPostalRanges.
	DefaultExcludedPostalCodes = "560031,560044,560101"
)

type postalRange struct {
	lo, hi int
}

// Region is the set of postal codes the store delivers to.
type Region struct {
	ranges   []postalRange
	excluded map[string]struct{}
}

// ParseRegion builds a Region from comma separated ranges ("lo-hi" or a
// single code) and a comma separated list of excluded codes.
func ParseRegion(ranges, excluded string) (*Region, error) {
	r := &Region{excluded: make(map[string]struct{})}
	for _, entry := range splitList(ranges) {
		lo, hi, isRange := strings.Cut(entry, "-")
		if !isRange {
			hi = lo
		}
		l, err := parsePostal(lo)
		if err != nil {
			return nil, err
		}
		h, err := parsePostal(hi)
		if err != nil {
			return nil, err
		}
		if h < l {
			return nil, errors.Errorf("postal range %q is inverted", entry)
		}
		r.ranges = append(r.ranges, postalRange{lo: l, hi: h})
	}
	if len(r.ranges) == 0 {
		return nil, errors.New("at least one postal range is required")
	}
	for _, code := range splitList(excluded) {
		if _, err := parsePostal(code); err != nil {
			return nil, err
		}
		r.excluded[code] = struct{}{}
	}
	return r, nil
}

// Contains reports whether deliveries to the postal code are accepted.
func (r *Region) Contains(postalCode string) bool {
	code := strings.TrimSpace(postalCode)
	n, err := parsePostal(code)
	if err != nil {
		return false
	}
	if _, ok := r.excluded[code]; ok {
		return false
	}
	for _, pr := range r.ranges {
		if n >= pr.lo && n <= pr.hi {
			return true
		}
	}
	return false
}

func parsePostal(s string) (int, error) {
	s = strings.TrimSpace(s)
	if len(s) != 6 {
		return 0, errors.Errorf("postal code %q must have 6 digits", s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, errors.Errorf("postal code %q must be numeric", s)
		}
	}
	return strconv.Atoi(s)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
