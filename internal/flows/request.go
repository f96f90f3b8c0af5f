package flows

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rewired-gh/observatory/internal/countries"
	"github.com/rewired-gh/observatory/internal/models"
)

// Request asks for hotspots and flows over one window.
type Request struct {
	TimeWindow string
	// Countries limits the analysis; empty means every country with observations.
	Countries []string
	// Threshold overrides the configured minimum heat when set.
	Threshold *float64
}

type validatedRequest struct {
	window    models.TimeWindow
	countries []string // nil when omitted
	threshold float64
}

func (d *Detector) validate(req Request) (validatedRequest, error) {
	var v validatedRequest

	window, err := models.ParseTimeWindow(req.TimeWindow)
	if err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidTimeWindow, err)
	}
	v.window = window

	v.threshold = d.threshold
	if req.Threshold != nil {
		t := *req.Threshold
		if math.IsNaN(t) || t < 0 || t > 1 {
			return v, fmt.Errorf("%w: %v must be between 0.0 and 1.0", ErrInvalidThreshold, t)
		}
		v.threshold = t
	}

	if len(req.Countries) > 0 {
		codes, err := canonicalCountries(req.Countries)
		if err != nil {
			return v, err
		}
		if d.maxCountries > 0 && len(codes) > d.maxCountries {
			return v, fmt.Errorf("%w: %d requested, at most %d allowed", ErrTooManyCountries, len(codes), d.maxCountries)
		}
		v.countries = codes
	}
	return v, nil
}

// canonicalCountries upper-cases, validates, de-duplicates and sorts codes.
func canonicalCountries(raw []string) ([]string, error) {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		code := countries.Canonical(c)
		if !countries.IsValidCode(code) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCountry, c)
		}
		if seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	sort.Strings(out)
	return out, nil
}

// CacheKey identifies a response by every input that can change it.
func CacheKey(dictVersion string, window models.TimeWindow, codes []string, threshold float64) string {
	set := "*"
	if len(codes) > 0 {
		set = strings.Join(codes, ",")
	}
	return fmt.Sprintf("flows:d%s:tw%s:c%s:t%s", dictVersion, window, set, strconv.FormatFloat(threshold, 'g', -1, 64))
}
