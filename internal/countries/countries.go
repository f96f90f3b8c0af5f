// Package countries holds ISO 3166-1 alpha-2 helpers and the static country
// metadata (display name and geographic centroid) attached to hotspots and flows.
package countries

import (
	"sort"
	"strings"
)

// Metadata describes a country for display purposes.
type Metadata struct {
	Code      string
	Name      string
	Latitude  float64
	Longitude float64
}

var metadata = map[string]Metadata{
	// Americas
	"US": {"US", "United States", 37.0902, -95.7129},
	"CO": {"CO", "Colombia", 4.5709, -74.2973},
	"BR": {"BR", "Brazil", -14.2350, -51.9253},
	"MX": {"MX", "Mexico", 23.6345, -102.5528},
	"AR": {"AR", "Argentina", -38.4161, -63.6167},
	"CA": {"CA", "Canada", 56.1304, -106.3468},

	// Europe
	"GB": {"GB", "United Kingdom", 55.3781, -3.4360},
	"FR": {"FR", "France", 46.2276, 2.2137},
	"DE": {"DE", "Germany", 51.1657, 10.4515},
	"ES": {"ES", "Spain", 40.4637, -3.7492},
	"IT": {"IT", "Italy", 41.8719, 12.5674},
	"RU": {"RU", "Russia", 61.5240, 105.3188},
	"NL": {"NL", "Netherlands", 52.1326, 5.2913},
	"BE": {"BE", "Belgium", 50.5039, 4.4699},
	"SE": {"SE", "Sweden", 60.1282, 18.6435},
	"NO": {"NO", "Norway", 60.4720, 8.4689},
	"PL": {"PL", "Poland", 51.9194, 19.1451},
	"CH": {"CH", "Switzerland", 46.8182, 8.2275},
	"AT": {"AT", "Austria", 47.5162, 14.5501},
	"UA": {"UA", "Ukraine", 48.3794, 31.1656},

	// Asia-Pacific
	"CN": {"CN", "China", 35.8617, 104.1954},
	"IN": {"IN", "India", 20.5937, 78.9629},
	"JP": {"JP", "Japan", 36.2048, 138.2529},
	"AU": {"AU", "Australia", -25.2744, 133.7751},
	"KR": {"KR", "South Korea", 35.9078, 127.7669},

	// Middle East
	"IL": {"IL", "Israel", 31.0461, 34.8516},
	"SA": {"SA", "Saudi Arabia", 23.8859, 45.0792},
	"TR": {"TR", "Turkey", 38.9637, 35.2433},

	// Africa
	"ZA": {"ZA", "South Africa", -30.5595, 22.9375},
	"EG": {"EG", "Egypt", 26.8206, 30.8025},
	"NG": {"NG", "Nigeria", 9.0820, 8.6753},
}

// DefaultCountries is the ingestion set used when none is configured.
var DefaultCountries = []string{"US", "CO", "BR", "MX", "AR", "GB", "FR", "DE", "ES", "IT"}

// IsValidCode reports whether code is syntactically an ISO 3166-1 alpha-2 code
// (two upper-case ASCII letters). It does not require known metadata.
func IsValidCode(code string) bool {
	if len(code) != 2 {
		return false
	}
	for i := 0; i < 2; i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}

// Canonical upper-cases and trims a user-supplied code.
func Canonical(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Lookup returns metadata for a known country.
func Lookup(code string) (Metadata, bool) {
	m, ok := metadata[code]
	return m, ok
}

// Coords returns [longitude, latitude] for a known country, nil otherwise.
func Coords(code string) []float64 {
	m, ok := metadata[code]
	if !ok {
		return nil
	}
	return []float64{m.Longitude, m.Latitude}
}

// Known returns all codes with metadata, sorted.
func Known() []string {
	codes := make([]string, 0, len(metadata))
	for code := range metadata {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
