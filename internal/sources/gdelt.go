package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rewired-gh/observatory/internal/models"
)

// DefaultGDELTURL is the GDELT 2.0 DOC API endpoint.
const DefaultGDELTURL = "https://api.gdeltproject.org/api/v2/doc/doc"

// gdeltSeenLayout is the seendate format of the DOC API.
const gdeltSeenLayout = "20060102T150405Z"

// GDELT uses FIPS 10-4 codes in sourcecountry queries; only codes that differ
// from ISO alpha-2 are listed.
var fipsCodes = map[string]string{
	"GB": "UK",
	"DE": "GM",
	"ES": "SP",
	"JP": "JA",
	"KR": "KS",
	"CN": "CH",
	"CL": "CI",
	"RU": "RS",
	"AU": "AS",
	"NG": "NI",
	"ZA": "SF",
	"TR": "TU",
	"IL": "IS",
	"UA": "UP",
	"PH": "RP",
	"VN": "VM",
	"SE": "SW",
}

// GDELT fetches recent article titles published by outlets of a country.
type GDELT struct {
	client     *httpClient
	confidence float64
	limit      int
	timespan   string
	now        func() time.Time
}

// NewGDELT creates a GDELT DOC API client. timespan is the API lookback, e.g. "24h".
func NewGDELT(opts ClientOptions, timespan string) *GDELT {
	if opts.Limit <= 0 {
		opts.Limit = 75
	}
	if timespan == "" {
		timespan = "24h"
	}
	return &GDELT{
		client:     newHTTPClient(opts, DefaultGDELTURL),
		confidence: opts.Confidence,
		limit:      opts.Limit,
		timespan:   timespan,
		now:        time.Now,
	}
}

// Name implements Source.
func (g *GDELT) Name() models.Source { return models.SourceGDELT }

type gdeltResponse struct {
	Articles []struct {
		URL           string `json:"url"`
		Title         string `json:"title"`
		SeenDate      string `json:"seendate"`
		Domain        string `json:"domain"`
		Language      string `json:"language"`
		SourceCountry string `json:"sourcecountry"`
	} `json:"articles"`
}

// Fetch implements Source. Each article title becomes one observation with a
// mention count of one.
func (g *GDELT) Fetch(ctx context.Context, country string) ([]models.TopicObservation, error) {
	fips := country
	if code, ok := fipsCodes[country]; ok {
		fips = code
	}
	q := url.Values{}
	q.Set("query", "sourcecountry:"+fips)
	q.Set("mode", "artlist")
	q.Set("format", "json")
	q.Set("sort", "datedesc")
	q.Set("maxrecords", fmt.Sprint(g.limit))
	q.Set("timespan", g.timespan)

	body, err := g.client.get(ctx, g.client.baseURL+"?"+q.Encode(), "application/json")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gdelt articles: %w", err)
	}

	var resp gdeltResponse
	// the API answers with an empty body when nothing matches
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to decode gdelt articles: %w", err)
		}
	}

	now := g.now().UTC()
	out := make([]models.TopicObservation, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		title := strings.TrimSpace(a.Title)
		if title == "" {
			continue
		}
		seen, err := time.Parse(gdeltSeenLayout, a.SeenDate)
		if err != nil || seen.After(now) {
			seen = now
		}
		out = append(out, models.TopicObservation{
			CountryCode:  country,
			RawLabel:     title,
			Source:       models.SourceGDELT,
			ObservedAt:   seen,
			MentionCount: 1,
			Confidence:   g.confidence,
		})
		if len(out) >= g.limit {
			break
		}
	}
	return out, nil
}
