package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/observatory/internal/models"
)

// DefaultTrendsURL is the Google Trends daily trending searches feed.
const DefaultTrendsURL = "https://trends.google.com/trending/rss"

// Trends reads the daily trending searches of a country.
type Trends struct {
	client     *httpClient
	confidence float64
	limit      int
	now        func() time.Time
}

// NewTrends creates a Google Trends RSS client.
func NewTrends(opts ClientOptions) *Trends {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	return &Trends{
		client:     newHTTPClient(opts, DefaultTrendsURL),
		confidence: opts.Confidence,
		limit:      opts.Limit,
		now:        time.Now,
	}
}

// Name implements Source.
func (t *Trends) Name() models.Source { return models.SourceTrends }

type trendsFeed struct {
	Channel struct {
		Items []struct {
			Title         string `xml:"title"`
			ApproxTraffic string `xml:"approx_traffic"`
			PubDate       string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

// Fetch implements Source. Mention counts are the approximate traffic in hundreds
// of searches; when the feed omits traffic, items are ranked by position.
func (t *Trends) Fetch(ctx context.Context, country string) ([]models.TopicObservation, error) {
	q := url.Values{}
	q.Set("geo", country)

	body, err := t.client.get(ctx, t.client.baseURL+"?"+q.Encode(), "application/rss+xml, application/xml")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trends feed: %w", err)
	}

	var feed trendsFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to decode trends feed: %w", err)
	}

	now := t.now().UTC()
	var out []models.TopicObservation
	for i, item := range feed.Channel.Items {
		if len(out) >= t.limit {
			break
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		observed := now
		if ts, ok := parsePubDate(item.PubDate); ok && !ts.After(now) {
			observed = ts.UTC()
		}
		out = append(out, models.TopicObservation{
			CountryCode:  country,
			RawLabel:     title,
			Source:       models.SourceTrends,
			ObservedAt:   observed,
			MentionCount: trafficCount(item.ApproxTraffic, i),
			Confidence:   t.confidence,
		})
	}
	return out, nil
}

var pubDateLayouts = []string{time.RFC1123Z, time.RFC1123, "Mon, 2 Jan 2006 15:04:05 -0700"}

func parsePubDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range pubDateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// trafficCount parses values like "20,000+" into hundreds of searches.
func trafficCount(raw string, rank int) int64 {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if n, err := strconv.ParseInt(digits, 10, 64); err == nil && n > 0 {
		if c := n / 100; c > 0 {
			return c
		}
		return 1
	}
	if c := int64(50 - 3*rank); c > 0 {
		return c
	}
	return 1
}
