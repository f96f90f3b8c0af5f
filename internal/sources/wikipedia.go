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

// DefaultWikipediaURL is the Wikimedia REST API root.
const DefaultWikipediaURL = "https://wikimedia.org/api/rest_v1"

var wikiProjects = map[string]string{
	"US": "en.wikipedia",
	"GB": "en.wikipedia",
	"IN": "en.wikipedia",
	"AU": "en.wikipedia",
	"CA": "en.wikipedia",
	"NG": "en.wikipedia",
	"ZA": "en.wikipedia",
	"ES": "es.wikipedia",
	"CO": "es.wikipedia",
	"MX": "es.wikipedia",
	"AR": "es.wikipedia",
	"CL": "es.wikipedia",
	"PE": "es.wikipedia",
	"VE": "es.wikipedia",
	"BR": "pt.wikipedia",
	"FR": "fr.wikipedia",
	"DE": "de.wikipedia",
	"IT": "it.wikipedia",
	"JP": "ja.wikipedia",
	"KR": "ko.wikipedia",
	"CN": "zh.wikipedia",
	"RU": "ru.wikipedia",
	"UA": "uk.wikipedia",
	"TR": "tr.wikipedia",
	"EG": "ar.wikipedia",
	"SA": "ar.wikipedia",
	"IL": "he.wikipedia",
}

// WikiProject returns the Wikipedia edition used for a country.
func WikiProject(country string) string {
	if p, ok := wikiProjects[country]; ok {
		return p
	}
	return "en.wikipedia"
}

// Wikipedia reads yesterday's most viewed articles of a country's language edition.
type Wikipedia struct {
	client     *httpClient
	confidence float64
	limit      int
	now        func() time.Time
}

// NewWikipedia creates a Wikimedia pageviews client.
func NewWikipedia(opts ClientOptions) *Wikipedia {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	return &Wikipedia{
		client:     newHTTPClient(opts, DefaultWikipediaURL),
		confidence: opts.Confidence,
		limit:      opts.Limit,
		now:        time.Now,
	}
}

// Name implements Source.
func (w *Wikipedia) Name() models.Source { return models.SourceWikipedia }

type pageviewsResponse struct {
	Items []struct {
		Articles []struct {
			Article string `json:"article"`
			Views   int64  `json:"views"`
			Rank    int    `json:"rank"`
		} `json:"articles"`
	} `json:"items"`
}

// Fetch implements Source. Mention counts are views in thousands; meta pages are skipped.
func (w *Wikipedia) Fetch(ctx context.Context, country string) ([]models.TopicObservation, error) {
	now := w.now().UTC()
	day := now.AddDate(0, 0, -1)
	endpoint := fmt.Sprintf("%s/metrics/pageviews/top/%s/all-access/%s",
		w.client.baseURL, url.PathEscape(WikiProject(country)), day.Format("2006/01/02"))

	body, err := w.client.get(ctx, endpoint, "application/json")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch wikipedia pageviews: %w", err)
	}

	var resp pageviewsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode wikipedia pageviews: %w", err)
	}
	if len(resp.Items) == 0 {
		return []models.TopicObservation{}, nil
	}

	var out []models.TopicObservation
	for _, a := range resp.Items[0].Articles {
		if len(out) >= w.limit {
			break
		}
		if a.Article == "" || a.Article == "Main_Page" || a.Article == "-" || strings.HasPrefix(a.Article, "Special:") {
			continue
		}
		out = append(out, models.TopicObservation{
			CountryCode:  country,
			RawLabel:     strings.ReplaceAll(a.Article, "_", " "),
			Source:       models.SourceWikipedia,
			ObservedAt:   now,
			MentionCount: a.Views / 1000,
			Confidence:   w.confidence,
		})
	}
	return out, nil
}
