package sources

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/observatory/internal/logger"
	"github.com/rewired-gh/observatory/internal/metrics"
	"github.com/rewired-gh/observatory/internal/models"
)

// SourceError is a failure of one source for one country.
type SourceError struct {
	Source  models.Source
	Country string
	Err     error
}

func (e SourceError) Error() string {
	return fmt.Sprintf("source %s failed for %s: %v", e.Source, e.Country, e.Err)
}

func (e SourceError) Unwrap() error { return e.Err }

// Collector fans out to several sources and merges their observations.
type Collector struct {
	sources []Source
	metrics *metrics.Metrics
}

// NewCollector creates a Collector. m may be nil.
func NewCollector(m *metrics.Metrics, sources ...Source) *Collector {
	return &Collector{sources: sources, metrics: m}
}

// Sources returns the configured source names.
func (c *Collector) Sources() []models.Source {
	names := make([]models.Source, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return names
}

// Fetch queries every source concurrently for one country. Failing sources are
// logged and skipped; an error is returned only when all of them fail.
func (c *Collector) Fetch(ctx context.Context, country string) ([]models.TopicObservation, error) {
	if len(c.sources) == 0 {
		return nil, errors.New("no sources configured")
	}

	results := make([][]models.TopicObservation, len(c.sources))
	errs := make([]error, len(c.sources))
	var wg sync.WaitGroup
	for i, src := range c.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			obs, err := src.Fetch(ctx, country)
			c.metrics.SourceFetch(string(src.Name()), err)
			if err != nil {
				errs[i] = SourceError{Source: src.Name(), Country: country, Err: err}
				return
			}
			results[i] = obs
		}(i, src)
	}
	wg.Wait()

	var out []models.TopicObservation
	var failed []error
	for i := range c.sources {
		if errs[i] != nil {
			logger.Warn("%v", errs[i])
			failed = append(failed, errs[i])
			continue
		}
		out = append(out, results[i]...)
	}
	if len(failed) == len(c.sources) {
		return nil, errors.Join(failed...)
	}
	if out == nil {
		out = []models.TopicObservation{}
	}
	return out, nil
}

// ObservationsInWindow fetches live data and keeps the observations inside
// [since, until]. It lets a Collector stand in for the archive.
func (c *Collector) ObservationsInWindow(ctx context.Context, country string, since, until time.Time) ([]models.TopicObservation, error) {
	obs, err := c.Fetch(ctx, country)
	if err != nil {
		return nil, err
	}
	kept := obs[:0]
	for _, o := range obs {
		if !o.ObservedAt.Before(since) && !o.ObservedAt.After(until) {
			kept = append(kept, o)
		}
	}
	return kept, nil
}

// CollectAll fetches several countries with bounded concurrency. Per-country
// failures are returned in the error map, not as a call error.
func (c *Collector) CollectAll(ctx context.Context, countries []string, concurrency int) (map[string][]models.TopicObservation, map[string]error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	var mu sync.Mutex
	results := make(map[string][]models.TopicObservation, len(countries))
	failures := make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, country := range countries {
		country := country
		g.Go(func() error {
			obs, err := c.Fetch(gctx, country)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[country] = err
				return nil
			}
			results[country] = obs
			return nil
		})
	}
	_ = g.Wait()
	return results, failures
}
