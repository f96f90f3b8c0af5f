// Package flows orchestrates hotspot and flow detection.
//
// A detection loads the observations of every requested country, normalizes them
// into per-country snapshots, scores a hotspot per country and a heat per country
// pair, and returns flows whose heat clears the threshold:
//
//	heat = similarity × exp(-Δt / halflife)
//
// Similarity is TF-IDF cosine over the countries' topic labels, fitted jointly for
// all countries of the request. Δt is the gap between the first sightings of the
// pair's anchor topic, the shared topic with the largest overlapping count. The
// country that saw the anchor first is the source of the flow; on equal times the
// alphabetically lower code is.
//
// Observations from the window before the requested one only decide which topics
// are new for hotspot velocity. Ingestion failures recorded inside the window are
// reported as upstream_unavailable warnings and make the response partial.
//
// Results go through a cache with single-flight protection keyed by dictionary
// version, window, country set and threshold. Partial results are returned but
// never cached.
package flows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/observatory/internal/cache"
	"github.com/rewired-gh/observatory/internal/countries"
	"github.com/rewired-gh/observatory/internal/logger"
	"github.com/rewired-gh/observatory/internal/metrics"
	"github.com/rewired-gh/observatory/internal/models"
	"github.com/rewired-gh/observatory/internal/normalize"
	"github.com/rewired-gh/observatory/internal/scoring"
	"github.com/rewired-gh/observatory/internal/similarity"
	"github.com/rewired-gh/observatory/internal/tracing"
)

// ObservationSource loads the raw observations of one country.
type ObservationSource interface {
	ObservationsInWindow(ctx context.Context, country string, since, until time.Time) ([]models.TopicObservation, error)
}

// CountryLister lists the countries with observations in a time range.
type CountryLister interface {
	ActiveCountries(ctx context.Context, since, until time.Time) ([]string, error)
}

// ResponseArchive keeps computed responses.
type ResponseArchive interface {
	ArchiveResponse(ctx context.Context, key string, resp *models.FlowsResponse) error
}

// FailureLog reports countries whose collection failed during ingestion.
type FailureLog interface {
	IngestFailures(ctx context.Context, since, until time.Time) ([]models.IngestFailure, error)
}

// Options wires a Detector. Normalizer, Similarity, Heat, Hotspots and Source are required.
type Options struct {
	Normalizer *normalize.Normalizer
	Similarity *similarity.Engine
	Heat       *scoring.HeatScorer
	Hotspots   *scoring.HotspotScorer
	Source     ObservationSource

	// Countries resolves requests without a country list; nil falls back to
	// countries.DefaultCountries.
	Countries CountryLister
	// Cache defaults to a cache that stores nothing.
	Cache   cache.Cache
	Archive ResponseArchive
	// Failures turns recorded ingestion failures into response warnings.
	Failures FailureLog
	Metrics  *metrics.Metrics

	Threshold        float64
	CacheTTL         time.Duration
	ComputeTimeout   time.Duration
	MaxCountries     int
	FetchConcurrency int
	MaxSharedTopics  int

	Now func() time.Time
}

// Detector computes FlowsResponses. It is safe for concurrent use.
type Detector struct {
	normalizer   *normalize.Normalizer
	similarity   *similarity.Engine
	heat         *scoring.HeatScorer
	hotspots     *scoring.HotspotScorer
	source       ObservationSource
	lister       CountryLister
	cache        cache.Cache
	archive      ResponseArchive
	failures     FailureLog
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	threshold    float64
	cacheTTL     time.Duration
	timeout      time.Duration
	maxCountries int
	concurrency  int
	maxShared    int
	now          func() time.Time
}

// New validates opts and builds a Detector.
func New(opts Options) (*Detector, error) {
	if opts.Normalizer == nil || opts.Similarity == nil || opts.Heat == nil || opts.Hotspots == nil {
		return nil, errors.New("normalizer, similarity engine, heat scorer and hotspot scorer are required")
	}
	if opts.Source == nil {
		return nil, errors.New("observation source is required")
	}
	if math.IsNaN(opts.Threshold) || opts.Threshold < 0 || opts.Threshold > 1 {
		return nil, fmt.Errorf("threshold %v must be between 0.0 and 1.0", opts.Threshold)
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewNop()
	}
	if opts.ComputeTimeout <= 0 {
		opts.ComputeTimeout = 30 * time.Second
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 8
	}
	if opts.MaxSharedTopics <= 0 {
		opts.MaxSharedTopics = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Detector{
		normalizer:   opts.Normalizer,
		similarity:   opts.Similarity,
		heat:         opts.Heat,
		hotspots:     opts.Hotspots,
		source:       opts.Source,
		lister:       opts.Countries,
		cache:        opts.Cache,
		archive:      opts.Archive,
		failures:     opts.Failures,
		metrics:      opts.Metrics,
		tracer:       tracing.Tracer(),
		threshold:    opts.Threshold,
		cacheTTL:     opts.CacheTTL,
		timeout:      opts.ComputeTimeout,
		maxCountries: opts.MaxCountries,
		concurrency:  opts.FetchConcurrency,
		maxShared:    opts.MaxSharedTopics,
		now:          opts.Now,
	}, nil
}

// Detect returns hotspots and flows for req. Request errors are returned before
// any work starts. If ctx is cancelled the call returns ctx.Err() while a started
// computation finishes for other waiters and the cache.
func (d *Detector) Detect(ctx context.Context, req Request) (*models.FlowsResponse, error) {
	v, err := d.validate(req)
	if err != nil {
		return nil, err
	}
	key := CacheKey(d.normalizer.DictionaryVersion(), v.window, v.countries, v.threshold)

	ctx, span := d.tracer.Start(ctx, "flows.Detect", trace.WithAttributes(
		attribute.String("flows.cache_key", key),
		attribute.String("flows.time_window", string(v.window)),
	))
	defer span.End()

	raw, hit, err := d.cache.ComputeOnce(ctx, key, func(cctx context.Context) ([]byte, time.Duration, error) {
		cctx, cancel := context.WithTimeout(cctx, d.timeout)
		defer cancel()

		started := time.Now()
		resp, err := d.compute(cctx, key, v)
		d.metrics.ObserveDetection(outcome(resp, err), time.Since(started))
		if err != nil {
			return nil, 0, err
		}
		b, err := json.Marshal(resp)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to encode response: %w", err)
		}
		ttl := d.cacheTTL
		if resp.Partial {
			ttl = 0
		}
		return b, ttl, nil
	})
	d.metrics.CacheLookup(hit)
	span.SetAttributes(attribute.Bool("flows.cache_hit", hit))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var resp models.FlowsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

func outcome(resp *models.FlowsResponse, err error) string {
	switch {
	case errors.Is(err, ErrComputationTimeout):
		return "timeout"
	case errors.Is(err, ErrNoData):
		return "no_data"
	case err != nil:
		return "error"
	case resp.Partial:
		return "partial"
	}
	return "ok"
}

// Snapshot returns the normalized snapshot of a single country.
func (d *Detector) Snapshot(ctx context.Context, country string, window string) (models.CountrySnapshot, error) {
	w, err := models.ParseTimeWindow(window)
	if err != nil {
		return models.CountrySnapshot{}, fmt.Errorf("%w: %v", ErrInvalidTimeWindow, err)
	}
	code := countries.Canonical(country)
	if !countries.IsValidCode(code) {
		return models.CountrySnapshot{}, fmt.Errorf("%w: %q", ErrInvalidCountry, country)
	}

	ctx, span := d.tracer.Start(ctx, "flows.Snapshot", trace.WithAttributes(attribute.String("flows.country", code)))
	defer span.End()

	now := d.now()
	obs, err := d.source.ObservationsInWindow(ctx, code, now.Add(-w.Duration()), now)
	if err != nil {
		return models.CountrySnapshot{}, fmt.Errorf("%w: %v", ErrNoData, FetchError{Country: code, Err: err})
	}
	snap, _ := BuildSnapshot(d.normalizer, code, w, obs, now)
	return snap, nil
}

type fetchResult struct {
	obs []models.TopicObservation
	err error
}

func (d *Detector) compute(ctx context.Context, key string, v validatedRequest) (*models.FlowsResponse, error) {
	now := d.now()
	since := now.Add(-v.window.Duration())
	// one extra window of history tells new topics from long-running ones
	lookback := v.window.Duration()

	targets := v.countries
	if targets == nil {
		var err error
		if targets, err = d.resolveCountries(ctx, since, now); err != nil {
			return nil, err
		}
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no countries with observations in the last %s", ErrNoData, v.window)
	}

	// fetch
	fetchCtx, fetchSpan := d.tracer.Start(ctx, "flows.fetch", trace.WithAttributes(attribute.Int("flows.countries", len(targets))))
	results := make([]fetchResult, len(targets))
	g, gctx := errgroup.WithContext(fetchCtx)
	g.SetLimit(d.concurrency)
	for i, code := range targets {
		i, code := i, code
		g.Go(func() error {
			obs, err := d.source.ObservationsInWindow(gctx, code, since.Add(-lookback), now)
			results[i] = fetchResult{obs: obs, err: err}
			return nil
		})
	}
	_ = g.Wait()
	fetchSpan.End()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, ErrComputationTimeout
	}

	resp := &models.FlowsResponse{
		TimeWindow:  v.window,
		GeneratedAt: now,
		Hotspots:    []models.Hotspot{},
		Flows:       []models.Flow{},
	}

	var fetchErrs []error
	snaps := make([]models.CountrySnapshot, 0, len(targets))
	for i, code := range targets {
		if err := results[i].err; err != nil {
			fe := FetchError{Country: code, Err: err}
			logger.Warn("%v", fe)
			fetchErrs = append(fetchErrs, fe)
			resp.Warnings = append(resp.Warnings, models.Warning{
				Code:    models.WarningUpstreamUnavailable,
				Country: code,
				Message: err.Error(),
			})
			continue
		}
		snap, stats := BuildSnapshot(d.normalizer, code, v.window, results[i].obs, now)
		snap.PriorLabels = PriorLabels(d.normalizer, code, results[i].obs, since, lookback)
		if stats.Invalid > 0 {
			resp.Warnings = append(resp.Warnings, models.Warning{
				Code:    models.WarningInvalidObservations,
				Country: code,
				Message: fmt.Sprintf("%d invalid observations dropped", stats.Invalid),
			})
		}
		snaps = append(snaps, snap)
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoData, errors.Join(fetchErrs...))
	}
	failed := d.ingestWarnings(ctx, v, targets, results, since, now)
	resp.Warnings = append(resp.Warnings, failed...)
	resp.Partial = len(fetchErrs) > 0 || len(failed) > 0

	analyzed := make([]string, 0, len(snaps))
	var empty []string
	for i := range snaps {
		analyzed = append(analyzed, snaps[i].CountryCode)
		resp.Hotspots = append(resp.Hotspots, d.hotspots.Score(snaps[i]))
		if snaps[i].Empty() {
			empty = append(empty, snaps[i].CountryCode)
		}
	}
	sort.SliceStable(resp.Hotspots, func(i, j int) bool {
		if resp.Hotspots[i].Intensity != resp.Hotspots[j].Intensity {
			return resp.Hotspots[i].Intensity > resp.Hotspots[j].Intensity
		}
		return resp.Hotspots[i].Country < resp.Hotspots[j].Country
	})

	flows, pairs, err := d.scorePairs(ctx, snaps, v.threshold)
	if err != nil {
		return nil, err
	}
	resp.Flows = flows
	resp.Metadata = models.FlowsMetadata{
		Formula:            scoring.HeatFormula,
		Threshold:          v.threshold,
		HalfLifeHours:      d.heat.HalfLifeHours,
		TimeWindowHours:    v.window.Hours(),
		TotalPairsComputed: pairs,
		FlowsReturned:      len(flows),
		CountriesAnalyzed:  analyzed,
		EmptyCountries:     empty,
		DictionaryVersion:  d.normalizer.DictionaryVersion(),
	}
	d.metrics.AddPairs(pairs)
	d.metrics.SetFlowsReturned(len(flows))

	if d.archive != nil {
		if err := d.archive.ArchiveResponse(ctx, key, resp); err != nil {
			logger.Warn("failed to archive response %s: %v", key, err)
		}
	}
	logger.Debug("detect %s: countries=%d pairs=%d flows=%d partial=%v",
		key, len(analyzed), pairs, len(flows), resp.Partial)
	return resp, nil
}

// ingestWarnings reports the latest ingestion failure inside the window of every
// analyzed country. Without an explicit country list a failing country may have no
// observations at all, so every recorded failure is reported.
func (d *Detector) ingestWarnings(ctx context.Context, v validatedRequest, targets []string, results []fetchResult, since, now time.Time) []models.Warning {
	if d.failures == nil {
		return nil
	}
	failures, err := d.failures.IngestFailures(ctx, since, now)
	if err != nil {
		logger.Warn("failed to load ingestion failures: %v", err)
		return nil
	}

	relevant := make(map[string]bool, len(targets))
	for i, code := range targets {
		// fetch failures are already reported
		relevant[code] = results[i].err == nil
	}
	var out []models.Warning
	reported := make(map[string]bool)
	for _, f := range failures {
		ok, listed := relevant[f.Country]
		if (listed && !ok) || (!listed && v.countries != nil) || reported[f.Country] {
			continue
		}
		reported[f.Country] = true
		out = append(out, models.Warning{
			Code:    models.WarningUpstreamUnavailable,
			Country: f.Country,
			Message: fmt.Sprintf("collection failed at %s: %s", f.FailedAt.UTC().Format(time.RFC3339), f.Message),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Country < out[j].Country })
	return out
}

func (d *Detector) resolveCountries(ctx context.Context, since, until time.Time) ([]string, error) {
	if d.lister == nil {
		list := append([]string(nil), countries.DefaultCountries...)
		sort.Strings(list)
		return d.capCountries(list), nil
	}
	list, err := d.lister.ActiveCountries(ctx, since, until)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrComputationTimeout
		}
		return nil, fmt.Errorf("%w: failed to list countries: %v", ErrNoData, err)
	}
	valid, err := canonicalCountries(list)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoData, err)
	}
	return d.capCountries(valid), nil
}

func (d *Detector) capCountries(list []string) []string {
	if d.maxCountries > 0 && len(list) > d.maxCountries {
		logger.Warn("%d active countries exceed the limit of %d, analyzing the first %d",
			len(list), d.maxCountries, d.maxCountries)
		return list[:d.maxCountries]
	}
	return list
}

// scorePairs evaluates every unordered pair in parallel. Each pair yields at most one
// flow because the reverse direction always has zero heat; both directions count
// towards the pair total.
func (d *Detector) scorePairs(ctx context.Context, snaps []models.CountrySnapshot, threshold float64) ([]models.Flow, int, error) {
	ctx, span := d.tracer.Start(ctx, "flows.pairs")
	defer span.End()

	model := d.similarity.Fit(snaps)

	type pair struct{ i, j int }
	var pairs []pair
	for i := range snaps {
		for j := i + 1; j < len(snaps); j++ {
			pairs = append(pairs, pair{i, j})
		}
	}
	slots := make([]*models.Flow, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for k, p := range pairs {
		k, p := k, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a, b := &snaps[p.i], &snaps[p.j]
			sim := model.Similarity(a.CountryCode, b.CountryCode)
			slots[k] = d.scorePair(a, b, sim)
			return nil
		})
	}
	if err := g.Wait(); err != nil || ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return nil, 0, ErrComputationTimeout
		}
		if err == nil {
			err = ctx.Err()
		}
		return nil, 0, err
	}

	out := []models.Flow{}
	for _, f := range slots {
		if f == nil || f.Heat <= 0 || f.Heat < threshold {
			continue
		}
		out = append(out, *f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Heat != out[j].Heat {
			return out[i].Heat > out[j].Heat
		}
		if out[i].FromCountry != out[j].FromCountry {
			return out[i].FromCountry < out[j].FromCountry
		}
		return out[i].ToCountry < out[j].ToCountry
	})
	span.SetAttributes(attribute.Int("flows.pairs", len(pairs)*2), attribute.Int("flows.returned", len(out)))
	return out, len(pairs) * 2, nil
}
