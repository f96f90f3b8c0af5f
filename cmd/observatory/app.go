package main

import (
	"context"
	"fmt"

	"github.com/rewired-gh/observatory/internal/cache"
	"github.com/rewired-gh/observatory/internal/config"
	"github.com/rewired-gh/observatory/internal/flows"
	"github.com/rewired-gh/observatory/internal/logger"
	"github.com/rewired-gh/observatory/internal/metrics"
	"github.com/rewired-gh/observatory/internal/normalize"
	"github.com/rewired-gh/observatory/internal/notify"
	"github.com/rewired-gh/observatory/internal/scoring"
	"github.com/rewired-gh/observatory/internal/similarity"
	"github.com/rewired-gh/observatory/internal/sources"
	"github.com/rewired-gh/observatory/internal/storage"
)

// app holds the wired components shared by all commands.
type app struct {
	cfg       *config.Config
	store     *storage.Storage
	cache     cache.Cache
	redis     *cache.Redis
	metrics   *metrics.Metrics
	detector  *flows.Detector
	collector *sources.Collector
	notifier  *notify.Notifier
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New()}

	store, err := storage.New(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.store = store

	switch cfg.Cache.Backend {
	case "redis":
		rc, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
			LockTTL:  cfg.Cache.Redis.LockTTL,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize redis cache: %w", err)
		}
		a.redis = rc
		a.cache = rc
	case "memory":
		a.cache = cache.NewMemory()
	default:
		a.cache = cache.NewNop()
	}
	logger.Debug("Response cache backend: %s (ttl %v)", cfg.Cache.Backend, cfg.Cache.TTL)

	dict := normalize.DefaultDictionary()
	if cfg.Synonyms.Path != "" {
		if dict, err = normalize.LoadDictionary(cfg.Synonyms.Path); err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("Loaded synonym dictionary %s (%d rules)", dict.Version(), dict.Len())
	}

	heat, err := scoring.NewHeatScorer(cfg.Scoring.HalfLifeHours)
	if err != nil {
		a.Close()
		return nil, err
	}
	hotspots, err := scoring.NewHotspotScorer(scoring.HotspotOptions{
		VolumeCap:   cfg.Scoring.VolumeCap,
		VelocityCap: cfg.Scoring.VelocityCap,
		TopTopics:   cfg.Scoring.TopTopics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.detector, err = flows.New(flows.Options{
		Normalizer:       normalize.New(dict),
		Similarity:       similarity.NewEngine(similarity.Options{StopWords: cfg.Scoring.StopWords, MaxNGram: cfg.Scoring.MaxNGram}),
		Heat:             heat,
		Hotspots:         hotspots,
		Source:           store,
		Countries:        store,
		Cache:            a.cache,
		Archive:          store,
		Failures:         store,
		Metrics:          a.metrics,
		Threshold:        cfg.Scoring.FlowThreshold,
		CacheTTL:         cfg.Cache.TTL,
		ComputeTimeout:   cfg.Detector.ComputeTimeout,
		MaxCountries:     cfg.Detector.MaxCountries,
		FetchConcurrency: cfg.Detector.FetchConcurrency,
		MaxSharedTopics:  cfg.Scoring.MaxSharedTopics,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize detector: %w", err)
	}

	a.collector = sources.NewCollector(a.metrics, buildSources(cfg.Sources)...)
	logger.Debug("Enabled sources: %v", a.collector.Sources())

	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(notify.TelegramOptions{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		a.notifier = notify.New(tg, notify.Options{
			MinHeat:  cfg.Telegram.MinHeat,
			TopK:     cfg.Telegram.TopK,
			Cooldown: cfg.Telegram.Cooldown,
			Metrics:  a.metrics,
		})
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	return a, nil
}

func buildSources(cfg config.SourcesConfig) []sources.Source {
	opts := func(s config.SourceConfig) sources.ClientOptions {
		return sources.ClientOptions{
			BaseURL:       s.BaseURL,
			Timeout:       cfg.Timeout,
			Confidence:    s.Confidence,
			RatePerSecond: s.RatePerSecond,
			UserAgent:     cfg.UserAgent,
			Limit:         s.Limit,
		}
	}

	var out []sources.Source
	if cfg.GDELT.Enabled {
		out = append(out, sources.NewGDELT(opts(cfg.GDELT), cfg.GDELT.Timespan))
	}
	if cfg.Trends.Enabled {
		out = append(out, sources.NewTrends(opts(cfg.Trends)))
	}
	if cfg.Wikipedia.Enabled {
		out = append(out, sources.NewWikipedia(opts(cfg.Wikipedia)))
	}
	return out
}

// Close releases storage and cache connections.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Error("Failed to close redis: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}
}
