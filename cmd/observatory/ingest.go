package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/observatory/internal/flows"
	"github.com/rewired-gh/observatory/internal/logger"
	"github.com/rewired-gh/observatory/internal/models"
)

var loopIngest bool

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Collect observations from the configured sources",
	Long: `Fetches the current topics of every configured country from all enabled
sources and stores them. With --loop the cycle repeats on sources.poll_interval
and hot flows are announced on Telegram when enabled.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&loopIngest, "loop", false, "keep ingesting on the poll interval until interrupted")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if !loopIngest {
		stored, err := a.runIngestCycle(ctx, time.Now())
		if err != nil {
			return err
		}
		cmd.Printf("Stored %d observations\n", stored)
		return nil
	}
	a.ingestLoop(ctx)
	return nil
}

// ingestLoop runs ingestion cycles until ctx is cancelled. After each cycle
// expired data is pruned when the prune interval has elapsed.
func (a *app) ingestLoop(ctx context.Context) {
	logger.Info("Starting ingestion service (interval: %v, countries: %v, sources: %v)",
		a.cfg.Sources.PollInterval, a.cfg.Sources.Countries, a.collector.Sources())

	ticker := time.NewTicker(a.cfg.Sources.PollInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Ingestion cycle failed: %v", err)
			if consecutiveFailures == 1 && a.notifier != nil {
				if sendErr := a.notifier.SendError(ctx, err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
			return
		}
		if consecutiveFailures > 0 && a.notifier != nil {
			if sendErr := a.notifier.SendRecovery(ctx, consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
			}
		}
		consecutiveFailures = 0
	}

	lastPrune := time.Now()

	// Run initial cycle immediately
	logger.Debug("Running initial ingestion cycle")
	_, err := a.runIngestCycle(ctx, time.Now())
	handleCycleResult(err)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Ingestion stopped")
			return

		case tickTime := <-ticker.C:
			logger.Debug("Starting scheduled ingestion cycle")
			_, err := a.runIngestCycle(ctx, tickTime)
			handleCycleResult(err)

			if time.Since(lastPrune) >= a.cfg.Storage.PruneInterval {
				if _, _, err := a.prune(ctx, time.Now().Add(-a.cfg.Storage.Retention)); err != nil {
					logger.Warn("Failed to prune expired data: %v", err)
				}
				lastPrune = time.Now()
			}
		}
	}
}

// runIngestCycle collects, stores and, when notifications are enabled, announces
// hot flows. A cycle fails only when no country could be collected.
func (a *app) runIngestCycle(ctx context.Context, cycleTime time.Time) (int, error) {
	startTime := time.Now()
	countries := a.cfg.Sources.Countries
	logger.Info("Starting ingestion cycle for %d countries", len(countries))

	results, failures := a.collector.CollectAll(ctx, countries, a.cfg.Sources.Concurrency)
	for country, err := range failures {
		logger.Warn("Failed to collect %s: %v", country, err)
		if recErr := a.store.RecordIngestFailure(ctx, country, cycleTime, err); recErr != nil {
			logger.Warn("Failed to record collection failure for %s: %v", country, recErr)
		}
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("failed to collect any of %d countries", len(countries))
	}

	codes := make([]string, 0, len(results))
	for code := range results {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	stored := 0
	perSource := make(map[models.Source]int)
	for _, code := range codes {
		obs := results[code]
		if len(obs) == 0 {
			continue
		}
		n, err := a.store.AddObservations(ctx, obs)
		if err != nil {
			logger.Warn("Failed to store observations for %s: %v", code, err)
			continue
		}
		stored += n
		for _, o := range obs {
			perSource[o.Source]++
		}
	}
	for src, n := range perSource {
		a.metrics.ObservationsIngested(string(src), n)
	}
	a.metrics.IngestCompleted(cycleTime)
	logger.Info("Stored %d observations from %d countries (%d failed)", stored, len(results), len(failures))

	if a.notifier != nil {
		a.announce(ctx)
	}

	logger.Info("Ingestion cycle completed in %v", time.Since(startTime))
	return stored, nil
}

func (a *app) announce(ctx context.Context) {
	resp, err := a.detector.Detect(ctx, flows.Request{TimeWindow: a.cfg.Telegram.TimeWindow})
	if err != nil {
		if errors.Is(err, flows.ErrNoData) {
			logger.Debug("No data to announce: %v", err)
			return
		}
		logger.Error("Failed to detect flows for notification: %v", err)
		return
	}
	sent, err := a.notifier.Notify(ctx, resp)
	if err != nil {
		logger.Error("Failed to send Telegram notification: %v", err)
		return
	}
	if sent > 0 {
		logger.Info("Sent Telegram notification with top %d flows", sent)
	} else {
		logger.Debug("No new flows above min_heat=%.2f this cycle", a.cfg.Telegram.MinHeat)
	}
}
