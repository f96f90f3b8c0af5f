package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/observatory/internal/config"
	"github.com/rewired-gh/observatory/internal/flows"
	"github.com/rewired-gh/observatory/internal/models"
	"github.com/rewired-gh/observatory/internal/sources"
	"github.com/rewired-gh/observatory/internal/storage"
)

func seedStore(t *testing.T, dsn string) {
	t.Helper()
	store, err := storage.New(storage.DriverSQLite, dsn)
	require.NoError(t, err)
	defer store.Close()

	now := time.Now().UTC()
	observation := func(country, label string, ago time.Duration) models.TopicObservation {
		return models.TopicObservation{
			CountryCode:  country,
			RawLabel:     label,
			Source:       models.SourceTrends,
			ObservedAt:   now.Add(-ago),
			MentionCount: 10,
			Confidence:   0.8,
		}
	}
	_, err = store.AddObservations(context.Background(), []models.TopicObservation{
		observation("US", "Election results", 3*time.Hour),
		observation("BR", "Election Results", time.Hour),
	})
	require.NoError(t, err)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		configPath = ""
		detectWindow, detectCountries, detectThreshold = "", "", 0
		pruneOlderThan = 0
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "observatory version dev")
}

func TestDetectWithoutData(t *testing.T) {
	t.Setenv("OBSERVATORY_STORAGE_DSN", filepath.Join(t.TempDir(), "obs.db"))
	t.Setenv("OBSERVATORY_LOGGING_LEVEL", "error")

	_, err := execute(t, "detect", "--window", "24h")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data")
}

func TestDetectRejectsBadWindow(t *testing.T) {
	t.Setenv("OBSERVATORY_STORAGE_DSN", filepath.Join(t.TempDir(), "obs.db"))
	t.Setenv("OBSERVATORY_LOGGING_LEVEL", "error")

	_, err := execute(t, "detect", "--window", "48h", "--countries", "us,br")
	require.Error(t, err)
}

func TestDetectPrintsJSON(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "obs.db")
	t.Setenv("OBSERVATORY_STORAGE_DSN", dsn)
	t.Setenv("OBSERVATORY_LOGGING_LEVEL", "error")
	seedStore(t, dsn)

	out, err := execute(t, "detect", "--countries", "US,BR", "--threshold", "0")
	require.NoError(t, err)

	var resp models.FlowsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Len(t, resp.Hotspots, 2)
	require.NotEmpty(t, resp.Flows)
	assert.Equal(t, "US", resp.Flows[0].FromCountry)
	assert.Equal(t, "BR", resp.Flows[0].ToCountry)
}

func TestPruneCommand(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "obs.db")
	t.Setenv("OBSERVATORY_STORAGE_DSN", dsn)
	t.Setenv("OBSERVATORY_LOGGING_LEVEL", "error")
	seedStore(t, dsn)

	out, err := execute(t, "prune", "--older-than", "48h")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Pruned 0 observations"), out)
}

type stubSource struct {
	fail map[string]bool
}

func (s stubSource) Name() models.Source { return models.SourceTrends }

func (s stubSource) Fetch(_ context.Context, country string) ([]models.TopicObservation, error) {
	if s.fail[country] {
		return nil, errors.New("upstream returned 503")
	}
	return []models.TopicObservation{{
		CountryCode:  country,
		RawLabel:     "Election results",
		Source:       models.SourceTrends,
		ObservedAt:   time.Now().UTC().Add(-time.Hour),
		MentionCount: 10,
		Confidence:   0.9,
	}}, nil
}

func TestIngestFailureSurfacesInDetection(t *testing.T) {
	t.Setenv("OBSERVATORY_STORAGE_DSN", filepath.Join(t.TempDir(), "obs.db"))
	t.Setenv("OBSERVATORY_CACHE_BACKEND", "none")
	conf, err := config.Load("")
	require.NoError(t, err)
	conf.Sources.Countries = []string{"US", "BR", "GB"}

	ctx := context.Background()
	a, err := newApp(ctx, conf)
	require.NoError(t, err)
	defer a.Close()
	a.collector = sources.NewCollector(a.metrics, stubSource{fail: map[string]bool{"BR": true}})

	stored, err := a.runIngestCycle(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, stored)

	resp, err := a.detector.Detect(ctx, flows.Request{TimeWindow: "24h", Countries: []string{"US", "BR", "GB"}})
	require.NoError(t, err)
	assert.True(t, resp.Partial)
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, models.WarningUpstreamUnavailable, resp.Warnings[0].Code)
	assert.Equal(t, "BR", resp.Warnings[0].Country)
	assert.Contains(t, resp.Warnings[0].Message, "503")
	assert.Contains(t, resp.Metadata.EmptyCountries, "BR")

	// without a country list BR has no observations but is still reported
	resp, err = a.detector.Detect(ctx, flows.Request{TimeWindow: "24h"})
	require.NoError(t, err)
	assert.Equal(t, []string{"GB", "US"}, resp.Metadata.CountriesAnalyzed)
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, "BR", resp.Warnings[0].Country)
}
