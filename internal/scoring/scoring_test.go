package scoring

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/rewired-gh/observatory/internal/models"
)

func mustHeat(t *testing.T, halfLife float64) *HeatScorer {
	t.Helper()
	h, err := NewHeatScorer(halfLife)
	if err != nil {
		t.Fatalf("NewHeatScorer failed: %v", err)
	}
	return h
}

func mustHotspot(t *testing.T) *HotspotScorer {
	t.Helper()
	s, err := NewHotspotScorer(HotspotOptions{VolumeCap: DefaultVolumeCap, VelocityCap: DefaultVelocityCap})
	if err != nil {
		t.Fatalf("NewHotspotScorer failed: %v", err)
	}
	return s
}

func TestNewHeatScorerRejectsInvalidHalfLife(t *testing.T) {
	for _, v := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := NewHeatScorer(v); err == nil {
			t.Errorf("Expected error for half-life %v", v)
		}
	}
}

func TestHeat(t *testing.T) {
	h := mustHeat(t, 6)

	tests := []struct {
		name  string
		sim   float64
		delta float64
		want  float64
	}{
		{"no delay keeps similarity", 1.0, 0, 1.0},
		{"twelve hours at half-life six", 1.0, 12, math.Exp(-2)},
		{"scaled similarity", 0.5, 12, 0.5 * math.Exp(-2)},
		{"one half-life", 0.8, 6, 0.8 * math.Exp(-1)},
		{"disjoint topics", 0, 0, 0},
		{"negative delta clamps to zero", 0.7, -3, 0.7},
		{"similarity above one clamps", 1.5, 0, 1.0},
		{"negative similarity clamps", -0.2, 0, 0},
		{"NaN similarity", math.NaN(), 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := h.Heat(tt.sim, tt.delta)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Heat(%v, %v) = %v, want %v", tt.sim, tt.delta, got, tt.want)
			}
		})
	}
}

func TestHeatNeverExceedsSimilarity(t *testing.T) {
	h := mustHeat(t, 6)
	for _, sim := range []float64{0, 0.1, 0.33, 0.5, 0.99, 1} {
		for _, delta := range []float64{0, 0.5, 1, 6, 24, 1000} {
			heat := h.Heat(sim, delta)
			if heat < 0 || heat > 1 {
				t.Errorf("Heat(%v, %v) = %v out of range", sim, delta, heat)
			}
			if heat > sim {
				t.Errorf("Heat(%v, %v) = %v exceeds similarity", sim, delta, heat)
			}
		}
	}
}

func TestDecayMonotonic(t *testing.T) {
	h := mustHeat(t, 6)
	prev := h.Decay(0)
	if prev != 1 {
		t.Fatalf("Decay(0) = %v, want 1", prev)
	}
	for delta := 1.0; delta <= 48; delta++ {
		d := h.Decay(delta)
		if d > prev {
			t.Errorf("Decay not monotonic at %v: %v > %v", delta, d, prev)
		}
		prev = d
	}
	if d := h.Decay(1e6); d < 0 || d > 1e-300 {
		t.Errorf("Decay of huge delta should underflow towards 0, got %v", d)
	}
}

func TestScoreComponents(t *testing.T) {
	s := mustHotspot(t)

	tests := []struct {
		name       string
		topics     int
		perHour    float64
		confidence float64
		want       float64
	}{
		{"all caps exceeded", 200, 20, 1.0, 1.0},
		{"half everything", 50, 5, 0.5, 0.5},
		{"volume only", 100, 0, 0, 0.4},
		{"velocity only", 0, 10, 0, 0.3},
		{"confidence only", 0, 0, 1, 0.3},
		{"nothing", 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := s.Components(tt.topics, tt.perHour, tt.confidence)
			if got := Score(c); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Score(%+v) = %v, want %v", c, got, tt.want)
			}
		})
	}

	c := s.Components(200, 20, 1.0)
	if c.Volume != 1 || c.Velocity != 1 || c.Confidence != 1 {
		t.Errorf("Expected saturated components, got %+v", c)
	}
}

func topic(label string, count int64, conf float64, firstSeen time.Time) models.NormalizedTopic {
	return models.NormalizedTopic{
		Label:           label,
		CountryCode:     "US",
		AggregatedCount: count,
		Confidence:      conf,
		Sources:         []models.Source{models.SourceGDELT},
		FirstSeenAt:     firstSeen,
		LastSeenAt:      firstSeen,
	}
}

func TestHotspotScore(t *testing.T) {
	s := mustHotspot(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	snap := models.CountrySnapshot{
		CountryCode: "US",
		TimeWindow:  models.Window6h,
		GeneratedAt: now,
		Topics: []models.NormalizedTopic{
			topic("inflation", 30, 0.9, now.Add(-time.Hour)),
			topic("election", 10, 0.5, now.Add(-2*time.Hour)),
			topic("drought", 0, 0.2, now.Add(-10*time.Hour)),
		},
	}
	snap.SortTopics()

	h := s.Score(snap)
	if h.Country != "US" || h.CountryName == "" {
		t.Errorf("Expected country metadata, got %q %q", h.Country, h.CountryName)
	}
	if h.TopicCount != 3 {
		t.Errorf("Expected 3 topics, got %d", h.TopicCount)
	}

	wantConf := (0.9*30 + 0.5*10) / 40
	if math.Abs(h.Components.Confidence-wantConf) > 1e-12 {
		t.Errorf("confidence = %v, want %v", h.Components.Confidence, wantConf)
	}
	if math.Abs(h.Components.Volume-0.03) > 1e-12 {
		t.Errorf("volume = %v, want 0.03", h.Components.Volume)
	}
	// two of three topics first seen inside the 6h window
	wantVel := (2.0 / 6.0) / 10.0
	if math.Abs(h.Components.Velocity-wantVel) > 1e-12 {
		t.Errorf("velocity = %v, want %v", h.Components.Velocity, wantVel)
	}
	wantIntensity := 0.4*0.03 + 0.3*wantVel + 0.3*wantConf
	if math.Abs(h.Intensity-wantIntensity) > 1e-12 {
		t.Errorf("intensity = %v, want %v", h.Intensity, wantIntensity)
	}
	if len(h.TopTopics) != 3 || h.TopTopics[0].Label != "inflation" {
		t.Errorf("Unexpected top topics: %+v", h.TopTopics)
	}
	if err := h.Validate(); err != nil {
		t.Errorf("Hotspot failed validation: %v", err)
	}
}

func TestHotspotEmptySnapshot(t *testing.T) {
	s := mustHotspot(t)
	h := s.Score(models.CountrySnapshot{CountryCode: "FR", TimeWindow: models.Window24h, GeneratedAt: time.Now()})
	if h.Intensity != 0 || h.TopicCount != 0 {
		t.Errorf("Expected zero hotspot, got %+v", h)
	}
	if h.TopTopics == nil {
		t.Error("Expected non-nil top topics")
	}
	if err := h.Validate(); err != nil {
		t.Errorf("Empty hotspot failed validation: %v", err)
	}
}

func TestHotspotZeroMentionsHasZeroConfidence(t *testing.T) {
	s := mustHotspot(t)
	now := time.Now()
	snap := models.CountrySnapshot{
		CountryCode: "BR",
		TimeWindow:  models.Window1h,
		GeneratedAt: now,
		Topics:      []models.NormalizedTopic{topic("carnival", 0, 0.9, now)},
	}
	h := s.Score(snap)
	if h.Components.Confidence != 0 {
		t.Errorf("Expected zero confidence without mentions, got %v", h.Components.Confidence)
	}
}

func TestHotspotTopTopicsBounded(t *testing.T) {
	s, err := NewHotspotScorer(HotspotOptions{VolumeCap: 100, VelocityCap: 10, TopTopics: 3})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	snap := models.CountrySnapshot{CountryCode: "DE", TimeWindow: models.Window24h, GeneratedAt: now}
	for i := 0; i < 250; i++ {
		snap.Topics = append(snap.Topics, topic(fmt.Sprintf("topic %03d", i), int64(i), 1.0, now))
	}
	snap.SortTopics()

	h := s.Score(snap)
	if len(h.TopTopics) != 3 {
		t.Fatalf("Expected 3 top topics, got %d", len(h.TopTopics))
	}
	if h.TopTopics[0].Label != "topic 249" {
		t.Errorf("Expected highest count first, got %q", h.TopTopics[0].Label)
	}
	// 250 topics over a 24h window: volume saturates, velocity does not
	if h.Components.Volume != 1 {
		t.Errorf("Expected saturated volume, got %v", h.Components.Volume)
	}
	if h.Intensity < 0 || h.Intensity > 1 {
		t.Errorf("Intensity out of range: %v", h.Intensity)
	}
}

func TestNewHotspotScorerValidation(t *testing.T) {
	bad := []HotspotOptions{
		{VolumeCap: 0, VelocityCap: 10},
		{VolumeCap: 100, VelocityCap: -1},
		{VolumeCap: 100, VelocityCap: 10, TopTopics: -1},
	}
	for _, opts := range bad {
		if _, err := NewHotspotScorer(opts); err == nil {
			t.Errorf("Expected error for %+v", opts)
		}
	}
}

func TestHotspotVelocityIgnoresPriorTopics(t *testing.T) {
	s := mustHotspot(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	snap := models.CountrySnapshot{
		CountryCode: "US",
		TimeWindow:  models.Window6h,
		GeneratedAt: now,
		Topics: []models.NormalizedTopic{
			topic("inflation", 30, 0.9, now.Add(-time.Hour)),
			topic("election", 10, 0.5, now.Add(-2*time.Hour)),
		},
		PriorLabels: map[string]bool{"inflation": true, "election": true},
	}
	h := s.Score(snap)
	if h.Components.Velocity != 0 {
		t.Errorf("Expected zero velocity for long-running topics, got %v", h.Components.Velocity)
	}
	if h.TopicCount != 2 {
		t.Errorf("Expected long-running topics to keep their volume, got %d", h.TopicCount)
	}

	snap.PriorLabels = map[string]bool{"inflation": true}
	h = s.Score(snap)
	wantVel := (1.0 / 6.0) / 10.0
	if math.Abs(h.Components.Velocity-wantVel) > 1e-12 {
		t.Errorf("velocity = %v, want %v", h.Components.Velocity, wantVel)
	}
}

func TestHotspotSourceDiversity(t *testing.T) {
	s := mustHotspot(t)
	now := time.Now()
	wiki := topic("world cup", 4, 0.8, now)
	wiki.Sources = []models.Source{models.SourceTrends, models.SourceWikipedia}
	snap := models.CountrySnapshot{
		CountryCode: "BR",
		TimeWindow:  models.Window24h,
		GeneratedAt: now,
		Topics: []models.NormalizedTopic{
			topic("carnival", 5, 0.9, now),
			topic("inflation", 3, 0.9, now),
			wiki,
			topic("election", 2, 0.9, now),
		},
	}
	h := s.Score(snap)
	if h.SourceCount != 3 {
		t.Errorf("Expected 3 distinct sources, got %d (%v)", h.SourceCount, h.Sources)
	}
	if math.Abs(h.SourceDiversity-0.75) > 1e-12 {
		t.Errorf("source diversity = %v, want 0.75", h.SourceDiversity)
	}

	single := s.Score(models.CountrySnapshot{
		CountryCode: "BR",
		TimeWindow:  models.Window24h,
		GeneratedAt: now,
		Topics:      []models.NormalizedTopic{wiki},
	})
	if single.SourceDiversity != 1 {
		t.Errorf("Expected diversity capped at 1, got %v", single.SourceDiversity)
	}
	if err := single.Validate(); err != nil {
		t.Errorf("Hotspot failed validation: %v", err)
	}
}
