package similarity

import (
	"math"
	"testing"

	"github.com/rewired-gh/observatory/internal/models"
)

func snapshot(country string, topics map[string]int64) models.CountrySnapshot {
	s := models.CountrySnapshot{CountryCode: country, TimeWindow: models.Window24h}
	for label, count := range topics {
		s.Topics = append(s.Topics, models.NormalizedTopic{Label: label, CountryCode: country, AggregatedCount: count})
	}
	s.SortTopics()
	return s
}

func TestTerms(t *testing.T) {
	e := NewEngine(Options{StopWords: true})
	got := e.Terms("price of the oil")
	want := []string{"price", "oil", "price oil"}
	if len(got) != len(want) {
		t.Fatalf("Terms() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Terms()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	unigrams := NewEngine(Options{MaxNGram: 1}).Terms("price of oil")
	if len(unigrams) != 3 {
		t.Errorf("Expected 3 unigrams without stop word removal, got %v", unigrams)
	}
}

func TestSimilarity(t *testing.T) {
	e := NewEngine(Options{StopWords: true})

	tests := []struct {
		name string
		a, b map[string]int64
		min  float64
		max  float64
	}{
		{"identical single topic", map[string]int64{"inflation": 50}, map[string]int64{"inflation": 30}, 0.999999, 1},
		{"disjoint", map[string]int64{"election": 10}, map[string]int64{"drought": 10}, 0, 0},
		{"partial overlap", map[string]int64{"election": 10, "inflation": 10}, map[string]int64{"inflation": 10, "drought": 10}, 0.01, 0.99},
		{"bigram overlap", map[string]int64{"oil price": 5}, map[string]int64{"oil export": 5}, 0.01, 0.99},
		{"empty side", map[string]int64{}, map[string]int64{"inflation": 10}, 0, 0},
		{"zero counts still count", map[string]int64{"inflation": 0}, map[string]int64{"inflation": 0}, 0.999999, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Pair(snapshot("US", tt.a), snapshot("MX", tt.b))
			if got < tt.min || got > tt.max {
				t.Errorf("similarity = %v, want in [%v, %v]", got, tt.min, tt.max)
			}
		})
	}
}

func TestSimilaritySymmetricAndBounded(t *testing.T) {
	e := NewEngine(Options{StopWords: true})
	snaps := []models.CountrySnapshot{
		snapshot("US", map[string]int64{"inflation": 40, "election": 20, "oil price": 5}),
		snapshot("MX", map[string]int64{"inflation": 10, "border security": 30}),
		snapshot("BR", map[string]int64{"election": 25, "amazon fire": 12}),
		snapshot("FR", map[string]int64{}),
	}
	m := e.Fit(snaps)
	for _, a := range snaps {
		for _, b := range snaps {
			ab := m.Similarity(a.CountryCode, b.CountryCode)
			ba := m.Similarity(b.CountryCode, a.CountryCode)
			if ab != ba {
				t.Errorf("similarity(%s,%s)=%v differs from reverse %v", a.CountryCode, b.CountryCode, ab, ba)
			}
			if ab < 0 || ab > 1 || math.IsNaN(ab) {
				t.Errorf("similarity(%s,%s)=%v out of range", a.CountryCode, b.CountryCode, ab)
			}
		}
	}
	if got := m.Similarity("FR", "US"); got != 0 {
		t.Errorf("Expected 0 for zero-topic country, got %v", got)
	}
	if got := m.Similarity("XX", "US"); got != 0 {
		t.Errorf("Expected 0 for unknown country, got %v", got)
	}
}

func TestFitDeterministic(t *testing.T) {
	e := NewEngine(Options{StopWords: true})
	build := func() []models.CountrySnapshot {
		return []models.CountrySnapshot{
			snapshot("US", map[string]int64{"inflation": 40, "election": 20, "oil price": 5, "trade war": 7}),
			snapshot("CN", map[string]int64{"trade war": 30, "inflation": 3}),
			snapshot("DE", map[string]int64{"energy price": 9, "oil price": 11}),
		}
	}
	first := e.Fit(build())
	for i := 0; i < 20; i++ {
		m := e.Fit(build())
		for _, pair := range [][2]string{{"US", "CN"}, {"US", "DE"}, {"CN", "DE"}} {
			if got, want := m.Similarity(pair[0], pair[1]), first.Similarity(pair[0], pair[1]); got != want {
				t.Fatalf("run %d: similarity %v = %v, first run %v", i, pair, got, want)
			}
		}
	}
}

func TestCountWeighting(t *testing.T) {
	e := NewEngine(Options{StopWords: true})
	base := snapshot("US", map[string]int64{"inflation": 100, "election": 1})
	heavy := snapshot("MX", map[string]int64{"inflation": 100, "drought": 1})
	light := snapshot("BR", map[string]int64{"inflation": 1, "drought": 100})
	m := e.Fit([]models.CountrySnapshot{base, heavy, light})
	if m.Similarity("US", "MX") <= m.Similarity("US", "BR") {
		t.Errorf("Expected dominant shared topic to raise similarity: %v <= %v",
			m.Similarity("US", "MX"), m.Similarity("US", "BR"))
	}
	if m.VocabularySize() != 3 {
		t.Errorf("Expected 3 terms, got %d", m.VocabularySize())
	}
}

func TestCosine(t *testing.T) {
	a := Vector{{id: 0, w: 0.6}, {id: 2, w: 0.8}}
	b := Vector{{id: 2, w: 1}}
	if got := Cosine(a, b); math.Abs(got-0.8) > 1e-12 {
		t.Errorf("Cosine = %v, want 0.8", got)
	}
	if got := Cosine(nil, b); got != 0 {
		t.Errorf("Cosine with empty vector = %v, want 0", got)
	}
	over := Vector{{id: 1, w: 1.5}}
	if got := Cosine(over, over); got != 1 {
		t.Errorf("Cosine should clamp to 1, got %v", got)
	}
}
