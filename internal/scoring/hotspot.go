package scoring

import (
	"fmt"
	"sort"

	"github.com/rewired-gh/observatory/internal/countries"
	"github.com/rewired-gh/observatory/internal/models"
)

// Component weights of the hotspot intensity.
const (
	VolumeWeight     = 0.4
	VelocityWeight   = 0.3
	ConfidenceWeight = 0.3
)

// Default caps and sizes.
const (
	DefaultVolumeCap   = 100.0
	DefaultVelocityCap = 10.0
	DefaultTopTopics   = 10
)

// HotspotOptions configures a HotspotScorer.
type HotspotOptions struct {
	VolumeCap   float64
	VelocityCap float64
	TopTopics   int
}

// HotspotScorer computes per-country intensity from a snapshot.
type HotspotScorer struct {
	volumeCap   float64
	velocityCap float64
	topTopics   int
}

// NewHotspotScorer validates opts. A zero TopTopics falls back to DefaultTopTopics.
func NewHotspotScorer(opts HotspotOptions) (*HotspotScorer, error) {
	if opts.VolumeCap <= 0 {
		return nil, fmt.Errorf("invalid volume cap %v: must be positive", opts.VolumeCap)
	}
	if opts.VelocityCap <= 0 {
		return nil, fmt.Errorf("invalid velocity cap %v: must be positive", opts.VelocityCap)
	}
	if opts.TopTopics < 0 {
		return nil, fmt.Errorf("invalid top topics %d: must not be negative", opts.TopTopics)
	}
	if opts.TopTopics == 0 {
		opts.TopTopics = DefaultTopTopics
	}
	return &HotspotScorer{
		volumeCap:   opts.VolumeCap,
		velocityCap: opts.VelocityCap,
		topTopics:   opts.TopTopics,
	}, nil
}

// Components derives the raw sub-scores from topic count, topics per hour and
// a confidence in [0, 1].
func (s *HotspotScorer) Components(topicCount int, topicsPerHour, confidence float64) models.HotspotComponents {
	return models.HotspotComponents{
		Volume:     clamp01(float64(topicCount) / s.volumeCap),
		Velocity:   clamp01(topicsPerHour / s.velocityCap),
		Confidence: clamp01(confidence),
	}
}

// Score combines components into an intensity.
func Score(c models.HotspotComponents) float64 {
	return clamp01(VolumeWeight*clamp01(c.Volume) +
		VelocityWeight*clamp01(c.Velocity) +
		ConfidenceWeight*clamp01(c.Confidence))
}

// Score computes the hotspot of one snapshot. Velocity counts the topics that emerged
// in the window: first seen inside [now-window, now] and absent from the snapshot's
// PriorLabels. now is the snapshot's generation time.
func (s *HotspotScorer) Score(snap models.CountrySnapshot) models.Hotspot {
	h := models.Hotspot{
		Country:   snap.CountryCode,
		TopTopics: []models.TopicSummary{},
	}
	if meta, ok := countries.Lookup(snap.CountryCode); ok {
		h.CountryName = meta.Name
		h.Latitude = meta.Latitude
		h.Longitude = meta.Longitude
	}
	if snap.Empty() {
		return h
	}

	now := snap.GeneratedAt
	since := now.Add(-snap.TimeWindow.Duration())
	var fresh int
	var weighted float64
	var total int64
	seen := make(map[models.Source]bool)
	for _, t := range snap.Topics {
		if !t.FirstSeenAt.Before(since) && !t.FirstSeenAt.After(now) && !snap.PriorLabels[t.Label] {
			fresh++
		}
		weighted += t.Confidence * float64(t.AggregatedCount)
		total += t.AggregatedCount
		for _, src := range t.Sources {
			seen[src] = true
		}
	}

	var confidence float64
	if total > 0 {
		confidence = weighted / float64(total)
	}
	perHour := 0.0
	if hours := snap.TimeWindow.Hours(); hours > 0 {
		perHour = float64(fresh) / hours
	}

	h.TopicCount = len(snap.Topics)
	h.Confidence = clamp01(confidence)
	h.Components = s.Components(h.TopicCount, perHour, confidence)
	h.Intensity = Score(h.Components)

	topics := make([]models.NormalizedTopic, len(snap.Topics))
	copy(topics, snap.Topics)
	sort.SliceStable(topics, func(i, j int) bool {
		if topics[i].AggregatedCount != topics[j].AggregatedCount {
			return topics[i].AggregatedCount > topics[j].AggregatedCount
		}
		return topics[i].Label < topics[j].Label
	})
	if len(topics) > s.topTopics {
		topics = topics[:s.topTopics]
	}
	for _, t := range topics {
		h.TopTopics = append(h.TopTopics, models.TopicSummary{
			Label:      t.Label,
			Count:      t.AggregatedCount,
			Confidence: t.Confidence,
		})
	}

	for src := range seen {
		h.Sources = append(h.Sources, src)
	}
	sort.Slice(h.Sources, func(i, j int) bool { return h.Sources[i] < h.Sources[j] })
	h.SourceCount = len(h.Sources)
	h.SourceDiversity = clamp01(float64(h.SourceCount) / float64(h.TopicCount))
	return h
}
