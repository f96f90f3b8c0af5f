package flows

import (
	"time"

	"github.com/rewired-gh/observatory/internal/models"
	"github.com/rewired-gh/observatory/internal/normalize"
)

// SnapshotStats counts what BuildSnapshot discarded.
type SnapshotStats struct {
	Invalid      int // failed validation or belonged to another country
	OutOfWindow  int
	EmptyLabel   int
	Observations int // contributed to a topic
}

// BuildSnapshot normalizes and aggregates one country's observations inside
// [now-window, now]. Topics are keyed by normalized label, so several raw labels
// and sources can merge into one topic.
func BuildSnapshot(n *normalize.Normalizer, country string, window models.TimeWindow, obs []models.TopicObservation, now time.Time) (models.CountrySnapshot, SnapshotStats) {
	snap := models.CountrySnapshot{
		CountryCode: country,
		TimeWindow:  window,
		Topics:      []models.NormalizedTopic{},
		GeneratedAt: now,
	}
	var stats SnapshotStats
	since := now.Add(-window.Duration())

	byLabel := make(map[string]*models.NormalizedTopic)
	var order []string
	for i := range obs {
		o := obs[i]
		if o.CountryCode != country || o.Validate() != nil {
			stats.Invalid++
			continue
		}
		if o.ObservedAt.Before(since) || o.ObservedAt.After(now) {
			stats.OutOfWindow++
			continue
		}
		label := n.Normalize(o.RawLabel)
		if normalize.IsEmpty(label) {
			stats.EmptyLabel++
			continue
		}

		if t, ok := byLabel[label]; ok {
			if err := t.Add(o); err != nil {
				stats.Invalid++
				continue
			}
		} else {
			t, err := models.NewNormalizedTopic(label, o)
			if err != nil {
				stats.Invalid++
				continue
			}
			byLabel[label] = t
			order = append(order, label)
		}
		stats.Observations++
	}

	for _, label := range order {
		snap.Topics = append(snap.Topics, *byLabel[label])
	}
	snap.SortTopics()
	return snap, stats
}

// PriorLabels returns the normalized labels of country's valid observations in
// [since-lookback, since). They mark topics that were already running when the
// window opened.
func PriorLabels(n *normalize.Normalizer, country string, obs []models.TopicObservation, since time.Time, lookback time.Duration) map[string]bool {
	from := since.Add(-lookback)
	labels := make(map[string]bool)
	for i := range obs {
		o := &obs[i]
		if o.CountryCode != country || o.ObservedAt.Before(from) || !o.ObservedAt.Before(since) {
			continue
		}
		if o.Validate() != nil {
			continue
		}
		if label := n.Normalize(o.RawLabel); !normalize.IsEmpty(label) {
			labels[label] = true
		}
	}
	return labels
}
