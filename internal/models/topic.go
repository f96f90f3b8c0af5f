package models

import (
	"errors"
	"sort"
	"time"
)

// NormalizedTopic is the canonical form of one or more observations that refer
// to the same narrative within one country. It is only built through
// NewNormalizedTopic and Add so that its invariants hold at construction.
type NormalizedTopic struct {
	Label           string    `json:"label"`
	CountryCode     string    `json:"country_code"`
	AggregatedCount int64     `json:"aggregated_count"`
	Confidence      float64   `json:"confidence"`
	Sources         []Source  `json:"sources"`
	FirstSeenAt     time.Time `json:"first_seen_at"`
	LastSeenAt      time.Time `json:"last_seen_at"`

	weightedConf float64
	plainConf    float64
	observations int
}

// NewNormalizedTopic starts an aggregate from its first contributing observation.
func NewNormalizedTopic(label string, obs TopicObservation) (*NormalizedTopic, error) {
	if label == "" {
		return nil, errors.New("normalized label must not be empty")
	}
	if err := obs.Validate(); err != nil {
		return nil, err
	}
	t := &NormalizedTopic{
		Label:       label,
		CountryCode: obs.CountryCode,
		FirstSeenAt: obs.ObservedAt,
		LastSeenAt:  obs.ObservedAt,
	}
	t.add(obs)
	return t, nil
}

// Add folds another observation of the same country into the aggregate.
func (t *NormalizedTopic) Add(obs TopicObservation) error {
	if err := obs.Validate(); err != nil {
		return err
	}
	if obs.CountryCode != t.CountryCode {
		return errors.New("observation country does not match topic country")
	}
	if obs.ObservedAt.Before(t.FirstSeenAt) {
		t.FirstSeenAt = obs.ObservedAt
	}
	if obs.ObservedAt.After(t.LastSeenAt) {
		t.LastSeenAt = obs.ObservedAt
	}
	t.add(obs)
	return nil
}

func (t *NormalizedTopic) add(obs TopicObservation) {
	t.AggregatedCount += obs.MentionCount
	t.weightedConf += obs.Confidence * float64(obs.MentionCount)
	t.plainConf += obs.Confidence
	t.observations++

	// Count-weighted average; plain mean while every contribution has zero mentions.
	if t.AggregatedCount > 0 {
		t.Confidence = t.weightedConf / float64(t.AggregatedCount)
	} else {
		t.Confidence = t.plainConf / float64(t.observations)
	}
	if t.Confidence > 1 {
		t.Confidence = 1
	}

	i := sort.Search(len(t.Sources), func(i int) bool { return t.Sources[i] >= obs.Source })
	if i < len(t.Sources) && t.Sources[i] == obs.Source {
		return
	}
	t.Sources = append(t.Sources, "")
	copy(t.Sources[i+1:], t.Sources[i:])
	t.Sources[i] = obs.Source
}

// CountrySnapshot is the full set of normalized topics for one country within one window.
// Topics are ordered by aggregated count descending, then label ascending.
type CountrySnapshot struct {
	CountryCode string            `json:"country_code"`
	TimeWindow  TimeWindow        `json:"time_window"`
	Topics      []NormalizedTopic `json:"topics"`
	GeneratedAt time.Time         `json:"generated_at"`

	// PriorLabels holds the labels already seen in the equally long period before
	// the window. Topics listed here are not new.
	PriorLabels map[string]bool `json:"-"`
}

// SortTopics restores the canonical topic order.
func (s *CountrySnapshot) SortTopics() {
	sort.SliceStable(s.Topics, func(i, j int) bool {
		if s.Topics[i].AggregatedCount != s.Topics[j].AggregatedCount {
			return s.Topics[i].AggregatedCount > s.Topics[j].AggregatedCount
		}
		return s.Topics[i].Label < s.Topics[j].Label
	})
}

// Empty reports whether the snapshot has no topics.
func (s *CountrySnapshot) Empty() bool {
	return len(s.Topics) == 0
}

// TopicIndex maps labels to positions in Topics.
func (s *CountrySnapshot) TopicIndex() map[string]int {
	idx := make(map[string]int, len(s.Topics))
	for i, t := range s.Topics {
		idx[t.Label] = i
	}
	return idx
}
