package flows

import (
	"math"
	"sort"

	"github.com/rewired-gh/observatory/internal/countries"
	"github.com/rewired-gh/observatory/internal/models"
)

type sharedTopic struct {
	label   string
	overlap int64
	firstA  int64 // unix nanos
	firstB  int64
}

// sharedTopics returns the labels present in both snapshots ordered by
// min(countA, countB) descending, then label ascending.
func sharedTopics(a, b *models.CountrySnapshot) []sharedTopic {
	if a.Empty() || b.Empty() {
		return nil
	}
	idx := b.TopicIndex()
	var out []sharedTopic
	for i := range a.Topics {
		ta := &a.Topics[i]
		j, ok := idx[ta.Label]
		if !ok {
			continue
		}
		tb := &b.Topics[j]
		overlap := ta.AggregatedCount
		if tb.AggregatedCount < overlap {
			overlap = tb.AggregatedCount
		}
		out = append(out, sharedTopic{
			label:   ta.Label,
			overlap: overlap,
			firstA:  ta.FirstSeenAt.UnixNano(),
			firstB:  tb.FirstSeenAt.UnixNano(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].overlap != out[j].overlap {
			return out[i].overlap > out[j].overlap
		}
		return out[i].label < out[j].label
	})
	return out
}

// scorePair returns the single directed flow between a and b, or nil when the
// countries share no label.
func (d *Detector) scorePair(a, b *models.CountrySnapshot, sim float64) *models.Flow {
	shared := sharedTopics(a, b)
	if len(shared) == 0 {
		return nil
	}
	anchor := shared[0]

	from, to := a.CountryCode, b.CountryCode
	switch {
	case anchor.firstB < anchor.firstA:
		from, to = to, from
	case anchor.firstA == anchor.firstB && to < from:
		from, to = to, from
	}

	deltaHours := math.Abs(float64(anchor.firstA-anchor.firstB)) / float64(3600e9)

	n := len(shared)
	if n > d.maxShared {
		n = d.maxShared
	}
	labels := make([]string, n)
	for i := 0; i < n; i++ {
		labels[i] = shared[i].label
	}

	return &models.Flow{
		FromCountry:     from,
		ToCountry:       to,
		Heat:            d.heat.Heat(sim, deltaHours),
		SimilarityScore: sim,
		TimeDeltaHours:  deltaHours,
		SharedTopics:    labels,
		FromCoords:      countries.Coords(from),
		ToCoords:        countries.Coords(to),
	}
}
