// Package similarity builds TF-IDF representations of per-country topic sets and
// compares them with cosine similarity.
//
// Each country becomes one document. Every unigram and bigram inside a normalized
// label contributes the label's aggregated count as term frequency, so frequent
// topics dominate without a separate weighting step. All countries of a request are
// vectorized jointly with smoothed inverse document frequency:
//
//	idf(t) = ln((1 + n) / (1 + df(t))) + 1
//
// Vectors are L2-normalized and non-negative, so cosine similarity lies in [0, 1].
// Vectors are stored sorted by term id and reduced in that order, which keeps every
// result bit-identical regardless of map iteration or goroutine scheduling.
package similarity

import (
	"math"
	"sort"
	"strings"

	"github.com/rewired-gh/observatory/internal/models"
)

// Options configures term extraction.
type Options struct {
	// StopWords drops common English function words before n-grams are formed.
	StopWords bool
	// MaxNGram is the largest n-gram size; values below 1 default to 2.
	MaxNGram int
}

// Engine extracts terms and fits models. It is stateless and safe for concurrent use.
type Engine struct {
	stopWords bool
	maxNGram  int
}

// NewEngine creates an Engine.
func NewEngine(opts Options) *Engine {
	if opts.MaxNGram < 1 {
		opts.MaxNGram = 2
	}
	return &Engine{stopWords: opts.StopWords, maxNGram: opts.MaxNGram}
}

type entry struct {
	id int
	w  float64
}

// Vector is a sparse, L2-normalized TF-IDF vector ordered by term id.
type Vector []entry

// Len returns the number of non-zero terms.
func (v Vector) Len() int { return len(v) }

// Model holds the jointly fitted vectors of one set of countries.
type Model struct {
	vocabulary []string
	vectors    map[string]Vector
}

// Terms returns the unigrams and bigrams of one normalized label.
func (e *Engine) Terms(label string) []string {
	tokens := strings.Fields(label)
	if e.stopWords {
		kept := tokens[:0:0]
		for _, tok := range tokens {
			if !stopWords[tok] {
				kept = append(kept, tok)
			}
		}
		tokens = kept
	}
	var terms []string
	for n := 1; n <= e.maxNGram; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			terms = append(terms, strings.Join(tokens[i:i+n], " "))
		}
	}
	return terms
}

// Fit vectorizes all snapshots jointly. Snapshots sharing a country code are
// merged into one document.
func (e *Engine) Fit(snapshots []models.CountrySnapshot) *Model {
	tfs := make(map[string]map[string]float64, len(snapshots))
	var order []string
	for _, snap := range snapshots {
		tf, ok := tfs[snap.CountryCode]
		if !ok {
			tf = make(map[string]float64)
			tfs[snap.CountryCode] = tf
			order = append(order, snap.CountryCode)
		}
		for _, topic := range snap.Topics {
			weight := float64(topic.AggregatedCount)
			if weight <= 0 {
				weight = 1
			}
			for _, term := range e.Terms(topic.Label) {
				tf[term] += weight
			}
		}
	}

	df := make(map[string]int)
	for _, tf := range tfs {
		for term := range tf {
			df[term]++
		}
	}
	vocabulary := make([]string, 0, len(df))
	for term := range df {
		vocabulary = append(vocabulary, term)
	}
	sort.Strings(vocabulary)
	ids := make(map[string]int, len(vocabulary))
	for i, term := range vocabulary {
		ids[term] = i
	}

	n := float64(len(tfs))
	m := &Model{vocabulary: vocabulary, vectors: make(map[string]Vector, len(tfs))}
	for _, country := range order {
		tf := tfs[country]
		vec := make(Vector, 0, len(tf))
		for term, freq := range tf {
			idf := math.Log((1+n)/(1+float64(df[term]))) + 1
			vec = append(vec, entry{id: ids[term], w: freq * idf})
		}
		sort.Slice(vec, func(i, j int) bool { return vec[i].id < vec[j].id })

		var sq float64
		for _, en := range vec {
			sq += en.w * en.w
		}
		if norm := math.Sqrt(sq); norm > 0 {
			for i := range vec {
				vec[i].w /= norm
			}
		}
		m.vectors[country] = vec
	}
	return m
}

// Similarity returns the cosine similarity of two fitted countries. Unknown or
// zero-topic countries yield 0.
func (m *Model) Similarity(a, b string) float64 {
	return Cosine(m.vectors[a], m.vectors[b])
}

// Vector returns the fitted vector of a country.
func (m *Model) Vector(country string) Vector {
	return m.vectors[country]
}

// VocabularySize returns the number of distinct terms across all documents.
func (m *Model) VocabularySize() int {
	return len(m.vocabulary)
}

// Pair fits a model over just two snapshots and compares them.
func (e *Engine) Pair(a, b models.CountrySnapshot) float64 {
	if a.CountryCode == b.CountryCode {
		b.CountryCode = b.CountryCode + "#"
	}
	return e.Fit([]models.CountrySnapshot{a, b}).Similarity(a.CountryCode, b.CountryCode)
}

// Cosine computes the dot product of two normalized sparse vectors, clamped to [0, 1].
// A zero vector on either side yields 0.
func Cosine(a, b Vector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot float64
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].id == b[j].id:
			dot += a[i].w * b[j].w
			i++
			j++
		case a[i].id < b[j].id:
			i++
		default:
			j++
		}
	}
	if dot < 0 || math.IsNaN(dot) {
		return 0
	}
	if dot > 1 {
		return 1
	}
	return dot
}

var stopWords = map[string]bool{
	"a": true, "about": true, "after": true, "all": true, "also": true, "an": true, "and": true,
	"any": true, "are": true, "as": true, "at": true, "be": true, "been": true, "but": true,
	"by": true, "can": true, "could": true, "did": true, "do": true, "does": true, "for": true,
	"from": true, "had": true, "has": true, "have": true, "he": true, "her": true, "his": true,
	"how": true, "i": true, "if": true, "in": true, "into": true, "is": true, "it": true,
	"its": true, "more": true, "most": true, "no": true, "not": true, "of": true, "on": true,
	"or": true, "our": true, "out": true, "over": true, "she": true, "so": true, "than": true,
	"that": true, "the": true, "their": true, "them": true, "then": true, "there": true,
	"these": true, "they": true, "this": true, "to": true, "up": true, "was": true, "we": true,
	"were": true, "what": true, "when": true, "which": true, "who": true, "will": true,
	"with": true, "would": true, "you": true,
}
