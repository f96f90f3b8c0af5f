// Package normalize canonicalizes raw topic and theme strings into comparable labels.
//
// The pipeline runs in a fixed order and every step is total and side-effect free:
//
//	lowercase → strip non-alphanumerics → lemmatize tokens → synonym dictionary → collapse whitespace
//
// Given the same input and the same dictionary version the output is always identical,
// which is what makes normalized labels usable inside cache keys.
package normalize

import (
	"strings"
	"unicode"
)

// EmptyLabel is the sentinel returned for empty or purely symbolic input.
// Topics carrying it are excluded from snapshots.
const EmptyLabel = ""

// IsEmpty reports whether label is the empty-topic sentinel.
func IsEmpty(label string) bool {
	return label == EmptyLabel
}

// Normalizer maps raw labels to canonical labels. It holds no mutable state
// and is safe for concurrent use.
type Normalizer struct {
	dict *Dictionary
}

// New returns a Normalizer bound to dict. A nil dict applies no synonyms.
func New(dict *Dictionary) *Normalizer {
	if dict == nil {
		dict = emptyDictionary
	}
	return &Normalizer{dict: dict}
}

// DictionaryVersion identifies the synonym dictionary in use.
func (n *Normalizer) DictionaryVersion() string {
	return n.dict.Version()
}

// Normalize returns the canonical label for raw. Any string is accepted.
func (n *Normalizer) Normalize(raw string) string {
	tokens := tokenize(raw)
	if len(tokens) == 0 {
		return EmptyLabel
	}
	for i, tok := range tokens {
		tokens[i] = Lemmatize(tok)
	}
	tokens = n.dict.apply(tokens)
	return strings.Join(tokens, " ")
}

// tokenize performs the lowercase and strip steps and splits on whitespace,
// which also collapses repeated whitespace.
func tokenize(raw string) []string {
	return strings.Fields(clean(raw))
}

func clean(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return b.String()
}
