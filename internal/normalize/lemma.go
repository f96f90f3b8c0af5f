package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var irregular = map[string]string{
	"children": "child",
	"men":      "man",
	"women":    "woman",
	"people":   "person",
	"mice":     "mouse",
	"geese":    "goose",
	"feet":     "foot",
	"teeth":    "tooth",
	"crises":   "crisis",
	"analyses": "analysis",
	"theses":   "thesis",
	"indices":  "index",
}

// Words ending in "s" that are not plurals.
var invariant = map[string]bool{
	"news":        true,
	"series":      true,
	"species":     true,
	"politics":    true,
	"economics":   true,
	"physics":     true,
	"mathematics": true,
	"athletics":   true,
	"olympics":    true,
	"always":      true,
	"perhaps":     true,
	"whereas":     true,
	"texas":       true,
	"paris":       true,
	"athens":      true,
	"brussels":    true,
	"wales":       true,
	"philippines": true,
	"netherlands": true,
	"bahamas":     true,
	"christmas":   true,
	"bias":        true,
	"atlas":       true,
	"alias":       true,
	"canvas":      true,
	"hamas":       true,
	"mercedes":    true,
	"diabetes":    true,
	"measles":     true,
}

// Lemmatize reduces an inflected token to a base form using an irregular table
// and conservative plural suffix rules. Tokens of three runes or fewer and
// numeric tokens are returned unchanged.
func Lemmatize(tok string) string {
	if base, ok := irregular[tok]; ok {
		return base
	}
	if utf8.RuneCountInString(tok) <= 3 || invariant[tok] || numeric(tok) {
		return tok
	}

	switch {
	case strings.HasSuffix(tok, "ies") && utf8.RuneCountInString(tok) > 4:
		return strings.TrimSuffix(tok, "ies") + "y"
	case strings.HasSuffix(tok, "sses"):
		return strings.TrimSuffix(tok, "es")
	case strings.HasSuffix(tok, "ches"), strings.HasSuffix(tok, "shes"),
		strings.HasSuffix(tok, "xes"), strings.HasSuffix(tok, "zzes"):
		return strings.TrimSuffix(tok, "es")
	case strings.HasSuffix(tok, "ss"), strings.HasSuffix(tok, "us"), strings.HasSuffix(tok, "is"):
		return tok
	case strings.HasSuffix(tok, "s"):
		return strings.TrimSuffix(tok, "s")
	}
	return tok
}

func numeric(tok string) bool {
	for _, r := range tok {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
