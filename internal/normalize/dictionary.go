package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule maps a set of aliases onto one canonical phrase.
type Rule struct {
	Canonical string   `yaml:"canonical"`
	Aliases   []string `yaml:"aliases"`
}

// DictionaryFile is the on-disk YAML layout of a synonym dictionary.
type DictionaryFile struct {
	Version string `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

type compiledRule struct {
	canonical []string
	aliases   [][]string // longest first
}

// Dictionary is an immutable, ordered synonym table. Matching runs on the
// lemmatized token sequence: the first rule with an alias occurring as a
// contiguous token run wins, and that run is replaced by the canonical phrase.
// Rules are never composed.
type Dictionary struct {
	version string
	rules   []compiledRule
}

var emptyDictionary = &Dictionary{version: "none"}

// NewDictionary compiles rules. Aliases go through the same lowercase, strip and
// lemmatize steps as input labels; the canonical phrase is always an alias of itself.
func NewDictionary(version string, rules []Rule) (*Dictionary, error) {
	if strings.TrimSpace(version) == "" {
		return nil, fmt.Errorf("dictionary version must not be empty")
	}
	d := &Dictionary{version: version}
	for i, r := range rules {
		canonical := tokenize(r.Canonical)
		if len(canonical) == 0 {
			return nil, fmt.Errorf("rule %d: canonical phrase must not be empty", i)
		}

		seen := make(map[string]bool)
		var aliases [][]string
		for _, alias := range append([]string{r.Canonical}, r.Aliases...) {
			toks := tokenize(alias)
			for j, tok := range toks {
				toks[j] = Lemmatize(tok)
			}
			key := strings.Join(toks, " ")
			if len(toks) == 0 || seen[key] {
				continue
			}
			seen[key] = true
			aliases = append(aliases, toks)
		}
		sort.SliceStable(aliases, func(a, b int) bool {
			if len(aliases[a]) != len(aliases[b]) {
				return len(aliases[a]) > len(aliases[b])
			}
			return len(strings.Join(aliases[a], " ")) > len(strings.Join(aliases[b], " "))
		})
		d.rules = append(d.rules, compiledRule{canonical: canonical, aliases: aliases})
	}
	return d, nil
}

// LoadDictionary reads a YAML dictionary file. When the file carries no version,
// one is derived from a hash of its contents.
func LoadDictionary(path string) (*Dictionary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dictionary: %w", err)
	}
	var f DictionaryFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse dictionary: %w", err)
	}
	if strings.TrimSpace(f.Version) == "" {
		sum := sha256.Sum256(raw)
		f.Version = "sha256:" + hex.EncodeToString(sum[:])[:12]
	}
	return NewDictionary(f.Version, f.Rules)
}

// Version identifies the dictionary contents.
func (d *Dictionary) Version() string {
	return d.version
}

// Len returns the number of rules.
func (d *Dictionary) Len() int {
	return len(d.rules)
}

func (d *Dictionary) apply(tokens []string) []string {
	for _, r := range d.rules {
		for _, alias := range r.aliases {
			i := indexTokens(tokens, alias)
			if i < 0 {
				continue
			}
			out := make([]string, 0, len(tokens)-len(alias)+len(r.canonical))
			out = append(out, tokens[:i]...)
			out = append(out, r.canonical...)
			out = append(out, tokens[i+len(alias):]...)
			return out
		}
	}
	return tokens
}

func indexTokens(tokens, sub []string) int {
	if len(sub) == 0 || len(sub) > len(tokens) {
		return -1
	}
outer:
	for i := 0; i+len(sub) <= len(tokens); i++ {
		for j := range sub {
			if tokens[i+j] != sub[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

// DefaultRules is the built-in synonym table.
var DefaultRules = []Rule{
	{Canonical: "coronavirus", Aliases: []string{"covid", "covid19", "covid 19", "corona", "sarscov2", "sars cov 2", "2019 ncov"}},
	{Canonical: "president", Aliases: []string{"potus", "president of the united states"}},
	{Canonical: "united states", Aliases: []string{"usa", "united states of america"}},
	{Canonical: "united kingdom", Aliases: []string{"uk", "britain", "great britain"}},
	{Canonical: "european union", Aliases: []string{"eu"}},
	{Canonical: "artificial intelligence", Aliases: []string{"ai", "genai", "generative ai"}},
	{Canonical: "climate change", Aliases: []string{"global warming", "climate crisis"}},
	{Canonical: "terrorism", Aliases: []string{"terror", "terrorist attack", "extremism"}},
	{Canonical: "cryptocurrency", Aliases: []string{"crypto", "bitcoin price"}},
}

// DefaultDictionary compiles DefaultRules.
func DefaultDictionary() *Dictionary {
	d, err := NewDictionary("builtin-1", DefaultRules)
	if err != nil {
		panic(err)
	}
	return d
}
