package dictionary

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/japaniel/occumatch/pkg/matcherr"
	"github.com/japaniel/occumatch/pkg/taxonomy"
	"github.com/japaniel/occumatch/pkg/textnorm"
)

// Match is a dictionary hit for a title.
type Match struct {
	Entry      Entry
	Pattern    string // the pattern or variant that matched
	Code       string
	Label      string
	Confidence float64
}

type compiled struct {
	entry   int
	pattern string // normalized
	length  int    // runes
}

// Matcher resolves titles against the active dictionary entries. It is
// immutable after NewMatcher and safe for concurrent use.
type Matcher struct {
	entries  []Entry
	exact    map[string][]compiled
	contains []compiled // longest first
}

// NewMatcher compiles the active entries. An entry pointing at a code the
// taxonomy does not know is a configuration error.
func NewMatcher(entries []Entry, snap *taxonomy.Snapshot) (*Matcher, error) {
	m := &Matcher{exact: make(map[string][]compiled)}
	for _, e := range entries {
		if !e.Active() {
			continue
		}
		if err := e.validate(); err != nil {
			return nil, matcherr.Config("dictionary", err)
		}
		occ, ok := snap.Occupation(e.Code)
		if !ok {
			return nil, matcherr.Config(fmt.Sprintf("dictionary entry %q points to unknown occupation %s", e.Pattern, e.Code), nil)
		}
		if e.Label == "" {
			e.Label = occ.Label
		}
		idx := len(m.entries)
		m.entries = append(m.entries, e)

		seen := map[string]bool{}
		for _, p := range e.Patterns() {
			norm := textnorm.Normalize(p)
			if norm == "" || seen[norm] {
				continue
			}
			seen[norm] = true
			c := compiled{entry: idx, pattern: norm, length: utf8.RuneCountInString(norm)}
			if e.matchType() == Exact {
				m.exact[norm] = append(m.exact[norm], c)
			} else {
				m.contains = append(m.contains, c)
			}
		}
	}
	sort.SliceStable(m.contains, func(i, j int) bool {
		return m.contains[i].length > m.contains[j].length
	})
	return m, nil
}

// Len returns the number of active entries.
func (m *Matcher) Len() int { return len(m.entries) }

// Match looks the title up. It returns ok=false when nothing matches, and an
// AMBIGUOUS_DICTIONARY_MATCH error when the longest hits point to different
// codes.
func (m *Matcher) Match(title string) (Match, bool, error) {
	norm := textnorm.Normalize(title)
	if norm == "" {
		return Match{}, false, nil
	}

	var hits []compiled
	best := 0
	// An exact hit spans the whole title, so no contains pattern can beat it.
	if ex, ok := m.exact[norm]; ok {
		hits = append(hits, ex...)
		best = utf8.RuneCountInString(norm)
	}
	for _, c := range m.contains {
		if c.length < best {
			break
		}
		if textnorm.ContainsNormalizedPhrase(norm, c.pattern) {
			hits = append(hits, c)
			best = c.length
		}
	}
	if len(hits) == 0 {
		return Match{}, false, nil
	}

	var top []compiled
	codes := map[string]bool{}
	for _, h := range hits {
		if h.length == best {
			top = append(top, h)
			codes[m.entries[h.entry].Code] = true
		}
	}
	if len(codes) > 1 {
		list := make([]string, 0, len(codes))
		for c := range codes {
			list = append(list, c)
		}
		sort.Strings(list)
		return Match{}, false, matcherr.AmbiguousDictionary(
			fmt.Sprintf("title %q matches codes %s at equal length", title, strings.Join(list, ", ")))
	}

	sort.Slice(top, func(i, j int) bool {
		a, b := m.entries[top[i].entry], m.entries[top[j].entry]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.ID < b.ID
	})
	win := top[0]
	e := m.entries[win.entry]
	return Match{Entry: e, Pattern: win.pattern, Code: e.Code, Label: e.Label, Confidence: e.Confidence}, true, nil
}
