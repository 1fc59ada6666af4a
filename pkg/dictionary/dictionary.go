package dictionary

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/japaniel/occumatch/pkg/matcherr"
)

// File is the dictionary file name in a reference directory.
const File = "dictionary.json"

// MatchType controls how a pattern is compared with a title.
type MatchType string

const (
	// Contains matches the pattern as a whole-word phrase anywhere in the title.
	Contains MatchType = "contains"
	// Exact requires the normalized title to equal the pattern.
	Exact MatchType = "exact"
)

// Entry is a curated title pattern that maps straight to an occupation code.
type Entry struct {
	ID         int64     `json:"id"`
	Pattern    string    `json:"pattern"`
	Variants   []string  `json:"variants,omitempty"`
	Code       string    `json:"code"`
	Label      string    `json:"label,omitempty"`
	Confidence float64   `json:"confidence"`
	MatchType  MatchType `json:"match_type,omitempty"`
	Version    int       `json:"version,omitempty"`
	Disabled   bool      `json:"disabled,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// Active reports whether the entry takes part in matching.
func (e Entry) Active() bool { return !e.Disabled }

// Patterns returns the pattern followed by its variants.
func (e Entry) Patterns() []string {
	out := make([]string, 0, 1+len(e.Variants))
	out = append(out, e.Pattern)
	return append(out, e.Variants...)
}

func (e Entry) matchType() MatchType {
	if e.MatchType == "" {
		return Contains
	}
	return e.MatchType
}

func (e Entry) validate() error {
	if e.Pattern == "" {
		return fmt.Errorf("entry %d: empty pattern", e.ID)
	}
	if e.Code == "" {
		return fmt.Errorf("entry %q: empty code", e.Pattern)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("entry %q: confidence %v out of [0,1]", e.Pattern, e.Confidence)
	}
	switch e.matchType() {
	case Contains, Exact:
	default:
		return fmt.Errorf("entry %q: unknown match type %q", e.Pattern, e.MatchType)
	}
	return nil
}

// LoadEntries reads a dictionary file, either { "entries": [...] } or a bare
// array. Entries without an id are numbered by position, starting at 1.
func LoadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, matcherr.Config(fmt.Sprintf("open dictionary %s", path), err)
	}
	defer f.Close()

	var wrapper struct {
		Entries []Entry `json:"entries"`
	}
	// Try parsing as full object wrapper first { "entries": [...] }
	dec := json.NewDecoder(f)
	var entries []Entry
	if err := dec.Decode(&wrapper); err == nil && len(wrapper.Entries) > 0 {
		entries = wrapper.Entries
	} else {
		// Reset and try as array [...]
		if _, err := f.Seek(0, 0); err != nil {
			return nil, err
		}
		dec = json.NewDecoder(f)
		if err := dec.Decode(&entries); err != nil {
			return nil, matcherr.Config(fmt.Sprintf("parse dictionary %s as object or array", path), err)
		}
	}

	for i := range entries {
		if entries[i].ID == 0 {
			entries[i].ID = int64(i + 1)
		}
		if err := entries[i].validate(); err != nil {
			return nil, matcherr.Config(path, err)
		}
	}
	return entries, nil
}
