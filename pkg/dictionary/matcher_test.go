package dictionary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/japaniel/occumatch/pkg/matcherr"
	"github.com/japaniel/occumatch/pkg/taxonomy/taxonomytest"
)

func testEntries() []Entry {
	return []Entry{
		{ID: 1, Pattern: "repositor", Variants: []string{"repositora", "repositor externo"}, Code: "9334", Confidence: 0.9},
		{ID: 2, Pattern: "ventas", Code: "3322", Confidence: 0.6},
		{ID: 3, Pattern: "jefe de ventas", Code: "1221", Confidence: 0.95},
		{ID: 4, Pattern: "jefe de góndola", Code: "1420", Confidence: 0.9},
		{ID: 5, Pattern: "contador", Code: "2411", Confidence: 0.92, MatchType: Exact},
		{ID: 6, Pattern: "gerente comercial", Code: "1221", Confidence: 0.8},
		{ID: 7, Pattern: "director comercial", Variants: []string{"gerente comercial"}, Code: "1221", Confidence: 0.9},
		{ID: 8, Pattern: "encargado", Code: "1420", Confidence: 0.7},
		{ID: 9, Pattern: "encargado", Code: "9334", Confidence: 0.7},
		{ID: 10, Pattern: "vendedor", Code: "5223", Confidence: 0.9, Disabled: true},
	}
}

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := NewMatcher(testEntries(), taxonomytest.Snapshot(t))
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	return m
}

func TestMatcherMatch(t *testing.T) {
	m := newTestMatcher(t)
	if m.Len() != 9 {
		t.Fatalf("expected disabled entry to be skipped, got %d entries", m.Len())
	}

	tests := []struct {
		name    string
		title   string
		code    string
		entryID int64
		ok      bool
	}{
		{"variant with slash", "Repositor/a de Supermercado", "9334", 1, true},
		{"longest pattern wins", "Jefe de Ventas Zona Norte", "1221", 3, true},
		{"accent and case folded", "JEFE DE GONDOLA", "1420", 4, true},
		{"word boundary", "Preventas y logística", "", 0, false},
		{"exact equals title", "Contador", "2411", 5, true},
		{"exact needs whole title", "Contador de stock", "", 0, false},
		{"same code keeps highest confidence", "Gerente Comercial", "1221", 7, true},
		{"disabled entry ignored", "Vendedor", "", 0, false},
		{"empty title", "  ", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := m.Match(tt.title)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v (%+v)", ok, tt.ok, got)
			}
			if !ok {
				return
			}
			if got.Code != tt.code || got.Entry.ID != tt.entryID {
				t.Fatalf("got code %s entry %d, want %s entry %d", got.Code, got.Entry.ID, tt.code, tt.entryID)
			}
			if got.Label == "" {
				t.Fatalf("label should be filled from the taxonomy")
			}
		})
	}
}

func TestMatcherAmbiguous(t *testing.T) {
	m := newTestMatcher(t)
	_, ok, err := m.Match("Encargado de turno")
	if ok {
		t.Fatalf("ambiguous title must not produce a match")
	}
	if !matcherr.Is(err, matcherr.KindAmbiguousDictionary) {
		t.Fatalf("expected ambiguous error, got %v", err)
	}

	// A longer unambiguous pattern still wins over the ambiguous pair.
	got, ok, err := m.Match("Encargado repositor externo")
	if err != nil || !ok || got.Code != "9334" || got.Pattern != "repositor externo" {
		t.Fatalf("got %+v ok=%v err=%v", got, ok, err)
	}
}

func TestNewMatcherUnknownCode(t *testing.T) {
	entries := []Entry{{ID: 1, Pattern: "astronauta", Code: "3153", Confidence: 0.9}}
	_, err := NewMatcher(entries, taxonomytest.Snapshot(t))
	if !matcherr.Is(err, matcherr.KindConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestLoadEntries(t *testing.T) {
	dir := t.TempDir()

	wrapped := filepath.Join(dir, "wrapped.json")
	if err := os.WriteFile(wrapped, []byte(`{"entries":[
		{"pattern":"repositor","code":"9334","confidence":0.9},
		{"pattern":"contador","code":"2411","confidence":0.9,"match_type":"exact"}]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	entries, err := LoadEntries(wrapped)
	if err != nil {
		t.Fatalf("LoadEntries wrapped: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != 1 || entries[1].ID != 2 || entries[1].MatchType != Exact {
		t.Fatalf("unexpected entries %+v", entries)
	}

	bare := filepath.Join(dir, "bare.json")
	if err := os.WriteFile(bare, []byte(`[{"id":7,"pattern":"cajero","code":"5223","confidence":0.8}]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	entries, err = LoadEntries(bare)
	if err != nil || len(entries) != 1 || entries[0].ID != 7 {
		t.Fatalf("LoadEntries bare: %+v %v", entries, err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`[{"pattern":"cajero","code":"5223","confidence":1.4}]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadEntries(bad); !matcherr.Is(err, matcherr.KindConfig) {
		t.Fatalf("expected config error for bad confidence, got %v", err)
	}
	if _, err := LoadEntries(filepath.Join(dir, "missing.json")); !matcherr.Is(err, matcherr.KindConfig) {
		t.Fatalf("expected config error for missing file, got %v", err)
	}
}
