package dictionary

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/japaniel/occumatch/pkg/db"
	"github.com/japaniel/occumatch/pkg/matcherr"
	"github.com/japaniel/occumatch/pkg/taxonomy/taxonomytest"
)

func TestImporter(t *testing.T) {
	// 1. Setup DB
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	conn.SetMaxOpenConns(1)
	if err := db.InitDB(conn); err != nil {
		t.Fatalf("init db: %v", err)
	}
	snap := taxonomytest.Snapshot(t)
	im := NewImporter(conn, nil)

	// 2. Nothing stored yet
	if _, _, err := im.LoadFromDB(0); !matcherr.Is(err, matcherr.KindConfig) {
		t.Fatalf("expected config error on empty table, got %v", err)
	}

	// 3. Two versions; the second corrects the first
	v1, err := im.Import([]Entry{{Pattern: "repositor", Code: "5223", Confidence: 0.9}}, snap)
	if err != nil || v1 != 1 {
		t.Fatalf("import v1: %d %v", v1, err)
	}
	v2, err := im.Import([]Entry{
		{Pattern: "repositor", Variants: []string{"repositora"}, Code: "9334", Confidence: 0.9, Note: "reponedor, no vendedor"},
		{Pattern: "contador", Code: "2411", Confidence: 0.9, MatchType: Exact},
	}, snap)
	if err != nil || v2 != 2 {
		t.Fatalf("import v2: %d %v", v2, err)
	}

	entries, version, err := im.LoadFromDB(0)
	if err != nil {
		t.Fatalf("load latest: %v", err)
	}
	if version != 2 || len(entries) != 2 {
		t.Fatalf("latest version %d with %d entries", version, len(entries))
	}
	if entries[0].Label != "reponedor/reponedora" || entries[0].Version != 2 || entries[1].MatchType != Exact {
		t.Fatalf("unexpected entries %+v", entries)
	}

	m, err := NewMatcher(entries, snap)
	if err != nil {
		t.Fatalf("matcher from db: %v", err)
	}
	got, ok, err := m.Match("Repositora")
	if err != nil || !ok || got.Code != "9334" {
		t.Fatalf("match from db version: %+v %v %v", got, ok, err)
	}

	old, _, err := im.LoadFromDB(1)
	if err != nil || len(old) != 1 || old[0].Code != "5223" {
		t.Fatalf("version 1 changed: %+v %v", old, err)
	}
	if _, _, err := im.LoadFromDB(7); !matcherr.Is(err, matcherr.KindConfig) {
		t.Fatalf("expected config error for unknown version, got %v", err)
	}

	// 4. Unknown codes are rejected before anything is written
	if _, err := im.Import([]Entry{{Pattern: "astronauta", Code: "3153", Confidence: 0.9}}, snap); !matcherr.Is(err, matcherr.KindConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if latest, _ := db.LatestDictionaryVersion(conn); latest != 2 {
		t.Fatalf("rejected import created version %d", latest)
	}
}
