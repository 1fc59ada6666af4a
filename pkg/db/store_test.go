package db

import (
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/japaniel/occumatch/pkg/posting"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// Ensure single connection to avoid separate in-memory DBs per connection.
	db.SetMaxOpenConns(1)
	if err := InitDB(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func sampleResult(postingID, version string) MatchResultRow {
	return MatchResultRow{
		PostingID:       postingID,
		MatchingVersion: version,
		OccupationCode:  "9334",
		OccupationLabel: "reponedor/reponedora",
		ScoreDictionary: 0.9,
		ScoreSkills:     0.5,
		FinalScore:      0.9,
		Method:          "dictionary",
		State:           "CONFIRMED",
		Confirmed:       true,
		Detail:          `{"alternatives":[]}`,
		RunID:           "run-1",
		MatchedAt:       time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC),
	}
}

func countRows(t *testing.T, db *sql.DB, table, postingID, version string) int {
	t.Helper()
	var cnt int
	err := db.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE posting_id = ? AND matching_version = ?`,
		postingID, version).Scan(&cnt)
	if err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return cnt
}

func TestSaveMatchResultReplaces(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	first := []SkillMatchRow{
		{Mention: "reponer estanterías", SkillID: "skill/reponer", Similarity: 1, Classification: "essential", Source: "pattern"},
		{Mention: "manejo de zorra", Similarity: 0.41, Classification: "unrelated", Source: "inference"},
	}
	if err := SaveMatchResultTx(db, sampleResult("p1", "v2"), first); err != nil {
		t.Fatalf("save: %v", err)
	}

	second := sampleResult("p1", "v2")
	second.OccupationCode = "5223"
	second.FinalScore = 0.61
	if err := SaveMatchResultTx(db, second, first[:1]); err != nil {
		t.Fatalf("resave: %v", err)
	}

	if n := countRows(t, db, "match_results", "p1", "v2"); n != 1 {
		t.Fatalf("expected 1 result row, got %d", n)
	}
	if n := countRows(t, db, "skill_matches", "p1", "v2"); n != 1 {
		t.Fatalf("expected skill rows to be replaced, got %d", n)
	}

	got, err := GetMatchResult(db, "p1", "v2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OccupationCode != "5223" || got.FinalScore != 0.61 || !got.Confirmed || got.RunID != "run-1" {
		t.Fatalf("unexpected row %+v", got)
	}

	// Another version is a separate key.
	if err := SaveMatchResultTx(db, sampleResult("p1", "v1"), nil); err != nil {
		t.Fatalf("save v1: %v", err)
	}
	rows, err := ListMatchResults(db, "v2")
	if err != nil || len(rows) != 1 {
		t.Fatalf("ListMatchResults: %v (%d rows)", err, len(rows))
	}
}

func TestSaveMatchResultRollsBackSkillRows(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := SaveMatchResultTx(db, sampleResult("p1", "v2"), []SkillMatchRow{
		{Mention: "excel", SkillID: "skill/excel", Similarity: 0.9, Classification: "optional", Source: "inference"},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	bad := sampleResult("p1", "v2")
	bad.FinalScore = 1.5
	if err := SaveMatchResultTx(db, bad, nil); err == nil {
		t.Fatalf("expected out-of-range score to be rejected")
	}
	skills, err := GetSkillMatches(db, "p1", "v2")
	if err != nil {
		t.Fatalf("skills: %v", err)
	}
	if len(skills) != 1 || skills[0].SkillID != "skill/excel" {
		t.Fatalf("previous skill rows should survive a rejected write, got %+v", skills)
	}
}

func TestSaveMatchResultConcurrency(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := sampleResult("p-concurrent", "v2")
			r.FinalScore = float64(i) / 10
			skills := []SkillMatchRow{
				{Mention: fmt.Sprintf("mention %d", i), Similarity: 0.2, Classification: "unrelated", Source: "inference"},
				{Mention: "reponer", SkillID: "skill/reponer", Similarity: 1, Classification: "essential", Source: "pattern"},
			}
			errs <- SaveMatchResultTx(db, r, skills)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent save: %v", err)
		}
	}
	if c := countRows(t, db, "match_results", "p-concurrent", "v2"); c != 1 {
		t.Fatalf("expected 1 result row, got %d", c)
	}
	if c := countRows(t, db, "skill_matches", "p-concurrent", "v2"); c != 2 {
		t.Fatalf("expected 2 skill rows from the last writer, got %d", c)
	}
}

func TestRecordRoundTripAndPending(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	yes := true
	rec := posting.Record{
		Posting: posting.Posting{ID: "p1", Source: "bumeran", Title: "Gerente de Ventas",
			CollectedAt: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)},
		Attributes: &posting.Attributes{
			CleanedTitle:    "gerente de ventas",
			Seniority:       "manager",
			HasSubordinates: &yes,
			Tasks:           []string{"liderar el equipo comercial"},
			TitleEmbedding:  []float32{0.5, 0.25},
		},
	}
	if err := SaveRecord(db, rec); err != nil {
		t.Fatalf("save record: %v", err)
	}
	if err := SavePosting(db, posting.Posting{ID: "p2", Title: "Repositor"}); err != nil {
		t.Fatalf("save posting: %v", err)
	}
	if err := SavePosting(db, posting.Posting{ID: "p3", Title: "Cajero"}); err != nil {
		t.Fatalf("save posting: %v", err)
	}

	got, err := LoadRecord(db, "p1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	a := got.Attrs()
	if got.Posting.Source != "bumeran" || !a.Subordinates() || len(a.Tasks) != 1 || len(a.TitleEmbedding) != 2 {
		t.Fatalf("unexpected record %+v / %+v", got.Posting, a)
	}
	if !got.Posting.CollectedAt.Equal(rec.Posting.CollectedAt) {
		t.Fatalf("collected_at = %v", got.Posting.CollectedAt)
	}
	bare, err := LoadRecord(db, "p2")
	if err != nil || bare.Attributes != nil {
		t.Fatalf("posting without attributes: %v %+v", err, bare.Attributes)
	}
	if _, err := LoadRecord(db, "missing"); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}

	if err := SaveMatchResultTx(db, sampleResult("p2", "v2"), nil); err != nil {
		t.Fatalf("save result: %v", err)
	}
	pending, err := PendingPostingIDs(db, "v2", 0)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0] != "p1" || pending[1] != "p3" {
		t.Fatalf("pending = %v", pending)
	}
	pending, _ = PendingPostingIDs(db, "v2", 1)
	if len(pending) != 1 {
		t.Fatalf("limit ignored: %v", pending)
	}
	pending, _ = PendingPostingIDs(db, "v3", 0)
	if len(pending) != 3 {
		t.Fatalf("new version should see every posting, got %v", pending)
	}
}

func TestRuns(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := CreateRun(db, "run-1", "v2"); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := FinishRun(db, "run-1", 10, 1, RunPartial); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	r, err := GetRun(db, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if r.Processed != 10 || r.Failed != 1 || r.Status != RunPartial || r.FinishedAt.IsZero() {
		t.Fatalf("unexpected run %+v", r)
	}
	if err := FinishRun(db, "nope", 0, 0, RunComplete); err == nil {
		t.Fatalf("expected error for unknown run")
	}
}

func TestDictionaryVersions(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if v, err := LatestDictionaryVersion(db); err != nil || v != 0 {
		t.Fatalf("empty table: version %d, err %v", v, err)
	}
	v1, err := InsertDictionaryVersion(db, []DictionaryEntryRow{
		{Pattern: "repositor", Variants: []string{"repositora"}, Code: "5223", Label: "vendedor de tienda", Confidence: 0.9},
	})
	if err != nil || v1 != 1 {
		t.Fatalf("first import: version %d, err %v", v1, err)
	}
	v2, err := InsertDictionaryVersion(db, []DictionaryEntryRow{
		{Pattern: "repositor", Variants: []string{"repositora"}, Code: "9334", Label: "reponedor/reponedora", Confidence: 0.9, Note: "correccion"},
		{Pattern: "cajero", Code: "5230", Confidence: 0.9, MatchType: "exact"},
	})
	if err != nil || v2 != 2 {
		t.Fatalf("second import: version %d, err %v", v2, err)
	}
	if latest, _ := LatestDictionaryVersion(db); latest != 2 {
		t.Fatalf("latest = %d", latest)
	}

	rows, err := ListDictionaryEntries(db, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || rows[0].Code != "9334" || rows[0].Variants[0] != "repositora" || rows[0].MatchType != "contains" {
		t.Fatalf("unexpected rows %+v", rows)
	}
	old, _ := ListDictionaryEntries(db, 1)
	if len(old) != 1 || old[0].Code != "5223" {
		t.Fatalf("old version must stay untouched, got %+v", old)
	}

	if _, err := InsertDictionaryVersion(db, []DictionaryEntryRow{
		{Pattern: "mozo", Code: "5131", Confidence: 0.9},
		{Pattern: "mozo", Code: "5131", Confidence: 0.8},
	}); err == nil {
		t.Fatalf("duplicate patterns in one version must be rejected")
	}
}

func TestEvalRuns(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	outcomes := []EvalOutcome{
		{PostingID: "g1", ExpectedCode: "9334", GotCode: "9334", State: "CONFIRMED", FinalScore: 0.9, Correct: true},
		{PostingID: "g2", ExpectedCode: "1221", GotCode: "1420", State: "NEEDS_REVIEW", FinalScore: 0.4, Category: "nivel", NearMiss: true},
	}
	for _, id := range []string{"eval-a", "eval-b"} {
		run := EvalRun{ID: id, GoldVersion: "gold-v1", MatchingVersion: "v2", ConfigFingerprint: "fp", Total: 2, Exact: 1, NearMiss: 1}
		if err := SaveEvalRun(db, run, outcomes); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	latest, err := LatestEvalRun(db, "gold-v1", "eval-b")
	if err != nil || latest.ID != "eval-a" {
		t.Fatalf("latest prior run = %+v, err %v", latest, err)
	}
	if _, err := LatestEvalRun(db, "gold-v9", ""); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
	got, err := GetEvalOutcomes(db, "eval-b")
	if err != nil || len(got) != 2 || got[1].Category != "nivel" || !got[1].NearMiss {
		t.Fatalf("outcomes = %+v, err %v", got, err)
	}
	run, err := GetEvalRun(db, "eval-a")
	if err != nil || run.Exact != 1 {
		t.Fatalf("run = %+v, err %v", run, err)
	}
}
