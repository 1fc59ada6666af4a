package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/japaniel/occumatch/pkg/db"
	"github.com/japaniel/occumatch/pkg/dictionary"
	"github.com/japaniel/occumatch/pkg/fusion"
	"github.com/japaniel/occumatch/pkg/matcher"
	"github.com/japaniel/occumatch/pkg/posting"
	"github.com/japaniel/occumatch/pkg/semantic"
	"github.com/japaniel/occumatch/pkg/skills"
	"github.com/japaniel/occumatch/pkg/taxonomy/taxonomytest"
	"github.com/japaniel/occumatch/pkg/telemetry"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	conn.SetMaxOpenConns(1)
	if err := db.InitDB(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func testStrategy(t testing.TB) matcher.Strategy {
	t.Helper()
	snap := taxonomytest.Snapshot(t)
	dict, err := dictionary.NewMatcher([]dictionary.Entry{
		{ID: 1, Pattern: "repositor", Code: "9334", Confidence: 0.9},
	}, snap)
	if err != nil {
		t.Fatalf("dictionary: %v", err)
	}
	sk, err := skills.NewMatcher(snap, skills.DefaultOptions())
	if err != nil {
		t.Fatalf("skills: %v", err)
	}
	ix, err := semantic.Build(snap, semantic.NewHashEmbedder(0))
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	s, err := matcher.DefaultRegistry().New("v2",
		matcher.Resources{Snapshot: snap, Dictionary: dict, Skills: sk, Index: ix}, matcher.DefaultParams(), nil)
	if err != nil {
		t.Fatalf("strategy: %v", err)
	}
	return s
}

func seed(t *testing.T, conn *sql.DB) []string {
	t.Helper()
	recs := []posting.Record{
		{Posting: posting.Posting{ID: "p1", Title: "Repositor"}},
		{Posting: posting.Posting{ID: "p2", Title: "Gerente de ventas"}, Attributes: &posting.Attributes{
			Tasks: []string{"gestionar equipos de ventas", "negociar contratos de venta"}}},
		{Posting: posting.Posting{ID: "p3", Title: "Vendedora de comercio"}, Attributes: &posting.Attributes{
			SoftSkills: []string{"atención al cliente"}}},
		{Posting: posting.Posting{ID: "p4", Title: "Operador de autoelevador"}},
		{Posting: posting.Posting{ID: "p5", Title: "zzqx"}},
	}
	var ids []string
	for _, r := range recs {
		if err := db.SaveRecord(conn, r); err != nil {
			t.Fatalf("save %s: %v", r.Posting.ID, err)
		}
		ids = append(ids, r.Posting.ID)
	}
	return ids
}

func newTestRunner(conn *sql.DB, s matcher.Strategy) *Runner {
	r := NewRunner(conn, s, nil)
	r.BatchSize = 2
	r.FlushInterval = 10 * time.Millisecond
	return r
}

func TestRunStoresOneResultPerPosting(t *testing.T) {
	conn := setupDB(t)
	ids := seed(t, conn)
	r := newTestRunner(conn, testStrategy(t))

	var lastProgress int
	r.OnProgress = func(current, total int) {
		if total != len(ids) {
			t.Errorf("progress total = %d", total)
		}
		lastProgress = current
	}

	sum, err := r.Run(context.Background(), append(ids, "p1", ""))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Total != 5 || sum.Processed != 5 || sum.Failed != 0 || sum.Status != db.RunComplete {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if lastProgress != 5 {
		t.Fatalf("last progress = %d", lastProgress)
	}
	if sum.States[fusion.StateUnmatched] != 1 {
		t.Fatalf("expected the gibberish title unmatched: %+v", sum.States)
	}

	first, err := db.ListMatchResults(conn, "v2")
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 5 {
		t.Fatalf("expected 5 results, got %d", len(first))
	}
	if first[0].RunID != sum.RunID {
		t.Fatalf("result not tagged with run id: %q", first[0].RunID)
	}
	run, err := db.GetRun(conn, sum.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != db.RunComplete || run.Processed != 5 || run.FinishedAt.IsZero() {
		t.Fatalf("run not finished: %+v", run)
	}

	// A second run replaces results instead of adding rows.
	again, err := r.Run(context.Background(), ids)
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	second, err := db.ListMatchResults(conn, "v2")
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 5 {
		t.Fatalf("rerun duplicated rows: %d", len(second))
	}
	// Only the run metadata moves between reruns.
	for i := range first {
		a, b := first[i], second[i]
		if b.RunID != again.RunID || a.RunID == b.RunID {
			t.Fatalf("rerun did not take ownership of %s", b.PostingID)
		}
		a.RunID, a.MatchedAt = "", time.Time{}
		b.RunID, b.MatchedAt = "", time.Time{}
		if a != b {
			t.Fatalf("rerun changed %s: %+v vs %+v", a.PostingID, a, b)
		}
	}
}

func TestRunPendingResumes(t *testing.T) {
	conn := setupDB(t)
	ids := seed(t, conn)
	r := newTestRunner(conn, testStrategy(t))

	if _, err := r.Run(context.Background(), ids[:2]); err != nil {
		t.Fatalf("first run: %v", err)
	}
	sum, err := r.RunPending(context.Background(), 0)
	if err != nil {
		t.Fatalf("pending run: %v", err)
	}
	if sum.Total != 3 || sum.Processed != 3 {
		t.Fatalf("expected the 3 remaining postings, got %+v", sum)
	}
	pending, err := db.PendingPostingIDs(conn, "v2", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("still pending: %v", pending)
	}
	sum, err = r.RunPending(context.Background(), 0)
	if err != nil || sum.Total != 0 || sum.Status != db.RunComplete {
		t.Fatalf("empty pending run = %+v, %v", sum, err)
	}
}

// flaky panics on one posting and delegates the rest.
type flaky struct {
	matcher.Strategy
	bad string
}

func (f flaky) Match(ctx context.Context, rec posting.Record) matcher.Result {
	if rec.Posting.ID == f.bad {
		panic("boom")
	}
	return f.Strategy.Match(ctx, rec)
}

func TestRunCountsPostingFailures(t *testing.T) {
	conn := setupDB(t)
	ids := seed(t, conn)
	r := newTestRunner(conn, flaky{Strategy: testStrategy(t), bad: "p3"})
	r.Version = "v2"

	sum, err := r.Run(context.Background(), append(ids, "missing"))
	if err != nil {
		t.Fatalf("posting failures must not fail the run: %v", err)
	}
	if sum.Processed != 4 || sum.Failed != 2 || sum.Status != db.RunPartial {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if _, err := db.GetMatchResult(conn, "p3", "v2"); err != sql.ErrNoRows {
		t.Fatalf("panicking posting stored: %v", err)
	}
	run, err := db.GetRun(conn, sum.RunID)
	if err != nil || run.Status != db.RunPartial || run.Failed != 2 {
		t.Fatalf("run = %+v, %v", run, err)
	}
}

// failingPool always returns an error on Submit to simulate producer error.
type failingPool struct{}

func (f *failingPool) Start(ctx context.Context) {}
func (f *failingPool) Submit(job Job) error      { return errors.New("submit failed") }
func (f *failingPool) SubmitCtx(ctx context.Context, job Job) error {
	return errors.New("submit failed")
}
func (f *failingPool) Close() {}

func TestRunHandlesSubmitError(t *testing.T) {
	conn := setupDB(t)
	ids := seed(t, conn)
	r := newTestRunner(conn, testStrategy(t))
	r.PoolFactory = func(workers, queue int) Pool { return &failingPool{} }

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sum, err := r.Run(ctx, ids)
	if err == nil {
		t.Fatalf("expected submit error, got nil")
	}
	run, gerr := db.GetRun(conn, sum.RunID)
	if gerr != nil || run.Status != db.RunFailed {
		t.Fatalf("run = %+v, %v", run, gerr)
	}
}

func TestConcurrentRunsDoNotDuplicate(t *testing.T) {
	conn := setupDB(t)
	ids := seed(t, conn)
	s := testStrategy(t)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := newTestRunner(conn, s)
			r.Workers = i + 1
			if _, err := r.Run(context.Background(), ids); err != nil {
				errs <- fmt.Errorf("runner %d: %w", i, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM match_results WHERE matching_version = 'v2'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != len(ids) {
		t.Fatalf("expected %d rows, got %d", len(ids), n)
	}
}

func TestRunEmitsSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(telemetry.NewProvider(nil, rec))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	conn := setupDB(t)
	ids := seed(t, conn)
	sum, err := newTestRunner(conn, testStrategy(t)).Run(context.Background(), ids)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var runSpans, matchSpans int
	for _, s := range rec.Ended() {
		switch s.Name() {
		case "batch.run":
			runSpans++
			for _, kv := range s.Attributes() {
				if kv.Key == "run.id" && kv.Value.AsString() != sum.RunID {
					t.Fatalf("span run id = %s", kv.Value.AsString())
				}
			}
		case "matcher.match":
			matchSpans++
		}
	}
	if runSpans != 1 || matchSpans != len(ids) {
		t.Fatalf("spans: run=%d match=%d", runSpans, matchSpans)
	}
}
