// Package batch matches postings concurrently and persists the results in
// transactional batches.
package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/japaniel/occumatch/pkg/db"
	"github.com/japaniel/occumatch/pkg/fusion"
	"github.com/japaniel/occumatch/pkg/logger"
	"github.com/japaniel/occumatch/pkg/matcher"
	"github.com/japaniel/occumatch/pkg/posting"
	"github.com/japaniel/occumatch/pkg/telemetry"
)

var tracer = telemetry.Tracer("github.com/japaniel/occumatch/pkg/batch")

// Summary reports what a run did.
type Summary struct {
	RunID           string
	MatchingVersion string
	Total           int
	Processed       int
	Failed          int
	States          map[fusion.State]int
	Status          string
}

// Runner matches postings with one strategy and stores every result under
// the strategy's matching version.
type Runner struct {
	DB       *sql.DB
	Strategy matcher.Strategy
	// Version is the matching_version results are keyed by.
	Version       string
	BatchSize     int
	FlushInterval time.Duration
	Workers       int
	Log           *zap.Logger
	// OnProgress is called with the number of postings handed to the writer
	// and the total of the run.
	OnProgress func(current, total int)

	// PoolFactory allows tests to inject custom pool implementations.
	PoolFactory func(workers, queue int) Pool
}

// NewRunner creates a Runner with the default batch settings. The matching
// version is taken from the strategy when it exposes one.
func NewRunner(conn *sql.DB, s matcher.Strategy, log *zap.Logger) *Runner {
	version := s.Name()
	if v, ok := s.(interface{ Version() string }); ok && v.Version() != "" {
		version = v.Version()
	}
	return &Runner{
		DB:            conn,
		Strategy:      s,
		Version:       version,
		BatchSize:     50,
		FlushInterval: 100 * time.Millisecond,
		Workers:       4,
		Log:           logger.OrNop(log),
	}
}

// RunPending matches the postings with no stored result at the runner's
// version. limit <= 0 means all of them.
func (r *Runner) RunPending(ctx context.Context, limit int) (Summary, error) {
	ids, err := db.PendingPostingIDs(r.DB, r.Version, limit)
	if err != nil {
		return Summary{}, fmt.Errorf("list pending postings: %w", err)
	}
	r.Log.Info("pending postings", zap.String("matching_version", r.Version), zap.Int("count", len(ids)))
	return r.Run(ctx, ids)
}

// tally is the shared state of one run.
type tally struct {
	mu        sync.Mutex
	processed int
	failed    int
	states    map[fusion.State]int
}

func (t *tally) fail() {
	t.mu.Lock()
	t.failed++
	t.mu.Unlock()
}

func (t *tally) stored(state fusion.State) {
	t.mu.Lock()
	t.processed++
	t.states[state]++
	t.mu.Unlock()
}

// Run matches the given postings. A posting that cannot be loaded, matched
// or stored is logged and counted; it never stops the run. The returned
// error is reserved for failures of the run itself.
func (r *Runner) Run(ctx context.Context, ids []string) (Summary, error) {
	log := logger.OrNop(r.Log)
	ids = dedupe(ids)
	runID := uuid.NewString()
	sum := Summary{RunID: runID, MatchingVersion: r.Version, Total: len(ids)}

	ctx, span := tracer.Start(ctx, "batch.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.String("matching.version", r.Version),
		attribute.Int("run.total", len(ids)),
	)

	if err := db.CreateRun(r.DB, runID, r.Version); err != nil {
		return sum, fmt.Errorf("create run: %w", err)
	}
	log.Info("run started", zap.String("run_id", runID), zap.String("matching_version", r.Version),
		zap.String("strategy", r.Strategy.Name()), zap.Int("postings", len(ids)))

	t := &tally{states: make(map[fusion.State]int)}
	runErr := r.process(ctx, runID, ids, t)

	sum.Processed, sum.Failed, sum.States = t.processed, t.failed, t.states
	sum.Status = status(sum, runErr)
	if err := db.FinishRun(r.DB, runID, sum.Processed, sum.Failed, sum.Status); err != nil && runErr == nil {
		runErr = fmt.Errorf("finish run: %w", err)
	}

	span.SetAttributes(attribute.Int("run.processed", sum.Processed), attribute.Int("run.failed", sum.Failed))
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	log.Info("run finished", zap.String("run_id", runID), zap.String("status", sum.Status),
		zap.Int("processed", sum.Processed), zap.Int("failed", sum.Failed))
	return sum, runErr
}

func (r *Runner) process(ctx context.Context, runID string, ids []string, t *tally) error {
	log := logger.OrNop(r.Log)
	workers := r.Workers
	if workers <= 0 {
		workers = 1
	}
	var pool Pool
	if r.PoolFactory != nil {
		pool = r.PoolFactory(workers, workers*2)
	} else {
		pool = NewWorkerPool(workers, workers*2)
	}
	w := NewWriter(r.DB, r.BatchSize, r.FlushInterval)
	w.OnError = func(err error) {
		var item *ItemError
		if errors.As(err, &item) {
			t.fail()
		}
		log.Error("batch write failed", zap.String("run_id", runID), zap.Error(err))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	pool.Start(ctx)

	var submitted int
	var progressMu sync.Mutex
	progress := func() {
		if r.OnProgress == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		submitted++
		r.OnProgress(submitted, len(ids))
	}

	var runErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		rec, err := db.LoadRecord(r.DB, id)
		if err != nil {
			t.fail()
			log.Warn("posting not loaded", append(logger.Posting(id, r.Version), zap.Error(err))...)
			progress()
			continue
		}

		postingID := id
		job := func(ctx context.Context) error {
			defer progress()
			res, err := r.match(ctx, rec)
			if err != nil {
				t.fail()
				log.Error("posting not matched", append(logger.Posting(postingID, r.Version), zap.Error(err))...)
				return err
			}
			res.RunID = runID
			row, skillRows, err := res.Rows()
			if err != nil {
				t.fail()
				log.Error("result not encoded", append(logger.Posting(postingID, r.Version), zap.Error(err))...)
				return err
			}
			return w.Submit(func(ctx context.Context, tx *sql.Tx) error {
				if err := db.SaveMatchResult(tx, row, skillRows); err != nil {
					return fmt.Errorf("posting %s: %w", postingID, err)
				}
				t.stored(res.State)
				return nil
			})
		}
		if err := pool.SubmitCtx(ctx, job); err != nil {
			if err == ctx.Err() || err == ErrPoolClosed {
				runErr = err
				break
			}
			runErr = fmt.Errorf("submit posting %s: %w", id, err)
			break
		}
	}

	pool.Close()
	if err := w.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// match runs the strategy, turning a panic into an error so one posting
// cannot take the run down.
func (r *Runner) match(ctx context.Context, rec posting.Record) (res matcher.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("strategy %s panicked: %v", r.Strategy.Name(), p)
		}
	}()
	res = r.Strategy.Match(ctx, rec)
	if res.MatchingVersion != r.Version {
		res.MatchingVersion = r.Version
	}
	return res, nil
}

func status(s Summary, runErr error) string {
	switch {
	case runErr != nil:
		return db.RunFailed
	case s.Failed > 0:
		return db.RunPartial
	default:
		return db.RunComplete
	}
}

// dedupe drops empty and repeated ids and sorts the rest so runs over the
// same input write in the same order.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
