package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// WriteFunc performs database writes inside the batch transaction.
type WriteFunc func(ctx context.Context, tx *sql.Tx) error

// ItemError wraps the failure of one write. The rest of its batch still
// commits.
type ItemError struct{ Err error }

func (e *ItemError) Error() string { return "batch item: " + e.Err.Error() }
func (e *ItemError) Unwrap() error { return e.Err }

// Writer buffers writes and flushes them in batches, one transaction per
// batch. Each write runs under its own savepoint so a failing posting only
// loses its own rows.
type Writer struct {
	mu          sync.Mutex
	buf         []WriteFunc
	cap         int
	flushTicker *time.Ticker
	closed      bool
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc

	commitCh chan []WriteFunc
	db       *sql.DB
	// OnError receives item errors as *ItemError and batch errors as is.
	OnError func(error)

	errMu   sync.Mutex
	lastErr error
}

// NewWriter creates a Writer that flushes every bufferSize writes and, when
// flushInterval is positive, on that interval.
func NewWriter(db *sql.DB, bufferSize int, flushInterval time.Duration) *Writer {
	if bufferSize <= 0 {
		bufferSize = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		buf:      make([]WriteFunc, 0, bufferSize),
		cap:      bufferSize,
		ctx:      ctx,
		cancel:   cancel,
		commitCh: make(chan []WriteFunc, 2),
		db:       db,
	}

	w.wg.Add(1)
	go w.committer()

	if flushInterval > 0 {
		w.flushTicker = time.NewTicker(flushInterval)
		w.wg.Add(1)
		go w.loop()
	}
	return w
}

// Submit enqueues a write. It blocks while the committer is behind.
func (w *Writer) Submit(fn WriteFunc) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	w.buf = append(w.buf, fn)
	if len(w.buf) >= w.cap {
		w.flushLocked()
	}
	return nil
}

// flushLocked hands the buffer to the committer. w.mu must be held.
func (w *Writer) flushLocked() {
	if len(w.buf) == 0 {
		return
	}
	batch := w.buf
	w.buf = make([]WriteFunc, 0, w.cap)

	select {
	case w.commitCh <- batch:
	case <-w.ctx.Done():
		w.report(fmt.Errorf("batch writer: dropping batch of %d items due to context cancellation", len(batch)))
	}
}

func (w *Writer) report(err error) {
	var item *ItemError
	if !errors.As(err, &item) {
		w.errMu.Lock()
		if w.lastErr == nil {
			w.lastErr = err
		}
		w.errMu.Unlock()
	}
	if w.OnError != nil {
		w.OnError(err)
	}
}

func (w *Writer) committer() {
	defer w.wg.Done()
	for batch := range w.commitCh {
		if err := w.execute(batch); err != nil {
			w.report(err)
		}
	}
}

func (w *Writer) execute(batch []WriteFunc) error {
	// Without a database the callbacks run with a nil tx.
	if w.db == nil {
		for _, fn := range batch {
			if err := fn(w.ctx, nil); err != nil {
				w.report(&ItemError{Err: err})
			}
		}
		return nil
	}

	// Flushes outlive the writer's own context during Close.
	ctx := context.Background()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, fn := range batch {
		if err := runItem(ctx, tx, fn); err != nil {
			var item *ItemError
			if !errors.As(err, &item) {
				return err
			}
			w.report(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch (%d items): %w", len(batch), err)
	}
	return nil
}

func runItem(ctx context.Context, tx *sql.Tx, fn WriteFunc) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT batch_item"); err != nil {
		return fmt.Errorf("open savepoint: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO batch_item"); rbErr != nil {
			return fmt.Errorf("rollback item: %w", rbErr)
		}
		if _, relErr := tx.ExecContext(ctx, "RELEASE batch_item"); relErr != nil {
			return fmt.Errorf("release savepoint: %w", relErr)
		}
		return &ItemError{Err: err}
	}
	if _, err := tx.ExecContext(ctx, "RELEASE batch_item"); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

func (w *Writer) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.mu.Lock()
			w.flushLocked()
			w.mu.Unlock()
		}
	}
}

// Close flushes what is buffered, waits for the committer and returns the
// first batch-level error. Item errors are only reported through OnError.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWriterClosed
	}
	w.closed = true
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}
	w.flushLocked()
	w.mu.Unlock()

	w.cancel()
	close(w.commitCh)
	w.wg.Wait()

	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.lastErr
}

// ErrWriterClosed is returned by Submit and Close after Close.
var ErrWriterClosed = &WriterError{"batch writer closed"}

type WriterError struct{ msg string }

func (e *WriterError) Error() string { return e.msg }
