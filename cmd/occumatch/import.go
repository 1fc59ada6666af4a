package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/japaniel/occumatch/pkg/batch"
	"github.com/japaniel/occumatch/pkg/db"
	"github.com/japaniel/occumatch/pkg/posting"
)

// maxLine bounds one JSONL record; descriptions can be long.
const maxLine = 4 << 20

func newImportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import reference or posting data into the database",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "postings <file.jsonl>",
		Short: "Store normalized postings, one JSON object per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.openDB()
			if err != nil {
				return err
			}
			defer conn.Close()

			stored, skipped, err := importPostings(cmd.Context(), conn, args[0], a.cfg.Batch.BatchSize, a.log)
			fmt.Fprintf(cmd.OutOrStdout(), "stored %d postings, skipped %d lines\n", stored, skipped)
			return err
		},
	})
	return cmd
}

// importPostings reads path line by line. Malformed lines and postings that
// fail to store are logged and skipped.
func importPostings(ctx context.Context, conn *sql.DB, path string, batchSize int, log *zap.Logger) (stored, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	w := batch.NewWriter(conn, batchSize, 0)
	var failed int
	w.OnError = func(err error) {
		var item *batch.ItemError
		if errors.As(err, &item) {
			failed++
		}
		log.Error("posting not stored", zap.Error(err))
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		rec, err := posting.ParseRecord(sc.Bytes())
		if err == nil && rec.Posting.ID == "" {
			err = fmt.Errorf("posting id is required")
		}
		if err != nil {
			skipped++
			log.Warn("skipping line", zap.String("file", path), zap.Int("line", line), zap.Error(err))
			continue
		}
		rec = posting.Sanitize(rec)
		if err := w.Submit(func(_ context.Context, tx *sql.Tx) error {
			return db.SaveRecord(tx, rec)
		}); err != nil {
			_ = w.Close()
			return stored, skipped, err
		}
		stored++
		if err := ctx.Err(); err != nil {
			_ = w.Close()
			return stored, skipped, err
		}
	}
	scanErr := sc.Err()
	closeErr := w.Close()
	stored -= failed
	skipped += failed
	if scanErr != nil {
		return stored, skipped, fmt.Errorf("read %s: %w", path, scanErr)
	}
	log.Info("postings imported", zap.String("file", path), zap.Int("stored", stored), zap.Int("skipped", skipped))
	return stored, skipped, closeErr
}
