package db

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveEvalRun stores an evaluation run and its outcomes in one transaction.
func SaveEvalRun(conn *sql.DB, run EvalRun, outcomes []EvalOutcome) error {
	if run.ID == "" {
		return fmt.Errorf("eval run id must be non-empty")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() // ignored if committed
	}()

	_, err = tx.Exec(`INSERT INTO eval_runs (id, seq, gold_version, matching_version, config_fingerprint,
			total, exact, near_miss, unmatched, created_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM eval_runs), ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.GoldVersion, run.MatchingVersion, run.ConfigFingerprint,
		run.Total, run.Exact, run.NearMiss, run.Unmatched, run.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert eval run %s: %w", run.ID, err)
	}
	for _, o := range outcomes {
		_, err := tx.Exec(`INSERT INTO eval_outcomes (run_id, posting_id, expected_code, got_code, state,
				final_score, category, correct, near_miss)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, o.PostingID, o.ExpectedCode, nullableString(o.GotCode), o.State,
			o.FinalScore, nullableString(o.Category), o.Correct, o.NearMiss)
		if err != nil {
			return fmt.Errorf("insert eval outcome %s: %w", o.PostingID, err)
		}
	}
	return tx.Commit()
}

const evalRunColumns = `id, gold_version, matching_version, config_fingerprint, total, exact, near_miss, unmatched, created_at`

func scanEvalRun(row *sql.Row) (EvalRun, error) {
	var r EvalRun
	err := row.Scan(&r.ID, &r.GoldVersion, &r.MatchingVersion, &r.ConfigFingerprint,
		&r.Total, &r.Exact, &r.NearMiss, &r.Unmatched, &r.CreatedAt)
	return r, err
}

// GetEvalRun reads one evaluation run by id.
func GetEvalRun(db DBExecutor, id string) (EvalRun, error) {
	return scanEvalRun(db.QueryRow(`SELECT `+evalRunColumns+` FROM eval_runs WHERE id = ?`, id))
}

// LatestEvalRun returns the most recent run over goldVersion other than
// excludeID, or sql.ErrNoRows.
func LatestEvalRun(db DBExecutor, goldVersion, excludeID string) (EvalRun, error) {
	return scanEvalRun(db.QueryRow(`SELECT `+evalRunColumns+` FROM eval_runs
		WHERE gold_version = ? AND id <> ? ORDER BY seq DESC LIMIT 1`, goldVersion, excludeID))
}

// GetEvalOutcomes returns the outcomes of a run ordered by posting id.
func GetEvalOutcomes(db DBExecutor, runID string) ([]EvalOutcome, error) {
	rows, err := db.Query(`SELECT posting_id, expected_code, got_code, state, final_score, category, correct, near_miss
		FROM eval_outcomes WHERE run_id = ? ORDER BY posting_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EvalOutcome
	for rows.Next() {
		var o EvalOutcome
		var got, category sql.NullString
		if err := rows.Scan(&o.PostingID, &o.ExpectedCode, &got, &o.State, &o.FinalScore,
			&category, &o.Correct, &o.NearMiss); err != nil {
			return nil, err
		}
		o.GotCode = got.String
		o.Category = category.String
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
