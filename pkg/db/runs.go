package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Run statuses.
const (
	RunRunning  = "running"
	RunComplete = "complete"
	RunPartial  = "partial"
	RunFailed   = "failed"
)

// CreateRun records the start of a batch run.
func CreateRun(db DBExecutor, id, matchingVersion string) error {
	if id == "" {
		return fmt.Errorf("run id must be non-empty")
	}
	_, err := db.Exec(`INSERT INTO match_runs (id, matching_version, started_at, status) VALUES (?, ?, ?, ?)`,
		id, matchingVersion, time.Now().UTC(), RunRunning)
	return err
}

// FinishRun stores the counters and final status of a run.
func FinishRun(db DBExecutor, id string, processed, failed int, status string) error {
	res, err := db.Exec(`UPDATE match_runs SET finished_at = ?, processed = ?, failed = ?, status = ? WHERE id = ?`,
		time.Now().UTC(), processed, failed, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// GetRun reads a run by id.
func GetRun(db DBExecutor, id string) (Run, error) {
	var r Run
	var finished sql.NullTime
	err := db.QueryRow(`SELECT id, matching_version, started_at, finished_at, processed, failed, status
		FROM match_runs WHERE id = ?`, id).
		Scan(&r.ID, &r.MatchingVersion, &r.StartedAt, &finished, &r.Processed, &r.Failed, &r.Status)
	if err != nil {
		return r, err
	}
	if finished.Valid {
		r.FinishedAt = finished.Time
	}
	return r, nil
}
