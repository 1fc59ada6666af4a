package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DBExecutor is an interface that allows methods to accept either *sql.DB or *sql.Tx
type DBExecutor interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// isUniqueConstraintErr returns true when the error indicates a unique/constraint violation
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unique") || strings.Contains(s, "constraint failed")
}

// SaveMatchResult replaces the stored result and skill mentions for the row's
// (posting, matching version) key. Run it inside a transaction: the result
// upsert and the delete-then-insert of skill rows must commit together.
func SaveMatchResult(db DBExecutor, r MatchResultRow, skills []SkillMatchRow) error {
	if strings.TrimSpace(r.PostingID) == "" {
		return fmt.Errorf("posting id must be non-empty")
	}
	if strings.TrimSpace(r.MatchingVersion) == "" {
		return fmt.Errorf("matching version must be non-empty")
	}
	if r.FinalScore < 0 || r.FinalScore > 1 {
		return fmt.Errorf("final score %v out of [0,1] for posting %s", r.FinalScore, r.PostingID)
	}
	if r.MatchedAt.IsZero() {
		r.MatchedAt = time.Now().UTC()
	}

	_, err := db.Exec(`INSERT INTO match_results (
			posting_id, matching_version, occupation_code, occupation_label,
			score_dictionary, score_skills, score_semantic, score_text_overlap,
			final_score, method, state, confirmed, requires_review, error_kind,
			detail, run_id, matched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(posting_id, matching_version) DO UPDATE SET
			occupation_code = excluded.occupation_code,
			occupation_label = excluded.occupation_label,
			score_dictionary = excluded.score_dictionary,
			score_skills = excluded.score_skills,
			score_semantic = excluded.score_semantic,
			score_text_overlap = excluded.score_text_overlap,
			final_score = excluded.final_score,
			method = excluded.method,
			state = excluded.state,
			confirmed = excluded.confirmed,
			requires_review = excluded.requires_review,
			error_kind = excluded.error_kind,
			detail = excluded.detail,
			run_id = excluded.run_id,
			matched_at = excluded.matched_at`,
		r.PostingID, r.MatchingVersion, nullableString(r.OccupationCode), nullableString(r.OccupationLabel),
		r.ScoreDictionary, r.ScoreSkills, r.ScoreSemantic, r.ScoreTextOverlap,
		r.FinalScore, r.Method, r.State, r.Confirmed, r.RequiresReview, nullableString(r.ErrorKind),
		nullableString(r.Detail), nullableString(r.RunID), r.MatchedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert match result %s@%s: %w", r.PostingID, r.MatchingVersion, err)
	}

	if _, err := db.Exec(`DELETE FROM skill_matches WHERE posting_id = ? AND matching_version = ?`,
		r.PostingID, r.MatchingVersion); err != nil {
		return fmt.Errorf("clear skill matches %s@%s: %w", r.PostingID, r.MatchingVersion, err)
	}
	for i, s := range skills {
		_, err := db.Exec(`INSERT INTO skill_matches
			(posting_id, matching_version, position, mention, skill_id, similarity, classification, source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.PostingID, r.MatchingVersion, i, s.Mention, nullableString(s.SkillID),
			s.Similarity, s.Classification, s.Source)
		if err != nil {
			return fmt.Errorf("insert skill match %d for %s@%s: %w", i, r.PostingID, r.MatchingVersion, err)
		}
	}
	return nil
}

// SaveMatchResultTx is SaveMatchResult wrapped in its own transaction.
func SaveMatchResultTx(conn *sql.DB, r MatchResultRow, skills []SkillMatchRow) error {
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // ignored if committed
	}()
	if err := SaveMatchResult(tx, r, skills); err != nil {
		return err
	}
	return tx.Commit()
}

const matchResultColumns = `posting_id, matching_version, occupation_code, occupation_label,
	score_dictionary, score_skills, score_semantic, score_text_overlap, final_score,
	method, state, confirmed, requires_review, error_kind, detail, run_id, matched_at`

func scanMatchResult(scan func(dest ...interface{}) error) (MatchResultRow, error) {
	var r MatchResultRow
	var code, label, errKind, detail, runID sql.NullString
	err := scan(&r.PostingID, &r.MatchingVersion, &code, &label,
		&r.ScoreDictionary, &r.ScoreSkills, &r.ScoreSemantic, &r.ScoreTextOverlap, &r.FinalScore,
		&r.Method, &r.State, &r.Confirmed, &r.RequiresReview, &errKind, &detail, &runID, &r.MatchedAt)
	if err != nil {
		return r, err
	}
	r.OccupationCode = code.String
	r.OccupationLabel = label.String
	r.ErrorKind = errKind.String
	r.Detail = detail.String
	r.RunID = runID.String
	return r, nil
}

// GetMatchResult returns the stored result for one key, or sql.ErrNoRows.
func GetMatchResult(db DBExecutor, postingID, matchingVersion string) (MatchResultRow, error) {
	row := db.QueryRow(`SELECT `+matchResultColumns+` FROM match_results
		WHERE posting_id = ? AND matching_version = ?`, postingID, matchingVersion)
	return scanMatchResult(row.Scan)
}

// ListMatchResults returns every result stored for a matching version,
// ordered by posting id.
func ListMatchResults(db DBExecutor, matchingVersion string) ([]MatchResultRow, error) {
	rows, err := db.Query(`SELECT `+matchResultColumns+` FROM match_results
		WHERE matching_version = ? ORDER BY posting_id`, matchingVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MatchResultRow
	for rows.Next() {
		r, err := scanMatchResult(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSkillMatches returns the skill mentions stored for one key in their
// original order.
func GetSkillMatches(db DBExecutor, postingID, matchingVersion string) ([]SkillMatchRow, error) {
	rows, err := db.Query(`SELECT position, mention, skill_id, similarity, classification, source
		FROM skill_matches WHERE posting_id = ? AND matching_version = ? ORDER BY position`,
		postingID, matchingVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SkillMatchRow
	for rows.Next() {
		var s SkillMatchRow
		var skillID sql.NullString
		if err := rows.Scan(&s.Position, &s.Mention, &skillID, &s.Similarity, &s.Classification, &s.Source); err != nil {
			return nil, err
		}
		s.SkillID = skillID.String
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// nullableString returns nil for "" so optional columns stay NULL.
func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func encodeList(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return string(data), nil
}

func decodeList(s sql.NullString, v interface{}) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}
