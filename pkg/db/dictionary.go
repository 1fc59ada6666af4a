package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// InsertDictionaryVersion stores rows as the next dictionary version and
// returns its number. Versions are append-only: a correction is a new version,
// never an edit of an old one.
func InsertDictionaryVersion(conn *sql.DB, rows []DictionaryEntryRow) (int, error) {
	if len(rows) == 0 {
		return 0, fmt.Errorf("no dictionary entries to import")
	}

	const maxRetries = 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		version, err := insertDictionaryVersion(conn, rows)
		if err == nil {
			return version, nil
		}
		// A concurrent import claimed the same version number; try the next one.
		if isUniqueConstraintErr(err) && !duplicatePattern(rows) {
			continue
		}
		return 0, err
	}
	return 0, fmt.Errorf("could not allocate a dictionary version after %d retries", maxRetries)
}

func insertDictionaryVersion(conn *sql.DB, rows []DictionaryEntryRow) (int, error) {
	tx, err := conn.Begin()
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback() // ignored if committed
	}()

	var version int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(version), 0) + 1 FROM dictionary_entries`).Scan(&version); err != nil {
		return 0, err
	}
	for _, r := range rows {
		variants, err := encodeList(r.Variants)
		if err != nil {
			return 0, err
		}
		matchType := r.MatchType
		if matchType == "" {
			matchType = "contains"
		}
		_, err = tx.Exec(`INSERT INTO dictionary_entries
			(version, pattern, variants, code, label, confidence, match_type, disabled, note)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			version, strings.TrimSpace(r.Pattern), variants, r.Code, r.Label, r.Confidence,
			matchType, r.Disabled, nullableString(r.Note))
		if err != nil {
			return 0, fmt.Errorf("insert dictionary entry %q: %w", r.Pattern, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return version, nil
}

func duplicatePattern(rows []DictionaryEntryRow) bool {
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		p := strings.TrimSpace(r.Pattern)
		if seen[p] {
			return true
		}
		seen[p] = true
	}
	return false
}

// LatestDictionaryVersion returns the newest stored version, or 0 when the
// table is empty.
func LatestDictionaryVersion(db DBExecutor) (int, error) {
	var v int
	err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM dictionary_entries`).Scan(&v)
	return v, err
}

// ListDictionaryEntries returns the entries of one version ordered by id.
func ListDictionaryEntries(db DBExecutor, version int) ([]DictionaryEntryRow, error) {
	rows, err := db.Query(`SELECT id, version, pattern, variants, code, label, confidence, match_type, disabled, note
		FROM dictionary_entries WHERE version = ? ORDER BY id`, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DictionaryEntryRow
	for rows.Next() {
		var r DictionaryEntryRow
		var variants, note sql.NullString
		if err := rows.Scan(&r.ID, &r.Version, &r.Pattern, &variants, &r.Code, &r.Label,
			&r.Confidence, &r.MatchType, &r.Disabled, &note); err != nil {
			return nil, err
		}
		if err := decodeList(variants, &r.Variants); err != nil {
			return nil, fmt.Errorf("decode variants of entry %d: %w", r.ID, err)
		}
		r.Note = note.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
