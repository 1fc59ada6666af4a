package dictionary

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/japaniel/occumatch/pkg/db"
	"github.com/japaniel/occumatch/pkg/logger"
	"github.com/japaniel/occumatch/pkg/matcherr"
	"github.com/japaniel/occumatch/pkg/taxonomy"
)

// Importer stores dictionary files as new versions in the database and reads
// versions back. Stored versions are never edited.
type Importer struct {
	conn *sql.DB
	log  *zap.Logger
}

// NewImporter creates an importer bound to conn.
func NewImporter(conn *sql.DB, log *zap.Logger) *Importer {
	return &Importer{conn: conn, log: logger.OrNop(log)}
}

// Import validates entries against the taxonomy and stores them as the next
// dictionary version, which it returns.
func (im *Importer) Import(entries []Entry, snap *taxonomy.Snapshot) (int, error) {
	rows := make([]db.DictionaryEntryRow, 0, len(entries))
	for _, e := range entries {
		if err := e.validate(); err != nil {
			return 0, matcherr.Config("dictionary import", err)
		}
		occ, ok := snap.Occupation(e.Code)
		if !ok {
			return 0, matcherr.Config(fmt.Sprintf("dictionary entry %q points to unknown occupation %s", e.Pattern, e.Code), nil)
		}
		label := e.Label
		if label == "" {
			label = occ.Label
		}
		rows = append(rows, db.DictionaryEntryRow{
			Pattern:    e.Pattern,
			Variants:   e.Variants,
			Code:       e.Code,
			Label:      label,
			Confidence: e.Confidence,
			MatchType:  string(e.matchType()),
			Disabled:   e.Disabled,
			Note:       e.Note,
		})
	}

	version, err := db.InsertDictionaryVersion(im.conn, rows)
	if err != nil {
		return 0, err
	}
	im.log.Info("dictionary version stored", zap.Int("version", version), zap.Int("entries", len(rows)))
	return version, nil
}

// LoadFromDB returns the entries of a stored version. Version 0 selects the
// latest one. An empty table is a configuration error.
func (im *Importer) LoadFromDB(version int) ([]Entry, int, error) {
	if version == 0 {
		latest, err := db.LatestDictionaryVersion(im.conn)
		if err != nil {
			return nil, 0, err
		}
		if latest == 0 {
			return nil, 0, matcherr.Config("no dictionary version stored; run `dictionary import` first", nil)
		}
		version = latest
	}
	rows, err := db.ListDictionaryEntries(im.conn, version)
	if err != nil {
		return nil, 0, err
	}
	if len(rows) == 0 {
		return nil, 0, matcherr.Config(fmt.Sprintf("dictionary version %d not found", version), nil)
	}
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, Entry{
			ID:         r.ID,
			Pattern:    r.Pattern,
			Variants:   r.Variants,
			Code:       r.Code,
			Label:      r.Label,
			Confidence: r.Confidence,
			MatchType:  MatchType(r.MatchType),
			Version:    r.Version,
			Disabled:   r.Disabled,
			Note:       r.Note,
		})
	}
	return entries, version, nil
}
