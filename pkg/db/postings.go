package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/japaniel/occumatch/pkg/posting"
)

// SavePosting stores a collected posting. Postings are immutable once
// collected, so an existing row is left untouched.
func SavePosting(db DBExecutor, p posting.Posting) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("posting id must be non-empty")
	}
	var collected interface{}
	if !p.CollectedAt.IsZero() {
		collected = p.CollectedAt.UTC()
	}
	_, err := db.Exec(`INSERT INTO postings (id, source, title, description, company, location, collected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		p.ID, p.Source, p.Title, nullableString(p.Description), nullableString(p.Company),
		nullableString(p.Location), collected)
	if err != nil {
		return fmt.Errorf("insert posting %s: %w", p.ID, err)
	}
	return nil
}

// UpsertAttributes stores the extracted attributes of a posting, replacing
// those of an earlier extraction.
func UpsertAttributes(db DBExecutor, postingID string, a posting.Attributes) error {
	tasks, err := encodeList(a.Tasks)
	if err != nil {
		return err
	}
	tech, err := encodeList(a.TechnicalSkills)
	if err != nil {
		return err
	}
	soft, err := encodeList(a.SoftSkills)
	if err != nil {
		return err
	}
	emb, err := encodeList(a.TitleEmbedding)
	if err != nil {
		return err
	}
	var subordinates interface{}
	if a.HasSubordinates != nil {
		subordinates = *a.HasSubordinates
	}

	_, err = db.Exec(`INSERT INTO posting_attributes (posting_id, extraction_version, cleaned_title,
			functional_area, seniority, has_subordinates, sector, tasks, technical_skills, soft_skills, title_embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(posting_id) DO UPDATE SET
			extraction_version = excluded.extraction_version,
			cleaned_title = excluded.cleaned_title,
			functional_area = excluded.functional_area,
			seniority = excluded.seniority,
			has_subordinates = excluded.has_subordinates,
			sector = excluded.sector,
			tasks = excluded.tasks,
			technical_skills = excluded.technical_skills,
			soft_skills = excluded.soft_skills,
			title_embedding = excluded.title_embedding`,
		postingID, a.ExtractionVersion, nullableString(a.CleanedTitle), nullableString(a.FunctionalArea),
		nullableString(a.Seniority), subordinates, nullableString(a.Sector), tasks, tech, soft, emb)
	if err != nil {
		return fmt.Errorf("upsert attributes %s: %w", postingID, err)
	}
	return nil
}

// SaveRecord stores a posting and, when present, its attributes.
func SaveRecord(db DBExecutor, r posting.Record) error {
	if err := SavePosting(db, r.Posting); err != nil {
		return err
	}
	if r.Attributes == nil {
		return nil
	}
	return UpsertAttributes(db, r.Posting.ID, *r.Attributes)
}

// LoadRecord reads a posting and its attributes. Attributes is nil when the
// extraction stage has not produced any. A missing posting yields sql.ErrNoRows.
func LoadRecord(db DBExecutor, postingID string) (posting.Record, error) {
	var rec posting.Record
	var desc, company, location sql.NullString
	var collected sql.NullTime
	err := db.QueryRow(`SELECT id, source, title, description, company, location, collected_at
		FROM postings WHERE id = ?`, postingID).
		Scan(&rec.Posting.ID, &rec.Posting.Source, &rec.Posting.Title, &desc, &company, &location, &collected)
	if err != nil {
		return rec, err
	}
	rec.Posting.Description = desc.String
	rec.Posting.Company = company.String
	rec.Posting.Location = location.String
	if collected.Valid {
		rec.Posting.CollectedAt = collected.Time
	}

	var a posting.Attributes
	var cleaned, area, seniority, sector, tasks, tech, soft, emb sql.NullString
	var subordinates sql.NullBool
	err = db.QueryRow(`SELECT extraction_version, cleaned_title, functional_area, seniority, has_subordinates,
			sector, tasks, technical_skills, soft_skills, title_embedding
		FROM posting_attributes WHERE posting_id = ?`, postingID).
		Scan(&a.ExtractionVersion, &cleaned, &area, &seniority, &subordinates, &sector, &tasks, &tech, &soft, &emb)
	if err == sql.ErrNoRows {
		return rec, nil
	}
	if err != nil {
		return rec, err
	}
	a.CleanedTitle = cleaned.String
	a.FunctionalArea = area.String
	a.Seniority = seniority.String
	a.Sector = sector.String
	if subordinates.Valid {
		v := subordinates.Bool
		a.HasSubordinates = &v
	}
	for _, f := range []struct {
		src sql.NullString
		dst interface{}
	}{{tasks, &a.Tasks}, {tech, &a.TechnicalSkills}, {soft, &a.SoftSkills}, {emb, &a.TitleEmbedding}} {
		if err := decodeList(f.src, f.dst); err != nil {
			return rec, fmt.Errorf("decode attributes of %s: %w", postingID, err)
		}
	}
	rec.Attributes = &a
	return rec, nil
}

// PendingPostingIDs returns ids of postings with no stored result at
// matchingVersion, ascending. limit <= 0 means no limit.
func PendingPostingIDs(db DBExecutor, matchingVersion string, limit int) ([]string, error) {
	query := `SELECT p.id FROM postings p
		LEFT JOIN match_results mr ON mr.posting_id = p.id AND mr.matching_version = ?
		WHERE mr.posting_id IS NULL
		ORDER BY p.id`
	args := []interface{}{matchingVersion}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
