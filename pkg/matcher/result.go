package matcher

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/japaniel/occumatch/pkg/db"
	"github.com/japaniel/occumatch/pkg/fusion"
	"github.com/japaniel/occumatch/pkg/matcherr"
	"github.com/japaniel/occumatch/pkg/skills"
)

// Scores is the per-signal breakdown of the chosen occupation.
type Scores struct {
	Dictionary  float64 `json:"dictionary"`
	Skills      float64 `json:"skills"`
	Semantic    float64 `json:"semantic"`
	TextOverlap float64 `json:"text_overlap"`
}

// DictionaryHit describes the curated entry that decided a bypassed result.
type DictionaryHit struct {
	EntryID    int64   `json:"entry_id"`
	Pattern    string  `json:"pattern"`
	Version    int     `json:"version,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Result is the auditable outcome of matching one posting.
type Result struct {
	PostingID       string             `json:"posting_id"`
	MatchingVersion string             `json:"matching_version"`
	Strategy        string             `json:"strategy"`
	OccupationCode  string             `json:"occupation_code,omitempty"`
	OccupationLabel string             `json:"occupation_label,omitempty"`
	Scores          Scores             `json:"scores"`
	FinalScore      float64            `json:"final_score"`
	Method          string             `json:"method"`
	State           fusion.State       `json:"state"`
	Confirmed       bool               `json:"confirmed"`
	RequiresReview  bool               `json:"requires_review"`
	ErrorKind       matcherr.Kind      `json:"error_kind,omitempty"`
	Message         string             `json:"message,omitempty"`
	Dictionary      *DictionaryHit     `json:"dictionary,omitempty"`
	Alternatives    []fusion.Candidate `json:"alternatives,omitempty"`
	Rules           []fusion.Applied   `json:"rules,omitempty"`
	Skills          []skills.Match     `json:"skills,omitempty"`
	Trace           []fusion.State     `json:"trace"`
	RunID           string             `json:"run_id,omitempty"`
}

// detail is the JSON stored alongside a result row.
type detail struct {
	Strategy     string             `json:"strategy"`
	Message      string             `json:"message,omitempty"`
	Dictionary   *DictionaryHit     `json:"dictionary,omitempty"`
	Alternatives []fusion.Candidate `json:"alternatives"`
	Rules        []fusion.Applied   `json:"rules"`
	Trace        []fusion.State     `json:"trace"`
}

// Rows converts the result to its persisted form.
func (r Result) Rows() (db.MatchResultRow, []db.SkillMatchRow, error) {
	d := detail{
		Strategy:     r.Strategy,
		Message:      r.Message,
		Dictionary:   r.Dictionary,
		Alternatives: r.Alternatives,
		Rules:        r.Rules,
		Trace:        r.Trace,
	}
	if d.Alternatives == nil {
		d.Alternatives = []fusion.Candidate{}
	}
	if d.Rules == nil {
		d.Rules = []fusion.Applied{}
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return db.MatchResultRow{}, nil, fmt.Errorf("encode detail of %s: %w", r.PostingID, err)
	}

	row := db.MatchResultRow{
		PostingID:        r.PostingID,
		MatchingVersion:  r.MatchingVersion,
		OccupationCode:   r.OccupationCode,
		OccupationLabel:  r.OccupationLabel,
		ScoreDictionary:  r.Scores.Dictionary,
		ScoreSkills:      r.Scores.Skills,
		ScoreSemantic:    r.Scores.Semantic,
		ScoreTextOverlap: r.Scores.TextOverlap,
		FinalScore:       r.FinalScore,
		Method:           r.Method,
		State:            string(r.State),
		Confirmed:        r.Confirmed,
		RequiresReview:   r.RequiresReview,
		ErrorKind:        string(r.ErrorKind),
		Detail:           string(raw),
		RunID:            r.RunID,
	}
	rows := make([]db.SkillMatchRow, 0, len(r.Skills))
	for i, s := range r.Skills {
		rows = append(rows, db.SkillMatchRow{
			Position:       i,
			Mention:        s.Mention,
			SkillID:        s.SkillID,
			Similarity:     s.Similarity,
			Classification: s.Classification,
			Source:         string(s.Source),
		})
	}
	return row, rows, nil
}

// Save persists the result and its skill rows in one transaction.
func (r Result) Save(conn *sql.DB) error {
	row, skillRows, err := r.Rows()
	if err != nil {
		return err
	}
	return db.SaveMatchResultTx(conn, row, skillRows)
}
