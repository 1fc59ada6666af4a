package db

import "time"

// MatchResultRow is the persisted outcome of matching one posting under one
// matching version. At most one row exists per (PostingID, MatchingVersion).
type MatchResultRow struct {
	PostingID        string
	MatchingVersion  string
	OccupationCode   string
	OccupationLabel  string
	ScoreDictionary  float64
	ScoreSkills      float64
	ScoreSemantic    float64
	ScoreTextOverlap float64
	FinalScore       float64
	Method           string
	State            string
	Confirmed        bool
	RequiresReview   bool
	ErrorKind        string
	// Detail holds the JSON-encoded alternatives and applied rules.
	Detail string
	// RunID and MatchedAt describe the run that last wrote the row. They
	// change on every rerun; every other column is a pure function of the
	// posting, the reference data and the calibration.
	RunID     string
	MatchedAt time.Time
}

// SkillMatchRow is one audited skill mention of a posting.
type SkillMatchRow struct {
	Position       int
	Mention        string
	SkillID        string
	Similarity     float64
	Classification string
	Source         string
}

// DictionaryEntryRow is one stored version of a curated term mapping.
type DictionaryEntryRow struct {
	ID         int64
	Version    int
	Pattern    string
	Variants   []string
	Code       string
	Label      string
	Confidence float64
	MatchType  string
	Disabled   bool
	Note       string
}

// Run is a batch matching run.
type Run struct {
	ID              string
	MatchingVersion string
	StartedAt       time.Time
	FinishedAt      time.Time
	Processed       int
	Failed          int
	Status          string
}

// EvalRun is the summary of one evaluation over a gold set.
type EvalRun struct {
	ID                string
	GoldVersion       string
	MatchingVersion   string
	ConfigFingerprint string
	Total             int
	Exact             int
	NearMiss          int
	Unmatched         int
	CreatedAt         time.Time
}

// EvalOutcome is the stored per-posting result of an evaluation run.
type EvalOutcome struct {
	PostingID    string
	ExpectedCode string
	GotCode      string
	State        string
	FinalScore   float64
	Category     string
	Correct      bool
	NearMiss     bool
}
