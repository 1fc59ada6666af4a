package eval

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/japaniel/occumatch/pkg/batch"
	"github.com/japaniel/occumatch/pkg/fusion"
	"github.com/japaniel/occumatch/pkg/logger"
	"github.com/japaniel/occumatch/pkg/matcher"
	"github.com/japaniel/occumatch/pkg/taxonomy"
)

// Uncategorized groups cases without an error category.
const Uncategorized = "uncategorized"

// Outcome is the evaluated result of one case.
type Outcome struct {
	PostingID        string       `json:"posting_id"`
	ExpectedCode     string       `json:"expected_code"`
	GotCode          string       `json:"got_code,omitempty"`
	State            fusion.State `json:"state"`
	FinalScore       float64      `json:"final_score"`
	Category         string       `json:"category"`
	Correct          bool         `json:"correct"`
	NearMiss         bool         `json:"near_miss"`
	ForbiddenGroup   bool         `json:"forbidden_group,omitempty"`
	WronglyConfirmed bool         `json:"wrongly_confirmed,omitempty"`
}

// CategoryStats counts the outcomes of one error category.
type CategoryStats struct {
	Total    int `json:"total"`
	Exact    int `json:"exact"`
	NearMiss int `json:"near_miss"`
}

// Metrics aggregate a run.
type Metrics struct {
	Total               int                      `json:"total"`
	Exact               int                      `json:"exact"`
	NearMiss            int                      `json:"near_miss"`
	Unmatched           int                      `json:"unmatched"`
	ForbiddenViolations int                      `json:"forbidden_violations"`
	WronglyConfirmed    int                      `json:"wrongly_confirmed"`
	Accuracy            float64                  `json:"accuracy"`
	NearMissRate        float64                  `json:"near_miss_rate"`
	Categories          map[string]CategoryStats `json:"categories"`
}

// Report is the result of one evaluation run.
type Report struct {
	RunID             string    `json:"run_id"`
	GoldVersion       string    `json:"gold_version"`
	MatchingVersion   string    `json:"matching_version"`
	ConfigFingerprint string    `json:"config_fingerprint"`
	Metrics           Metrics   `json:"metrics"`
	Outcomes          []Outcome `json:"outcomes"`
	// Baseline is the run or file the report was compared with.
	Baseline string   `json:"baseline,omitempty"`
	Changes  []Change `json:"changes,omitempty"`
}

// Regressions counts the regression changes.
func (r Report) Regressions() int {
	n := 0
	for _, c := range r.Changes {
		if c.Kind == Regression {
			n++
		}
	}
	return n
}

// Harness evaluates one strategy.
type Harness struct {
	Strategy    matcher.Strategy
	Version     string
	Fingerprint string
	Workers     int
	Log         *zap.Logger
}

// Evaluate matches every case and scores the results. Outcomes are sorted by
// posting id, so equal inputs give equal reports apart from RunID.
func (h *Harness) Evaluate(ctx context.Context, gs *GoldSet) (Report, error) {
	log := logger.OrNop(h.Log)
	version := h.Version
	if version == "" {
		version = h.Strategy.Name()
	}
	rep := Report{
		RunID:             uuid.NewString(),
		GoldVersion:       gs.Version,
		MatchingVersion:   version,
		ConfigFingerprint: h.Fingerprint,
	}

	results := make([]matcher.Result, len(gs.Cases))
	pool := batch.NewWorkerPool(h.Workers, 0)
	pool.Start(ctx)
	for i := range gs.Cases {
		err := pool.SubmitCtx(ctx, func(ctx context.Context) error {
			results[i] = h.Strategy.Match(ctx, gs.Cases[i].Record())
			return nil
		})
		if err != nil {
			pool.Close()
			return rep, err
		}
	}
	// Close returns once every queued job has run.
	pool.Close()
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	rep.Outcomes = make([]Outcome, len(gs.Cases))
	for i, c := range gs.Cases {
		rep.Outcomes[i] = score(c, results[i])
	}
	sort.Slice(rep.Outcomes, func(i, j int) bool { return rep.Outcomes[i].PostingID < rep.Outcomes[j].PostingID })
	rep.Metrics = Summarize(rep.Outcomes)

	log.Info("evaluation finished", zap.String("run_id", rep.RunID), zap.String("gold_version", gs.Version),
		zap.String("matching_version", version), zap.Int("total", rep.Metrics.Total),
		zap.Float64("accuracy", rep.Metrics.Accuracy), zap.Float64("near_miss_rate", rep.Metrics.NearMissRate))
	return rep, nil
}

func score(c Case, res matcher.Result) Outcome {
	o := Outcome{
		PostingID:    c.Posting.ID,
		ExpectedCode: c.ExpectedCode,
		GotCode:      res.OccupationCode,
		State:        res.State,
		FinalScore:   res.FinalScore,
		Category:     c.ErrorCategory,
	}
	if o.Category == "" {
		o.Category = Uncategorized
	}
	o.Correct = o.GotCode != "" && o.GotCode == o.ExpectedCode
	o.NearMiss = o.GotCode != "" && !o.Correct &&
		taxonomy.MajorGroup(o.GotCode) == taxonomy.MajorGroup(o.ExpectedCode)
	if o.GotCode != "" {
		got := taxonomy.MajorGroup(o.GotCode)
		for _, g := range c.ForbiddenGroups {
			if g == got {
				o.ForbiddenGroup = true
				break
			}
		}
	}
	o.WronglyConfirmed = c.ShouldNotConfirm && res.State == fusion.StateConfirmed
	return o
}

// Summarize computes the metrics of a set of outcomes.
func Summarize(outcomes []Outcome) Metrics {
	m := Metrics{Total: len(outcomes), Categories: map[string]CategoryStats{}}
	for _, o := range outcomes {
		cs := m.Categories[o.Category]
		cs.Total++
		if o.Correct {
			m.Exact++
			cs.Exact++
		}
		if o.NearMiss {
			m.NearMiss++
			cs.NearMiss++
		}
		if o.GotCode == "" {
			m.Unmatched++
		}
		if o.ForbiddenGroup {
			m.ForbiddenViolations++
		}
		if o.WronglyConfirmed {
			m.WronglyConfirmed++
		}
		m.Categories[o.Category] = cs
	}
	if m.Total > 0 {
		m.Accuracy = float64(m.Exact) / float64(m.Total)
		m.NearMissRate = float64(m.NearMiss) / float64(m.Total)
	}
	return m
}
