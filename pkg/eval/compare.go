package eval

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/japaniel/occumatch/pkg/db"
	"github.com/japaniel/occumatch/pkg/fusion"
	"github.com/japaniel/occumatch/pkg/matcherr"
)

// ChangeKind classifies how a posting's outcome moved between two runs.
type ChangeKind string

const (
	Regression  ChangeKind = "regression"
	Improvement ChangeKind = "improvement"
	Changed     ChangeKind = "changed"
)

// Change is a posting whose code, state or correctness differs from the
// baseline.
type Change struct {
	PostingID string     `json:"posting_id"`
	Kind      ChangeKind `json:"kind"`
	Before    *Outcome   `json:"before,omitempty"`
	After     *Outcome   `json:"after,omitempty"`
}

// Compare lists every posting whose outcome differs between before and
// after, ordered by posting id.
func Compare(before, after []Outcome) []Change {
	prev := make(map[string]Outcome, len(before))
	for _, o := range before {
		prev[o.PostingID] = o
	}
	var changes []Change
	seen := make(map[string]bool, len(after))
	for _, o := range after {
		seen[o.PostingID] = true
		b, ok := prev[o.PostingID]
		if !ok {
			changes = append(changes, Change{PostingID: o.PostingID, Kind: Changed, After: &o})
			continue
		}
		switch {
		case b.Correct && !o.Correct:
			changes = append(changes, Change{PostingID: o.PostingID, Kind: Regression, Before: &b, After: &o})
		case !b.Correct && o.Correct:
			changes = append(changes, Change{PostingID: o.PostingID, Kind: Improvement, Before: &b, After: &o})
		case b.GotCode != o.GotCode || b.State != o.State:
			changes = append(changes, Change{PostingID: o.PostingID, Kind: Changed, Before: &b, After: &o})
		}
	}
	for _, b := range before {
		if !seen[b.PostingID] {
			changes = append(changes, Change{PostingID: b.PostingID, Kind: Changed, Before: &b})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].PostingID < changes[j].PostingID })
	return changes
}

// Save stores the report's run and outcomes.
func Save(conn *sql.DB, rep Report) error {
	run := db.EvalRun{
		ID:                rep.RunID,
		GoldVersion:       rep.GoldVersion,
		MatchingVersion:   rep.MatchingVersion,
		ConfigFingerprint: rep.ConfigFingerprint,
		Total:             rep.Metrics.Total,
		Exact:             rep.Metrics.Exact,
		NearMiss:          rep.Metrics.NearMiss,
		Unmatched:         rep.Metrics.Unmatched,
	}
	rows := make([]db.EvalOutcome, 0, len(rep.Outcomes))
	for _, o := range rep.Outcomes {
		rows = append(rows, db.EvalOutcome{
			PostingID:    o.PostingID,
			ExpectedCode: o.ExpectedCode,
			GotCode:      o.GotCode,
			State:        string(o.State),
			FinalScore:   o.FinalScore,
			Category:     o.Category,
			Correct:      o.Correct,
			NearMiss:     o.NearMiss,
		})
	}
	if err := db.SaveEvalRun(conn, run, rows); err != nil {
		return fmt.Errorf("save eval run %s: %w", rep.RunID, err)
	}
	return nil
}

// StoredOutcomes reads the outcomes of a stored run.
func StoredOutcomes(conn db.DBExecutor, runID string) ([]Outcome, error) {
	rows, err := db.GetEvalOutcomes(conn, runID)
	if err != nil {
		return nil, err
	}
	out := make([]Outcome, 0, len(rows))
	for _, r := range rows {
		out = append(out, Outcome{
			PostingID:    r.PostingID,
			ExpectedCode: r.ExpectedCode,
			GotCode:      r.GotCode,
			State:        fusion.State(r.State),
			FinalScore:   r.FinalScore,
			Category:     r.Category,
			Correct:      r.Correct,
			NearMiss:     r.NearMiss,
		})
	}
	return out, nil
}

// Baseline resolves ref to a set of outcomes. ref may be a report file
// written by WriteJSON, a stored run id, or empty for the latest stored run
// over the same gold set. ok is false when no baseline exists yet.
func Baseline(conn *sql.DB, ref string, rep Report) (outcomes []Outcome, name string, ok bool, err error) {
	if ref != "" {
		if _, statErr := os.Stat(ref); statErr == nil {
			base, err := ReadReport(ref)
			if err != nil {
				return nil, "", false, err
			}
			return base.Outcomes, ref, true, nil
		}
		if _, err := db.GetEvalRun(conn, ref); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, "", false, matcherr.Config(fmt.Sprintf("baseline %q is neither a file nor a stored run", ref), nil)
			}
			return nil, "", false, err
		}
		out, err := StoredOutcomes(conn, ref)
		return out, ref, err == nil, err
	}

	prev, err := db.LatestEvalRun(conn, rep.GoldVersion, rep.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, err
	}
	out, err := StoredOutcomes(conn, prev.ID)
	return out, prev.ID, err == nil, err
}

// ReadReport loads a report written by WriteJSON.
func ReadReport(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, matcherr.Config("read baseline "+path, err)
	}
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return Report{}, matcherr.Config("parse baseline "+path, err)
	}
	return rep, nil
}

// WriteJSON writes the report as indented JSON.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText writes a human readable summary.
func (r Report) WriteText(w io.Writer) error {
	m := r.Metrics
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", r.RunID)
	fmt.Fprintf(tw, "gold set\t%s\n", r.GoldVersion)
	fmt.Fprintf(tw, "matching version\t%s\n", r.MatchingVersion)
	fmt.Fprintf(tw, "total\t%d\n", m.Total)
	fmt.Fprintf(tw, "exact\t%d\t%.1f%%\n", m.Exact, 100*m.Accuracy)
	fmt.Fprintf(tw, "near miss\t%d\t%.1f%%\n", m.NearMiss, 100*m.NearMissRate)
	fmt.Fprintf(tw, "unmatched\t%d\n", m.Unmatched)
	fmt.Fprintf(tw, "forbidden group\t%d\n", m.ForbiddenViolations)
	fmt.Fprintf(tw, "confirmed, should not\t%d\n", m.WronglyConfirmed)

	cats := make([]string, 0, len(m.Categories))
	for c := range m.Categories {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	fmt.Fprintf(tw, "\ncategory\ttotal\texact\tnear miss\n")
	for _, c := range cats {
		s := m.Categories[c]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", c, s.Total, s.Exact, s.NearMiss)
	}

	if r.Baseline != "" {
		fmt.Fprintf(tw, "\nbaseline\t%s\t%d changes\t%d regressions\n", r.Baseline, len(r.Changes), r.Regressions())
		for _, c := range r.Changes {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Kind, c.PostingID, describe(c.Before), describe(c.After))
		}
	}
	return tw.Flush()
}

func describe(o *Outcome) string {
	if o == nil {
		return "-"
	}
	code := o.GotCode
	if code == "" {
		code = "none"
	}
	return fmt.Sprintf("%s/%s", code, o.State)
}
