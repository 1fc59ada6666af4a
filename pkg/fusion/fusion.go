// Package fusion combines the skill, semantic and text-overlap signals into
// one ranked candidate list and applies the hierarchy rules and thresholds.
package fusion

import (
	"fmt"
	"sort"

	"github.com/japaniel/occumatch/pkg/taxonomy"
	"github.com/japaniel/occumatch/pkg/textnorm"
)

// State is the lifecycle position of a match result.
type State string

const (
	StatePending     State = "PENDING"
	StateBypassed    State = "BYPASSED"
	StateScored      State = "SCORED"
	StateConfirmed   State = "CONFIRMED"
	StateNeedsReview State = "NEEDS_REVIEW"
	StateUnmatched   State = "UNMATCHED"
)

// Methods recorded on a result.
const (
	MethodDictionary    = "dictionary"
	MethodMulticriteria = "multicriteria"
	MethodSkills        = "skills"
	MethodSemantic      = "semantic"
	MethodTextOverlap   = "text_overlap"
	MethodNone          = "none"
)

// Weights are the relative contributions of each signal to the fused score.
type Weights struct {
	Skills      float64 `json:"skills"`
	Semantic    float64 `json:"semantic"`
	TextOverlap float64 `json:"text_overlap"`
}

// DefaultWeights returns the stock calibration.
func DefaultWeights() Weights {
	return Weights{Skills: 0.4, Semantic: 0.5, TextOverlap: 0.1}
}

// Validate checks that weights are non-negative with a positive sum.
func (w Weights) Validate() error {
	if w.Skills < 0 || w.Semantic < 0 || w.TextOverlap < 0 {
		return fmt.Errorf("weights must be non-negative: %+v", w)
	}
	if w.Skills+w.Semantic+w.TextOverlap <= 0 {
		return fmt.Errorf("weights must not all be zero")
	}
	return nil
}

// Fuse returns the weighted mean of the three signals, clamped to [0,1].
func (w Weights) Fuse(skills, semantic, overlap float64) float64 {
	total := w.Skills + w.Semantic + w.TextOverlap
	if total <= 0 {
		return 0
	}
	return clamp((w.Skills*skills + w.Semantic*semantic + w.TextOverlap*overlap) / total)
}

// Thresholds map a fused score to a terminal state.
type Thresholds struct {
	Floor   float64 `json:"floor"`
	Confirm float64 `json:"confirm"`
}

// DefaultThresholds returns the stock calibration.
func DefaultThresholds() Thresholds {
	return Thresholds{Floor: 0.30, Confirm: 0.50}
}

// Validate checks 0 <= floor <= confirm <= 1.
func (t Thresholds) Validate() error {
	if t.Floor < 0 || t.Confirm > 1 || t.Floor > t.Confirm {
		return fmt.Errorf("thresholds must satisfy 0 <= floor (%v) <= confirm (%v) <= 1", t.Floor, t.Confirm)
	}
	return nil
}

// State decides the terminal state of a scored result.
func (t Thresholds) State(fused float64, requiresReview bool) State {
	switch {
	case fused < t.Floor:
		return StateUnmatched
	case fused >= t.Confirm && !requiresReview:
		return StateConfirmed
	default:
		return StateNeedsReview
	}
}

// Candidate is an occupation with its per-signal scores.
type Candidate struct {
	Code        string  `json:"code"`
	Label       string  `json:"label"`
	Skills      float64 `json:"skills"`
	Semantic    float64 `json:"semantic"`
	TextOverlap float64 `json:"text_overlap"`
	Fused       float64 `json:"fused"`
}

// MajorGroup returns the first level of the candidate's code.
func (c Candidate) MajorGroup() string { return taxonomy.MajorGroup(c.Code) }

// HasSkills reports skill evidence for the candidate.
func (c Candidate) HasSkills() bool { return c.Skills > 0 }

// HasSemantic reports semantic evidence for the candidate.
func (c Candidate) HasSemantic() bool { return c.Semantic > 0 }

// Method names the evidence the candidate rests on.
func (c Candidate) Method() string {
	switch {
	case c.HasSkills() && c.HasSemantic():
		return MethodMulticriteria
	case c.HasSkills():
		return MethodSkills
	case c.HasSemantic():
		return MethodSemantic
	default:
		return MethodTextOverlap
	}
}

// TextOverlap is the best token Jaccard between the title and any label of
// the occupation, ignoring stop words.
func TextOverlap(title string, occ taxonomy.Occupation) float64 {
	toks := textnorm.ContentTokens(title)
	best := 0.0
	for _, l := range occ.Labels() {
		if j := textnorm.Jaccard(toks, textnorm.ContentTokens(l)); j > best {
			best = j
		}
	}
	return best
}

// Sort orders candidates by fused score descending, skill evidence before
// semantic-only, then code ascending.
func Sort(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Fused != b.Fused {
			return a.Fused > b.Fused
		}
		if a.HasSkills() != b.HasSkills() {
			return a.HasSkills()
		}
		return a.Code < b.Code
	})
}

func clamp(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
