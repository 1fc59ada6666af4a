// Package skills finds taxonomy skills in a posting and scores occupations
// by the skills they share with it.
package skills

import (
	"fmt"
	"sort"

	"github.com/japaniel/occumatch/pkg/matcherr"
	"github.com/japaniel/occumatch/pkg/taxonomy"
	"github.com/japaniel/occumatch/pkg/textnorm"
)

// Source tells where a skill mention came from.
type Source string

const (
	// SourcePattern mentions are vocabulary labels found in the title or tasks.
	SourcePattern Source = "pattern"
	// SourceInference mentions were extracted upstream and fuzzy-scored here.
	SourceInference Source = "inference"
)

// Classification of a mention relative to the chosen occupation.
const (
	ClassEssential = "essential"
	ClassOptional  = "optional"
	ClassUnrelated = "unrelated"
)

// MergePolicy decides which record survives when both sources produce the
// same mention.
type MergePolicy string

const (
	MergeMaxScore        MergePolicy = "max-score"
	MergePreferPattern   MergePolicy = "prefer-pattern"
	MergePreferInference MergePolicy = "prefer-inference"
)

// ParseMergePolicy validates a configured policy name.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch p := MergePolicy(s); p {
	case MergeMaxScore, MergePreferPattern, MergePreferInference:
		return p, nil
	case "":
		return MergeMaxScore, nil
	default:
		return "", fmt.Errorf("unknown merge policy %q", s)
	}
}

// Match is one audited skill mention. SkillID is empty when the mention did
// not reach the similarity threshold.
type Match struct {
	Mention        string  `json:"mention"`
	SkillID        string  `json:"skill_id,omitempty"`
	Label          string  `json:"label,omitempty"`
	Similarity     float64 `json:"similarity"`
	Source         Source  `json:"source"`
	Classification string  `json:"classification"`
}

// Options are the calibration parameters of the skill signal.
type Options struct {
	Threshold       float64
	MergePolicy     MergePolicy
	EssentialWeight float64
	OptionalWeight  float64
	MaxCandidates   int
}

// DefaultOptions returns the stock calibration.
func DefaultOptions() Options {
	return Options{
		Threshold:       0.70,
		MergePolicy:     MergeMaxScore,
		EssentialWeight: 2.0,
		OptionalWeight:  1.0,
		MaxCandidates:   10,
	}
}

type vocabLabel struct {
	skillID string
	label   string
	norm    string
}

// Matcher holds the skill vocabulary of a snapshot. It is immutable and safe
// for concurrent use.
type Matcher struct {
	snap  *taxonomy.Snapshot
	opts  Options
	vocab []vocabLabel // ordered by skill id, then label order
}

// NewMatcher indexes the snapshot's skills.
func NewMatcher(snap *taxonomy.Snapshot, opts Options) (*Matcher, error) {
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return nil, matcherr.Config(fmt.Sprintf("skill similarity threshold %v out of [0,1]", opts.Threshold), nil)
	}
	if opts.EssentialWeight <= opts.OptionalWeight || opts.OptionalWeight < 0 {
		return nil, matcherr.Config(fmt.Sprintf("essential weight %v must exceed optional weight %v",
			opts.EssentialWeight, opts.OptionalWeight), nil)
	}
	policy, err := ParseMergePolicy(string(opts.MergePolicy))
	if err != nil {
		return nil, matcherr.Config("skills", err)
	}
	opts.MergePolicy = policy
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = DefaultOptions().MaxCandidates
	}

	m := &Matcher{snap: snap, opts: opts}
	for _, s := range snap.Skills() {
		seen := map[string]bool{}
		for _, l := range s.Labels() {
			n := textnorm.Normalize(l)
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			m.vocab = append(m.vocab, vocabLabel{skillID: s.ID, label: l, norm: n})
		}
	}
	return m, nil
}

// Options returns the effective options.
func (m *Matcher) Options() Options { return m.opts }

// Extract collects pattern mentions from the title and tasks and scores the
// upstream technical and soft mentions, then merges both sources.
func (m *Matcher) Extract(title string, tasks, technical, soft []string) []Match {
	pattern := m.patternMatches(title, tasks)
	inferred := m.inferMatches(append(append([]string(nil), technical...), soft...))
	return m.merge(pattern, inferred)
}

func (m *Matcher) patternMatches(title string, tasks []string) []Match {
	texts := make([]string, 0, 1+len(tasks))
	for _, t := range append([]string{title}, tasks...) {
		if n := textnorm.Normalize(t); n != "" {
			texts = append(texts, n)
		}
	}
	var out []Match
	found := map[string]bool{}
	for _, v := range m.vocab {
		if found[v.skillID] {
			continue
		}
		for _, text := range texts {
			if textnorm.ContainsNormalizedPhrase(text, v.norm) {
				found[v.skillID] = true
				out = append(out, Match{
					Mention:    v.norm,
					SkillID:    v.skillID,
					Label:      m.label(v.skillID),
					Similarity: 1,
					Source:     SourcePattern,
				})
				break
			}
		}
	}
	return out
}

func (m *Matcher) inferMatches(mentions []string) []Match {
	var out []Match
	seen := map[string]bool{}
	for _, raw := range mentions {
		norm := textnorm.Normalize(raw)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true

		bestID, bestScore := "", 0.0
		for _, v := range m.vocab {
			s := textnorm.Similarity(norm, v.norm)
			// vocab is ordered by skill id, so strict > keeps the lowest id on ties
			if s > bestScore {
				bestID, bestScore = v.skillID, s
			}
		}
		rec := Match{Mention: norm, Similarity: bestScore, Source: SourceInference}
		if bestID != "" && bestScore >= m.opts.Threshold {
			rec.SkillID = bestID
			rec.Label = m.label(bestID)
		} else {
			rec.Classification = ClassUnrelated
		}
		out = append(out, rec)
	}
	return out
}

func (m *Matcher) label(id string) string {
	s, _ := m.snap.Skill(id)
	return s.Label
}

// merge resolves records that share a normalized mention. Pattern records
// come first, in vocabulary order, then inferred records in input order.
func (m *Matcher) merge(pattern, inferred []Match) []Match {
	out := make([]Match, 0, len(pattern)+len(inferred))
	pos := map[string]int{}
	for _, p := range pattern {
		pos[p.Mention] = len(out)
		out = append(out, p)
	}
	for _, inf := range inferred {
		i, dup := pos[inf.Mention]
		if !dup {
			pos[inf.Mention] = len(out)
			out = append(out, inf)
			continue
		}
		if m.inferenceWins(out[i], inf) {
			out[i] = inf
		}
	}
	return out
}

func (m *Matcher) inferenceWins(pattern, inferred Match) bool {
	switch m.opts.MergePolicy {
	case MergePreferPattern:
		return false
	case MergePreferInference:
		return true
	default:
		return inferred.Similarity > pattern.Similarity
	}
}

// Classify labels every record against the chosen occupation. Records with
// no association to code, including below-threshold mentions with no skill
// id, are unrelated.
func (m *Matcher) Classify(matches []Match, code string) []Match {
	out := make([]Match, len(matches))
	for i, rec := range matches {
		rec.Classification = ClassUnrelated
		if rec.SkillID != "" {
			if rel, ok := m.snap.Relation(code, rec.SkillID); ok {
				switch rel {
				case taxonomy.Essential:
					rec.Classification = ClassEssential
				case taxonomy.Optional:
					rec.Classification = ClassOptional
				}
			}
		}
		out[i] = rec
	}
	return out
}

// Profile is the set of matched skills with the best similarity of each.
type Profile struct {
	best map[string]float64
	ids  []string
}

// NewProfile dedupes matches by skill id, keeping the highest similarity.
// Unmatched mentions are ignored.
func NewProfile(matches []Match) Profile {
	p := Profile{best: map[string]float64{}}
	for _, rec := range matches {
		if rec.SkillID == "" {
			continue
		}
		if cur, ok := p.best[rec.SkillID]; !ok || rec.Similarity > cur {
			if !ok {
				p.ids = append(p.ids, rec.SkillID)
			}
			p.best[rec.SkillID] = rec.Similarity
		}
	}
	sort.Strings(p.ids)
	return p
}

// Len returns the number of distinct matched skills.
func (p Profile) Len() int { return len(p.ids) }

// Candidate is an occupation surfaced by the skill signal.
type Candidate struct {
	Code   string
	Score  float64
	Skills []string // matched skill ids associated with the occupation
}

// Score returns skills(O): the relation-weighted similarity of the matched
// skills, normalized by the essential weight and the number of matched skills
// so that the result stays in [0,1].
func (m *Matcher) Score(p Profile, code string) float64 {
	if p.Len() == 0 {
		return 0
	}
	sum := 0.0
	for _, id := range p.ids {
		rel, ok := m.snap.Relation(code, id)
		if !ok {
			continue
		}
		w := m.opts.OptionalWeight
		if rel == taxonomy.Essential {
			w = m.opts.EssentialWeight
		}
		sum += w * p.best[id]
	}
	s := sum / (m.opts.EssentialWeight * float64(p.Len()))
	if s > 1 {
		s = 1
	}
	return s
}

// Candidates returns the occupations associated with at least one matched
// skill, by score descending then code ascending, capped at MaxCandidates.
func (m *Matcher) Candidates(p Profile) []Candidate {
	byCode := map[string]*Candidate{}
	var codes []string
	for _, id := range p.ids {
		for _, code := range m.snap.OccupationsForSkill(id) {
			c, ok := byCode[code]
			if !ok {
				c = &Candidate{Code: code}
				byCode[code] = c
				codes = append(codes, code)
			}
			c.Skills = append(c.Skills, id)
		}
	}
	out := make([]Candidate, 0, len(codes))
	for _, code := range codes {
		c := byCode[code]
		c.Score = m.Score(p, code)
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Code < out[j].Code
	})
	if len(out) > m.opts.MaxCandidates {
		out = out[:m.opts.MaxCandidates]
	}
	return out
}
