package taxonomy

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/japaniel/occumatch/pkg/logger"
	"github.com/japaniel/occumatch/pkg/matcherr"
)

// ManagersGroup is the major group holding managerial occupations.
const ManagersGroup = "1"

// Occupation is a node of the occupation taxonomy at 4-digit granularity.
type Occupation struct {
	Code      string   `json:"code"`
	Label     string   `json:"label"`
	AltLabels []string `json:"alt_labels,omitempty"`
	Parent    string   `json:"parent,omitempty"`
}

// MajorGroup returns the first level of the occupation code.
func (o Occupation) MajorGroup() string { return MajorGroup(o.Code) }

// Labels returns the preferred label followed by the alternative labels.
func (o Occupation) Labels() []string {
	out := make([]string, 0, 1+len(o.AltLabels))
	out = append(out, o.Label)
	return append(out, o.AltLabels...)
}

// MajorGroup returns the leading digit of a hierarchical occupation code.
func MajorGroup(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	return code[:1]
}

// Skill is a canonical skill label.
type Skill struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	AltLabels   []string `json:"alt_labels,omitempty"`
	Reusability string   `json:"reusability,omitempty"`
	Digital     bool     `json:"digital,omitempty"`
}

// Labels returns the preferred label followed by the alternative labels.
func (s Skill) Labels() []string {
	out := make([]string, 0, 1+len(s.AltLabels))
	out = append(out, s.Label)
	return append(out, s.AltLabels...)
}

// Relation is a skill's declared relevance to an occupation.
type Relation string

const (
	Essential Relation = "essential"
	Optional  Relation = "optional"
)

// Association states that an occupation requires a skill.
type Association struct {
	Occupation string   `json:"occupation"`
	Skill      string   `json:"skill"`
	Relation   Relation `json:"relation"`
}

// Snapshot is the immutable reference taxonomy shared by every matcher.
// It is safe for concurrent reads once built.
type Snapshot struct {
	occupations map[string]Occupation
	codes       []string
	skills      map[string]Skill
	skillIDs    []string
	relations   map[string]map[string]Relation
	bySkill     map[string][]string
	excluded    []Association
}

// NewSnapshot validates the reference rows and indexes them. Empty or
// duplicated codes and ids are fatal. Associations that reference an unknown
// occupation or skill, or carry an unknown relation, are excluded and logged.
func NewSnapshot(occs []Occupation, skills []Skill, assocs []Association, log *zap.Logger) (*Snapshot, error) {
	log = logger.OrNop(log)
	s := &Snapshot{
		occupations: make(map[string]Occupation, len(occs)),
		skills:      make(map[string]Skill, len(skills)),
		relations:   make(map[string]map[string]Relation),
		bySkill:     make(map[string][]string),
	}
	if len(occs) == 0 {
		return nil, matcherr.Config("taxonomy has no occupations", nil)
	}

	for _, o := range occs {
		o.Code = strings.TrimSpace(o.Code)
		o.Label = strings.TrimSpace(o.Label)
		if o.Code == "" || o.Label == "" {
			return nil, matcherr.Config(fmt.Sprintf("occupation %q has an empty code or label", o.Code), nil)
		}
		if _, dup := s.occupations[o.Code]; dup {
			return nil, matcherr.Config(fmt.Sprintf("duplicate occupation code %s", o.Code), nil)
		}
		s.occupations[o.Code] = o
		s.codes = append(s.codes, o.Code)
	}
	for _, sk := range skills {
		sk.ID = strings.TrimSpace(sk.ID)
		sk.Label = strings.TrimSpace(sk.Label)
		if sk.ID == "" || sk.Label == "" {
			return nil, matcherr.Config(fmt.Sprintf("skill %q has an empty id or label", sk.ID), nil)
		}
		if _, dup := s.skills[sk.ID]; dup {
			return nil, matcherr.Config(fmt.Sprintf("duplicate skill id %s", sk.ID), nil)
		}
		s.skills[sk.ID] = sk
		s.skillIDs = append(s.skillIDs, sk.ID)
	}
	sort.Strings(s.codes)
	sort.Strings(s.skillIDs)

	for _, a := range assocs {
		if err := s.checkAssociation(a); err != nil {
			log.Warn("excluding association", zap.String("occupation", a.Occupation),
				zap.String("skill", a.Skill), zap.Error(err))
			s.excluded = append(s.excluded, a)
			continue
		}
		rels, ok := s.relations[a.Occupation]
		if !ok {
			rels = make(map[string]Relation)
			s.relations[a.Occupation] = rels
		}
		// Essential wins when the same pair is declared twice.
		if prev, seen := rels[a.Skill]; seen {
			if prev == Optional && a.Relation == Essential {
				rels[a.Skill] = Essential
			}
			continue
		}
		rels[a.Skill] = a.Relation
		s.bySkill[a.Skill] = append(s.bySkill[a.Skill], a.Occupation)
	}
	for id := range s.bySkill {
		sort.Strings(s.bySkill[id])
	}
	return s, nil
}

func (s *Snapshot) checkAssociation(a Association) error {
	if _, ok := s.occupations[a.Occupation]; !ok {
		return matcherr.TaxonomyInconsistency(fmt.Sprintf("skill %s claims occupation %s which is not in the taxonomy", a.Skill, a.Occupation))
	}
	if _, ok := s.skills[a.Skill]; !ok {
		return matcherr.TaxonomyInconsistency(fmt.Sprintf("occupation %s references unknown skill %s", a.Occupation, a.Skill))
	}
	if a.Relation != Essential && a.Relation != Optional {
		return matcherr.TaxonomyInconsistency(fmt.Sprintf("unknown relation %q", a.Relation))
	}
	return nil
}

// Occupation looks up an occupation by code.
func (s *Snapshot) Occupation(code string) (Occupation, bool) {
	o, ok := s.occupations[code]
	return o, ok
}

// Occupations returns every occupation ordered by code.
func (s *Snapshot) Occupations() []Occupation {
	out := make([]Occupation, 0, len(s.codes))
	for _, c := range s.codes {
		out = append(out, s.occupations[c])
	}
	return out
}

// Skill looks up a skill by id.
func (s *Snapshot) Skill(id string) (Skill, bool) {
	sk, ok := s.skills[id]
	return sk, ok
}

// Skills returns every skill ordered by id.
func (s *Snapshot) Skills() []Skill {
	out := make([]Skill, 0, len(s.skillIDs))
	for _, id := range s.skillIDs {
		out = append(out, s.skills[id])
	}
	return out
}

// Relation returns how skillID relates to the occupation, if at all.
func (s *Snapshot) Relation(code, skillID string) (Relation, bool) {
	r, ok := s.relations[code][skillID]
	return r, ok
}

// OccupationsForSkill returns the codes associated with skillID, ascending.
func (s *Snapshot) OccupationsForSkill(skillID string) []string {
	return s.bySkill[skillID]
}

// Excluded returns the associations dropped while building the snapshot.
func (s *Snapshot) Excluded() []Association {
	out := make([]Association, len(s.excluded))
	copy(out, s.excluded)
	return out
}
