package posting

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/japaniel/occumatch/pkg/matcherr"
)

// Posting is a collected job posting. It is owned by the collection stage and
// never modified here.
type Posting struct {
	ID          string    `json:"id"`
	Source      string    `json:"source,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Company     string    `json:"company,omitempty"`
	Location    string    `json:"location,omitempty"`
	CollectedAt time.Time `json:"collected_at,omitempty"`
}

// Attributes are the structured fields produced by the upstream extraction
// stage. Any field may be empty.
type Attributes struct {
	ExtractionVersion string    `json:"extraction_version,omitempty"`
	CleanedTitle      string    `json:"cleaned_title,omitempty"`
	FunctionalArea    string    `json:"functional_area,omitempty"`
	Seniority         string    `json:"seniority,omitempty"`
	HasSubordinates   *bool     `json:"has_subordinates,omitempty"`
	Sector            string    `json:"sector,omitempty"`
	Tasks             []string  `json:"tasks,omitempty"`
	TechnicalSkills   []string  `json:"technical_skills,omitempty"`
	SoftSkills        []string  `json:"soft_skills,omitempty"`
	TitleEmbedding    []float32 `json:"title_embedding,omitempty"`
}

// Subordinates reports the has-subordinates flag, treating null as false.
func (a Attributes) Subordinates() bool {
	return a.HasSubordinates != nil && *a.HasSubordinates
}

// Record pairs a posting with its extracted attributes.
type Record struct {
	Posting    Posting     `json:"posting"`
	Attributes *Attributes `json:"attributes,omitempty"`
}

// Title returns the cleaned title, falling back to the raw posting title.
func (r Record) Title() string {
	if r.Attributes != nil && strings.TrimSpace(r.Attributes.CleanedTitle) != "" {
		return r.Attributes.CleanedTitle
	}
	return r.Posting.Title
}

// Attrs returns the attributes or an empty block when upstream produced none.
func (r Record) Attrs() Attributes {
	if r.Attributes == nil {
		return Attributes{}
	}
	return *r.Attributes
}

const (
	maxTitleRunes       = 300
	maxPhraseRunes      = 500
	maxDescriptionRunes = 20000
	maxListItems        = 64
)

// Validate checks the minimum fields needed to match: an id and some title.
func Validate(r Record) error {
	if strings.TrimSpace(r.Posting.ID) == "" {
		return matcherr.MissingInput("posting has no id")
	}
	if strings.TrimSpace(r.Title()) == "" {
		return matcherr.MissingInput("posting " + r.Posting.ID + " has no title")
	}
	return nil
}

// Sanitize returns a copy of r with whitespace trimmed, empty and duplicate
// list entries dropped and oversized fields truncated. Upstream output is
// untrusted, so every matcher works on the sanitized copy.
func Sanitize(r Record) Record {
	p := r.Posting
	p.ID = strings.TrimSpace(p.ID)
	p.Source = strings.TrimSpace(p.Source)
	p.Title = truncate(strings.TrimSpace(p.Title), maxTitleRunes)
	p.Description = truncate(strings.TrimSpace(p.Description), maxDescriptionRunes)
	p.Company = truncate(strings.TrimSpace(p.Company), maxTitleRunes)
	p.Location = truncate(strings.TrimSpace(p.Location), maxTitleRunes)

	out := Record{Posting: p}
	if r.Attributes == nil {
		return out
	}
	a := *r.Attributes
	a.CleanedTitle = truncate(strings.TrimSpace(a.CleanedTitle), maxTitleRunes)
	a.FunctionalArea = strings.TrimSpace(a.FunctionalArea)
	a.Seniority = strings.ToLower(strings.TrimSpace(a.Seniority))
	a.Sector = strings.TrimSpace(a.Sector)
	a.Tasks = cleanList(a.Tasks)
	a.TechnicalSkills = cleanList(a.TechnicalSkills)
	a.SoftSkills = cleanList(a.SoftSkills)
	if a.HasSubordinates != nil {
		v := *a.HasSubordinates
		a.HasSubordinates = &v
	}
	if len(a.TitleEmbedding) > 0 {
		a.TitleEmbedding = append([]float32(nil), a.TitleEmbedding...)
	}
	out.Attributes = &a
	return out
}

func cleanList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = truncate(strings.TrimSpace(s), maxPhraseRunes)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
		if len(out) == maxListItems {
			break
		}
	}
	return out
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
