// Package eval runs a strategy over a frozen gold set, scores it and compares
// the outcome with earlier runs.
package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/japaniel/occumatch/pkg/matcherr"
	"github.com/japaniel/occumatch/pkg/posting"
	"github.com/japaniel/occumatch/pkg/taxonomy"
)

// Case is one labelled posting of the gold set.
type Case struct {
	Posting          posting.Posting     `json:"posting"`
	Attributes       *posting.Attributes `json:"attributes,omitempty"`
	ExpectedCode     string              `json:"expected_code"`
	ErrorCategory    string              `json:"error_category,omitempty"`
	ForbiddenGroups  []string            `json:"forbidden_groups,omitempty"`
	ShouldNotConfirm bool                `json:"should_not_confirm,omitempty"`
}

// Record returns the matcher input of the case.
func (c Case) Record() posting.Record {
	return posting.Record{Posting: c.Posting, Attributes: c.Attributes}
}

// GoldSet is a versioned, frozen list of cases.
type GoldSet struct {
	Version string `json:"version"`
	Cases   []Case `json:"cases"`
}

// LoadGoldSet reads and checks a gold set file. Every problem is a Config
// error: a gold set that cannot be trusted must stop the evaluation. When
// snap is not nil, expected codes must exist in it.
func LoadGoldSet(path string, snap *taxonomy.Snapshot) (*GoldSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, matcherr.Config("read gold set "+path, err)
	}
	var gs GoldSet
	if err := json.Unmarshal(data, &gs); err != nil {
		return nil, matcherr.Config("parse gold set "+path, err)
	}
	if err := gs.validate(snap); err != nil {
		return nil, matcherr.Config("gold set "+path, err)
	}
	return &gs, nil
}

func (gs *GoldSet) validate(snap *taxonomy.Snapshot) error {
	if strings.TrimSpace(gs.Version) == "" {
		return fmt.Errorf("missing version")
	}
	if len(gs.Cases) == 0 {
		return fmt.Errorf("no cases")
	}
	seen := make(map[string]bool, len(gs.Cases))
	for i, c := range gs.Cases {
		id := strings.TrimSpace(c.Posting.ID)
		switch {
		case id == "":
			return fmt.Errorf("case %d: missing posting id", i)
		case seen[id]:
			return fmt.Errorf("case %d: duplicate posting id %s", i, id)
		case c.ExpectedCode == "":
			return fmt.Errorf("case %s: missing expected code", id)
		}
		if snap != nil {
			if _, ok := snap.Occupation(c.ExpectedCode); !ok {
				return fmt.Errorf("case %s: expected code %s not in taxonomy", id, c.ExpectedCode)
			}
		}
		seen[id] = true
	}
	return nil
}
