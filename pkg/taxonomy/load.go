package taxonomy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/japaniel/occumatch/pkg/matcherr"
)

const (
	OccupationsFile  = "occupations.json"
	SkillsFile       = "skills.json"
	AssociationsFile = "associations.json"
)

// Load reads the occupation, skill and association files from dir and builds
// a Snapshot. Any missing or malformed file is a fatal configuration error.
func Load(dir string, log *zap.Logger) (*Snapshot, error) {
	occs, err := LoadList[Occupation](filepath.Join(dir, OccupationsFile), "occupations")
	if err != nil {
		return nil, err
	}
	skills, err := LoadList[Skill](filepath.Join(dir, SkillsFile), "skills")
	if err != nil {
		return nil, err
	}
	assocs, err := LoadList[Association](filepath.Join(dir, AssociationsFile), "associations")
	if err != nil {
		return nil, err
	}
	return NewSnapshot(occs, skills, assocs, log)
}

// LoadList reads a JSON file holding either a bare array or an object that
// wraps the array under key, e.g. {"occupations": [...]}.
func LoadList[T any](path, key string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, matcherr.Config(fmt.Sprintf("read %s", path), err)
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapped); err == nil {
		raw, ok := wrapped[key]
		if !ok {
			return nil, matcherr.Config(fmt.Sprintf("%s: missing %q list", path, key), nil)
		}
		var items []T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, matcherr.Config(fmt.Sprintf("parse %s", path), err)
		}
		return items, nil
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, matcherr.Config(fmt.Sprintf("parse %s as object or array", path), err)
	}
	return items, nil
}
