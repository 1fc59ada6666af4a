package taxonomy_test

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/japaniel/occumatch/pkg/matcherr"
	"github.com/japaniel/occumatch/pkg/taxonomy"
	"github.com/japaniel/occumatch/pkg/taxonomy/taxonomytest"
)

func TestSnapshotIndexes(t *testing.T) {
	s := taxonomytest.Snapshot(t)

	occ, ok := s.Occupation("9334")
	if !ok || occ.Label != "reponedor/reponedora" {
		t.Fatalf("unexpected occupation %+v (found=%v)", occ, ok)
	}
	if occ.MajorGroup() != "9" {
		t.Fatalf("major group = %q", occ.MajorGroup())
	}

	rel, ok := s.Relation("1221", taxonomytest.SkillLeadSales)
	if !ok || rel != taxonomy.Essential {
		t.Fatalf("expected essential relation, got %q (found=%v)", rel, ok)
	}
	if _, ok := s.Relation("9334", taxonomytest.SkillLeadSales); ok {
		t.Fatalf("unexpected relation for unassociated skill")
	}

	got := s.OccupationsForSkill(taxonomytest.SkillNegotiate)
	if len(got) != 2 || got[0] != "1221" || got[1] != "3322" {
		t.Fatalf("OccupationsForSkill = %v", got)
	}

	occs := s.Occupations()
	for i := 1; i < len(occs); i++ {
		if occs[i-1].Code >= occs[i].Code {
			t.Fatalf("occupations not ordered by code: %s before %s", occs[i-1].Code, occs[i].Code)
		}
	}
}

func TestSnapshotExcludesInconsistentAssociations(t *testing.T) {
	core, observed := observer.New(zapcore.WarnLevel)
	assocs := append(taxonomytest.Associations(),
		taxonomy.Association{Occupation: "9999", Skill: taxonomytest.SkillRestock, Relation: taxonomy.Essential},
		taxonomy.Association{Occupation: "9334", Skill: "skill/unknown", Relation: taxonomy.Optional},
		taxonomy.Association{Occupation: "9334", Skill: taxonomytest.SkillCustomerCare, Relation: "sometimes"},
	)

	s, err := taxonomy.NewSnapshot(taxonomytest.Occupations(), taxonomytest.Skills(), assocs, zap.New(core))
	if err != nil {
		t.Fatalf("inconsistent associations must not abort: %v", err)
	}
	if n := len(s.Excluded()); n != 3 {
		t.Fatalf("expected 3 excluded associations, got %d", n)
	}
	if observed.Len() != 3 {
		t.Fatalf("expected 3 warnings, got %d", observed.Len())
	}
	for _, code := range s.OccupationsForSkill(taxonomytest.SkillRestock) {
		if code == "9999" {
			t.Fatalf("excluded association leaked into the index")
		}
	}
}

func TestSnapshotRejectsDuplicates(t *testing.T) {
	occs := append(taxonomytest.Occupations(), taxonomy.Occupation{Code: "9334", Label: "otra"})
	_, err := taxonomy.NewSnapshot(occs, taxonomytest.Skills(), nil, nil)
	if !matcherr.Is(err, matcherr.KindConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if _, err := taxonomy.NewSnapshot(nil, nil, nil, nil); !matcherr.Is(err, matcherr.KindConfig) {
		t.Fatalf("expected config error for empty taxonomy, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	taxonomytest.WriteDir(t, dir)

	s, err := taxonomy.Load(dir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.Occupations()) != len(taxonomytest.Occupations()) {
		t.Fatalf("loaded %d occupations", len(s.Occupations()))
	}

	// Object-wrapped form is accepted too.
	wrapped := `{"occupations":[{"code":"9334","label":"reponedor/reponedora"}]}`
	if err := os.WriteFile(filepath.Join(dir, taxonomy.OccupationsFile), []byte(wrapped), 0o644); err != nil {
		t.Fatal(err)
	}
	occs, err := taxonomy.LoadList[taxonomy.Occupation](filepath.Join(dir, taxonomy.OccupationsFile), "occupations")
	if err != nil || len(occs) != 1 {
		t.Fatalf("wrapped load: %v (%d items)", err, len(occs))
	}
}

func TestLoadFailuresAreFatal(t *testing.T) {
	dir := t.TempDir()
	if _, err := taxonomy.Load(dir, nil); !matcherr.Is(err, matcherr.KindConfig) {
		t.Fatalf("missing files: expected config error, got %v", err)
	}

	taxonomytest.WriteDir(t, dir)
	if err := os.WriteFile(filepath.Join(dir, taxonomy.SkillsFile), []byte(`{"skills": [`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := taxonomy.Load(dir, nil); !matcherr.Is(err, matcherr.KindConfig) {
		t.Fatalf("malformed file: expected config error, got %v", err)
	}
}
