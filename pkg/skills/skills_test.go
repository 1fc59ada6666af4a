package skills

import (
	"testing"

	"github.com/japaniel/occumatch/pkg/matcherr"
	"github.com/japaniel/occumatch/pkg/taxonomy/taxonomytest"
)

func newTestMatcher(t *testing.T, mutate func(*Options)) *Matcher {
	t.Helper()
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	m, err := NewMatcher(taxonomytest.Snapshot(t), opts)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	return m
}

func TestEssentialOutranksOptional(t *testing.T) {
	m := newTestMatcher(t, nil)
	p := NewProfile([]Match{{Mention: "reponer estanterias", SkillID: taxonomytest.SkillRestock, Similarity: 1, Source: SourcePattern}})

	ess, opt := m.Score(p, "9334"), m.Score(p, "5223")
	if ess != 1 || opt != 0.5 {
		t.Fatalf("essential=%v optional=%v", ess, opt)
	}
	if got := m.Score(p, "2411"); got != 0 {
		t.Fatalf("unassociated occupation scored %v", got)
	}
	cands := m.Candidates(p)
	if len(cands) != 2 || cands[0].Code != "9334" || cands[1].Code != "5223" {
		t.Fatalf("unexpected candidates %+v", cands)
	}
}

func TestExtractFromTasks(t *testing.T) {
	m := newTestMatcher(t, nil)
	got := m.Extract("Repositor", []string{"Reponer estanterías y controlar inventario", ""}, nil, nil)
	if len(got) != 2 {
		t.Fatalf("expected 2 pattern matches, got %+v", got)
	}
	for _, rec := range got {
		if rec.Source != SourcePattern || rec.Similarity != 1 {
			t.Fatalf("unexpected record %+v", rec)
		}
	}

	cands := m.Candidates(NewProfile(got))
	want := []struct {
		code  string
		score float64
	}{{"9334", 0.75}, {"1420", 0.5}, {"5223", 0.25}, {"8344", 0.25}}
	if len(cands) != len(want) {
		t.Fatalf("candidates %+v", cands)
	}
	for i, w := range want {
		if cands[i].Code != w.code || cands[i].Score != w.score {
			t.Fatalf("candidate %d = %+v, want %s %.2f", i, cands[i], w.code, w.score)
		}
	}

	capped := newTestMatcher(t, func(o *Options) { o.MaxCandidates = 2 })
	if n := len(capped.Candidates(NewProfile(got))); n != 2 {
		t.Fatalf("cap ignored: %d candidates", n)
	}
}

func TestExtractInference(t *testing.T) {
	m := newTestMatcher(t, nil)
	got := m.Extract("Auxiliar administrativo", nil, []string{"Excel avanzado", "manejo de zorra"}, []string{"Atención al cliente"})
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %+v", got)
	}
	if got[0].SkillID != taxonomytest.SkillSpreadsheet || got[0].Source != SourceInference || got[0].Similarity < 0.7 {
		t.Fatalf("excel mention: %+v", got[0])
	}
	if got[1].SkillID != "" || got[1].Classification != ClassUnrelated || got[1].Similarity >= 0.7 {
		t.Fatalf("unrelated mention kept wrong: %+v", got[1])
	}
	if got[2].SkillID != taxonomytest.SkillCustomerCare || got[2].Similarity != 1 {
		t.Fatalf("identical mention should score 1: %+v", got[2])
	}

	strict := newTestMatcher(t, func(o *Options) { o.Threshold = 0.95 })
	got = strict.Extract("", nil, []string{"Excel avanzado"}, nil)
	if len(got) != 1 || got[0].SkillID != "" {
		t.Fatalf("threshold not applied: %+v", got)
	}
}

func TestMergePolicy(t *testing.T) {
	tests := []struct {
		policy MergePolicy
		source Source
	}{
		{MergeMaxScore, SourcePattern},
		{MergePreferPattern, SourcePattern},
		{MergePreferInference, SourceInference},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			m := newTestMatcher(t, func(o *Options) { o.MergePolicy = tt.policy })
			got := m.Extract("Auxiliar contable con Excel", nil, []string{"EXCEL"}, nil)
			if len(got) != 1 {
				t.Fatalf("expected one merged record, got %+v", got)
			}
			if got[0].Source != tt.source || got[0].SkillID != taxonomytest.SkillSpreadsheet {
				t.Fatalf("got %+v", got[0])
			}
		})
	}
}

func TestProfileKeepsBestSimilarity(t *testing.T) {
	p := NewProfile([]Match{
		{Mention: "a", SkillID: taxonomytest.SkillInventory, Similarity: 0.72},
		{Mention: "b", SkillID: taxonomytest.SkillInventory, Similarity: 0.91},
		{Mention: "c", Similarity: 0.3},
	})
	if p.Len() != 1 || p.best[taxonomytest.SkillInventory] != 0.91 {
		t.Fatalf("profile = %+v", p)
	}
	m := newTestMatcher(t, nil)
	if got := m.Score(NewProfile(nil), "9334"); got != 0 {
		t.Fatalf("empty profile scored %v", got)
	}
}

func TestClassify(t *testing.T) {
	m := newTestMatcher(t, nil)
	in := []Match{
		{Mention: "reponer estanterias", SkillID: taxonomytest.SkillRestock, Similarity: 1},
		{Mention: "control de stock", SkillID: taxonomytest.SkillInventory, Similarity: 1},
		{Mention: "excel", SkillID: taxonomytest.SkillSpreadsheet, Similarity: 1},
		{Mention: "manejo de zorra", Similarity: 0.2},
	}
	got := m.Classify(in, "9334")
	want := []string{ClassEssential, ClassOptional, ClassUnrelated, ClassUnrelated}
	for i, w := range want {
		if got[i].Classification != w {
			t.Fatalf("record %d classified %q, want %q", i, got[i].Classification, w)
		}
	}
	if got[2].SkillID == "" || got[3].SkillID != "" {
		t.Fatalf("unrelated records must keep their skill id: %+v", got[2:])
	}
	for _, rec := range m.Classify(in, "") {
		if rec.Classification != ClassUnrelated {
			t.Fatalf("no occupation: %q classified %q", rec.Mention, rec.Classification)
		}
	}
	if in[0].Classification != "" {
		t.Fatalf("Classify must not modify its input")
	}
}

func TestNewMatcherValidates(t *testing.T) {
	snap := taxonomytest.Snapshot(t)
	bad := DefaultOptions()
	bad.EssentialWeight = 1
	if _, err := NewMatcher(snap, bad); !matcherr.Is(err, matcherr.KindConfig) {
		t.Fatalf("expected config error for weights, got %v", err)
	}
	bad = DefaultOptions()
	bad.MergePolicy = "coin-flip"
	if _, err := NewMatcher(snap, bad); !matcherr.Is(err, matcherr.KindConfig) {
		t.Fatalf("expected config error for policy, got %v", err)
	}
}
