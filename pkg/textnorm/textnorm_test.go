package textnorm

import (
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Repositor de Góndola", "repositor de gondola"},
		{"  Jefe/a de Ventas (Sr.) ", "jefe a de ventas sr"},
		{"ÑANDÚ", "nandu"},
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestContainsPhrase(t *testing.T) {
	if !ContainsPhrase("Repositor de Góndola - Zona Norte", "repositor de gondola") {
		t.Fatalf("expected accent-insensitive phrase match")
	}
	if ContainsPhrase("Repositores externos", "repositor") {
		t.Fatalf("phrase matching must respect word boundaries")
	}
	if ContainsPhrase("anything", "  ") {
		t.Fatalf("empty phrase never matches")
	}
}

func TestContentTokensDropsStopWords(t *testing.T) {
	got := ContentTokens("Gerente de Ventas y Marketing")
	want := []string{"gerente", "ventas", "marketing"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSetScores(t *testing.T) {
	if got := Jaccard([]string{"a", "b"}, []string{"b", "c"}); math.Abs(got-1.0/3) > 1e-9 {
		t.Fatalf("Jaccard = %v", got)
	}
	if got := Overlap([]string{"excel"}, []string{"microsoft", "excel"}); got != 1 {
		t.Fatalf("Overlap = %v", got)
	}
	if Jaccard(nil, []string{"x"}) != 0 || Overlap([]string{"x"}, nil) != 0 {
		t.Fatalf("empty sets score zero")
	}
	// Repeated tokens count once.
	if got := Jaccard([]string{"de", "de", "ventas"}, []string{"ventas"}); got != 0.5 {
		t.Fatalf("Jaccard over repeated tokens = %v", got)
	}
	if got := Overlap([]string{"jefe", "de", "ventas"}, []string{"ventas", "ventas"}); got != 1 {
		t.Fatalf("Overlap over repeated tokens = %v", got)
	}
}

func TestTrigramDice(t *testing.T) {
	if got := TrigramDice("Góndola", "gondola"); got != 1 {
		t.Fatalf("normalized forms should score 1, got %v", got)
	}
	if got := TrigramDice("reponedor", "reponedora"); got < 0.7 || got >= 1 {
		t.Fatalf("inflected form scored %v", got)
	}
	if TrigramDice("", "x") != 0 || TrigramDice("x", "y") != 0 {
		t.Fatalf("empty or disjoint strings score zero")
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("Trabajo en Equipo", "trabajo en equipo"); got != 1 {
		t.Fatalf("identical forms should score 1, got %v", got)
	}
	if got := Similarity("excel", "Microsoft Excel"); got < 0.7 || got >= 1 {
		t.Fatalf("contained mention should clear 0.7 but stay below 1, got %v", got)
	}
	if got := Similarity("soldadura", "contabilidad"); got > 0.3 {
		t.Fatalf("unrelated words scored %v", got)
	}
	if got := Similarity("", "contabilidad"); got != 0 {
		t.Fatalf("empty input should score 0, got %v", got)
	}
	a, b := Similarity("atencion al cliente", "atención a clientes"), Similarity("atención a clientes", "atencion al cliente")
	if a != b {
		t.Fatalf("similarity should be symmetric: %v vs %v", a, b)
	}
}
