package semantic

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/japaniel/occumatch/pkg/matcherr"
	"github.com/japaniel/occumatch/pkg/taxonomy"
)

// EmbeddingsFile is the optional precomputed index in the reference directory.
const EmbeddingsFile = "embeddings.json"

// Candidate is an occupation ranked by title similarity.
type Candidate struct {
	Code  string  `json:"code"`
	Label string  `json:"label"` // the label whose vector scored best
	Score float64 `json:"score"`
}

type entry struct {
	code  string
	label string
	vec   []float32
}

// Index holds one unit vector per occupation label. It is immutable once
// built and safe for concurrent use.
type Index struct {
	dims     int
	model    string
	embedder Embedder // nil when vectors come from an external model
	entries  []entry
}

// Build embeds every label and alternative label of the snapshot.
func Build(snap *taxonomy.Snapshot, emb Embedder) (*Index, error) {
	if emb == nil || emb.Dims() <= 0 {
		return nil, matcherr.Config("semantic index needs an embedder with positive dims", nil)
	}
	ix := &Index{dims: emb.Dims(), model: "builtin", embedder: emb}
	for _, occ := range snap.Occupations() {
		for _, l := range occ.Labels() {
			ix.add(occ.Code, l, emb.Embed(l))
		}
	}
	return ix, nil
}

// add skips zero vectors; they can never rank.
func (ix *Index) add(code, label string, vec []float32) {
	if len(vec) != ix.dims || !Normalize(vec) {
		return
	}
	ix.entries = append(ix.entries, entry{code: code, label: label, vec: vec})
}

type fileVector struct {
	Code   string    `json:"code"`
	Label  string    `json:"label"`
	Vector []float32 `json:"vector"`
}

type fileIndex struct {
	Model   string       `json:"model"`
	Dims    int          `json:"dims"`
	Vectors []fileVector `json:"vectors"`
}

// LoadFile reads precomputed occupation vectors. Queries against such an
// index must supply their own vector from the same model.
func LoadFile(path string, snap *taxonomy.Snapshot) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, matcherr.Config(fmt.Sprintf("read %s", path), err)
	}
	var f fileIndex
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, matcherr.Config(fmt.Sprintf("parse %s", path), err)
	}
	if f.Dims <= 0 {
		return nil, matcherr.Config(fmt.Sprintf("%s: dims must be positive", path), nil)
	}
	ix := &Index{dims: f.Dims, model: f.Model}
	for i, v := range f.Vectors {
		occ, ok := snap.Occupation(v.Code)
		if !ok {
			return nil, matcherr.Config(fmt.Sprintf("%s: vector %d points to unknown occupation %s", path, i, v.Code), nil)
		}
		if len(v.Vector) != f.Dims {
			return nil, matcherr.Config(fmt.Sprintf("%s: vector %d has %d dims, want %d", path, i, len(v.Vector), f.Dims), nil)
		}
		label := v.Label
		if label == "" {
			label = occ.Label
		}
		ix.add(v.Code, label, append([]float32(nil), v.Vector...))
	}
	return ix, nil
}

// Dims returns the vector width.
func (ix *Index) Dims() int { return ix.dims }

// Model names the source of the vectors.
func (ix *Index) Model() string { return ix.model }

// Len returns the number of indexed label vectors.
func (ix *Index) Len() int { return len(ix.entries) }

// External reports whether the index was loaded from precomputed vectors.
func (ix *Index) External() bool { return ix.embedder == nil }

// QueryVector picks the query for a posting. A built-in index embeds text;
// an external one needs a precomputed vector of matching width. ok is false
// when no usable vector exists and the semantic signal is absent.
func (ix *Index) QueryVector(text string, precomputed []float32) ([]float32, bool) {
	var q []float32
	switch {
	case !ix.External():
		q = ix.embedder.Embed(text)
	case len(precomputed) == ix.dims:
		q = append([]float32(nil), precomputed...)
	default:
		return nil, false
	}
	if !Normalize(q) {
		return nil, false
	}
	return q, true
}

// TopK returns the k occupations closest to q, keeping the best label per
// occupation, ordered by score descending then code ascending.
func (ix *Index) TopK(q []float32, k int) []Candidate {
	if k <= 0 || len(q) != ix.dims {
		return nil
	}
	best := map[string]Candidate{}
	for _, e := range ix.entries {
		s := Cosine(q, e.vec)
		if cur, ok := best[e.code]; !ok || s > cur.Score {
			best[e.code] = Candidate{Code: e.code, Label: e.label, Score: s}
		}
	}
	out := make([]Candidate, 0, len(best))
	for _, c := range best {
		if c.Score > 0 {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Code < out[j].Code
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// Search is QueryVector followed by TopK.
func (ix *Index) Search(text string, precomputed []float32, k int) []Candidate {
	q, ok := ix.QueryVector(text, precomputed)
	if !ok {
		return nil
	}
	return ix.TopK(q, k)
}

// Score returns the similarity of q to the best label of code, or 0.
func (ix *Index) Score(q []float32, code string) float64 {
	best := 0.0
	for _, e := range ix.entries {
		if e.code != code {
			continue
		}
		if s := Cosine(q, e.vec); s > best {
			best = s
		}
	}
	return best
}
