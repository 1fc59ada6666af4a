// Package semantic ranks occupations by the cosine similarity between a
// title vector and vectors of the occupation labels.
package semantic

import (
	"hash/fnv"
	"math"

	"github.com/japaniel/occumatch/pkg/textnorm"
)

// DefaultDims is the HashEmbedder width used when none is configured.
const DefaultDims = 256

// Embedder turns a short text into a vector. Implementations must be
// deterministic and safe for concurrent use.
type Embedder interface {
	Embed(text string) []float32
	Dims() int
}

// HashEmbedder is a feature-hashing embedder over words and padded character
// trigrams. It needs no model files, so indexes can be built at startup.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a HashEmbedder of the given width; dims <= 0
// selects DefaultDims.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDims
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Dims() int { return h.dims }

// Embed returns the L2-normalized hashed feature vector of text. Empty text
// yields the zero vector.
func (h *HashEmbedder) Embed(text string) []float32 {
	v := make([]float32, h.dims)
	norm := textnorm.Normalize(text)
	if norm == "" {
		return v
	}
	for _, w := range textnorm.ContentTokens(norm) {
		h.add(v, "w:"+w, 1)
	}
	r := []rune(" " + norm + " ")
	for i := 0; i+3 <= len(r); i++ {
		h.add(v, "c:"+string(r[i:i+3]), 0.5)
	}
	Normalize(v)
	return v
}

// add hashes a feature into a signed bucket so collisions tend to cancel.
func (h *HashEmbedder) add(v []float32, feature string, weight float32) {
	f := fnv.New32a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum32()
	idx := int(sum % uint32(h.dims))
	if sum&(1<<31) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

// Normalize scales v to unit length in place. It reports false for the zero
// vector, which is left unchanged.
func Normalize(v []float32) bool {
	var ss float64
	for _, x := range v {
		ss += float64(x) * float64(x)
	}
	if ss == 0 {
		return false
	}
	inv := 1 / math.Sqrt(ss)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return true
}

// Cosine returns the cosine similarity of a and b clamped to [0,1]. Vectors
// of different length or zero length score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	c := dot / (math.Sqrt(na) * math.Sqrt(nb))
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
