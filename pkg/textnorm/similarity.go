package textnorm

import (
	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

var (
	tokenJaccard = &metrics.Jaccard{CaseSensitive: true, NgramSize: 1}
	tokenOverlap = &metrics.OverlapCoefficient{CaseSensitive: true, NgramSize: 1}
	trigramDice  = &metrics.SorensenDice{CaseSensitive: true, NgramSize: 3}
)

// tokenRunes encodes the token sets of a and b as strings with one private
// use rune per distinct token, so unigram metrics compare the sets.
func tokenRunes(a, b []string) (string, string) {
	codes := make(map[string]rune, len(a)+len(b))
	encode := func(toks []string) string {
		seen := make(map[rune]bool, len(toks))
		out := make([]rune, 0, len(toks))
		for _, t := range toks {
			r, ok := codes[t]
			if !ok {
				r = 0xE000 + rune(len(codes))
				codes[t] = r
			}
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
		return string(out)
	}
	return encode(a), encode(b)
}

// Jaccard returns |A∩B| / |A∪B| over the token sets of a and b.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ra, rb := tokenRunes(a, b)
	return strutil.Similarity(ra, rb, tokenJaccard)
}

// Overlap returns |A∩B| / min(|A|,|B|), the share of the smaller set found
// in the larger one.
func Overlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ra, rb := tokenRunes(a, b)
	return strutil.Similarity(ra, rb, tokenOverlap)
}

// TrigramDice compares the character trigrams of the normalized strings
// with the Sørensen-Dice coefficient. Words are padded so short words still
// produce grams.
func TrigramDice(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	return strutil.Similarity(" "+na+" ", " "+nb+" ", trigramDice)
}

// containmentWeight scales token containment so that a shorter mention fully
// contained in a longer label ranks just below an identical string.
const containmentWeight = 0.9

// Similarity is the bounded [0,1] score used to match free-text mentions
// against a controlled vocabulary. Identical normalized forms score 1.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	score := TrigramDice(na, nb)
	if c := containmentWeight * Overlap(ContentTokens(na), ContentTokens(nb)); c > score {
		score = c
	}
	if score > 1 {
		score = 1
	}
	return score
}
