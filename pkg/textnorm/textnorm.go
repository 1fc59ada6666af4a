// Package textnorm folds and compares short Spanish/English labels such as
// job titles, task phrases and skill names.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stopWords are dropped before overlap scoring. Articles, prepositions and
// conjunctions carry no occupational signal.
var stopWords = map[string]bool{
	"a": true, "al": true, "con": true, "de": true, "del": true, "el": true,
	"en": true, "la": true, "las": true, "lo": true, "los": true, "o": true,
	"para": true, "por": true, "que": true, "se": true, "sin": true, "su": true,
	"un": true, "una": true, "y": true, "e": true, "u": true,
	"and": true, "for": true, "in": true, "of": true, "or": true, "the": true,
	"to": true, "with": true,
}

// Transformers keep state, so each call builds its own chain.
func newFolder() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// Fold lowercases s and strips diacritics ("Góndola" -> "gondola").
func Fold(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	folded, _, err := transform.String(newFolder(), s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// Normalize folds s, replaces every non letter/digit with a space and
// collapses runs of whitespace.
func Normalize(s string) string {
	folded := Fold(s)
	if folded == "" {
		return ""
	}
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, folded)
	return strings.Join(strings.Fields(mapped), " ")
}

// Tokens returns the normalized words of s.
func Tokens(s string) []string {
	n := Normalize(s)
	if n == "" {
		return nil
	}
	return strings.Fields(n)
}

// ContentTokens returns the normalized words of s without stop words.
func ContentTokens(s string) []string {
	toks := Tokens(s)
	out := toks[:0]
	for _, t := range toks {
		if !stopWords[t] {
			out = append(out, t)
		}
	}
	return out
}

// ContainsPhrase reports whether phrase occurs in text on word boundaries.
// Both arguments are normalized first.
func ContainsPhrase(text, phrase string) bool {
	p := Normalize(phrase)
	if p == "" {
		return false
	}
	return strings.Contains(" "+Normalize(text)+" ", " "+p+" ")
}

// ContainsNormalizedPhrase is ContainsPhrase for callers that already hold
// normalized text and phrase.
func ContainsNormalizedPhrase(normText, normPhrase string) bool {
	if normPhrase == "" {
		return false
	}
	return strings.Contains(" "+normText+" ", " "+normPhrase+" ")
}
