package index

import (
	"math"
	"strings"
	"unicode"
)

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Certainty maps a cosine similarity from [-1,1] onto [0,1].
func Certainty(cos float64) float64 {
	c := (cos + 1) / 2
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// Terms splits text into lower-cased terms on anything that is not a
// letter or digit.
func Terms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// TermOverlap is the fraction of distinct query terms contained in text.
func TermOverlap(query, text string) float64 {
	terms := Terms(query)
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	seen := make(map[string]struct{}, len(terms))
	matched := 0
	for _, t := range terms {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if strings.Contains(lower, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(seen))
}
