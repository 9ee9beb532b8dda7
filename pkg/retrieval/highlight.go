package retrieval

import (
	"sort"
	"strings"

	"github.com/Yinkun-Cheng/RAG/pkg/index"
)

// maxHighlights caps the spans returned per hit.
const maxHighlights = 5

// Highlight is a byte range of a hit's snippet that matches a query term.
type Highlight struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// highlights finds non-overlapping occurrences of the query terms in text.
func highlights(query, text string) []Highlight {
	out := []Highlight{}
	if text == "" {
		return out
	}
	lower := strings.ToLower(text)
	// Lowercasing can change byte lengths for some scripts; offsets are
	// only valid when it does not.
	if len(lower) != len(text) {
		return out
	}

	var spans []Highlight
	for _, term := range uniqueTerms(query) {
		from := 0
		for {
			i := strings.Index(lower[from:], term)
			if i < 0 {
				break
			}
			start := from + i
			spans = append(spans, Highlight{Start: start, End: start + len(term)})
			from = start + len(term)
		}
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End > spans[j].End
	})
	end := -1
	for _, s := range spans {
		if s.Start < end {
			continue
		}
		s.Text = text[s.Start:s.End]
		out = append(out, s)
		end = s.End
		if len(out) == maxHighlights {
			break
		}
	}
	return out
}

func uniqueTerms(query string) []string {
	seen := map[string]struct{}{}
	var terms []string
	for _, t := range index.Terms(query) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	return terms
}
