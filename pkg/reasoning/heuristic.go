package reasoning

import (
	"context"
	"fmt"
	"strings"

	"github.com/Yinkun-Cheng/RAG/pkg/index"
)

// Overlap thresholds of the heuristic classifier.
const (
	removedOverlapThreshold = 0.2
	addedOverlapThreshold   = 0.3
)

// Heuristic classifies by vocabulary overlap between the changed diff
// lines and the test case. It never fails and is deterministic.
type Heuristic struct{}

// Name returns the provider name.
func (Heuristic) Name() string { return ProviderHeuristic }

// ClassifyImpact implements Service.
func (Heuristic) ClassifyImpact(ctx context.Context, req Request) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	added, removed := changedLines(req.DiffText)

	if req.CandidateText == "" {
		if req.ChangeType == ChangeDeleted {
			return decision(ActionKeep, "the requirement was removed and no test case covers it"), nil
		}
		return decision(ActionCreate, fmt.Sprintf("no existing test case covers %q", req.PRDTitle),
			"add a test case for the new or changed behavior of "+req.PRDTitle), nil
	}

	addedOverlap := overlap(added, req.CandidateText)
	removedOverlap := overlap(removed, req.CandidateText)

	switch req.ChangeType {
	case ChangeDeleted:
		if removedOverlap >= removedOverlapThreshold {
			return decision(ActionDeprecate,
				fmt.Sprintf("the test case verifies %q which was removed", req.PRDTitle),
				"retire the test case or move it to the archive"), nil
		}
	case ChangeAdded:
		if addedOverlap >= addedOverlapThreshold {
			return decision(ActionUpdate,
				fmt.Sprintf("the test case touches the area extended by %q", req.PRDTitle),
				"extend the test case to cover the new requirement"), nil
		}
	default:
		if removedOverlap >= removedOverlapThreshold {
			return decision(ActionUpdate,
				"the test case checks behavior that changed in the requirement",
				"review steps and expected results against the new wording"), nil
		}
		if addedOverlap >= addedOverlapThreshold {
			return decision(ActionUpdate,
				"the requirement adds behavior in the area the test case covers",
				"add steps for the newly specified behavior"), nil
		}
	}
	return decision(ActionKeep, "the change does not touch what the test case verifies"), nil
}

func decision(a Action, reason string, suggestions ...string) *Decision {
	if suggestions == nil {
		suggestions = []string{}
	}
	return &Decision{Action: a, Reason: reason, Suggestions: suggestions}
}

// changedLines splits a unified diff into added and removed text.
func changedLines(diff string) (added, removed string) {
	var a, r strings.Builder
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			a.WriteString(line[1:])
			a.WriteByte('\n')
		case strings.HasPrefix(line, "-"):
			r.WriteString(line[1:])
			r.WriteByte('\n')
		}
	}
	return a.String(), r.String()
}

// overlap is the fraction of the distinct significant terms of changed
// that occur in text.
func overlap(changed, text string) float64 {
	var terms []string
	for _, t := range index.Terms(changed) {
		if len([]rune(t)) >= 3 {
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 {
		return 0
	}
	return index.TermOverlap(strings.Join(terms, " "), text)
}
