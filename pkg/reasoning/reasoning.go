// Package reasoning classifies how a requirement change affects an
// existing test case. Implementations call an LLM or apply a
// deterministic heuristic; Guard bounds every call with a timeout and a
// rate limit.
package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Action is the recommended treatment of a test case.
type Action string

const (
	ActionCreate    Action = "create"
	ActionUpdate    Action = "update"
	ActionDeprecate Action = "deprecate"
	ActionKeep      Action = "keep"
)

// ParseAction maps an action name, including common synonyms, to an
// Action.
func ParseAction(s string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "create", "add", "add_new", "new":
		return ActionCreate, true
	case "update", "modify", "retest":
		return ActionUpdate, true
	case "deprecate", "remove", "delete", "obsolete":
		return ActionDeprecate, true
	case "keep", "none", "unchanged":
		return ActionKeep, true
	}
	return "", false
}

// ChangeType is how a PRD differs between two versions.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// Request is one PRD change paired with one candidate test case.
// CandidateText is empty when there is no candidate and the service is
// asked whether a new test case is needed.
type Request struct {
	ChangeType    ChangeType
	PRDTitle      string
	DiffText      string
	CandidateID   string
	CandidateText string
}

// Decision is the classification of one request.
type Decision struct {
	Action      Action   `json:"action"`
	Reason      string   `json:"reason"`
	Suggestions []string `json:"suggestions"`
}

// Service classifies the impact of a PRD change on a test case.
type Service interface {
	ClassifyImpact(ctx context.Context, req Request) (*Decision, error)
}

const systemPrompt = "You are a senior test engineer. You review requirement changes and decide what must happen to existing test cases. Reply with JSON only."

// BuildPrompt renders the user prompt for req.
func BuildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A requirement document (PRD) titled %q was %s between two app versions.\n\n", req.PRDTitle, req.ChangeType)
	b.WriteString("Change (unified diff):\n")
	b.WriteString(truncate(req.DiffText, 6000))
	b.WriteString("\n\n")
	if req.CandidateText == "" {
		b.WriteString("No existing test case covers this requirement.\n\n")
	} else {
		b.WriteString("Existing test case:\n")
		b.WriteString(truncate(req.CandidateText, 4000))
		b.WriteString("\n\n")
	}
	b.WriteString(`Decide the action for the test case:
- "create": a new test case is needed
- "update": the test case must change to match the new requirement
- "deprecate": the test case verifies behavior that no longer exists
- "keep": the test case is unaffected

Return a JSON object with fields "action", "reason" (one sentence) and "suggestions" (array of short strings).`)
	return b.String()
}

// ErrNoJSON is returned when a model reply contains no JSON object.
var ErrNoJSON = errors.New("reply contains no JSON object")

// ParseDecision extracts a Decision from a model reply. The JSON may be
// wrapped in a markdown code fence or surrounded by prose.
func ParseDecision(reply string) (*Decision, error) {
	content := strings.TrimSpace(reply)
	if i := strings.Index(content, "```"); i >= 0 {
		rest := content[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			content = strings.TrimSpace(rest[:j])
		}
	}
	start, end := strings.Index(content, "{"), strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, ErrNoJSON
	}

	var raw struct {
		Action      string   `json:"action"`
		Reason      string   `json:"reason"`
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("decode decision: %w", err)
	}
	action, ok := ParseAction(raw.Action)
	if !ok {
		return nil, fmt.Errorf("unknown action %q", raw.Action)
	}
	d := &Decision{Action: action, Reason: strings.TrimSpace(raw.Reason), Suggestions: raw.Suggestions}
	if d.Suggestions == nil {
		d.Suggestions = []string{}
	}
	return d, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "\n[truncated]"
}
