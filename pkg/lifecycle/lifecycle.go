// Package lifecycle defines the artifact status state machine. Status
// changes gate membership in the search index: entering published indexes
// an artifact, entering archived removes it.
package lifecycle

import (
	"fmt"

	"github.com/Yinkun-Cheng/RAG/pkg/errs"
)

// Status is the lifecycle state of a PRD or TestCase.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	}
	return false
}

// ParseStatus converts a string to a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", errs.InvalidArgument("unknown status %q (expected draft, published or archived)", v)
	}
	return s, nil
}

// Effect is the index side effect of entering a state.
type Effect string

const (
	EffectNone        Effect = "none"
	EffectIndexUpsert Effect = "index_upsert"
	EffectIndexRemove Effect = "index_remove"
)

// TransitionRule defines an allowed lifecycle transition.
type TransitionRule struct {
	From   Status
	To     Status
	Effect Effect
}

// DefaultTransitions defines the allowed status transitions.
var DefaultTransitions = []TransitionRule{
	{From: StatusDraft, To: StatusPublished, Effect: EffectIndexUpsert},
	{From: StatusPublished, To: StatusArchived, Effect: EffectIndexRemove},
	{From: StatusArchived, To: StatusPublished, Effect: EffectIndexUpsert},
}

// DisallowedTransitions are explicitly forbidden (return specific error).
var DisallowedTransitions = map[Status][]Status{
	StatusDraft: {StatusArchived},
}

// Machine validates status transitions.
type Machine struct {
	transitions []TransitionRule
	disallowed  map[Status][]Status
}

// NewMachine creates a machine with default rules.
func NewMachine() *Machine {
	return &Machine{
		transitions: DefaultTransitions,
		disallowed:  DisallowedTransitions,
	}
}

// Validate checks if a transition from->to is allowed and returns the
// index effect of performing it. Staying in the same state is a no-op.
func (m *Machine) Validate(from, to Status) (Effect, error) {
	if !to.Valid() {
		return EffectNone, &TransitionError{
			Code:    "LIFECYCLE_UNKNOWN_STATE",
			From:    from,
			To:      to,
			Message: fmt.Sprintf("unknown target status %q", to),
		}
	}
	if from == to {
		return EffectNone, nil
	}

	if disallowed, ok := m.disallowed[from]; ok {
		for _, d := range disallowed {
			if d == to {
				return EffectNone, &TransitionError{
					Code:    "LIFECYCLE_TRANSITION_DENIED",
					From:    from,
					To:      to,
					Message: fmt.Sprintf("transition from %s to %s is not allowed; publish first", from, to),
				}
			}
		}
	}

	for _, t := range m.transitions {
		if t.From == from && t.To == to {
			return t.Effect, nil
		}
	}

	return EffectNone, &TransitionError{
		Code:    "LIFECYCLE_INVALID_TRANSITION",
		From:    from,
		To:      to,
		Message: fmt.Sprintf("no transition defined from %s to %s", from, to),
	}
}

// AllowedTransitions returns all valid target states from the given state.
func (m *Machine) AllowedTransitions(from Status) []Status {
	var allowed []Status
	for _, t := range m.transitions {
		if t.From == from {
			allowed = append(allowed, t.To)
		}
	}
	return allowed
}

// Indexed reports whether artifacts in state s belong in the search index.
func Indexed(s Status) bool { return s == StatusPublished }

// TransitionError is a structured error for invalid transitions.
type TransitionError struct {
	Code    string `json:"code"`
	From    Status `json:"from"`
	To      Status `json:"to"`
	Message string `json:"message"`
}

func (e *TransitionError) Error() string {
	return e.Message
}

// ErrKind classifies the error for the errs package.
func (e *TransitionError) ErrKind() errs.Kind { return errs.KindInvalidTransition }
