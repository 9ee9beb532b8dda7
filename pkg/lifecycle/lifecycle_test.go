package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yinkun-Cheng/RAG/pkg/errs"
)

func TestValidate_AllowedTransitions(t *testing.T) {
	m := NewMachine()

	tests := []struct {
		from, to Status
		effect   Effect
	}{
		{StatusDraft, StatusPublished, EffectIndexUpsert},
		{StatusPublished, StatusArchived, EffectIndexRemove},
		{StatusArchived, StatusPublished, EffectIndexUpsert},
		{StatusArchived, StatusArchived, EffectNone},
		{StatusPublished, StatusPublished, EffectNone},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			effect, err := m.Validate(tt.from, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.effect, effect)
		})
	}
}

func TestValidate_DraftToArchivedDenied(t *testing.T) {
	m := NewMachine()
	_, err := m.Validate(StatusDraft, StatusArchived)
	require.Error(t, err)

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "LIFECYCLE_TRANSITION_DENIED", te.Code)
	assert.Equal(t, StatusDraft, te.From)
	assert.Equal(t, StatusArchived, te.To)
	assert.Equal(t, errs.KindInvalidTransition, errs.KindOf(err))
}

func TestValidate_UndefinedTransitions(t *testing.T) {
	m := NewMachine()

	tests := []struct {
		name     string
		from, to Status
		code     string
	}{
		{"published back to draft", StatusPublished, StatusDraft, "LIFECYCLE_INVALID_TRANSITION"},
		{"archived back to draft", StatusArchived, StatusDraft, "LIFECYCLE_INVALID_TRANSITION"},
		{"unknown target", StatusDraft, Status("deleted"), "LIFECYCLE_UNKNOWN_STATE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Validate(tt.from, tt.to)
			var te *TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.code, te.Code)
			assert.True(t, errs.Is(err, errs.KindInvalidTransition))
		})
	}
}

// Any walk through the machine only ever visits draft once, at the start.
func TestValidate_WalkNeverReturnsToDraft(t *testing.T) {
	m := NewMachine()
	state := StatusDraft
	targets := []Status{StatusArchived, StatusPublished, StatusDraft, StatusArchived, StatusPublished, StatusArchived}
	var visited []Status
	for _, target := range targets {
		if _, err := m.Validate(state, target); err == nil {
			state = target
			visited = append(visited, state)
		}
	}
	assert.Equal(t, []Status{StatusPublished, StatusArchived, StatusPublished, StatusArchived}, visited)
}

func TestAllowedTransitions(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, []Status{StatusPublished}, m.AllowedTransitions(StatusDraft))
	assert.Equal(t, []Status{StatusArchived}, m.AllowedTransitions(StatusPublished))
	assert.Equal(t, []Status{StatusPublished}, m.AllowedTransitions(StatusArchived))
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("published")
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, s)
	assert.True(t, Indexed(s))

	_, err = ParseStatus("pending")
	assert.True(t, errs.Is(err, errs.KindInvalidArgument))
}
