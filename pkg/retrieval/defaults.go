package retrieval

import (
	"fmt"
	"sync/atomic"
)

// MaxLimit caps the number of hits a search may request.
const MaxLimit = 100

// Defaults are applied to requests that leave a parameter unset.
type Defaults struct {
	Alpha          float64 `json:"alpha" yaml:"alpha" mapstructure:"alpha"`
	ScoreThreshold float64 `json:"scoreThreshold" yaml:"scoreThreshold" mapstructure:"scoreThreshold"`
	Limit          int     `json:"limit" yaml:"limit" mapstructure:"limit"`
}

// DefaultDefaults returns the built-in search defaults.
func DefaultDefaults() Defaults {
	return Defaults{Alpha: 0.7, ScoreThreshold: 0, Limit: 10}
}

// Validate checks that d is usable.
func (d Defaults) Validate() error {
	if d.Alpha < 0 || d.Alpha > 1 {
		return fmt.Errorf("alpha %.2f out of range [0,1]", d.Alpha)
	}
	if d.ScoreThreshold < 0 || d.ScoreThreshold > 1 {
		return fmt.Errorf("score threshold %.2f out of range [0,1]", d.ScoreThreshold)
	}
	if d.Limit < 1 || d.Limit > MaxLimit {
		return fmt.Errorf("limit %d out of range [1,%d]", d.Limit, MaxLimit)
	}
	return nil
}

// DefaultsHolder publishes search defaults that may be replaced while the
// server runs. The zero value holds DefaultDefaults.
type DefaultsHolder struct {
	v atomic.Pointer[Defaults]
}

// NewDefaultsHolder creates a holder with d.
func NewDefaultsHolder(d Defaults) *DefaultsHolder {
	h := &DefaultsHolder{}
	h.v.Store(&d)
	return h
}

// Load returns the current defaults.
func (h *DefaultsHolder) Load() Defaults {
	if h == nil {
		return DefaultDefaults()
	}
	if d := h.v.Load(); d != nil {
		return *d
	}
	return DefaultDefaults()
}

// Store replaces the defaults. Invalid defaults are rejected.
func (h *DefaultsHolder) Store(d Defaults) error {
	if err := d.Validate(); err != nil {
		return err
	}
	h.v.Store(&d)
	return nil
}
