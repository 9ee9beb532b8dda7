package impact

import (
	"os"
	"strconv"
	"strings"
)

// Identity rules for matching a PRD across versions.
const (
	IdentityTitle = "title" // (module, normalized title)
	IdentityCode  = "code"
)

// CandidatePolicy selects how related test cases are found for a PRD.
type CandidatePolicy struct {
	// ModuleSearch runs a hybrid search for test cases in the PRD's module.
	ModuleSearch bool
	// DirectLink includes test cases whose prd_id points at the PRD.
	DirectLink bool
}

// Config controls the analyzer.
type Config struct {
	Identity      string
	Candidates    CandidatePolicy
	SearchLimit   int     // Max test cases per PRD from search. Default 5.
	SearchAlpha   float64 // Default 0.5.
	MinSimilarity float64 // Search score threshold. Default 0.2.
	Concurrency   int     // Reasoning calls in flight. Default 4.
	// HighActionCount is the number of update/deprecate actions that make
	// a PRD change high impact. Default 3.
	HighActionCount int
	// HighShare is the share of high-impact PRD changes above which the
	// whole report is high impact. Default 0.3.
	HighShare float64
}

// DefaultConfig returns the default analyzer configuration.
func DefaultConfig() *Config {
	return &Config{
		Identity:        IdentityTitle,
		Candidates:      CandidatePolicy{ModuleSearch: true, DirectLink: true},
		SearchLimit:     5,
		SearchAlpha:     0.5,
		MinSimilarity:   0.2,
		Concurrency:     4,
		HighActionCount: 3,
		HighShare:       0.3,
	}
}

// ConfigFromEnv loads config from environment variables.
// RAG_IMPACT_IDENTITY (title|code), RAG_IMPACT_MODULE_SEARCH,
// RAG_IMPACT_DIRECT_LINK, RAG_IMPACT_SEARCH_LIMIT, RAG_IMPACT_CONCURRENCY
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	if v := strings.ToLower(os.Getenv("RAG_IMPACT_IDENTITY")); v == IdentityCode || v == IdentityTitle {
		cfg.Identity = v
	}
	if v := os.Getenv("RAG_IMPACT_MODULE_SEARCH"); v != "" {
		cfg.Candidates.ModuleSearch = v == "true" || v == "1"
	}
	if v := os.Getenv("RAG_IMPACT_DIRECT_LINK"); v != "" {
		cfg.Candidates.DirectLink = v == "true" || v == "1"
	}
	if v := os.Getenv("RAG_IMPACT_SEARCH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SearchLimit = n
		}
	}
	if v := os.Getenv("RAG_IMPACT_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}
	return cfg
}
