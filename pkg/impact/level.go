package impact

import (
	"github.com/Yinkun-Cheng/RAG/pkg/reasoning"
)

// prdLevel rates one PRD change. Deleted PRDs and changes with many
// update or deprecate actions are high; added PRDs and changes with any
// non-keep action are medium.
func prdLevel(c *PRDChange, highActions int) Level {
	if c.ChangeType == reasoning.ChangeDeleted {
		return LevelHigh
	}
	heavy, nonKeep := 0, 0
	for _, a := range c.AffectedTestCases {
		switch a.Action {
		case reasoning.ActionUpdate, reasoning.ActionDeprecate:
			heavy++
			nonKeep++
		case reasoning.ActionCreate:
			nonKeep++
		}
	}
	switch {
	case heavy >= highActions:
		return LevelHigh
	case c.ChangeType == reasoning.ChangeAdded, nonKeep > 0:
		return LevelMedium
	}
	return LevelLow
}

// overallLevel rates a report. It is high when any PRD was deleted or more
// than highShare of the changes are high, medium when any change is at
// least medium, and low otherwise.
func overallLevel(changes []PRDChange, highShare float64) Level {
	if len(changes) == 0 {
		return LevelLow
	}
	high, medium := 0, 0
	for _, c := range changes {
		if c.ChangeType == reasoning.ChangeDeleted {
			return LevelHigh
		}
		switch c.ImpactLevel {
		case LevelHigh:
			high++
		case LevelMedium:
			medium++
		}
	}
	switch {
	case float64(high)/float64(len(changes)) > highShare:
		return LevelHigh
	case high > 0, medium > 0:
		return LevelMedium
	}
	return LevelLow
}
