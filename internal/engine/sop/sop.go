// Package sop selects coaching guidance for a (stage, tags) pair.
package sop

import (
	"sort"

	"coachline/internal/domain"
	"coachline/internal/engine/tags"
)

// AnyStage is the rule stage that matches every customer stage.
const AnyStage = "*"

// Panel sources.
const (
	SourceRule    = "rule"
	SourceDefault = "default"
	SourceStage   = "stage"
	SourceMinimal = "minimal"
)

// Match is the winning rule together with its SOP definition.
type Match struct {
	SOP  domain.SOPDefinition
	Rule domain.SOPRule
}

// Panel is the guidance payload handed to coaches.
type Panel struct {
	Source     string   `json:"source" enum:"rule,default,stage,minimal"`
	StageID    string   `json:"stage_id"`
	SOPID      string   `json:"sop_id,omitempty"`
	RuleID     string   `json:"rule_id,omitempty"`
	Name       string   `json:"name,omitempty"`
	Priority   int      `json:"priority"`
	Confidence int      `json:"confidence"`
	Strategies []string `json:"strategies"`
	Forbidden  []string `json:"forbidden"`
	Summary    string   `json:"summary,omitempty"`
	Goal       string   `json:"goal,omitempty"`
}

// Select returns the highest-ranked rule whose predicate holds for stage and tags, or nil.
// Ranking is SOP priority desc, rule confidence desc, rule creation time asc, rule id asc.
func Select(defs []domain.SOPDefinition, rules []domain.SOPRule, stage string, tagList []string) *Match {
	active := make(map[string]domain.SOPDefinition, len(defs))
	for _, d := range defs {
		if d.Status == domain.StatusActive {
			active[d.ID] = d
		}
	}
	have := tags.Set(tagList)
	var candidates []Match
	for _, r := range rules {
		if r.Status != domain.StatusActive {
			continue
		}
		def, ok := active[r.SOPID]
		if !ok {
			continue
		}
		if r.RequiredStage != stage && r.RequiredStage != AnyStage {
			continue
		}
		if !containsAll(have, r.RequiredTags) || containsAny(have, r.ExcludedTags) {
			continue
		}
		candidates = append(candidates, Match{SOP: def, Rule: r})
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.SOP.Priority != b.SOP.Priority {
			return a.SOP.Priority > b.SOP.Priority
		}
		if a.Rule.Confidence != b.Rule.Confidence {
			return a.Rule.Confidence > b.Rule.Confidence
		}
		if a.Rule.CreatedAt != b.Rule.CreatedAt {
			return a.Rule.CreatedAt < b.Rule.CreatedAt
		}
		return a.Rule.ID < b.Rule.ID
	})
	best := candidates[0]
	return &best
}

func containsAll(have map[string]struct{}, want []string) bool {
	for _, t := range want {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}

func containsAny(have map[string]struct{}, deny []string) bool {
	for _, t := range deny {
		if _, ok := have[t]; ok {
			return true
		}
	}
	return false
}

// FromMatch builds a rule-sourced panel.
func FromMatch(stageID string, m Match) Panel {
	p := FromSOP(stageID, m.SOP, SourceRule)
	p.RuleID = m.Rule.ID
	p.Confidence = m.Rule.Confidence
	return p
}

// FromSOP builds a panel from an SOP definition.
func FromSOP(stageID string, d domain.SOPDefinition, source string) Panel {
	return Panel{
		Source:     source,
		StageID:    stageID,
		SOPID:      d.ID,
		Name:       d.Name,
		Priority:   d.Priority,
		Strategies: nonNil(d.Strategies),
		Forbidden:  nonNil(d.Forbidden),
		Summary:    d.Summary,
		Goal:       d.Goal,
	}
}

// FromStage synthesizes a panel from a stage's own description and action lists.
func FromStage(s domain.Stage) Panel {
	return Panel{
		Source:     SourceStage,
		StageID:    s.ID,
		Name:       s.Name,
		Strategies: nonNil(s.AllowActions),
		Forbidden:  nonNil(s.ForbidActions),
		Summary:    s.Description,
	}
}

// Minimal is the payload used when nothing at all is configured for a stage.
func Minimal(stageID string) Panel {
	return Panel{
		Source:     SourceMinimal,
		StageID:    stageID,
		Strategies: []string{},
		Forbidden:  []string{},
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
