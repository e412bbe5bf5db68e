package sop

import (
	"testing"

	"coachline/internal/domain"
)

func def(id string, priority int) domain.SOPDefinition {
	return domain.SOPDefinition{ID: id, Name: id, Stage: "mid", Priority: priority, Status: domain.StatusActive,
		Strategies: []string{id + "-step"}}
}

func rule(id, sopID, stage string, confidence int, required, excluded []string) domain.SOPRule {
	return domain.SOPRule{ID: id, SOPID: sopID, RequiredStage: stage, Confidence: confidence,
		RequiredTags: required, ExcludedTags: excluded, Status: domain.StatusActive, CreatedAt: "2024-01-01T00:00:00Z"}
}

func TestHigherConfidenceWinsAtEqualPriority(t *testing.T) {
	defs := []domain.SOPDefinition{def("sop-a", 5), def("sop-b", 5)}
	rules := []domain.SOPRule{
		rule("rule-a", "sop-a", "mid", 10, []string{"a"}, nil),
		rule("rule-b", "sop-b", "mid", 20, []string{"a", "b"}, nil),
	}
	m := Select(defs, rules, "mid", []string{"a", "b"})
	if m == nil || m.SOP.ID != "sop-b" {
		t.Fatalf("expected sop-b, got %+v", m)
	}
	m = Select(defs, rules, "mid", []string{"a"})
	if m == nil || m.SOP.ID != "sop-a" {
		t.Fatalf("expected sop-a with only tag a, got %+v", m)
	}
}

func TestPriorityBeatsConfidence(t *testing.T) {
	defs := []domain.SOPDefinition{def("low", 1), def("high", 9)}
	rules := []domain.SOPRule{
		rule("r1", "low", "pre", 100, nil, nil),
		rule("r2", "high", "pre", 0, nil, nil),
	}
	if m := Select(defs, rules, "pre", nil); m == nil || m.SOP.ID != "high" {
		t.Fatalf("expected high, got %+v", m)
	}
}

func TestNoMatchReturnsNil(t *testing.T) {
	defs := []domain.SOPDefinition{def("sop-a", 5)}
	rules := []domain.SOPRule{
		rule("r1", "sop-a", "mid", 1, []string{"x"}, nil),
		rule("r2", "sop-a", "post", 1, nil, nil),
	}
	if m := Select(defs, rules, "mid", []string{"a"}); m != nil {
		t.Fatalf("expected nil, got %+v", m)
	}
}

func TestExcludedTagsAndInactiveFiltering(t *testing.T) {
	inactiveDef := def("off", 50)
	inactiveDef.Status = domain.StatusInactive
	inactiveRule := rule("r-inactive", "on", "mid", 99, nil, nil)
	inactiveRule.Status = domain.StatusInactive
	defs := []domain.SOPDefinition{def("on", 1), inactiveDef}
	rules := []domain.SOPRule{
		rule("r-off", "off", "mid", 1, nil, nil),
		inactiveRule,
		rule("r-excl", "on", "mid", 5, nil, []string{"coach:skip"}),
		rule("r-ok", "on", "mid", 1, nil, nil),
	}
	m := Select(defs, rules, "mid", []string{"coach:skip"})
	if m == nil || m.Rule.ID != "r-ok" {
		t.Fatalf("expected r-ok, got %+v", m)
	}
	m = Select(defs, rules, "mid", nil)
	if m == nil || m.Rule.ID != "r-excl" {
		t.Fatalf("expected r-excl without excluded tag, got %+v", m)
	}
}

func TestWildcardStage(t *testing.T) {
	defs := []domain.SOPDefinition{def("any", 1)}
	rules := []domain.SOPRule{rule("r", "any", AnyStage, 1, nil, nil)}
	for _, s := range []string{"pre", "mid", "post"} {
		if m := Select(defs, rules, s, nil); m == nil {
			t.Fatalf("wildcard should match %s", s)
		}
	}
}

func TestTieBreakByCreationThenID(t *testing.T) {
	defs := []domain.SOPDefinition{def("x", 1), def("y", 1), def("z", 1)}
	older := rule("r-z", "z", "mid", 3, nil, nil)
	older.CreatedAt = "2023-06-01T00:00:00Z"
	rules := []domain.SOPRule{
		rule("r-y", "y", "mid", 3, nil, nil),
		rule("r-x", "x", "mid", 3, nil, nil),
		older,
	}
	if m := Select(defs, rules, "mid", nil); m == nil || m.Rule.ID != "r-z" {
		t.Fatalf("expected oldest rule r-z, got %+v", m)
	}
	if m := Select(defs, rules[:2], "mid", nil); m == nil || m.Rule.ID != "r-x" {
		t.Fatalf("expected r-x by id, got %+v", m)
	}
}

func TestPanels(t *testing.T) {
	p := FromStage(domain.Stage{ID: "mid", Description: "Build habits", AllowActions: []string{"check in"}})
	if p.Source != SourceStage || p.Summary != "Build habits" || len(p.Strategies) != 1 || p.Forbidden == nil {
		t.Fatalf("unexpected stage panel %+v", p)
	}
	m := Minimal("post")
	if m.StageID != "post" || m.Strategies == nil || m.Source != SourceMinimal {
		t.Fatalf("unexpected minimal panel %+v", m)
	}
	rp := FromMatch("mid", Match{SOP: def("s", 2), Rule: rule("r", "s", "mid", 7, nil, nil)})
	if rp.RuleID != "r" || rp.Confidence != 7 || rp.Priority != 2 || rp.Source != SourceRule {
		t.Fatalf("unexpected rule panel %+v", rp)
	}
}
