package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultTemplateIsValid(t *testing.T) {
	c := Default()
	if len(c.Quizzes) != 1 || len(c.Stages) != 3 {
		t.Fatalf("unexpected default content: %+v", c)
	}
	if c.Defaults["pre"] != "sop-pre-welcome" {
		t.Fatalf("expected pre default, got %v", c.Defaults)
	}
}

func TestValidateRejectsBrokenReferences(t *testing.T) {
	cases := map[string]string{
		"unknown sop": `
stages: [{id: pre}]
defaults: {pre: missing}`,
		"unknown stage": `
sops: [{id: s1, name: S, stage: pre}]
defaults: {later: s1}`,
		"duplicate rule": `
sops:
  - id: s1
    name: S
    stage: pre
    rules: [{id: r1, stage: pre}, {id: r1, stage: pre}]`,
		"bad status": `
sops: [{id: s1, name: S, stage: pre, status: archived}]`,
		"empty tag": `
sops:
  - id: s1
    name: S
    stage: pre
    rules: [{id: r1, stage: pre, required_tags: [""]}]`,
		"duplicate quiz key": `
quizzes:
  - {id: a, version: v1, track: fast}
  - {id: b, version: v1, track: fast}`,
		"question without options": `
quizzes:
  - id: a
    version: v1
    track: fast
    questions: [{id: q1, prompt: P}]`,
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestFromYAMLInvalidSyntax(t *testing.T) {
	_, err := FromYAML([]byte("quizzes: [unterminated"))
	if err == nil || !strings.Contains(err.Error(), "invalid content yaml") {
		t.Fatalf("expected yaml error, got %v", err)
	}
}

func TestLoadRuntimeDefaults(t *testing.T) {
	t.Setenv("COACHLINE_JWT_SECRET", "s3cret")
	t.Setenv("COACHLINE_REDIS_URL", "")
	cfg, err := LoadRuntime()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InviteRateLimit != 60 || cfg.InviteRateWin != time.Minute {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := (Runtime{}).Validate(); err == nil {
		t.Fatalf("expected missing secret error")
	}
}
