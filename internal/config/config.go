package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Content models coachline.yml: quizzes, stages, SOP definitions with rules and stage defaults.
type Content struct {
	Quizzes  []Quiz            `yaml:"quizzes"`
	Stages   []Stage           `yaml:"stages"`
	SOPs     []SOP             `yaml:"sops"`
	Defaults map[string]string `yaml:"defaults"`
}

type Quiz struct {
	ID        string     `yaml:"id"`
	Version   string     `yaml:"version"`
	Track     string     `yaml:"track"`
	Title     string     `yaml:"title"`
	Questions []Question `yaml:"questions"`
}

type Question struct {
	ID      string   `yaml:"id"`
	Prompt  string   `yaml:"prompt"`
	Status  string   `yaml:"status"`
	Options []Option `yaml:"options"`
}

type Option struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

type Stage struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Allow       []string `yaml:"allow"`
	Forbid      []string `yaml:"forbid"`
}

type SOP struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Stage      string   `yaml:"stage"`
	Priority   int      `yaml:"priority"`
	Strategies []string `yaml:"strategies"`
	Forbidden  []string `yaml:"forbidden"`
	Summary    string   `yaml:"summary"`
	Goal       string   `yaml:"goal"`
	Status     string   `yaml:"status"`
	Rules      []Rule   `yaml:"rules"`
}

type Rule struct {
	ID           string   `yaml:"id"`
	Stage        string   `yaml:"stage"`
	RequiredTags []string `yaml:"required_tags"`
	ExcludedTags []string `yaml:"excluded_tags"`
	Confidence   int      `yaml:"confidence"`
	Status       string   `yaml:"status"`
}

// Validate checks ids, statuses and cross references.
func (c *Content) Validate() error {
	quizKeys := map[string]bool{}
	ids := map[string]string{}
	claim := func(kind, id string) error {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%s id is required", kind)
		}
		key := kind + ":" + id
		if _, dup := ids[key]; dup {
			return fmt.Errorf("duplicate %s id %s", kind, id)
		}
		ids[key] = id
		return nil
	}
	for _, q := range c.Quizzes {
		if err := claim("quiz", q.ID); err != nil {
			return err
		}
		if q.Version == "" || q.Track == "" {
			return fmt.Errorf("quiz %s needs version and track", q.ID)
		}
		k := q.Version + "/" + q.Track
		if quizKeys[k] {
			return fmt.Errorf("quiz %s duplicates version %s track %s", q.ID, q.Version, q.Track)
		}
		quizKeys[k] = true
		for _, qs := range q.Questions {
			if err := claim("question", qs.ID); err != nil {
				return err
			}
			if qs.Prompt == "" {
				return fmt.Errorf("question %s prompt is required", qs.ID)
			}
			if err := checkStatus("question "+qs.ID, qs.Status); err != nil {
				return err
			}
			if len(qs.Options) == 0 {
				return fmt.Errorf("question %s has no options", qs.ID)
			}
			for _, o := range qs.Options {
				if err := claim("option", o.ID); err != nil {
					return err
				}
			}
		}
	}
	stages := map[string]bool{}
	for _, s := range c.Stages {
		if err := claim("stage", s.ID); err != nil {
			return err
		}
		stages[s.ID] = true
	}
	sops := map[string]bool{}
	for _, s := range c.SOPs {
		if err := claim("sop", s.ID); err != nil {
			return err
		}
		sops[s.ID] = true
		if s.Name == "" {
			return fmt.Errorf("sop %s name is required", s.ID)
		}
		if s.Stage == "" {
			return fmt.Errorf("sop %s stage is required", s.ID)
		}
		if err := checkStatus("sop "+s.ID, s.Status); err != nil {
			return err
		}
		for _, r := range s.Rules {
			if err := claim("rule", r.ID); err != nil {
				return err
			}
			if r.Stage == "" {
				return fmt.Errorf("rule %s stage is required (use * for any)", r.ID)
			}
			if err := checkStatus("rule "+r.ID, r.Status); err != nil {
				return err
			}
			for _, t := range append(append([]string{}, r.RequiredTags...), r.ExcludedTags...) {
				if strings.TrimSpace(t) == "" {
					return fmt.Errorf("rule %s has an empty tag", r.ID)
				}
			}
		}
	}
	for stageID, sopID := range c.Defaults {
		if !stages[stageID] {
			return fmt.Errorf("default for unknown stage %s", stageID)
		}
		if !sops[sopID] {
			return fmt.Errorf("default for stage %s references unknown sop %s", stageID, sopID)
		}
	}
	return nil
}

func checkStatus(what, status string) error {
	switch status {
	case "", "active", "inactive":
		return nil
	}
	return fmt.Errorf("%s status must be active or inactive, got %q", what, status)
}

// Path returns the content file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "coachline.yml")
}

// FromYAML parses and validates content from raw YAML bytes.
func FromYAML(data []byte) (*Content, error) {
	var c Content
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid content yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// FromFile reads YAML content from the given path.
func FromFile(path string) (*Content, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("content %s not found; create one with cl content init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the starter content catalog.
func Default() *Content {
	c, err := FromYAML([]byte(DefaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default content template: %v", err))
	}
	return c
}

// DefaultTemplate is written by cl content init.
const DefaultTemplate = `quizzes:
  - id: quiz-v1-fast
    version: v1
    track: fast
    title: Quick self-assessment
    questions:
      - id: q-energy
        prompt: How is your energy during a typical week?
        options:
          - id: q-energy-low
            label: Mostly low
          - id: q-energy-high
            label: Mostly high
      - id: q-goal
        prompt: What do you want from coaching first?
        options:
          - id: q-goal-clarity
            label: Clarity
          - id: q-goal-routine
            label: A routine

stages:
  - id: pre
    name: Before coaching
    description: Build trust and understand the starting point.
    allow: [listen, ask open questions]
    forbid: [prescribe a plan]
  - id: mid
    name: During coaching
    description: Turn insights into habits.
    allow: [set weekly goals, review progress]
    forbid: [change goals every session]
  - id: post
    name: After coaching
    description: Consolidate and hand over.
    allow: [plan maintenance]
    forbid: [open new topics]

sops:
  - id: sop-pre-welcome
    name: Welcome call
    stage: pre
    priority: 1
    strategies: [Introduce the process, Agree on a first session date]
    forbidden: [Sell add-ons]
    summary: First contact script.
    goal: Book the first session.
  - id: sop-mid-low-energy
    name: Low energy support
    stage: mid
    priority: 5
    strategies: [Shrink the weekly goal, Schedule a mid-week check-in]
    forbidden: [Add new commitments]
    goal: Keep momentum without overload.
    rules:
      - id: rule-mid-low-energy
        stage: mid
        required_tags: ["energy:low"]
        excluded_tags: ["coach:paused"]
        confidence: 10

defaults:
  pre: sop-pre-welcome
`
