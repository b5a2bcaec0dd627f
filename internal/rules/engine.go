// Package rules is a small keyword rule engine that answers common mortgage
// questions without calling an LLM.
package rules

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Rule maps a set of keywords to a canned answer.
type Rule struct {
	Topic       string   `yaml:"topic"`
	Keywords    []string `yaml:"keywords"`
	Answer      string   `yaml:"answer"`
	Explanation string   `yaml:"explanation"`
}

type ruleSet struct {
	Fallback string `yaml:"fallback"`
	Rules    []Rule `yaml:"rules"`
}

// Result is the outcome of ProcessQuery.
type Result struct {
	Success     bool
	Topic       string
	Answer      string
	Explanation string
}

// Engine is immutable after construction and safe for concurrent use.
type Engine struct {
	rules    []Rule
	fallback string
}

// New parses a YAML rule table.
func New(raw []byte) (*Engine, error) {
	var rs ruleSet
	if err := yaml.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("rules: parse rule table: %w", err)
	}
	if len(rs.Rules) == 0 {
		return nil, errors.New("rules: rule table is empty")
	}
	for i, r := range rs.Rules {
		if strings.TrimSpace(r.Answer) == "" || len(r.Keywords) == 0 {
			return nil, fmt.Errorf("rules: rule %d (%s) needs keywords and an answer", i, r.Topic)
		}
		for j, kw := range r.Keywords {
			rs.Rules[i].Keywords[j] = strings.ToLower(strings.TrimSpace(kw))
		}
	}
	return &Engine{rules: rs.Rules, fallback: strings.TrimSpace(rs.Fallback)}, nil
}

// NewDefault loads the embedded rule table.
func NewDefault() (*Engine, error) {
	return New(defaultRules)
}

// Len returns the number of loaded rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// ProcessQuery returns the answer of the rule with the most keyword hits.
// Ties go to the rule listed first.
func (e *Engine) ProcessQuery(ctx context.Context, query string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return Result{Success: false}, nil
	}

	best, bestHits := -1, 0
	for i, r := range e.rules {
		hits := 0
		for _, kw := range r.Keywords {
			if strings.Contains(q, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = i, hits
		}
	}
	if best < 0 {
		return Result{Success: true, Topic: "general", Answer: e.fallback}, nil
	}
	r := e.rules[best]
	return Result{
		Success:     true,
		Topic:       r.Topic,
		Answer:      strings.TrimSpace(r.Answer),
		Explanation: strings.TrimSpace(r.Explanation),
	}, nil
}
