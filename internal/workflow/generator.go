// Package workflow builds mortgage-application workflows from per-scenario
// step templates and persists them.
package workflow

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"loanflash-agent/internal/domain"
	"loanflash-agent/internal/scenario"
)

//go:embed templates.yaml
var defaultTemplates []byte

// StepTemplate is the static part of a workflow step.
type StepTemplate struct {
	Title        string   `yaml:"title" json:"title"`
	Description  string   `yaml:"description" json:"description"`
	RequiredDocs []string `yaml:"required_docs" json:"required_docs"`
}

// Template is the step list for one scenario.
type Template struct {
	Scenario string         `yaml:"scenario" json:"scenario"`
	Title    string         `yaml:"title" json:"title"`
	Steps    []StepTemplate `yaml:"steps" json:"steps"`
}

// Saver persists generated workflows.
type Saver interface {
	SaveWorkflow(ctx context.Context, wf domain.Workflow) error
}

// Generator is safe for concurrent use.
type Generator struct {
	store     Saver
	templates map[scenario.Label]Template
	order     []scenario.Label
	now       func() time.Time
	newID     func() string
}

// NewGenerator parses raw YAML templates. Every scenario label must have one.
func NewGenerator(store Saver, raw []byte) (*Generator, error) {
	if store == nil {
		return nil, errors.New("workflow: store must not be nil")
	}
	var list []Template
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("workflow: parse templates: %w", err)
	}

	byLabel := make(map[scenario.Label]Template, len(list))
	for _, tpl := range list {
		label, err := scenario.ParseLabel(tpl.Scenario)
		if err != nil {
			return nil, fmt.Errorf("workflow: template: %w", err)
		}
		if len(tpl.Steps) == 0 {
			return nil, fmt.Errorf("workflow: template %s has no steps", label)
		}
		tpl.Scenario = string(label)
		byLabel[label] = tpl
	}
	for _, label := range scenario.Labels() {
		if _, ok := byLabel[label]; !ok {
			return nil, fmt.Errorf("workflow: missing template for %s", label)
		}
	}

	return &Generator{
		store:     store,
		templates: byLabel,
		order:     scenario.Labels(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}, nil
}

// NewDefaultGenerator uses the embedded templates.
func NewDefaultGenerator(store Saver) (*Generator, error) {
	return NewGenerator(store, defaultTemplates)
}

// Templates returns the templates in classification order.
func (g *Generator) Templates() []Template {
	out := make([]Template, 0, len(g.order))
	for _, label := range g.order {
		out = append(out, g.templates[label])
	}
	return out
}

// Generate expands the template for req.Scenario and saves the result.
func (g *Generator) Generate(ctx context.Context, req domain.WorkflowRequest) (*domain.Workflow, error) {
	label, err := scenario.ParseLabel(req.Scenario)
	if err != nil {
		return nil, fmt.Errorf("workflow: generate: %w", err)
	}
	tpl := g.templates[label]

	now := g.now()
	wf := domain.Workflow{
		ID:         g.newID(),
		Title:      tpl.Title,
		Scenario:   string(label),
		Steps:      make([]domain.WorkflowStep, 0, len(tpl.Steps)),
		UserInputs: maps.Clone(req.UserInputs),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, st := range tpl.Steps {
		docs := make([]string, 0, len(st.RequiredDocs))
		for _, d := range st.RequiredDocs {
			if d = strings.TrimSpace(d); d != "" {
				docs = append(docs, d)
			}
		}
		wf.Steps = append(wf.Steps, domain.WorkflowStep{
			ID:           g.newID(),
			Title:        st.Title,
			Description:  st.Description,
			RequiredDocs: docs,
		})
	}

	if err := g.store.SaveWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("workflow: save: %w", err)
	}
	return &wf, nil
}
