package repository

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"loanflash-agent/internal/domain"
)

// Memory is a process-local WorkflowStore used for local runs and tests.
type Memory struct {
	mu        sync.RWMutex
	workflows map[string]domain.Workflow
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		workflows: make(map[string]domain.Workflow),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) SaveWorkflow(_ context.Context, wf domain.Workflow) error {
	if strings.TrimSpace(wf.ID) == "" {
		return fmt.Errorf("repository: SaveWorkflow: workflow id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[wf.ID]; ok {
		return fmt.Errorf("repository: SaveWorkflow: %w", ErrConflict)
	}
	m.workflows[wf.ID] = cloneWorkflow(wf)
	return nil
}

func (m *Memory) GetWorkflow(_ context.Context, id string) (domain.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return domain.Workflow{}, ErrNotFound
	}
	return cloneWorkflow(wf), nil
}

func (m *Memory) UpdateStep(_ context.Context, workflowID, stepID string, completed bool) (domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[workflowID]
	if !ok {
		return domain.Workflow{}, ErrNotFound
	}
	wf = cloneWorkflow(wf)
	if err := setStep(&wf, stepID, completed); err != nil {
		return domain.Workflow{}, err
	}
	wf.UpdatedAt = m.now()
	m.workflows[workflowID] = wf
	return cloneWorkflow(wf), nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

// cloneWorkflow copies the slices and map so callers cannot mutate stored state.
func cloneWorkflow(wf domain.Workflow) domain.Workflow {
	out := wf
	if wf.Steps != nil {
		out.Steps = make([]domain.WorkflowStep, len(wf.Steps))
		for i, s := range wf.Steps {
			if s.RequiredDocs != nil {
				s.RequiredDocs = append([]string(nil), s.RequiredDocs...)
			}
			out.Steps[i] = s
		}
	}
	out.UserInputs = maps.Clone(wf.UserInputs)
	return out
}
