package repository

import (
	"context"
	"errors"

	"loanflash-agent/internal/domain"
)

// ErrNotFound is returned when a workflow or step does not exist.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict is returned when a concurrent writer changed the workflow first.
var ErrConflict = errors.New("repository: concurrent update")

// WorkflowStore defines the workflow persistence operations consumed by the
// generator, the workflow service and the health reporter.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, wf domain.Workflow) error
	GetWorkflow(ctx context.Context, id string) (domain.Workflow, error)
	UpdateStep(ctx context.Context, workflowID, stepID string, completed bool) (domain.Workflow, error)
	Ping(ctx context.Context) error
}

// setStep flips a step's completion flag in place.
func setStep(wf *domain.Workflow, stepID string, completed bool) error {
	idx := wf.Step(stepID)
	if idx < 0 {
		return ErrNotFound
	}
	wf.Steps[idx].IsCompleted = completed
	return nil
}
