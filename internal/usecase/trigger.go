package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"loanflash-agent/internal/domain"
	"loanflash-agent/internal/metrics"
	"loanflash-agent/internal/scenario"
)

const defaultWorkflowTimeout = 10 * time.Second

type WorkflowGenerator interface {
	Generate(ctx context.Context, req domain.WorkflowRequest) (*domain.Workflow, error)
}

// WorkflowTrigger decides whether a chat turn warrants a workflow and
// generates one on a best-effort basis.
type WorkflowTrigger struct {
	generator WorkflowGenerator
	timeout   time.Duration
	logger    *slog.Logger
}

// NewWorkflowTrigger builds a trigger. The timeout is clamped to llmTimeout
// so a workflow never outlives the answer it accompanies.
func NewWorkflowTrigger(gen WorkflowGenerator, timeout, llmTimeout time.Duration, logger *slog.Logger) (*WorkflowTrigger, error) {
	if gen == nil {
		return nil, errors.New("usecase: workflow generator must not be nil")
	}
	if timeout <= 0 {
		timeout = defaultWorkflowTimeout
	}
	if llmTimeout > 0 && timeout > llmTimeout {
		timeout = llmTimeout
	}
	return &WorkflowTrigger{generator: gen, timeout: timeout, logger: loggerOrDefault(logger)}, nil
}

type generateResult struct {
	wf  *domain.Workflow
	err error
}

// MaybeGenerate returns nil when the message has no trigger keyword or when
// generation fails, panics or exceeds the workflow timeout.
func (t *WorkflowTrigger) MaybeGenerate(ctx context.Context, userMessage, answer string) *domain.Workflow {
	if !scenario.ShouldGenerateWorkflow(userMessage) {
		return nil
	}
	label := scenario.Classify(userMessage)
	logger := t.logger.With("scenario", string(label))

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req := domain.WorkflowRequest{
		Scenario: string(label),
		UserInputs: map[string]string{
			domain.InputQueryContext: userMessage,
			domain.InputNLPResponse:  answer,
		},
	}

	done := make(chan generateResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- generateResult{err: fmt.Errorf("usecase: workflow generator panicked: %v", r)}
			}
		}()
		wf, err := t.generator.Generate(ctx, req)
		done <- generateResult{wf: wf, err: err}
	}()

	var res generateResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = generateResult{err: ctx.Err()}
	}

	if res.err != nil {
		logger.Error("workflow generation failed", "err", res.err)
		metrics.WorkflowsGenerated.WithLabelValues(string(label), metrics.OutcomeFailure).Inc()
		return nil
	}
	metrics.WorkflowsGenerated.WithLabelValues(string(label), metrics.OutcomeSuccess).Inc()
	if res.wf != nil {
		logger.Info("workflow generated", "workflow_id", res.wf.ID, "steps", len(res.wf.Steps))
	}
	return res.wf
}
