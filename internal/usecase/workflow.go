package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"loanflash-agent/internal/domain"
	"loanflash-agent/internal/repository"
	"loanflash-agent/internal/scenario"
	"loanflash-agent/internal/workflow"
)

const createWorkflowSchema = `{
	"type": "object",
	"required": ["scenario"],
	"properties": {
		"scenario": {"type": "string", "minLength": 1, "maxLength": 64},
		"user_inputs": {
			"type": "object",
			"maxProperties": 32,
			"additionalProperties": {"type": ["string", "null"], "maxLength": 4000}
		}
	}
}`

// TemplateGenerator generates workflows and lists the templates it uses.
type TemplateGenerator interface {
	WorkflowGenerator
	Templates() []workflow.Template
}

type createWorkflowBody struct {
	Scenario   string             `json:"scenario"`
	UserInputs map[string]*string `json:"user_inputs"`
}

// WorkflowService backs the workflow endpoints.
type WorkflowService struct {
	generator TemplateGenerator
	store     repository.WorkflowStore
	schema    *gojsonschema.Schema
	logger    *slog.Logger
}

func NewWorkflowService(gen TemplateGenerator, store repository.WorkflowStore, logger *slog.Logger) (*WorkflowService, error) {
	if gen == nil {
		return nil, errors.New("usecase: workflow generator must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: workflow store must not be nil")
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(createWorkflowSchema))
	if err != nil {
		return nil, fmt.Errorf("usecase: compile workflow schema: %w", err)
	}
	return &WorkflowService{generator: gen, store: store, schema: schema, logger: loggerOrDefault(logger)}, nil
}

// Create validates a raw create payload and generates a workflow from it.
func (s *WorkflowService) Create(ctx context.Context, raw []byte) (*domain.Workflow, error) {
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, newError(ErrorValidation, "invalid_json", "Invalid request body", err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return nil, newError(ErrorValidation, "schema_violation", "Invalid workflow request: "+strings.Join(errs, "; "), nil)
	}

	var body createWorkflowBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, newError(ErrorValidation, "invalid_json", "Invalid request body", err)
	}
	label, err := scenario.ParseLabel(body.Scenario)
	if err != nil {
		return nil, newError(ErrorValidation, "unknown_scenario", fmt.Sprintf("Unknown scenario %q", body.Scenario), err)
	}

	inputs := make(map[string]string, len(body.UserInputs))
	for k, v := range body.UserInputs {
		if v != nil {
			inputs[k] = *v
		}
	}

	wf, err := s.generator.Generate(ctx, domain.WorkflowRequest{Scenario: string(label), UserInputs: inputs})
	if err != nil {
		s.logger.Error("workflow create failed", "scenario", string(label), "err", err)
		return nil, newError(ErrorInternal, "workflow_generate_error", "Failed to create workflow", err)
	}
	s.logger.Info("workflow created", "workflow_id", wf.ID, "scenario", string(label))
	return wf, nil
}

func (s *WorkflowService) Get(ctx context.Context, id string) (domain.Workflow, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Workflow{}, newError(ErrorValidation, "empty_workflow_id", "Workflow id is required", nil)
	}
	wf, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return domain.Workflow{}, s.storeError("get", id, err)
	}
	return wf, nil
}

func (s *WorkflowService) UpdateStep(ctx context.Context, workflowID, stepID string, completed bool) (domain.Workflow, error) {
	workflowID, stepID = strings.TrimSpace(workflowID), strings.TrimSpace(stepID)
	if workflowID == "" || stepID == "" {
		return domain.Workflow{}, newError(ErrorValidation, "empty_id", "Workflow id and step id are required", nil)
	}
	wf, err := s.store.UpdateStep(ctx, workflowID, stepID, completed)
	if err != nil {
		return domain.Workflow{}, s.storeError("update_step", workflowID, err)
	}
	s.logger.Info("workflow step updated", "workflow_id", workflowID, "step_id", stepID, "completed", completed)
	return wf, nil
}

func (s *WorkflowService) Templates() []workflow.Template {
	return s.generator.Templates()
}

func (s *WorkflowService) storeError(op, id string, err error) *Error {
	if errors.Is(err, repository.ErrNotFound) {
		return newError(ErrorNotFound, "workflow_not_found", "Workflow not found", err)
	}
	s.logger.Error("workflow store failed", "op", op, "workflow_id", id, "err", err)
	if errors.Is(err, repository.ErrConflict) {
		return newError(ErrorInternal, "workflow_conflict", "Workflow was modified concurrently, please retry", err)
	}
	return newError(ErrorInternal, "workflow_store_error", "Workflow store error", err)
}
