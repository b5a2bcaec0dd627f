package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"loanflash-agent/internal/repository"
	"loanflash-agent/internal/workflow"
)

func newWorkflowFixture(t *testing.T) (*WorkflowService, *repository.Memory) {
	t.Helper()
	store := repository.NewMemory()
	gen, err := workflow.NewDefaultGenerator(store)
	require.NoError(t, err)
	svc, err := NewWorkflowService(gen, store, nil)
	require.NoError(t, err)
	return svc, store
}

func TestNewWorkflowService_NilDeps(t *testing.T) {
	_, err := NewWorkflowService(nil, repository.NewMemory(), nil)
	require.ErrorContains(t, err, "generator must not be nil")
	_, err = NewWorkflowService(&fakeGenerator{}, nil, nil)
	require.ErrorContains(t, err, "store must not be nil")
}

func TestWorkflowService_Create(t *testing.T) {
	svc, store := newWorkflowFixture(t)

	wf, err := svc.Create(context.Background(), []byte(`{
		"scenario": "crypto_backed",
		"user_inputs": {"loan_type": "crypto_backed", "property_type": "condo", "additional_details": null}
	}`))
	require.NoError(t, err)
	require.NotEmpty(t, wf.ID)
	require.Equal(t, "CRYPTO_BACKED", wf.Scenario)
	require.NotEmpty(t, wf.Steps)
	require.Equal(t, map[string]string{"loan_type": "crypto_backed", "property_type": "condo"}, wf.UserInputs)

	stored, err := store.GetWorkflow(context.Background(), wf.ID)
	require.NoError(t, err)
	require.Equal(t, *wf, stored)
}

func TestWorkflowService_CreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{name: "malformed json", body: `{"scenario":`, reason: "invalid_json"},
		{name: "empty body", body: ``, reason: "invalid_json"},
		{name: "missing scenario", body: `{"user_inputs":{}}`, reason: "schema_violation"},
		{name: "wrong input type", body: `{"scenario":"FHA","user_inputs":{"income":5}}`, reason: "schema_violation"},
		{name: "unknown scenario", body: `{"scenario":"HELOC"}`, reason: "unknown_scenario"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newWorkflowFixture(t)
			_, err := svc.Create(context.Background(), []byte(tt.body))
			var ue *Error
			require.True(t, errors.As(err, &ue))
			require.Equal(t, ErrorValidation, ue.Code)
			require.Equal(t, tt.reason, ue.Reason)
			require.NotEmpty(t, ue.Detail)
		})
	}
}

func TestWorkflowService_CreateGeneratorError(t *testing.T) {
	svc, err := NewWorkflowService(&fakeGenerator{err: errBoom}, repository.NewMemory(), nil)
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), []byte(`{"scenario":"FHA"}`))
	requireUsecaseError(t, err, ErrorInternal, "Failed to create workflow")
	require.ErrorIs(t, err, errBoom)
}

func TestWorkflowService_GetAndUpdate(t *testing.T) {
	svc, _ := newWorkflowFixture(t)
	ctx := context.Background()
	wf, err := svc.Create(ctx, []byte(`{"scenario":"VA"}`))
	require.NoError(t, err)

	got, err := svc.Get(ctx, wf.ID)
	require.NoError(t, err)
	require.Equal(t, wf.ID, got.ID)

	stepID := got.Steps[1].ID
	updated, err := svc.UpdateStep(ctx, wf.ID, stepID, true)
	require.NoError(t, err)
	require.True(t, updated.Steps[1].IsCompleted)
	require.False(t, updated.Steps[0].IsCompleted)

	updated, err = svc.UpdateStep(ctx, wf.ID, stepID, false)
	require.NoError(t, err)
	require.False(t, updated.Steps[1].IsCompleted)
}

func TestWorkflowService_NotFound(t *testing.T) {
	svc, _ := newWorkflowFixture(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, "missing")
	requireUsecaseError(t, err, ErrorNotFound, "Workflow not found")

	_, err = svc.UpdateStep(ctx, "missing", "s-1", true)
	requireUsecaseError(t, err, ErrorNotFound, "Workflow not found")

	_, err = svc.Get(ctx, " ")
	requireUsecaseError(t, err, ErrorValidation, "Workflow id is required")
}

func TestWorkflowService_Templates(t *testing.T) {
	svc, _ := newWorkflowFixture(t)
	templates := svc.Templates()
	require.Len(t, templates, 5)
	require.Equal(t, "FHA", templates[0].Scenario)
}
