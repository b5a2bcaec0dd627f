package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"loanflash-agent/internal/domain"
	"loanflash-agent/internal/scenario"
)

type fakeSaver struct {
	saved []domain.Workflow
	err   error
}

func (f *fakeSaver) SaveWorkflow(_ context.Context, wf domain.Workflow) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, wf)
	return nil
}

func newTestGenerator(t *testing.T, s Saver) *Generator {
	t.Helper()
	g, err := NewDefaultGenerator(s)
	require.NoError(t, err)
	n := 0
	g.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	g.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return g
}

func TestNewGenerator_Validation(t *testing.T) {
	_, err := NewGenerator(nil, defaultTemplates)
	require.Error(t, err)

	_, err = NewGenerator(&fakeSaver{}, []byte("- scenario: [oops"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse templates")

	_, err = NewGenerator(&fakeSaver{}, []byte("- scenario: USDA\n  title: x\n  steps: [{title: a}]\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown label")

	_, err = NewGenerator(&fakeSaver{}, []byte("- scenario: FHA\n  title: x\n  steps: []\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no steps")

	_, err = NewGenerator(&fakeSaver{}, []byte("- scenario: FHA\n  title: x\n  steps: [{title: a}]\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing template")
}

func TestTemplates_CoverEveryScenarioInOrder(t *testing.T) {
	g := newTestGenerator(t, &fakeSaver{})
	tpls := g.Templates()
	require.Len(t, tpls, len(scenario.Labels()))
	for i, label := range scenario.Labels() {
		require.Equal(t, string(label), tpls[i].Scenario)
		require.NotEmpty(t, tpls[i].Title)
		require.NotEmpty(t, tpls[i].Steps)
	}
}

func TestGenerate_HappyPath(t *testing.T) {
	s := &fakeSaver{}
	g := newTestGenerator(t, s)
	inputs := map[string]string{
		domain.InputQueryContext: "I want to apply for an FHA loan",
		domain.InputNLPResponse:  "FHA loans allow 3.5% down.",
	}

	wf, err := g.Generate(context.Background(), domain.WorkflowRequest{Scenario: "FHA", UserInputs: inputs})
	require.NoError(t, err)
	require.Equal(t, "id-1", wf.ID)
	require.Equal(t, "FHA", wf.Scenario)
	require.Equal(t, "FHA Loan Application", wf.Title)
	require.Len(t, wf.Steps, 5)
	require.Equal(t, "id-2", wf.Steps[0].ID)
	require.False(t, wf.Steps[0].IsCompleted)
	require.Equal(t, inputs, wf.UserInputs)
	require.Equal(t, wf.CreatedAt, wf.UpdatedAt)

	require.Len(t, s.saved, 1)
	require.Equal(t, wf.ID, s.saved[0].ID)

	inputs["query_context"] = "mutated"
	require.NotEqual(t, "mutated", wf.UserInputs[domain.InputQueryContext])
}

func TestGenerate_AcceptsFormScenarioValues(t *testing.T) {
	g := newTestGenerator(t, &fakeSaver{})
	wf, err := g.Generate(context.Background(), domain.WorkflowRequest{Scenario: "crypto_backed"})
	require.NoError(t, err)
	require.Equal(t, "CRYPTO_BACKED", wf.Scenario)
}

func TestGenerate_UnknownScenario(t *testing.T) {
	s := &fakeSaver{}
	g := newTestGenerator(t, s)
	_, err := g.Generate(context.Background(), domain.WorkflowRequest{Scenario: "USDA"})
	require.Error(t, err)
	require.Empty(t, s.saved)
}

func TestGenerate_StoreError(t *testing.T) {
	g := newTestGenerator(t, &fakeSaver{err: errors.New("table missing")})
	_, err := g.Generate(context.Background(), domain.WorkflowRequest{Scenario: "VA"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "table missing")
}
