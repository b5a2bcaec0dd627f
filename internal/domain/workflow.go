package domain

import "time"

// Keys placed in WorkflowRequest.UserInputs by the chat pipeline.
const (
	InputQueryContext = "query_context"
	InputNLPResponse  = "nlp_response"
)

// WorkflowRequest is what a workflow generator receives.
type WorkflowRequest struct {
	Scenario   string            `json:"scenario"`
	UserInputs map[string]string `json:"user_inputs"`
}

// WorkflowStep is a single actionable item in a mortgage application.
type WorkflowStep struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	RequiredDocs []string `json:"required_docs"`
	IsCompleted  bool     `json:"is_completed"`
}

// Workflow is the ordered list of steps generated for one scenario.
type Workflow struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Scenario   string            `json:"scenario"`
	Steps      []WorkflowStep    `json:"steps"`
	UserInputs map[string]string `json:"user_inputs,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Step returns the index of the step with the given id, or -1.
func (w *Workflow) Step(stepID string) int {
	for i := range w.Steps {
		if w.Steps[i].ID == stepID {
			return i
		}
	}
	return -1
}
