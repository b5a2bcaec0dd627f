package domain

// Chat roles accepted on the wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape used by the handler
// and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the canonical success payload of the chat endpoint.
// Workflow is serialized as null when no workflow was produced.
type ChatResponse struct {
	Answer   string    `json:"answer"`
	Workflow *Workflow `json:"workflow"`
}
