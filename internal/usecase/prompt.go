package usecase

import (
	"strings"

	"loanflash-agent/internal/domain"
)

func buildSystemPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You are LoanFlash, an assistant that helps people understand home loans and the mortgage application process.",
		"",
		"Behavior Rules:",
		behaviorRules(),
	}, "\n")
}

func behaviorRules() string {
	return strings.Join([]string{
		"1) Answer the latest user message using the conversation so far.",
		"2) Explain loan programs (FHA, conventional, VA, jumbo, crypto-backed) in plain language.",
		"3) Keep responses concise and practical; prefer short steps over long prose.",
		"4) Do not quote specific rates or guarantee approval; suggest confirming details with a licensed lender.",
		"5) If a question is unrelated to home financing, say so briefly and steer back to mortgages.",
	}, "\n")
}

// buildPromptMessages prepends the system preamble and drops empty turns and
// turns with roles other than system, user or assistant. Caller-supplied
// system messages are kept after the preamble.
func buildPromptMessages(history []domain.ChatMessage) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+1)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: buildSystemPrompt()})
	for _, m := range history {
		content := strings.TrimSpace(m.Content)
		role, ok := normalizeRole(m.Role)
		if content == "" || !ok {
			continue
		}
		messages = append(messages, domain.ChatMessage{Role: role, Content: content})
	}
	return messages
}

func normalizeRole(role string) (string, bool) {
	switch r := strings.ToLower(strings.TrimSpace(role)); r {
	case domain.RoleSystem, domain.RoleUser, domain.RoleAssistant:
		return r, true
	default:
		return "", false
	}
}
