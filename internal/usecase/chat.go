package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"loanflash-agent/internal/domain"
)

// Trigger produces an optional workflow for a chat turn.
type Trigger interface {
	MaybeGenerate(ctx context.Context, userMessage, answer string) *domain.Workflow
}

// ChatService runs one chat turn: validate, extract, respond, trigger, assemble.
type ChatService struct {
	backend ResponseBackend
	trigger Trigger
	logger  *slog.Logger
}

func NewChatService(backend ResponseBackend, trigger Trigger, logger *slog.Logger) (*ChatService, error) {
	if backend == nil {
		return nil, errors.New("usecase: response backend must not be nil")
	}
	if trigger == nil {
		return nil, errors.New("usecase: workflow trigger must not be nil")
	}
	return &ChatService{backend: backend, trigger: trigger, logger: loggerOrDefault(logger)}, nil
}

func (s *ChatService) Chat(ctx context.Context, messages []domain.ChatMessage) (domain.ChatResponse, error) {
	logger := s.logger.With("backend", s.backend.Name())

	if len(messages) == 0 {
		logger.Warn("chat rejected", "reason", "empty_messages")
		return domain.ChatResponse{}, newError(ErrorValidation, "empty_messages", "Messages array is required", nil)
	}
	logger.Info("chat received", "messages", len(messages))

	userMessage, ok := LastUserMessage(messages)
	if !ok {
		logger.Warn("chat rejected", "reason", "no_user_message")
		return domain.ChatResponse{}, newError(ErrorValidation, "no_user_message", "No user message found", nil)
	}
	logger.Debug("user message extracted", "length", len(userMessage))

	res := s.backend.Respond(ctx, userMessage, messages)
	if !res.Success {
		detail := strings.TrimSpace(res.ErrorDetail)
		if detail == "" {
			detail = "Error processing query"
		}
		code, reason := ErrorUpstream, "backend_upstream"
		if res.Kind == BackendErrorProcessing {
			code, reason = ErrorProcessing, "backend_processing"
		}
		logger.Error("backend failed", "kind", string(res.Kind), "detail", detail)
		return domain.ChatResponse{}, newError(code, reason, detail, nil)
	}
	logger.Info("backend answered", "answer_length", len(res.Answer))
	if res.Explanation != "" {
		logger.Debug("backend explanation", "explanation", res.Explanation)
	}

	wf := s.trigger.MaybeGenerate(ctx, userMessage, res.Answer)
	if wf != nil {
		logger.Info("chat completed", "workflow_id", wf.ID)
	} else {
		logger.Info("chat completed", "workflow", false)
	}

	return domain.ChatResponse{Answer: res.Answer, Workflow: wf}, nil
}

// LastUserMessage returns the content of the most recent user message. It
// reports false when there is none or when that message is blank.
func LastUserMessage(messages []domain.ChatMessage) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if !strings.EqualFold(strings.TrimSpace(m.Role), domain.RoleUser) {
			continue
		}
		content := strings.TrimSpace(m.Content)
		return content, content != ""
	}
	return "", false
}
