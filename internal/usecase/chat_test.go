package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"loanflash-agent/internal/domain"
)

func mustChatService(t *testing.T, b ResponseBackend, tr Trigger) *ChatService {
	t.Helper()
	s, err := NewChatService(b, tr, nil)
	require.NoError(t, err)
	return s
}

func requireUsecaseError(t *testing.T, err error, code ErrorCode, detail string) {
	t.Helper()
	require.Error(t, err)
	var ue *Error
	require.True(t, errors.As(err, &ue))
	require.Equal(t, code, ue.Code)
	require.Equal(t, detail, ue.Detail)
}

func TestNewChatService_NilDeps(t *testing.T) {
	_, err := NewChatService(nil, &fakeTrigger{}, nil)
	require.ErrorContains(t, err, "backend must not be nil")
	_, err = NewChatService(&fakeBackend{}, nil, nil)
	require.ErrorContains(t, err, "trigger must not be nil")
}

func TestChat_EmptyMessages(t *testing.T) {
	b := &fakeBackend{}
	tr := &fakeTrigger{}
	s := mustChatService(t, b, tr)

	_, err := s.Chat(context.Background(), nil)
	requireUsecaseError(t, err, ErrorValidation, "Messages array is required")
	require.Zero(t, b.calls)
	require.Zero(t, tr.calls)
}

func TestChat_NoUserMessage(t *testing.T) {
	b := &fakeBackend{}
	s := mustChatService(t, b, &fakeTrigger{})

	_, err := s.Chat(context.Background(), []domain.ChatMessage{
		{Role: "assistant", Content: "Hello, how can I help?"},
		{Role: "user", Content: "   "},
		{Role: "system", Content: "be nice"},
	})
	requireUsecaseError(t, err, ErrorValidation, "No user message found")
	require.Zero(t, b.calls)
}

func TestChat_BlankLatestUserTurnDoesNotReplayEarlierPrompt(t *testing.T) {
	b := &fakeBackend{result: BackendResult{Success: true, Answer: "should not run"}}
	tr := &fakeTrigger{wf: &domain.Workflow{ID: "never"}}
	s := mustChatService(t, b, tr)

	out, err := s.Chat(context.Background(), []domain.ChatMessage{
		{Role: "user", Content: "I want to apply for an FHA loan"},
		{Role: "assistant", Content: "ok"},
		{Role: "user", Content: ""},
	})
	requireUsecaseError(t, err, ErrorValidation, "No user message found")
	require.Empty(t, out.Answer)
	require.Zero(t, b.calls)
	require.Zero(t, tr.calls)
}

func TestChat_UsesLastUserMessage(t *testing.T) {
	b := &fakeBackend{result: BackendResult{Success: true, Answer: "Sure."}}
	tr := &fakeTrigger{}
	s := mustChatService(t, b, tr)

	history := []domain.ChatMessage{
		{Role: "user", Content: "first question"},
		{Role: "assistant", Content: "first answer"},
		{Role: "user", Content: "How do I apply for an FHA loan?"},
		{Role: "assistant", Content: "trailing assistant turn"},
	}
	out, err := s.Chat(context.Background(), history)
	require.NoError(t, err)
	require.Equal(t, "Sure.", out.Answer)
	require.Nil(t, out.Workflow)

	require.Equal(t, "How do I apply for an FHA loan?", b.lastPrompt)
	require.Equal(t, history, b.lastHistory)
	require.Equal(t, "How do I apply for an FHA loan?", tr.lastMsg)
	require.Equal(t, "Sure.", tr.lastAnswer)
}

func TestChat_ReturnsWorkflow(t *testing.T) {
	wf := &domain.Workflow{ID: "wf-1", Scenario: "FHA"}
	s := mustChatService(t,
		&fakeBackend{result: BackendResult{Success: true, Answer: "a"}},
		&fakeTrigger{wf: wf},
	)
	out, err := s.Chat(context.Background(), []domain.ChatMessage{{Role: "user", Content: "apply for fha"}})
	require.NoError(t, err)
	require.Same(t, wf, out.Workflow)
}

func TestChat_BackendFailure(t *testing.T) {
	tests := []struct {
		name   string
		result BackendResult
		code   ErrorCode
		detail string
	}{
		{
			name:   "upstream",
			result: BackendResult{Kind: BackendErrorUpstream, ErrorDetail: "LLM API returned status 500"},
			code:   ErrorUpstream,
			detail: "LLM API returned status 500",
		},
		{
			name:   "processing",
			result: BackendResult{Kind: BackendErrorProcessing, ErrorDetail: "Error processing query: boom"},
			code:   ErrorProcessing,
			detail: "Error processing query: boom",
		},
		{
			name:   "empty detail",
			result: BackendResult{Kind: BackendErrorProcessing},
			code:   ErrorProcessing,
			detail: "Error processing query",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTrigger{wf: &domain.Workflow{ID: "never"}}
			s := mustChatService(t, &fakeBackend{result: tt.result}, tr)

			out, err := s.Chat(context.Background(), []domain.ChatMessage{{Role: "user", Content: "apply for a loan"}})
			requireUsecaseError(t, err, tt.code, tt.detail)
			require.Empty(t, out.Answer)
			require.Nil(t, out.Workflow)
			require.Zero(t, tr.calls)
		})
	}
}

func TestChat_GeneratorFailureStillAnswers(t *testing.T) {
	gen := &fakeGenerator{err: errBoom}
	tr, err := NewWorkflowTrigger(gen, time.Second, 0, nil)
	require.NoError(t, err)
	s := mustChatService(t, &fakeBackend{result: BackendResult{Success: true, Answer: "Here is how."}}, tr)

	out, err := s.Chat(context.Background(), []domain.ChatMessage{{Role: "user", Content: "How do I apply for a VA loan?"}})
	require.NoError(t, err)
	require.Equal(t, "Here is how.", out.Answer)
	require.Nil(t, out.Workflow)
	require.Equal(t, 1, gen.callCount())
}

func TestLastUserMessage(t *testing.T) {
	tests := []struct {
		name string
		msgs []domain.ChatMessage
		want string
		ok   bool
	}{
		{name: "empty", msgs: nil},
		{name: "only assistant", msgs: []domain.ChatMessage{{Role: "assistant", Content: "hi"}}},
		{
			name: "blank latest user",
			msgs: []domain.ChatMessage{{Role: "user", Content: "real"}, {Role: "user", Content: " "}},
		},
		{
			name: "blank latest user after assistant",
			msgs: []domain.ChatMessage{
				{Role: "user", Content: "I want to apply for an FHA loan"},
				{Role: "assistant", Content: "ok"},
				{Role: "user", Content: ""},
			},
		},
		{
			name: "ignores other roles",
			msgs: []domain.ChatMessage{{Role: "user", Content: "mine"}, {Role: "tool", Content: "x"}},
			want: "mine", ok: true,
		},
		{
			name: "role case-insensitive",
			msgs: []domain.ChatMessage{{Role: "User", Content: "hello"}},
			want: "hello", ok: true,
		},
		{
			name: "latest wins",
			msgs: []domain.ChatMessage{{Role: "user", Content: "a"}, {Role: "assistant", Content: "b"}, {Role: "user", Content: "c"}},
			want: "c", ok: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LastUserMessage(tt.msgs)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}
