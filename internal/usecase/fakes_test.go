package usecase

import (
	"context"
	"errors"
	"sync"

	"loanflash-agent/internal/domain"
	"loanflash-agent/internal/integrations/openai"
	"loanflash-agent/internal/rules"
	"loanflash-agent/internal/workflow"
)

type fakeLLM struct {
	answer     string
	err        error
	configured bool
	block      bool
	pingErr    error

	calls  int
	lastIn openai.Completion
}

func (f *fakeLLM) Chat(ctx context.Context, in openai.Completion) (string, error) {
	f.calls++
	f.lastIn = in
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.answer, f.err
}

func (f *fakeLLM) Ping(_ context.Context) error { return f.pingErr }

func (f *fakeLLM) Configured() bool { return f.configured }

type fakeEngine struct {
	result rules.Result
	err    error
	panic  bool

	lastQuery string
}

func (f *fakeEngine) ProcessQuery(_ context.Context, q string) (rules.Result, error) {
	f.lastQuery = q
	if f.panic {
		panic("engine exploded")
	}
	return f.result, f.err
}

type fakeBackend struct {
	result BackendResult

	calls       int
	lastPrompt  string
	lastHistory []domain.ChatMessage
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Respond(_ context.Context, prompt string, history []domain.ChatMessage) BackendResult {
	f.calls++
	f.lastPrompt = prompt
	f.lastHistory = history
	return f.result
}

func (f *fakeBackend) Ping(_ context.Context) error { return nil }

type fakeTrigger struct {
	wf *domain.Workflow

	calls      int
	lastMsg    string
	lastAnswer string
}

func (f *fakeTrigger) MaybeGenerate(_ context.Context, msg, answer string) *domain.Workflow {
	f.calls++
	f.lastMsg = msg
	f.lastAnswer = answer
	return f.wf
}

type fakeGenerator struct {
	wf    *domain.Workflow
	err   error
	panic bool
	block bool

	mu      sync.Mutex
	calls   int
	lastReq domain.WorkflowRequest
}

func (f *fakeGenerator) Generate(ctx context.Context, req domain.WorkflowRequest) (*domain.Workflow, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	f.mu.Unlock()
	if f.panic {
		panic("generator exploded")
	}
	if f.block {
		select {}
	}
	return f.wf, f.err
}

func (f *fakeGenerator) Templates() []workflow.Template { return nil }

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type statusErr struct{ code int }

func (e statusErr) Error() string { return "status error" }
func (e statusErr) HTTPStatusCode() int { return e.code }

var errBoom = errors.New("boom")
