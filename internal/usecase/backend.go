package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"loanflash-agent/internal/domain"
	"loanflash-agent/internal/integrations/openai"
	"loanflash-agent/internal/metrics"
	"loanflash-agent/internal/rules"
)

const (
	defaultModel       = "gpt-3.5-turbo"
	defaultTemperature = 0.7
	defaultMaxTokens   = 500
	defaultLLMTimeout  = 30 * time.Second
)

// BackendErrorKind tells the chat service which error code a failed backend
// call maps to.
type BackendErrorKind string

const (
	BackendErrorUpstream   BackendErrorKind = "upstream"
	BackendErrorProcessing BackendErrorKind = "processing"
)

// BackendResult is the outcome of one Respond call. Answer is set iff
// Success; ErrorDetail and Kind are set iff !Success.
type BackendResult struct {
	Success     bool
	Answer      string
	Explanation string
	ErrorDetail string
	Kind        BackendErrorKind
}

func backendFailure(kind BackendErrorKind, detail string) BackendResult {
	return BackendResult{Kind: kind, ErrorDetail: detail}
}

// ResponseBackend produces an answer for the latest user message. Respond
// never returns an error; failures are reported in the result.
type ResponseBackend interface {
	Name() string
	Respond(ctx context.Context, prompt string, history []domain.ChatMessage) BackendResult
	Ping(ctx context.Context) error
}

type LLMClient interface {
	Chat(ctx context.Context, in openai.Completion) (string, error)
	Ping(ctx context.Context) error
	Configured() bool
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// LLMBackend forwards the full conversation to a chat-completion API.
type LLMBackend struct {
	client  LLMClient
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

func NewLLMBackend(client LLMClient, model string, timeout time.Duration, logger *slog.Logger) (*LLMBackend, error) {
	if client == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = defaultLLMTimeout
	}
	return &LLMBackend{client: client, model: model, timeout: timeout, logger: loggerOrDefault(logger)}, nil
}

func (b *LLMBackend) Name() string { return "llm" }

func (b *LLMBackend) Respond(ctx context.Context, _ string, history []domain.ChatMessage) BackendResult {
	start := time.Now()
	res := b.respond(ctx, history)
	observeBackend(b.Name(), start, res)
	return res
}

func (b *LLMBackend) respond(ctx context.Context, history []domain.ChatMessage) BackendResult {
	if !b.client.Configured() {
		b.logger.Error("llm backend not configured")
		return backendFailure(BackendErrorUpstream, "LLM credential is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	answer, err := b.client.Chat(ctx, openai.Completion{
		Model:       b.model,
		Messages:    buildPromptMessages(history),
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	})
	if err != nil {
		b.logger.Error("llm request failed", "model", b.model, "err", err)
		return backendFailure(BackendErrorUpstream, llmErrorDetail(err))
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		b.logger.Error("llm returned empty content", "model", b.model)
		return backendFailure(BackendErrorUpstream, "LLM returned an empty response")
	}
	return BackendResult{Success: true, Answer: answer}
}

func (b *LLMBackend) Ping(ctx context.Context) error {
	if !b.client.Configured() {
		return openai.ErrMissingAPIKey
	}
	return b.client.Ping(ctx)
}

const maxDetailBody = 300

// llmErrorDetail describes a failed LLM call for the client, keeping the
// upstream error text.
func llmErrorDetail(err error) string {
	switch {
	case errors.Is(err, openai.ErrMissingAPIKey):
		return "LLM credential is not configured"
	case errors.Is(err, context.DeadlineExceeded):
		return "LLM request timed out"
	case errors.Is(err, context.Canceled):
		return "LLM request was cancelled"
	}
	var httpErr *openai.HTTPStatusError
	if errors.As(err, &httpErr) {
		detail := fmt.Sprintf("LLM API returned status %d", httpErr.StatusCode)
		if body := truncate(strings.TrimSpace(httpErr.Body), maxDetailBody); body != "" {
			detail += ": " + body
		}
		return detail
	}
	var statusErr httpStatusCoder
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("LLM API returned status %d: %v", statusErr.HTTPStatusCode(), err)
	}
	return fmt.Sprintf("LLM request failed: %v", err)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// QueryProcessor answers a single query locally.
type QueryProcessor interface {
	ProcessQuery(ctx context.Context, query string) (rules.Result, error)
}

// RuleBackend answers from a local keyword rule table.
type RuleBackend struct {
	engine QueryProcessor
	logger *slog.Logger
}

func NewRuleBackend(engine QueryProcessor, logger *slog.Logger) (*RuleBackend, error) {
	if engine == nil {
		return nil, errors.New("usecase: rule engine must not be nil")
	}
	return &RuleBackend{engine: engine, logger: loggerOrDefault(logger)}, nil
}

func (b *RuleBackend) Name() string { return "rules" }

func (b *RuleBackend) Respond(ctx context.Context, prompt string, _ []domain.ChatMessage) BackendResult {
	start := time.Now()
	res := b.respond(ctx, prompt)
	observeBackend(b.Name(), start, res)
	return res
}

func (b *RuleBackend) respond(ctx context.Context, prompt string) (res BackendResult) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("rule engine panicked", "panic", r)
			res = backendFailure(BackendErrorProcessing, "Error processing query")
		}
	}()

	out, err := b.engine.ProcessQuery(ctx, prompt)
	if err != nil {
		b.logger.Error("rule engine failed", "err", err)
		return backendFailure(BackendErrorProcessing, fmt.Sprintf("Error processing query: %v", err))
	}
	if !out.Success || strings.TrimSpace(out.Answer) == "" {
		return backendFailure(BackendErrorProcessing, "Error processing query: no answer produced")
	}
	return BackendResult{Success: true, Answer: out.Answer, Explanation: out.Explanation}
}

// Ping runs a canned query through the engine.
func (b *RuleBackend) Ping(ctx context.Context) error {
	out, err := b.engine.ProcessQuery(ctx, "mortgage")
	if err != nil {
		return fmt.Errorf("usecase: rule engine ping: %w", err)
	}
	if !out.Success {
		return errors.New("usecase: rule engine ping: no answer")
	}
	return nil
}

func observeBackend(name string, start time.Time, res BackendResult) {
	outcome := metrics.OutcomeSuccess
	if !res.Success {
		outcome = metrics.OutcomeFailure
	}
	metrics.BackendRequests.WithLabelValues(name, outcome).Inc()
	metrics.BackendDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
