package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"loanflash-agent/handler"
	"loanflash-agent/internal/config"
	"loanflash-agent/internal/integrations/openai"
	"loanflash-agent/internal/integrations/paramstore"
	"loanflash-agent/internal/ratelimit"
	"loanflash-agent/internal/repository"
	"loanflash-agent/internal/rules"
	"loanflash-agent/internal/usecase"
	"loanflash-agent/internal/workflow"
)

func main() {
	os.Exit(run())
}

// run wires the service and blocks until it stops. Deferred cleanup runs
// before the exit code reaches main.
func run() int {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		return 1
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	// ---- AWS SDK config (only when an AWS-backed component is enabled) ----
	var awsCfg aws.Config
	if cfg.WorkflowStore == config.StoreDynamoDB || cfg.ParamPrefix != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			slog.Error("failed to load AWS config", "err", err)
			return 1
		}
	}

	var params *paramstore.Client
	if cfg.ParamPrefix != "" {
		params, err = paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			slog.Error("failed to create SSM client", "err", err)
			return 1
		}
		if err := loadSecrets(ctx, params, cfg); err != nil {
			slog.Error("failed to load secrets from parameter store", "err", err)
			return 1
		}
	}

	// ---- Workflow store ----
	store, closeStore, err := newWorkflowStore(ctx, cfg, awsCfg)
	if err != nil {
		slog.Error("failed to create workflow store", "store", cfg.WorkflowStore, "err", err)
		return 1
	}
	defer closeStore()

	generator, err := workflow.NewDefaultGenerator(store)
	if err != nil {
		slog.Error("failed to create workflow generator", "err", err)
		return 1
	}

	// ---- Response backend ----
	backend, err := newResponseBackend(cfg, params, logger)
	if err != nil {
		slog.Error("failed to create response backend", "backend", cfg.ResponseBackend, "err", err)
		return 1
	}

	// ---- Services ----
	trigger, err := usecase.NewWorkflowTrigger(generator, cfg.WorkflowTimeout, cfg.LLMTimeout, logger)
	if err != nil {
		slog.Error("failed to create workflow trigger", "err", err)
		return 1
	}
	chatService, err := usecase.NewChatService(backend, trigger, logger)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		return 1
	}
	workflowService, err := usecase.NewWorkflowService(generator, store, logger)
	if err != nil {
		slog.Error("failed to create workflow service", "err", err)
		return 1
	}

	components := map[string]usecase.Pinger{
		"database":         store,
		"response_backend": backend,
	}
	opts := []handler.Option{
		handler.WithLogger(logger),
		handler.WithAllowedOrigins(cfg.AllowedOrigins()),
	}
	if cfg.RateLimitEnabled() {
		limiter, err := ratelimit.New(
			ratelimit.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB),
			cfg.RateLimitPerMinute, time.Minute, logger,
		)
		if err != nil {
			slog.Error("failed to create rate limiter", "err", err)
			return 1
		}
		defer func() { _ = limiter.Close() }()
		components["rate_limiter"] = limiter
		opts = append(opts, handler.WithRateLimiter(limiter))
		if cfg.TrustProxy {
			opts = append(opts, handler.WithTrustedProxy())
		}
	}
	if cfg.RunMode == config.RunModeHTTP {
		opts = append(opts, handler.WithMetricsEndpoint())
	}

	health, err := usecase.NewHealthService(components, cfg.HealthCheckTimeout, logger)
	if err != nil {
		slog.Error("failed to create health service", "err", err)
		return 1
	}

	// ---- Handler ----
	h, err := handler.NewHandler(chatService, workflowService, health, opts...)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		return 1
	}

	slog.Info("starting",
		"run_mode", cfg.RunMode,
		"response_backend", backend.Name(),
		"workflow_store", cfg.WorkflowStore,
		"rate_limit", cfg.RateLimitEnabled(),
	)

	if cfg.RunMode == config.RunModeLambda {
		lambda.Start(h.Handle)
		return 0
	}
	if err := serve(cfg.Port, h); err != nil {
		slog.Error("server failed", "err", err)
		return 1
	}
	return 0
}

func newWorkflowStore(ctx context.Context, cfg *config.Config, awsCfg aws.Config) (repository.WorkflowStore, func(), error) {
	noop := func() {}
	switch cfg.WorkflowStore {
	case config.StoreDynamoDB:
		client, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.WorkflowTable)
		return client, noop, err
	case config.StorePostgres:
		db, err := repository.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		pg, err := repository.NewPostgres(db)
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, noop, err
		}
		return pg, func() { _ = pg.Close() }, nil
	case config.StoreMemory:
		return repository.NewMemory(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown workflow store %q", cfg.WorkflowStore)
	}
}

func newResponseBackend(cfg *config.Config, params *paramstore.Client, logger *slog.Logger) (usecase.ResponseBackend, error) {
	if cfg.ResponseBackend == config.BackendRules {
		engine, err := rules.NewDefault()
		if err != nil {
			return nil, err
		}
		return usecase.NewRuleBackend(engine, logger)
	}

	clientOpts := []openai.Option{
		openai.WithAPIKey(cfg.OpenAIAPIKey),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.LLMTimeout}),
	}
	if cfg.OpenAIBaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	if params != nil {
		clientOpts = append(clientOpts, openai.WithParamStore(params, cfg.ParamPrefix))
	}
	client, err := openai.NewClient(clientOpts...)
	if err != nil {
		return nil, err
	}
	if !client.Configured() {
		logger.Warn("LLM credential is not configured; chat requests will fail until OPENAI_API_KEY or PARAM_PREFIX is set")
	}
	return usecase.NewLLMBackend(client, cfg.OpenAIModel, cfg.LLMTimeout, logger)
}

// loadSecrets fills connection secrets that were not set in the environment.
func loadSecrets(ctx context.Context, params *paramstore.Client, cfg *config.Config) error {
	dbName := cfg.ParamPrefix + "/database-url"
	redisName := cfg.ParamPrefix + "/redis-password"
	vals, err := params.GetOptional(ctx, dbName, redisName)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = vals[dbName]
	}
	if cfg.RedisPassword == "" {
		cfg.RedisPassword = vals[redisName]
	}
	if cfg.WorkflowStore == config.StorePostgres && cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set and " + dbName + " was not found")
	}
	return nil
}

func serve(port int, h http.Handler) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	stop()

	slog.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
