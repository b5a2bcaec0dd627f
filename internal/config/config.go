// Package config loads runtime settings from the environment, an optional
// .env file and an optional config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	RunModeHTTP   = "http"
	RunModeLambda = "lambda"

	BackendLLM   = "llm"
	BackendRules = "rules"

	StoreDynamoDB = "dynamodb"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port               int           `mapstructure:"PORT"`
	RunMode            string        `mapstructure:"RUN_MODE"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	CORSAllowedOrigins string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	ResponseBackend    string        `mapstructure:"RESPONSE_BACKEND"`
	OpenAIAPIKey       string        `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel        string        `mapstructure:"OPENAI_MODEL"`
	OpenAIBaseURL      string        `mapstructure:"OPENAI_BASE_URL"`
	ParamPrefix        string        `mapstructure:"PARAM_PREFIX"`
	LLMTimeout         time.Duration `mapstructure:"LLM_TIMEOUT"`
	WorkflowTimeout    time.Duration `mapstructure:"WORKFLOW_TIMEOUT"`
	HealthCheckTimeout time.Duration `mapstructure:"HEALTH_CHECK_TIMEOUT"`
	WorkflowStore      string        `mapstructure:"WORKFLOW_STORE"`
	WorkflowTable      string        `mapstructure:"WORKFLOW_TABLE"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	RedisAddr          string        `mapstructure:"REDIS_ADDR"`
	RedisPassword      string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB            int           `mapstructure:"REDIS_DB"`
	RateLimitPerMinute int           `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	TrustProxy         bool          `mapstructure:"TRUST_PROXY"`
}

var defaults = map[string]any{
	"PORT":                  8000,
	"RUN_MODE":              "",
	"LOG_LEVEL":             "info",
	"CORS_ALLOWED_ORIGINS":  "http://localhost:3000",
	"RESPONSE_BACKEND":      BackendLLM,
	"OPENAI_API_KEY":        "",
	"OPENAI_MODEL":          "gpt-3.5-turbo",
	"OPENAI_BASE_URL":       "",
	"PARAM_PREFIX":          "",
	"LLM_TIMEOUT":           "30s",
	"WORKFLOW_TIMEOUT":      "10s",
	"HEALTH_CHECK_TIMEOUT":  "3s",
	"WORKFLOW_STORE":        StoreDynamoDB,
	"WORKFLOW_TABLE":        "",
	"DATABASE_URL":          "",
	"REDIS_ADDR":            "",
	"REDIS_PASSWORD":        "",
	"REDIS_DB":              0,
	"RATE_LIMIT_PER_MINUTE": 60,
	"TRUST_PROXY":           false,
}

// Load reads .env (if present), then config.yaml from the working directory
// or ./configs (if present), then the environment. Later sources win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper applies defaults and environment overrides to v and returns the
// validated configuration.
func FromViper(v *viper.Viper) (*Config, error) {
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.RunMode = strings.ToLower(strings.TrimSpace(c.RunMode))
	if c.RunMode == "" {
		c.RunMode = RunModeHTTP
		if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
			c.RunMode = RunModeLambda
		}
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.ResponseBackend = strings.ToLower(strings.TrimSpace(c.ResponseBackend))
	c.WorkflowStore = strings.ToLower(strings.TrimSpace(c.WorkflowStore))
	c.ParamPrefix = strings.TrimRight(strings.TrimSpace(c.ParamPrefix), "/")
	if c.WorkflowTimeout > c.LLMTimeout && c.LLMTimeout > 0 {
		c.WorkflowTimeout = c.LLMTimeout
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.RunMode {
	case RunModeHTTP, RunModeLambda:
	default:
		errs = append(errs, fmt.Errorf("RUN_MODE must be %q or %q, got %q", RunModeHTTP, RunModeLambda, c.RunMode))
	}
	if c.RunMode == RunModeHTTP && (c.Port <= 0 || c.Port > 65535) {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	switch c.ResponseBackend {
	case BackendLLM, BackendRules:
	default:
		errs = append(errs, fmt.Errorf("RESPONSE_BACKEND must be %q or %q, got %q", BackendLLM, BackendRules, c.ResponseBackend))
	}
	switch c.WorkflowStore {
	case StoreDynamoDB:
		if strings.TrimSpace(c.WorkflowTable) == "" {
			errs = append(errs, errors.New("WORKFLOW_TABLE is required when WORKFLOW_STORE=dynamodb"))
		}
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" && c.ParamPrefix == "" {
			errs = append(errs, errors.New("DATABASE_URL or PARAM_PREFIX is required when WORKFLOW_STORE=postgres"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("WORKFLOW_STORE must be one of dynamodb, postgres, memory, got %q", c.WorkflowStore))
	}
	if c.LLMTimeout <= 0 {
		errs = append(errs, errors.New("LLM_TIMEOUT must be positive"))
	}
	if c.WorkflowTimeout <= 0 {
		errs = append(errs, errors.New("WORKFLOW_TIMEOUT must be positive"))
	}
	if c.HealthCheckTimeout <= 0 {
		errs = append(errs, errors.New("HEALTH_CHECK_TIMEOUT must be positive"))
	}
	if c.RedisAddr != "" && c.RateLimitPerMinute <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MINUTE must be positive when REDIS_ADDR is set"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid configuration: %w", err)
	}
	return nil
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// RateLimitEnabled reports whether a Redis address was configured.
func (c *Config) RateLimitEnabled() bool {
	return strings.TrimSpace(c.RedisAddr) != ""
}
