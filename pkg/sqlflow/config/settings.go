package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	sferrors "github.com/randalmurphal/sqlflow/pkg/sqlflow/errors"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/pipeline"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/schema"
)

// Storage drivers for records and checkpoints.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Settings is the typed configuration of a sqlflow process.
type Settings struct {
	Database   DatabaseSettings
	LLM        LLMSettings
	Schema     SchemaSettings
	Pipeline   PipelineSettings
	Cache      CacheSettings
	Store      StorageSettings
	Checkpoint StorageSettings
	Server     ServerSettings
	Log        LogSettings
}

// DatabaseSettings selects the queried database.
type DatabaseSettings struct {
	Driver        string
	URL           string
	QueryTimeout  time.Duration
	IncludeTables []string
	ExcludeTables []string
}

// LLMSettings configures the model client.
type LLMSettings struct {
	APIKey        string
	Model         string
	FallbackModel string
	MaxTokens     int
	Temperature   float64
	Timeout       time.Duration
	Retry         RetrySettings
}

// RetrySettings bounds retries of transient model failures.
type RetrySettings struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// SchemaSettings configures schema caching and rendering.
type SchemaSettings struct {
	CacheTTL    time.Duration
	TokenBudget int
	Selection   schema.Selection
	MaxTables   int
}

// PipelineSettings bounds the pipeline's loops.
type PipelineSettings struct {
	TopK                 int
	MaxHistoryMessages   int
	MaxCorrections       int
	MaxToolCalls         int
	MaxPlanSteps         int
	MaxSynthesisAttempts int
	MaxIterations        int
}

// CacheSettings configures the query result cache.
type CacheSettings struct {
	Enabled bool
	TTL     time.Duration
}

// StorageSettings selects a memory or SQLite store.
type StorageSettings struct {
	Driver string
	Path   string
}

// ServerSettings configures the HTTP surface.
type ServerSettings struct {
	Addr        string
	RateLimit   int
	CORSOrigins []string
}

// LogSettings configures the process logger.
type LogSettings struct {
	Level  string
	Format string
}

// defaults holds every known key. Its keys are also the set of
// environment overrides.
var defaults = map[string]any{
	"database.driver":                 "sqlite",
	"database.url":                    "./local.db",
	"database.query_timeout":          "30s",
	"database.include_tables":         []string{},
	"database.exclude_tables":         []string{},
	"llm.api_key":                     "",
	"llm.model":                       "claude-sonnet-4-5",
	"llm.fallback_model":              "",
	"llm.max_tokens":                  4096,
	"llm.temperature":                 0.0,
	"llm.timeout":                     "60s",
	"llm.retry.max_attempts":          3,
	"llm.retry.initial_backoff":       "2s",
	"llm.retry.max_backoff":           "10s",
	"schema.cache_ttl":                "1h",
	"schema.token_budget":             8000,
	"schema.selection":                "keyword",
	"schema.max_tables":               15,
	"pipeline.top_k":                  100,
	"pipeline.max_history_messages":   20,
	"pipeline.max_corrections":        2,
	"pipeline.max_tool_calls":         8,
	"pipeline.max_plan_steps":         7,
	"pipeline.max_synthesis_attempts": 1,
	"pipeline.max_iterations":         100,
	"cache.enabled":                   true,
	"cache.ttl":                       "24h",
	"store.driver":                    "sqlite",
	"store.path":                      "./sqlflow.db",
	"checkpoint.driver":               "sqlite",
	"checkpoint.path":                 "./checkpoints.db",
	"server.addr":                     ":8000",
	"server.rate_limit":               60,
	"server.cors_origins":             []string{"*"},
	"log.level":                       "info",
	"log.format":                      "text",
}

// Keys returns every recognized configuration key.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	return keys
}

// LoadSettings reads .env, then the config file at path (skipped when
// empty), then SQLFLOW_* environment overrides, and validates the result.
// ANTHROPIC_API_KEY supplies llm.api_key when no override sets it.
func LoadSettings(path string) (*Settings, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := New(nil)
	if path != "" {
		var err error
		if cfg, err = FromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(Keys(), os.LookupEnv)
	if cfg.String("llm.api_key", "") == "" {
		if key, ok := os.LookupEnv("ANTHROPIC_API_KEY"); ok {
			cfg.Set("llm.api_key", key)
		}
	}

	s := FromConfig(cfg)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// FromConfig builds Settings from cfg, filling every missing key with its
// default. It does not validate.
func FromConfig(cfg Config) *Settings {
	d := New(nil)
	for k, v := range defaults {
		d.Set(k, v)
	}
	str := func(k string) string { return cfg.String(k, d.String(k, "")) }
	num := func(k string) int { return cfg.Int(k, d.Int(k, 0)) }
	dur := func(k string) time.Duration { return cfg.Duration(k, d.Duration(k, 0)) }
	list := func(k string) []string { return cfg.StringSlice(k, d.StringSlice(k, nil)) }

	return &Settings{
		Database: DatabaseSettings{
			Driver:        strings.ToLower(str("database.driver")),
			URL:           str("database.url"),
			QueryTimeout:  dur("database.query_timeout"),
			IncludeTables: list("database.include_tables"),
			ExcludeTables: list("database.exclude_tables"),
		},
		LLM: LLMSettings{
			APIKey:        str("llm.api_key"),
			Model:         str("llm.model"),
			FallbackModel: str("llm.fallback_model"),
			MaxTokens:     num("llm.max_tokens"),
			Temperature:   cfg.Float("llm.temperature", d.Float("llm.temperature", 0)),
			Timeout:       dur("llm.timeout"),
			Retry: RetrySettings{
				MaxAttempts:    num("llm.retry.max_attempts"),
				InitialBackoff: dur("llm.retry.initial_backoff"),
				MaxBackoff:     dur("llm.retry.max_backoff"),
			},
		},
		Schema: SchemaSettings{
			CacheTTL:    dur("schema.cache_ttl"),
			TokenBudget: num("schema.token_budget"),
			Selection:   schema.Selection(strings.ToLower(str("schema.selection"))),
			MaxTables:   num("schema.max_tables"),
		},
		Pipeline: PipelineSettings{
			TopK:                 num("pipeline.top_k"),
			MaxHistoryMessages:   num("pipeline.max_history_messages"),
			MaxCorrections:       num("pipeline.max_corrections"),
			MaxToolCalls:         num("pipeline.max_tool_calls"),
			MaxPlanSteps:         num("pipeline.max_plan_steps"),
			MaxSynthesisAttempts: num("pipeline.max_synthesis_attempts"),
			MaxIterations:        num("pipeline.max_iterations"),
		},
		Cache: CacheSettings{
			Enabled: cfg.Bool("cache.enabled", d.Bool("cache.enabled", true)),
			TTL:     dur("cache.ttl"),
		},
		Store: StorageSettings{
			Driver: strings.ToLower(str("store.driver")),
			Path:   str("store.path"),
		},
		Checkpoint: StorageSettings{
			Driver: strings.ToLower(str("checkpoint.driver")),
			Path:   str("checkpoint.path"),
		},
		Server: ServerSettings{
			Addr:        str("server.addr"),
			RateLimit:   num("server.rate_limit"),
			CORSOrigins: list("server.cors_origins"),
		},
		Log: LogSettings{
			Level:  strings.ToLower(str("log.level")),
			Format: strings.ToLower(str("log.format")),
		},
	}
}

// Validate reports every invalid setting.
func (s *Settings) Validate() error {
	var errs []error
	switch s.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", s.Database.Driver))
	}
	if strings.TrimSpace(s.Database.URL) == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	for name, st := range map[string]StorageSettings{"store": s.Store, "checkpoint": s.Checkpoint} {
		switch st.Driver {
		case DriverMemory:
		case DriverSQLite:
			if st.Path == "" {
				errs = append(errs, fmt.Errorf("%s.path is required for the sqlite driver", name))
			}
		default:
			errs = append(errs, fmt.Errorf("%s.driver: unknown driver %q", name, st.Driver))
		}
	}
	for _, limit := range []struct {
		name  string
		value int
	}{
		{"llm.max_tokens", s.LLM.MaxTokens},
		{"llm.retry.max_attempts", s.LLM.Retry.MaxAttempts},
		{"schema.max_tables", s.Schema.MaxTables},
		{"server.rate_limit", s.Server.RateLimit},
	} {
		if limit.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", limit.name, limit.value))
		}
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"database.query_timeout", s.Database.QueryTimeout},
		{"schema.cache_ttl", s.Schema.CacheTTL},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.value))
		}
	}
	if err := s.PipelineConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: %w", err))
	}
	if _, err := ParseLevel(s.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch s.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q (want text or json)", s.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid settings: %w", errors.Join(errs...))
	}
	return nil
}

// PipelineConfig returns the pipeline limits described by the settings.
func (s *Settings) PipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.TopK = s.Pipeline.TopK
	cfg.TokenBudget = s.Schema.TokenBudget
	cfg.Selection = s.Schema.Selection
	cfg.MaxTables = s.Schema.MaxTables
	cfg.MaxHistoryMessages = s.Pipeline.MaxHistoryMessages
	cfg.MaxCorrections = s.Pipeline.MaxCorrections
	cfg.MaxToolCalls = s.Pipeline.MaxToolCalls
	cfg.MaxPlanSteps = s.Pipeline.MaxPlanSteps
	cfg.MaxSynthesisAttempts = s.Pipeline.MaxSynthesisAttempts
	cfg.MaxIterations = s.Pipeline.MaxIterations
	cfg.QueryTimeout = s.Database.QueryTimeout
	cfg.MaxTokens = s.LLM.MaxTokens
	cfg.Temperature = s.LLM.Temperature
	return cfg
}

// RetryConfig returns the model retry policy. Each attempt is bounded by
// llm.timeout.
func (s *Settings) RetryConfig() sferrors.RetryConfig {
	return sferrors.NewRetryConfig(
		sferrors.WithMaxAttempts(s.LLM.Retry.MaxAttempts),
		sferrors.WithInitialBackoff(s.LLM.Retry.InitialBackoff),
		sferrors.WithMaxBackoff(s.LLM.Retry.MaxBackoff),
		sferrors.WithAttemptTimeout(s.LLM.Timeout),
	)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log.level: unknown level %q", name)
	}
}
