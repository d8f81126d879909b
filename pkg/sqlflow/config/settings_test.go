package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow/config"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/pipeline"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/schema"
)

func TestFromConfig_Defaults(t *testing.T) {
	s := config.FromConfig(config.New(nil))
	require.NoError(t, s.Validate())

	assert.Equal(t, "sqlite", s.Database.Driver)
	assert.Equal(t, "./local.db", s.Database.URL)
	assert.Equal(t, 30*time.Second, s.Database.QueryTimeout)
	assert.Empty(t, s.Database.IncludeTables)
	assert.Equal(t, "claude-sonnet-4-5", s.LLM.Model)
	assert.Equal(t, 3, s.LLM.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, s.LLM.Retry.InitialBackoff)
	assert.Equal(t, time.Hour, s.Schema.CacheTTL)
	assert.Equal(t, schema.SelectKeyword, s.Schema.Selection)
	assert.True(t, s.Cache.Enabled)
	assert.Equal(t, 24*time.Hour, s.Cache.TTL)
	assert.Equal(t, config.DriverSQLite, s.Store.Driver)
	assert.Equal(t, "./checkpoints.db", s.Checkpoint.Path)
	assert.Equal(t, ":8000", s.Server.Addr)
	assert.Equal(t, []string{"*"}, s.Server.CORSOrigins)
	assert.Equal(t, "info", s.Log.Level)

	assert.Equal(t, pipeline.DefaultConfig(), s.PipelineConfig(), "defaults agree with the pipeline's own")
}

func TestFromConfig_FileValues(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
database:
  driver: Postgres
  url: postgres://db/app
  exclude_tables: [audit_log]
pipeline:
  max_corrections: 0
  max_plan_steps: 3
cache:
  enabled: false
store:
  driver: memory
`))
	require.NoError(t, err)
	s := config.FromConfig(cfg)
	require.NoError(t, s.Validate())

	assert.Equal(t, "postgres", s.Database.Driver)
	assert.Equal(t, []string{"audit_log"}, s.Database.ExcludeTables)
	assert.False(t, s.Cache.Enabled)
	assert.Equal(t, config.DriverMemory, s.Store.Driver)

	pc := s.PipelineConfig()
	assert.Equal(t, 0, pc.MaxCorrections)
	assert.Equal(t, 3, pc.MaxPlanSteps)

	retry := s.RetryConfig()
	assert.Equal(t, 3, retry.MaxAttempts)
	assert.Equal(t, 60*time.Second, retry.AttemptTimeout)
}

func TestSettings_Validate(t *testing.T) {
	s := config.FromConfig(config.New(map[string]any{
		"database": map[string]any{"driver": "oracle", "url": " "},
		"store":    map[string]any{"driver": "redis"},
		"pipeline": map[string]any{"max_tool_calls": 0},
		"log":      map[string]any{"level": "loud", "format": "xml"},
	}))

	err := s.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown driver "oracle"`,
		"database.url is required",
		`store.driver: unknown driver "redis"`,
		"max_tool_calls must be positive",
		`unknown level "loud"`,
		`unknown format "xml"`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadSettings_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sqlflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  url: ./file.db\nserver:\n  addr: :9000\n"), 0o600))
	t.Setenv("SQLFLOW_DATABASE_URL", "./env.db")
	t.Setenv("SQLFLOW_DATABASE_INCLUDE_TABLES", "users,orders")
	t.Setenv("SQLFLOW_LLM_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	s, err := config.LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "./env.db", s.Database.URL)
	assert.Equal(t, []string{"users", "orders"}, s.Database.IncludeTables)
	assert.Equal(t, ":9000", s.Server.Addr)
	assert.Equal(t, "sk-test", s.LLM.APIKey)
}

func TestLoadSettings_Invalid(t *testing.T) {
	t.Setenv("SQLFLOW_PIPELINE_MAX_ITERATIONS", "-1")
	_, err := config.LoadSettings("")
	assert.ErrorContains(t, err, "max_iterations must be positive")
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]string{"debug": "DEBUG", "INFO": "INFO", "warning": "WARN", "error": "ERROR"} {
		level, err := config.ParseLevel(name)
		require.NoError(t, err)
		assert.Equal(t, want, level.String())
	}
	_, err := config.ParseLevel("verbose")
	assert.Error(t, err)
}
