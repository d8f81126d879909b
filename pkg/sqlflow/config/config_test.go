package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow/config"
)

func TestConfig_DottedLookup(t *testing.T) {
	cfg := config.New(map[string]any{
		"database": map[string]any{
			"url":            "postgres://localhost/app",
			"include_tables": []any{"users", "orders"},
		},
		"llm": map[string]any{
			"retry": map[string]any{"max_attempts": 5},
		},
		"flat": "value",
	})

	assert.Equal(t, "postgres://localhost/app", cfg.String("database.url", ""))
	assert.Equal(t, []string{"users", "orders"}, cfg.StringSlice("database.include_tables", nil))
	assert.Equal(t, 5, cfg.Int("llm.retry.max_attempts", 3))
	assert.Equal(t, "value", cfg.String("flat", ""))
	assert.Equal(t, "fallback", cfg.String("database.url.deeper", "fallback"))
	assert.Equal(t, "fallback", cfg.String("missing.key", "fallback"))
	assert.True(t, cfg.Has("llm.retry"))
	assert.Equal(t, 5, cfg.Section("llm.retry").Int("max_attempts", 0))
	assert.Empty(t, cfg.Section("nope").Raw())
}

func TestConfig_StringCoercion(t *testing.T) {
	cfg := config.New(map[string]any{
		"n":     " 42 ",
		"f":     "0.5",
		"b":     "true",
		"d":     "90s",
		"secs":  "15",
		"list":  "a, b,,c",
		"bad":   "nope",
		"float": 2.5,
	})

	assert.Equal(t, 42, cfg.Int("n", 0))
	assert.Equal(t, 0.5, cfg.Float("f", 0))
	assert.True(t, cfg.Bool("b", false))
	assert.Equal(t, 90*time.Second, cfg.Duration("d", 0))
	assert.Equal(t, 15*time.Second, cfg.Duration("secs", 0))
	assert.Equal(t, []string{"a", "b", "c"}, cfg.StringSlice("list", nil))
	assert.Equal(t, 7, cfg.Int("bad", 7))
	assert.False(t, cfg.Bool("bad", false))
	assert.Equal(t, time.Minute, cfg.Duration("bad", time.Minute))
	assert.Equal(t, 3, cfg.Int("float", 3), "fractional floats do not truncate")
}

func TestConfig_SetCreatesNestedMaps(t *testing.T) {
	cfg := config.New(nil)
	cfg.Set("a.b.c", "deep")
	cfg.Set("a.x", 1)
	assert.Equal(t, "deep", cfg.String("a.b.c", ""))
	assert.Equal(t, 1, cfg.Int("a.x", 0))

	cfg.Set("a.b", "flat")
	assert.Equal(t, "flat", cfg.String("a.b", ""))
	assert.False(t, cfg.Has("a.b.c"))
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "sqlflow.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("database:\n  url: ./app.db\n  query_timeout: 5s\n"), 0o600))
	jsonPath := filepath.Join(dir, "sqlflow.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"pipeline": {"max_corrections": 4}}`), 0o600))

	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "./app.db", cfg.String("database.url", ""))
	assert.Equal(t, 5*time.Second, cfg.Duration("database.query_timeout", 0))

	cfg, err = config.FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Int("pipeline.max_corrections", 0))

	_, err = config.FromFile(filepath.Join(dir, "sqlflow.toml"))
	assert.Error(t, err)

	_, err = config.FromYAML([]byte("database: [unclosed"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := config.New(map[string]any{"database": map[string]any{"url": "./file.db"}})
	env := map[string]string{
		"SQLFLOW_DATABASE_URL":             "./env.db",
		"SQLFLOW_PIPELINE_MAX_CORRECTIONS": "5",
	}
	cfg.ApplyEnv([]string{"database.url", "pipeline.max_corrections", "log.level"}, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, "./env.db", cfg.String("database.url", ""))
	assert.Equal(t, 5, cfg.Int("pipeline.max_corrections", 0))
	assert.False(t, cfg.Has("log.level"))
	assert.Equal(t, "SQLFLOW_LLM_RETRY_MAX_ATTEMPTS", config.EnvName("llm.retry.max_attempts"))
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SQLFLOW_TEST_DOTENV=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SQLFLOW_TEST_DOTENV") })

	require.NoError(t, config.LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("SQLFLOW_TEST_DOTENV"))
}
