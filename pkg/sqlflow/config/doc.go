/*
Package config loads sqlflow settings.

# Overview

Config wraps a nested map[string]any decoded from YAML or JSON and offers
typed accessors over dotted keys, returning defaults for missing or
mistyped values:

	cfg, err := config.FromFile("sqlflow.yaml")
	timeout := cfg.Duration("database.query_timeout", 30*time.Second)
	tables := cfg.StringSlice("database.include_tables", nil)

Settings is the typed view used to wire a process. LoadSettings reads .env,
the optional config file and SQLFLOW_* environment overrides, in that
order of increasing precedence, then validates the result:

	settings, err := config.LoadSettings("sqlflow.yaml")

Every key has an override named after it: database.url is
SQLFLOW_DATABASE_URL and pipeline.max_corrections is
SQLFLOW_PIPELINE_MAX_CORRECTIONS. List values in the environment are
comma-separated.

# Thread Safety

Config is safe for concurrent reads. Set and ApplyEnv mutate the
underlying map and must finish before the Config is shared.
*/
package config
