// Package cli implements the sqlflow command tree.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow/config"
)

type rootOptions struct {
	configFile string
	logLevel   string
	version    string
}

// Execute builds the command tree and runs it.
func Execute(version, commit string) error {
	return newRootCmd(version, commit).Execute()
}

func newRootCmd(version, commit string) *cobra.Command {
	opts := &rootOptions{version: version}
	cmd := &cobra.Command{
		Use:   "sqlflow",
		Short: "Answer natural-language questions with reviewed SQL",
		Long: `sqlflow turns questions into SQL, checks the SQL against the live schema,
runs what is safe and pauses what is not for human review.

Configuration is read from an optional YAML or JSON file, then .env, then
SQLFLOW_* environment variables (for example SQLFLOW_DATABASE_URL).`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (YAML or JSON)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMCPCmd(opts))
	cmd.AddCommand(newAskCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	return cmd
}

// load reads settings and builds the process logger from them.
func (o *rootOptions) load() (*config.Settings, *slog.Logger, error) {
	settings, err := config.LoadSettings(o.configFile)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		settings.Log.Level = o.logLevel
	}
	logger, err := newLogger(os.Stderr, settings.Log)
	if err != nil {
		return nil, nil, err
	}
	return settings, logger, nil
}

// newLogger writes tinted text or JSON to w. Logs always go to stderr so
// stdout stays free for command output and the MCP stdio transport.
func newLogger(w io.Writer, cfg config.LogSettings) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	})), nil
}
