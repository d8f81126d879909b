package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow/api"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Example: `  sqlflow serve
  sqlflow serve --addr :9000 --config sqlflow.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, logger, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				settings.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, settings, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := api.DefaultConfig()
			cfg.Addr = settings.Server.Addr
			cfg.RateLimit = settings.Server.RateLimit
			cfg.CORSOrigins = settings.Server.CORSOrigins
			return api.New(cfg, a.orch, logger).ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
