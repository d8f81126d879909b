package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	smcp "github.com/randalmurphal/sqlflow/pkg/sqlflow/mcp"
)

func newMCPCmd(root *rootOptions) *cobra.Command {
	var (
		transport string
		addr      string
	)
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol server exposing generate_sql, execute_sql,
create_session, query_in_session and get_session_history as tools.

stdio (the default) is for clients that launch sqlflow as a subprocess.
http serves the Streamable HTTP transport on --addr.`,
		Example: `  sqlflow mcp
  sqlflow mcp --transport http --addr :3001`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, logger, err := root.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, settings, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := smcp.NewServer(a.orch, root.version, logger)
			switch transport {
			case "stdio":
				return srv.ServeStdio(ctx, os.Stdin, os.Stdout)
			case "http":
				return srv.ServeHTTP(ctx, addr)
			default:
				return fmt.Errorf("unknown transport %q (want stdio or http)", transport)
			}
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "stdio", "transport: stdio or http")
	cmd.Flags().StringVar(&addr, "addr", ":3001", "listen address for the http transport")
	return cmd
}
