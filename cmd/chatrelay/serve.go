package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd(c *cli) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP relay",
		Long: `Run the HTTP relay. Endpoints:

  POST   /v1/generate   send a message
  GET    /v1/stats      pipeline statistics
  DELETE /v1/cache      clear cached responses
  GET    /healthz       health check
  GET    /metrics       Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				c.config.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApplication(ctx, c.config, c.logger)
			if err != nil {
				return err
			}

			var lc net.ListenConfig
			ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", c.config.Server.Port))
			if err != nil {
				app.cleanup(context.Background())
				return fmt.Errorf("failed to listen on port %d: %w", c.config.Server.Port, err)
			}
			return app.serveHTTP(ctx, ln)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}
