package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/QalaTech/speki-sub001/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the decomposition API over HTTP",
	Long: `Serve the decomposition API over HTTP.

Runs started through the API continue in the background; progress is
streamed as Server-Sent Events from /api/events. Prometheus metrics are
exposed on /metrics. On interrupt the server stops accepting requests and
waits up to server.shutdown_timeout_seconds for in-flight runs.

Debug logs are written to the --workspace directory's data dir.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	addr := a.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	srv := server.New(a.orch, a.publisher,
		server.WithLoops(a.loops),
		server.WithGatherer(a.registry),
		server.WithLogger(a.logger.With("component", "server")),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx, addr); err != nil {
		_ = a.close()
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "speki listening on http://%s\n", srv.Addr())

	<-ctx.Done()
	fmt.Fprintln(cmd.OutOrStdout(), "shutting down, waiting for in-flight runs...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout())
	defer cancel()
	//nolint:contextcheck // the serve context is already cancelled
	shutdownErr := srv.Shutdown(shutdownCtx)
	if err := a.close(); shutdownErr == nil {
		shutdownErr = err
	}
	return shutdownErr
}
