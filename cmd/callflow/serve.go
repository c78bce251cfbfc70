package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/callflow/callflow/pkg/dashboard"
	"github.com/callflow/callflow/pkg/server"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API server",
	Long: `Start a local HTTP server exposing the dashboard API.

The server provides:
  - POST /api/runs to start a run (?wait=true blocks until it completes)
  - Real-time replication progress over Server-Sent Events
  - Summary, per-replication, event log and bundle downloads
  - KPI histograms and the run history

Examples:
  callflow serve                    # Start on the configured port
  callflow serve --port 3000        # Start on custom port
  callflow serve --host 0.0.0.0     # Listen on all interfaces`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default: server.port)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default: server.host)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithDefaults(dashboard.Request{
			Experiment:   cfg.Experiment.Experiment,
			Replications: cfg.Experiment.Replications,
		}),
	}
	if a.history != nil {
		opts = append(opts, server.WithHistory(a.history))
	}
	srv := server.NewServer(a.svc, opts...)
	defer srv.Close()

	addr := cfg.Server.Addr()
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // Disable for SSE
		IdleTimeout:  120 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	url := fmt.Sprintf("http://%s", addr)
	if cfg.Server.Host == "0.0.0.0" || cfg.Server.Host == "" {
		url = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  ╭─────────────────────────────────────╮")
	fmt.Fprintln(out, "  │         CALLFLOW SERVER             │")
	fmt.Fprintln(out, "  ├─────────────────────────────────────┤")
	fmt.Fprintf(out, "  │  Local:   %-25s │\n", url)
	fmt.Fprintln(out, "  │                                     │")
	fmt.Fprintln(out, "  │  Press Ctrl+C to stop               │")
	fmt.Fprintln(out, "  ╰─────────────────────────────────────╯")
	fmt.Fprintln(out)

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		fmt.Fprintln(out, "\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}
