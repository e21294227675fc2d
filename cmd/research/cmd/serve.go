package cmd

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the research HTTP API.

Endpoints:
  POST /api/research                   run a query, returns the result
  POST /api/runs/{id}/resume           resume an interrupted run
  GET  /api/runs                       list runs with checkpoints
  GET  /api/runs/{id}/checkpoints      list the checkpoints of a run
  GET  /api/runs/{id}/sources?mode=    list the sources of a run
  GET  /api/events?run=&type=          stream progress as Server-Sent Events

Examples:
  # Start with the configured address (127.0.0.1:8080)
  research serve

  # Start on custom host and port
  research serve --host 0.0.0.0 --port 3000

  # Disable CORS (for production behind a reverse proxy)
  research serve --no-cors`,
	RunE: runServe,
}

var (
	serveHost   string
	servePort   int
	serveNoCORS bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "",
		"Host address to bind to (default: server.host)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0,
		"Port to listen on (default: server.port)")
	serveCmd.Flags().BoolVar(&serveNoCORS, "no-cors", false,
		"Disable CORS headers")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	engine, err := NewEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	opts := []api.ServerOption{
		api.WithLogger(logger),
		api.WithEvidence(engine.OpenEvidence()),
		api.WithEventBus(engine.Bus),
	}
	if engine.Checkpoints != nil {
		opts = append(opts, api.WithCheckpoints(engine.Checkpoints))
	}
	if serveNoCORS {
		opts = append(opts, api.WithoutCORS())
	} else {
		opts = append(opts, api.WithCORSOrigins(cfg.Server.CORSOrigins))
	}
	server := api.NewServer(engine.Orchestrator, opts...)

	host, port := cfg.Server.Host, cfg.Server.Port
	if serveHost != "" {
		host = serveHost
	}
	if servePort != 0 {
		port = servePort
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.ErrOrStderr(), "Listening on http://%s\n", addr)
	return server.ListenAndServe(ctx, addr)
}
