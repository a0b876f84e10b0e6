package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/docstream/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the docstream server",
	Long: `Start the docstream HTTP server.

With container.enabled set, this also starts the inference container and
stops it again when the server shuts down (Ctrl+C or SIGTERM).

The server provides:
  - POST /api/ocr/stream  - OCR with page-by-page SSE events
  - POST /api/ocr         - OCR returning the full result
  - POST /api/ocr/cancel  - Cancel a running job
  - GET  /api/health      - Engine health
  - GET  /api/jobs/ws     - Job lifecycle feed (WebSocket)
  - GET  /swagger         - API documentation

Examples:
  docstream serve                    # Start with config defaults (127.0.0.1:8080)
  docstream serve --port 3000        # Start on custom port
  docstream serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := getHome()
		if err != nil {
			return err
		}

		mgr, err := loadConfig(h)
		if err != nil {
			return err
		}

		logger, level := newLogger(mgr.Get().Log.Level)
		mgr.SetLogger(logger)
		if used := mgr.ConfigFileUsed(); used != "" {
			logger.Info("loaded config", "file", used)
			mgr.WatchConfig()
		}

		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          servePort,
			Home:          h,
			ConfigManager: mgr,
			Logger:        logger,
			LogLevel:      level,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default: server.host)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default: server.port)")

	rootCmd.AddCommand(serveCmd)
}
