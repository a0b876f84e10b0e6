package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docstream/internal/api"
	"github.com/jackzampolin/docstream/internal/config"
	"github.com/jackzampolin/docstream/internal/home"
	"github.com/jackzampolin/docstream/internal/server"
	"github.com/jackzampolin/docstream/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "docstream",
	Short: "OCR server that streams results page by page",
	Long: `docstream accepts images and PDFs, runs them through an OCR model
and streams each page back to the caller as soon as it is recognized.

It provides:
  - Streaming (SSE) and one-shot OCR endpoints
  - Mid-flight cancellation of running jobs
  - Resolution modes and output formats (markdown, free OCR, figures, grounding)
  - Result files and annotated images served under /outputs`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.docstream/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "docstream home directory (default: ~/.docstream)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml, json or text",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}

// getHome returns the home directory manager, creating it if needed.
func getHome() (*home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	return h, nil
}

// loadConfig loads config from --config or the usual search path, which
// includes the home directory.
func loadConfig(h *home.Dir) (*config.Manager, error) {
	mgr, err := config.NewManager(cfgFile, h.Path())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return mgr, nil
}

// newLogger returns a text logger whose level can change at runtime.
func newLogger(level string) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(server.ParseLevel(level))
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lv})), lv
}
