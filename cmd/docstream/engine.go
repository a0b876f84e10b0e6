package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docstream/internal/config"
	"github.com/jackzampolin/docstream/internal/engine"
	"github.com/jackzampolin/docstream/internal/engine/container"
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Manage the inference container",
	Long: `Manage the inference server container.

The container runs an OpenAI-compatible server (vLLM by default) with the
OCR model. Settings come from the container section of the config; the
model cache is mounted so weights survive container removal.

Examples:
  docstream engine start   # Create or start the container and wait until it serves
  docstream engine stop    # Stop the container
  docstream engine status  # Show container and model status
  docstream engine logs    # View container logs`,
}

var engineStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the inference container",
	Long: `Start the inference container.

If the container doesn't exist, the image is pulled and the container
created. If it exists but is stopped, it is started. The command returns
once the server answers on its models endpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := getContainerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Starting inference container...")
		if err := mgr.Start(cmd.Context()); err != nil {
			return fmt.Errorf("failed to start inference container: %w", err)
		}

		fmt.Printf("Inference server is running at %s\n", mgr.URL())
		return nil
	},
}

var engineStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the inference container",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := getContainerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Stopping inference container...")
		if err := mgr.Stop(cmd.Context()); err != nil {
			return fmt.Errorf("failed to stop inference container: %w", err)
		}

		fmt.Println("Inference container stopped")
		return nil
	},
}

var engineStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show inference container status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, cfg, err := getContainerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		status, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		switch status {
		case container.StatusRunning:
			fmt.Printf("Status: %s\n", status)
			fmt.Printf("URL: %s\n", mgr.URL())

			engineCfg := cfg.Engine
			engineCfg.Type = "openai"
			engineCfg.BaseURL = mgr.URL()
			eng, err := engine.New(engineCfg, nil)
			if err != nil {
				return err
			}
			if eng.Ready(ctx) {
				fmt.Printf("Model: %s loaded\n", engineCfg.Model)
			} else {
				fmt.Println("Model: not loaded yet")
			}
		case container.StatusStopped:
			fmt.Printf("Status: %s (use 'docstream engine start' to start)\n", status)
		case container.StatusNotFound:
			fmt.Printf("Status: %s (use 'docstream engine start' to create)\n", status)
		default:
			fmt.Printf("Status: %s\n", status)
		}

		return nil
	},
}

var logsTail string

var engineLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show inference container logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := getContainerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		logs, err := mgr.Logs(cmd.Context(), logsTail)
		if err != nil {
			return fmt.Errorf("failed to get logs: %w", err)
		}

		fmt.Print(logs)
		return nil
	},
}

var engineRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the inference container",
	Long: `Remove the inference container.

This stops and removes the container. The model cache on the host is
NOT deleted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := getContainerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Removing inference container...")
		if err := mgr.Remove(cmd.Context()); err != nil {
			return fmt.Errorf("failed to remove container: %w", err)
		}

		fmt.Println("Inference container removed (model cache preserved)")
		return nil
	},
}

func init() {
	engineCmd.AddCommand(engineStartCmd)
	engineCmd.AddCommand(engineStopCmd)
	engineCmd.AddCommand(engineStatusCmd)
	engineCmd.AddCommand(engineLogsCmd)
	engineCmd.AddCommand(engineRemoveCmd)

	engineLogsCmd.Flags().StringVar(&logsTail, "tail", "100", "Number of lines to show from the end")

	rootCmd.AddCommand(engineCmd)
}

// getContainerManager creates a container manager from the loaded config.
func getContainerManager() (*container.Manager, *config.Config, error) {
	h, err := getHome()
	if err != nil {
		return nil, nil, err
	}
	mgr, err := loadConfig(h)
	if err != nil {
		return nil, nil, err
	}
	cfg := mgr.Get()

	cm, err := container.New(container.Config{
		Name:         cfg.Container.Name,
		Image:        cfg.Container.Image,
		Model:        cfg.Engine.Model,
		HostPort:     cfg.Container.Port,
		GPUs:         cfg.Container.GPUs,
		ModelCache:   cfg.Container.ModelCache,
		ReadyTimeout: cfg.Container.ReadyTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return cm, cfg, nil
}
