package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"itinera/api/internal/config"
	"itinera/api/internal/logging"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "itinera-api",
		Short:         "Itinera trip planner API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("ITINERA_CONFIG"), "Path to a YAML config file")

	rootCmd.AddCommand(serveCommand(&configPath), migrateCommand(&configPath))
	return rootCmd
}

func serveCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

// setup loads the config and builds the logger both commands share.
func setup(configPath string) (config.Config, *logging.Log, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logging.New().
		Level(cfg.LogLevel).
		Format(cfg.LogFormat).
		FromPath(cfg.LogPath).
		Make()
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}
