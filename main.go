package main

import (
	"fmt"
	"os"

	"PPoker/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ldflags 注入
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		logger.Error("command failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ppoker",
		Short:        "Planning poker presence gateway",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildVersionCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/WebSocket gateway",
		Example: `  ppoker serve
  ppoker serve --config /etc/ppoker/ppoker.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("PPOKER_CONFIG"), "Path to YAML configuration file")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("ppoker %s (commit: %s)\n", version, commit)
		},
	}
}
