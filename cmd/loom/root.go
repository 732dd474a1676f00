package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/loom"
	"github.com/aretw0/loom/internal/cli"
	"github.com/aretw0/loom/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "loom runs declarative workflow graphs",
	Long: `loom compiles YAML workflow definitions into graphs of nodes, runs them,
persists every run as a session and resumes paused runs with external inputs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "YAML config file")
	pf.String("env-file", ".env", "dotenv file loaded into the environment")
	pf.String("log-level", "info", "debug, info, warn or error")
	pf.String("log-format", "text", "text or json")
	pf.String("store", config.BackendFile, "session store: memory, file or redis")
	pf.String("workflows", "workflows", "directory of workflow definitions")
}

// loadConfig resolves the configuration of the invoked command.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	return config.Load(
		config.WithFile(path),
		config.WithEnvFile(envFile),
		config.WithFlags(cmd.Flags()),
	)
}

// setup loads the configuration and builds the logger and the engine.
func setup(cmd *cobra.Command, opts ...loom.Option) (*config.Config, *slog.Logger, *loom.Engine, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := cli.NewLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, nil, err
	}
	eng, err := cli.NewEngine(cfg, logger, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, eng, nil
}
