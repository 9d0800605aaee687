// Command santa-link talks to a Santa-Bot robot over Bluetooth LE. It can
// scan for the robot, drive it from an interactive shell, run scripted
// programs, and bridge the link to a browser editor over a websocket.
//
// Usage:
//
//	santa-link scan
//	santa-link shell
//	santa-link run wave.yaml
//	santa-link serve --addr 127.0.0.1:8765
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/santa-link/internal/config"
	"github.com/chaz8081/santa-link/internal/logging"
	"github.com/chaz8081/santa-link/internal/tracing"
)

// Version information (set via ldflags during build).
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// app carries state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	ephemeral  bool

	cfg      *config.Config
	cleanups []func() error
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "santa-link",
		Short: "Bluetooth LE link to a Santa-Bot robot",
		Long: `santa-link connects to a Santa-Bot robot over Bluetooth LE, keeps its
tool catalog and session up to date, and sends it text and tool calls.

Get started:
  santa-link init      Write a default config file
  santa-link scan      Look for robots nearby
  santa-link shell     Drive the robot interactively
  santa-link serve     Expose the robot to the block editor`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config file (default: ~/.config/santa-link/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&a.ephemeral, "ephemeral", false, "keep the session in memory instead of the session database")

	rootCmd.AddCommand(newInitCmd(a))
	rootCmd.AddCommand(newScanCmd(a))
	rootCmd.AddCommand(newShellCmd(a))
	rootCmd.AddCommand(newRunCmd(a))
	rootCmd.AddCommand(newServeCmd(a))
	rootCmd.AddCommand(newSessionCmd(a))

	return rootCmd
}

// setup loads config and installs the logger and tracer.
func (a *app) setup(ctx context.Context) error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.ephemeral {
		cfg.Session.Path = ""
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	a.cfg = cfg

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	a.cleanups = append(a.cleanups, closeLog)

	shutdown, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		slog.Warn("tracing initialization failed", "error", err)
	} else {
		a.cleanups = append(a.cleanups, func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdown(shutdownCtx)
		})
	}
	return nil
}

// teardown runs cleanups in reverse order.
func (a *app) teardown() error {
	var first error
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](); err != nil && first == nil {
			first = err
		}
	}
	a.cleanups = nil
	return first
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.WriteDefault()
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Config already exists at %s\n", config.DefaultConfigPath())
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
}
