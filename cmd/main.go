// Package main is the production entry point for TuneBridge.
//
// TuneBridge keeps one playlist and transport state in a controller, drives audio
// through a separate playback engine, and lets any number of panels observe and
// steer it. The contexts talk over a message bus: in-process for `run`, or NATS
// when each context runs as its own process.
//
// Build:
//
//	go build -o build/tunebridge ./cmd
//
// Run everything in one process:
//
//	./build/tunebridge run
//
// Or split across processes (requires transport = "nats"):
//
//	./build/tunebridge engine
//	./build/tunebridge controller
//	./build/tunebridge panel --add ~/Music/song.mp3 --play --watch
//
// Open the desktop panel (cgo builds only):
//
//	./build/tunebridge gui
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tejashwikalptaru/tunebridge/internal/app"
	"github.com/tejashwikalptaru/tunebridge/internal/config"
)

var (
	configPath string
	logLevel   string
	transport  string
)

var rootCmd = &cobra.Command{
	Use:           "tunebridge",
	Short:         "TuneBridge - playback coordination across controller, engine and panels",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run controller, engine and a panel in one process",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runRole(cmd.Context(), app.RoleAll)
	},
}

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Run the controller that owns the playlist and transport state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runRole(cmd.Context(), app.RoleController)
	},
}

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Run the playback engine that drives the audio device",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runRole(cmd.Context(), app.RoleEngine)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), app.GetVersionInfo().FullString())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (TOML); default locations are used when empty")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "", "Override the transport (local or nats)")

	rootCmd.AddCommand(runCmd, controllerCmd, engineCmd, panelCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// loadSettings reads the config files and applies command line overrides.
func loadSettings() (*config.Config, error) {
	var (
		settings *config.Config
		err      error
	)
	if configPath != "" {
		settings, err = config.LoadFiles(configPath)
	} else {
		settings, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if logLevel != "" {
		settings.Log.Level = logLevel
	}
	if transport != "" {
		settings.Transport = transport
	}

	return settings, nil
}

func newApplication(role app.Role) (*app.Application, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}

	cfg := app.DefaultConfig()
	cfg.Role = role
	cfg.Settings = settings

	application, err := app.NewApplication(cfg)
	if err != nil {
		return nil, fmt.Errorf("create application: %w", err)
	}
	return application, nil
}

func runRole(ctx context.Context, role app.Role) error {
	application, err := newApplication(role)
	if err != nil {
		return err
	}

	// Ensure a graceful shutdown
	defer func() {
		if err := application.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		}
	}()

	return application.Run(ctx)
}
