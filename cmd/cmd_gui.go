//go:build cgo

package main

import (
	"fmt"
	"log/slog"

	fyneapp "fyne.io/fyne/v2/app"
	"github.com/spf13/cobra"

	ui "github.com/tejashwikalptaru/tunebridge/internal/adapter/ui/fyne"
	"github.com/tejashwikalptaru/tunebridge/internal/app"
)

var guiCmd = &cobra.Command{
	Use:   "gui",
	Short: "Open the desktop panel",
	Long: `Open the desktop panel window.

With the local transport the controller and the engine run inside the same
process. With transport = "nats" the window is a panel for a controller that
runs elsewhere.`,
	RunE: runGUI,
}

func init() {
	rootCmd.AddCommand(guiCmd)
}

func runGUI(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	cfg := app.DefaultConfig()
	cfg.Settings = settings
	if settings.Transport == "nats" {
		cfg.Role = app.RolePanel
	}

	// One Fyne app serves the window and, if configured, the preferences store
	fyneApp := fyneapp.NewWithID(cfg.AppID)
	cfg.FyneApp = fyneApp

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	defer func() {
		if err := application.Shutdown(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "shutdown error: %v\n", err)
		}
	}()

	ctx := cmd.Context()
	if err := application.Start(ctx); err != nil {
		return err
	}

	logger := application.Logger().With(slog.String("component", "ui"))
	_, panel, library := application.GetServices()

	window := ui.NewMainWindow(fyneApp, logger)
	presenter := ui.NewPresenter(logger, panel, library, window)
	defer presenter.Shutdown()
	window.SetPresenter(presenter)

	// Ctrl-C closes the window like the Exit menu does
	go func() {
		<-ctx.Done()
		window.Close()
	}()

	// Show and run UI (blocks until the window is closed)
	window.ShowAndRun()
	return nil
}
