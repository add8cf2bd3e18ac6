package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tejashwikalptaru/tunebridge/internal/app"
	"github.com/tejashwikalptaru/tunebridge/internal/domain"
	"github.com/tejashwikalptaru/tunebridge/internal/service"
)

var (
	panelPlay     bool
	panelPause    bool
	panelStop     bool
	panelNext     bool
	panelPrev     bool
	panelAdd      []string
	panelScan     string
	panelRemove   []string
	panelSelect   string
	panelVolume   float64
	panelSeek     float64
	panelWatch    bool
	panelShowList bool
)

var panelCmd = &cobra.Command{
	Use:   "panel",
	Short: "Send intents to the controller and show the shared state",
	Long: `Run a headless panel against a running controller.

Intents are sent in a fixed order: additions, removals, selection, volume,
seek, then transport. The resulting state is printed once; with --watch the
panel keeps running and prints every change until interrupted.

Examples:
  # Queue two tracks and start playback
  tunebridge panel --add ~/Music/a.mp3 --add https://example.com/b.ogg --play

  # Queue a folder
  tunebridge panel --scan ~/Music/album

  # Follow the state from another terminal
  tunebridge panel --watch
`,
	RunE: runPanel,
}

func init() {
	f := panelCmd.Flags()
	f.BoolVar(&panelPlay, "play", false, "Start playback of the current track")
	f.BoolVar(&panelPause, "pause", false, "Pause playback")
	f.BoolVar(&panelStop, "stop", false, "Stop playback and rewind")
	f.BoolVar(&panelNext, "next", false, "Select the next track")
	f.BoolVar(&panelPrev, "prev", false, "Select the previous track")
	f.StringSliceVar(&panelAdd, "add", nil, "Add a track by file path or http(s) URL (repeatable)")
	f.StringVar(&panelScan, "scan", "", "Add every supported audio file under a folder")
	f.StringSliceVar(&panelRemove, "remove", nil, "Remove a track by id (repeatable)")
	f.StringVar(&panelSelect, "select", "", "Select a track by id")
	f.Float64Var(&panelVolume, "volume", 1, "Set the volume (0..1)")
	f.Float64Var(&panelSeek, "seek", 0, "Seek to a position in seconds")
	f.BoolVarP(&panelWatch, "watch", "w", false, "Keep running and print every state change")
	f.BoolVarP(&panelShowList, "list", "l", false, "Print the playlist with the state")
}

func runPanel(cmd *cobra.Command, _ []string) error {
	application, err := newApplication(app.RolePanel)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Shutdown(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "shutdown error: %v\n", err)
		}
	}()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	_, panel, library := application.GetServices()

	if panelWatch {
		panel.SetOnChange(func(s domain.State) {
			printState(out, s, panelShowList)
		})
	}

	if err := application.Start(ctx); err != nil {
		return err
	}

	if err := applyPanelFlags(ctx, cmd, panel, library); err != nil {
		return err
	}

	if !panelWatch {
		s, has := panel.State()
		if !has {
			return fmt.Errorf("no state from the controller: %w", domain.ErrNoListener)
		}
		printState(out, s, panelShowList)
		return nil
	}

	<-ctx.Done()
	return nil
}

// applyPanelFlags sends the intents named on the command line.
func applyPanelFlags(ctx context.Context, cmd *cobra.Command, panel *service.PanelService, library *service.LibraryService) error {
	var tracks []domain.Track
	for _, source := range panelAdd {
		track, err := library.TrackFrom(source)
		if err != nil {
			return fmt.Errorf("add %s: %w", source, err)
		}
		tracks = append(tracks, track)
	}

	if panelScan != "" {
		scanned, err := library.ScanFolder(ctx, panelScan)
		if err != nil {
			return fmt.Errorf("scan %s: %w", panelScan, err)
		}
		tracks = append(tracks, scanned...)
	}

	type step struct {
		enabled bool
		send    func() (domain.State, error)
	}

	var steps []step
	for _, track := range tracks {
		steps = append(steps, step{true, func() (domain.State, error) { return panel.AddTrack(ctx, track) }})
	}
	for _, id := range panelRemove {
		steps = append(steps, step{true, func() (domain.State, error) { return panel.RemoveTrack(ctx, id) }})
	}

	flags := cmd.Flags()
	steps = append(steps,
		step{panelSelect != "", func() (domain.State, error) { return panel.SelectTrack(ctx, panelSelect) }},
		step{flags.Changed("volume"), func() (domain.State, error) { return panel.SetVolume(ctx, panelVolume) }},
		step{flags.Changed("seek"), func() (domain.State, error) { return panel.Seek(ctx, panelSeek) }},
		step{panelNext, func() (domain.State, error) { return panel.Next(ctx) }},
		step{panelPrev, func() (domain.State, error) { return panel.Previous(ctx) }},
		step{panelStop, func() (domain.State, error) { return panel.Stop(ctx) }},
		step{panelPause, func() (domain.State, error) { return panel.Pause(ctx) }},
		step{panelPlay, func() (domain.State, error) { return panel.Play(ctx) }},
	)

	for _, s := range steps {
		if !s.enabled {
			continue
		}
		if _, err := s.send(); err != nil {
			return err
		}
	}
	return nil
}

func printState(w io.Writer, s domain.State, withPlaylist bool) {
	status := "stopped"
	switch {
	case s.IsPlaying:
		status = "playing"
	case s.CurrentTime > 0:
		status = "paused"
	}

	title := "-"
	if t, ok := s.Current(); ok {
		title = t.Name
	}

	fmt.Fprintf(w, "%-7s [%d/%d] %s  %.1f/%.1fs  vol %.2f  (epoch %d)\n",
		status, s.CurrentIndex+1, len(s.Playlist), title, s.CurrentTime, s.Duration, s.Volume, s.Epoch)

	if s.LastError != "" {
		fmt.Fprintf(w, "        error: %s\n", s.LastError)
	}

	if !withPlaylist {
		return
	}
	for i, t := range s.Playlist {
		marker := " "
		if i == s.CurrentIndex {
			marker = ">"
		}
		fmt.Fprintf(w, "  %s %-36s %s\n", marker, t.ID, displaySource(t))
	}
}

func displaySource(t domain.Track) string {
	if strings.Contains(t.URL, "://") {
		return t.URL
	}
	return filepath.Base(t.URL)
}
