package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/dhowden/tag"
	"github.com/google/uuid"

	"github.com/tejashwikalptaru/tunebridge/internal/domain"
)

// LibraryService turns files, folders and URLs into playlist tracks.
// All operations are thread-safe via sync.RWMutex.
type LibraryService struct {
	logger *slog.Logger

	// State
	scanning      bool
	cancelScan    context.CancelFunc
	supportedExts []string

	mu sync.RWMutex
}

// NewLibraryService creates a new library service.
func NewLibraryService(logger *slog.Logger) *LibraryService {
	return &LibraryService{
		logger: logger,
		supportedExts: []string{
			".mp3",
			".flac",
			".wav", ".wave",
			".ogg", ".oga",
		},
	}
}

// IsFormatSupported checks if a file format is supported.
func (s *LibraryService) IsFormatSupported(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	return slices.Contains(s.supportedExts, ext)
}

// GetSupportedFormats returns the list of supported file extensions.
func (s *LibraryService) GetSupportedFormats() []string {
	return slices.Clone(s.supportedExts)
}

// TrackFrom creates a track from either a URL or a local path.
func (s *LibraryService) TrackFrom(source string) (domain.Track, error) {
	if strings.Contains(source, "://") {
		return s.TrackFromURL(source)
	}
	return s.TrackFromFile(source)
}

// TrackFromFile creates a track for a local audio file, named from its tags when present.
func (s *LibraryService) TrackFromFile(filePath string) (domain.Track, error) {
	if !s.IsFormatSupported(filePath) {
		return domain.Track{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, filepath.Ext(filePath))
	}

	abs, err := filepath.Abs(filePath)
	if err != nil {
		return domain.Track{}, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return domain.Track{}, err
	}
	if info.IsDir() {
		return domain.Track{}, fmt.Errorf("%s is a directory", abs)
	}

	return domain.Track{
		ID:       uuid.NewString(),
		Name:     s.displayName(abs),
		URL:      abs,
		SizeHint: info.Size(),
	}, nil
}

// TrackFromURL creates a track for a remote (http, https) or file URL.
func (s *LibraryService) TrackFromURL(raw string) (domain.Track, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return domain.Track{}, domain.NewValidationError("url", raw, err.Error())
	}

	switch u.Scheme {
	case "file":
		return s.TrackFromFile(u.Path)
	case "http", "https":
	default:
		return domain.Track{}, domain.NewValidationError("url", raw, "scheme must be http, https or file")
	}

	if u.Host == "" {
		return domain.Track{}, domain.NewValidationError("url", raw, "missing host")
	}

	name := u.Host
	if base := path.Base(u.Path); base != "/" && base != "." {
		name = strings.TrimSuffix(base, path.Ext(base))
	}

	return domain.Track{
		ID:   uuid.NewString(),
		Name: name,
		URL:  raw,
	}, nil
}

// ScanFolder walks folderPath recursively and returns a track for every supported file,
// in lexical path order. Files that cannot be read are skipped.
func (s *LibraryService) ScanFolder(ctx context.Context, folderPath string) ([]domain.Track, error) {
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return nil, domain.ErrScanInProgress
	}
	s.scanning = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancelScan = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.scanning = false
		s.cancelScan = nil
		s.mu.Unlock()
	}()

	files, err := s.collectAudioFiles(ctx, folderPath)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, domain.ErrScanCancelled
		}
		return nil, err
	}

	tracks := make([]domain.Track, 0, len(files))
	for _, f := range files {
		if ctx.Err() != nil {
			return tracks, domain.ErrScanCancelled
		}

		track, err := s.TrackFromFile(f)
		if err != nil {
			s.logger.Debug("skipping file", slog.String("path", f), slog.Any("error", err))
			continue
		}
		tracks = append(tracks, track)
	}

	s.logger.Info("folder scanned",
		slog.String("path", folderPath),
		slog.Int("tracks", len(tracks)))

	return tracks, nil
}

// CancelScan cancels the running scan.
func (s *LibraryService) CancelScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.scanning {
		return errors.New("no scan in progress")
	}
	if s.cancelScan != nil {
		s.cancelScan()
	}
	return nil
}

// IsScanning returns true if a scan is currently in progress.
func (s *LibraryService) IsScanning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanning
}

func (s *LibraryService) collectAudioFiles(ctx context.Context, folderPath string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(folderPath, func(p string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return context.Canceled
		}
		if err != nil {
			if p == folderPath {
				return err
			}
			// Skip entries we can't access
			return nil
		}
		if !d.IsDir() && s.IsFormatSupported(p) {
			files = append(files, p)
		}
		return nil
	})

	return files, err
}

// displayName returns "Artist - Title" from the file tags, or the file name without extension.
func (s *LibraryService) displayName(filePath string) string {
	fallback := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))

	file, err := os.Open(filePath)
	if err != nil {
		return fallback
	}
	defer file.Close()

	metadata, err := tag.ReadFrom(file)
	if err != nil || metadata == nil {
		return fallback
	}

	title := strings.TrimSpace(metadata.Title())
	artist := strings.TrimSpace(metadata.Artist())

	switch {
	case title != "" && artist != "":
		return artist + " - " + title
	case title != "":
		return title
	default:
		return fallback
	}
}
