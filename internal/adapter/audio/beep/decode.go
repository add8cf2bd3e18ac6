// Package beep provides a MediaDevice that plays sources through the system speaker
// using gopxl/beep. Sources can be local paths, file:// URLs or http(s) URLs.
package beep

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	gobeep "github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"

	"github.com/tejashwikalptaru/tunebridge/internal/domain"
)

// maxRemoteSize caps how much of a remote source is buffered in memory.
const maxRemoteSize = 512 << 20

// Supported container formats.
const (
	formatMP3    = "mp3"
	formatFLAC   = "flac"
	formatWAV    = "wav"
	formatVorbis = "vorbis"
)

var extFormats = map[string]string{
	".mp3":  formatMP3,
	".flac": formatFLAC,
	".wav":  formatWAV,
	".wave": formatWAV,
	".ogg":  formatVorbis,
	".oga":  formatVorbis,
}

var mimeFormats = map[string]string{
	"audio/mpeg":   formatMP3,
	"audio/mp3":    formatMP3,
	"audio/flac":   formatFLAC,
	"audio/x-flac": formatFLAC,
	"audio/wav":    formatWAV,
	"audio/x-wav":  formatWAV,
	"audio/wave":   formatWAV,
	"audio/ogg":    formatVorbis,
	"audio/vorbis": formatVorbis,
}

// formatForName picks a decoder from a file name or URL path.
func formatForName(name string) (string, bool) {
	f, ok := extFormats[strings.ToLower(filepath.Ext(name))]
	return f, ok
}

// formatForContentType picks a decoder from an HTTP Content-Type header.
func formatForContentType(contentType string) (string, bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", false
	}
	f, ok := mimeFormats[mediaType]
	return f, ok
}

// levelToVolume converts a 0.0-1.0 level to beep's base-2 Volume value.
// 1.0 -> 0, 0.5 -> -1, 0.25 -> -2; silence is handled by the Silent flag.
func levelToVolume(level float64) float64 {
	if level <= 0 {
		return -10
	}
	if level >= 1 {
		return 0
	}
	return math.Log2(level)
}

// readSeekCloser lets an in-memory buffer satisfy decoders that need io.ReadCloser
// while staying seekable.
type readSeekCloser struct {
	*bytes.Reader
}

func (readSeekCloser) Close() error { return nil }

// openSource resolves rawURL and decodes it.
func openSource(ctx context.Context, client *http.Client, rawURL string) (gobeep.StreamSeekCloser, gobeep.Format, error) {
	u, err := url.Parse(rawURL)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return openRemote(ctx, client, rawURL, u)
	}

	localPath := rawURL
	if err == nil && u.Scheme == "file" {
		localPath = u.Path
	}
	return openLocal(localPath)
}

func openLocal(localPath string) (gobeep.StreamSeekCloser, gobeep.Format, error) {
	format, ok := formatForName(localPath)
	if !ok {
		return nil, gobeep.Format{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, filepath.Ext(localPath))
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, gobeep.Format{}, err
	}

	streamer, sf, err := decode(format, f)
	if err != nil {
		f.Close()
		return nil, gobeep.Format{}, err
	}
	return streamer, sf, nil
}

func openRemote(ctx context.Context, client *http.Client, rawURL string, u *url.URL) (gobeep.StreamSeekCloser, gobeep.Format, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, gobeep.Format{}, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, gobeep.Format{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, gobeep.Format{}, fmt.Errorf("fetch %s: %s", rawURL, resp.Status)
	}

	format, ok := formatForName(path.Base(u.Path))
	if !ok {
		format, ok = formatForContentType(resp.Header.Get("Content-Type"))
	}
	if !ok {
		return nil, gobeep.Format{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, resp.Header.Get("Content-Type"))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteSize))
	if err != nil {
		return nil, gobeep.Format{}, err
	}

	return decode(format, readSeekCloser{bytes.NewReader(data)})
}

func decode(format string, rc io.ReadCloser) (gobeep.StreamSeekCloser, gobeep.Format, error) {
	switch format {
	case formatMP3:
		return mp3.Decode(rc)
	case formatFLAC:
		return flac.Decode(rc)
	case formatWAV:
		return wav.Decode(rc)
	case formatVorbis:
		return vorbis.Decode(rc)
	default:
		return nil, gobeep.Format{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, format)
	}
}
