// Package res holds static content for the desktop panel.
package res

// AboutContent contains the Markdown content for the About dialog.
// This is maintained separately for easy updates.
const AboutContent = `TuneBridge keeps one playlist in sync between a controller, a playback engine and any number of panels.

**Features:**
- Play MP3, FLAC, WAV and Ogg Vorbis files or http(s) streams
- Shared state: every panel sees the same playlist and position
- Engine started on demand, state restored on restart
- Runs in one process or split across processes over NATS
`
