// package export writes the library views other players consume: one
// M3U8 file per playlist and an iTunes-flavoured XML library file.
package export

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/MXC1/spotiseek/internal/models"
	"github.com/MXC1/spotiseek/internal/shared"
)

// pendingPrefix marks a playlist line for a track that has no file yet.
// Completion rewrites the line in place to the resolved local path.
const pendingPrefix = "# pending: "

// M3U8Writer maintains one playlist file per tracked playlist.
type M3U8Writer struct {
	dir    string
	logger *log.Logger
}

func NewM3U8Writer(dir string, logger *log.Logger) *M3U8Writer {
	return &M3U8Writer{dir: dir, logger: logger}
}

// PlaylistPath returns the file a playlist exports to.
func (w *M3U8Writer) PlaylistPath(playlistName string) string {
	return filepath.Join(w.dir, shared.SanitizeFilename(playlistName)+".m3u8")
}

// pendingLine is the placeholder written for a track without a file.
func pendingLine(track *models.Track) string {
	return pendingPrefix + track.Artist + " - " + track.TrackName
}

// WritePlaylist regenerates a playlist file from current track state.
// Downloaded tracks contribute their local path, the rest a placeholder
// comment.
func (w *M3U8Writer) WritePlaylist(playlistName string, tracks []models.Track) (string, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create m3u8 directory: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("#EXTM3U\n")
	for i := range tracks {
		track := &tracks[i]
		if track.LocalPath.Valid && track.LocalPath.String != "" {
			sb.WriteString(track.LocalPath.String)
		} else {
			sb.WriteString(pendingLine(track))
		}
		sb.WriteString("\n")
	}

	path := w.PlaylistPath(playlistName)
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write playlist file: %w", err)
	}

	w.logger.Debug("wrote playlist file", "path", path, "tracks", len(tracks))
	return path, nil
}

// ResolveTrack rewrites a track's placeholder line to its local path. A
// file without the placeholder is left untouched.
func (w *M3U8Writer) ResolveTrack(m3u8Path string, track *models.Track) error {
	if !track.LocalPath.Valid || track.LocalPath.String == "" {
		return fmt.Errorf("%w: track has no local path", shared.ErrInvalidInput)
	}

	data, err := os.ReadFile(m3u8Path)
	if err != nil {
		return fmt.Errorf("failed to read playlist file: %w", err)
	}

	placeholder := pendingLine(track)
	lines := strings.Split(string(data), "\n")
	changed := false
	for i, line := range lines {
		if line == placeholder {
			lines[i] = track.LocalPath.String
			changed = true
		}
	}
	if !changed {
		return nil
	}

	if err := os.WriteFile(m3u8Path, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return fmt.Errorf("failed to rewrite playlist file: %w", err)
	}
	return nil
}

// XMLExporter writes the whole downloaded library as an iTunes-flavoured
// plist, which most library importers accept.
type XMLExporter struct {
	path   string
	logger *log.Logger
}

func NewXMLExporter(path string, logger *log.Logger) *XMLExporter {
	return &XMLExporter{path: path, logger: logger}
}

func xmlEscape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
	)
	return replacer.Replace(s)
}

// Export writes all completed tracks to the library file. Tracks without
// a local path are skipped.
func (x *XMLExporter) Export(tracks []models.Track) error {
	if err := os.MkdirAll(filepath.Dir(x.path), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	sb.WriteString(`<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">` + "\n")
	sb.WriteString("<plist version=\"1.0\">\n<dict>\n")
	sb.WriteString("\t<key>Major Version</key><integer>1</integer>\n")
	sb.WriteString("\t<key>Minor Version</key><integer>1</integer>\n")
	fmt.Fprintf(&sb, "\t<key>Date</key><date>%s</date>\n", time.Now().UTC().Format("2006-01-02T15:04:05Z"))
	sb.WriteString("\t<key>Tracks</key>\n\t<dict>\n")

	exported := 0
	for i := range tracks {
		track := &tracks[i]
		if !track.LocalPath.Valid || track.LocalPath.String == "" {
			continue
		}
		exported++

		fmt.Fprintf(&sb, "\t\t<key>%d</key>\n\t\t<dict>\n", exported)
		fmt.Fprintf(&sb, "\t\t\t<key>Track ID</key><integer>%d</integer>\n", exported)
		fmt.Fprintf(&sb, "\t\t\t<key>Name</key><string>%s</string>\n", xmlEscape(track.TrackName))
		fmt.Fprintf(&sb, "\t\t\t<key>Artist</key><string>%s</string>\n", xmlEscape(track.Artist))
		if track.Bitrate.Valid && track.Bitrate.Int64 > 0 {
			fmt.Fprintf(&sb, "\t\t\t<key>Bit Rate</key><integer>%d</integer>\n", track.Bitrate.Int64)
		}
		fmt.Fprintf(&sb, "\t\t\t<key>Location</key><string>%s</string>\n", xmlEscape(fileURI(track.LocalPath.String)))
		sb.WriteString("\t\t</dict>\n")
	}

	sb.WriteString("\t</dict>\n</dict>\n</plist>\n")

	if err := os.WriteFile(x.path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write library file: %w", err)
	}

	x.logger.Info("exported library", "path", x.path, "tracks", exported)
	return nil
}

// fileURI converts an absolute path into the file:// form iTunes uses.
func fileURI(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}
