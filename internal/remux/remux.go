// package remux normalizes downloaded audio files with ffmpeg: lossless
// sources become WAV, lossy sources become 320kbps MP3.
package remux

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/MXC1/spotiseek/internal/models"
)

// Target is the format a file is normalized into.
type Target string

const (
	// TargetWAV is 16-bit 44.1kHz PCM.
	TargetWAV Target = "wav"
	// TargetMP3 is 320kbps constant bitrate.
	TargetMP3 Target = "mp3"
)

// TargetFor maps a source extension onto its normalization target:
// lossless stays lossless as WAV, lossy converges on MP3 320.
func TargetFor(extension string) Target {
	if models.IsLossless(extension) {
		return TargetWAV
	}
	return TargetMP3
}

// ErrCorruptFile marks a source file ffmpeg cannot read. Callers
// blacklist the transfer so the same copy is never fetched again.
var ErrCorruptFile = fmt.Errorf("corrupt audio file")

// Remuxer probes and normalizes audio files.
type Remuxer interface {
	// Probe checks that the file decodes cleanly.
	Probe(ctx context.Context, path string) error
	// Normalize converts the file to the target format and returns the
	// new path. The source is only removed after the new file exists.
	Normalize(ctx context.Context, path string, target Target) (string, error)
}

// FFmpeg is the exec-based [Remuxer].
type FFmpeg struct {
	logger *log.Logger
}

func NewFFmpeg(logger *log.Logger) *FFmpeg {
	return &FFmpeg{logger: logger}
}

// Probe decodes the whole file to null output. A non-zero exit wraps
// [ErrCorruptFile].
func (f *FFmpeg) Probe(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", "-v", "error", "-i", path, "-f", "null", "-")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s: %s", ErrCorruptFile, path, strings.TrimSpace(string(output)))
	}
	return nil
}

// Normalize converts path to the target format next to the original. A
// file already in the target format is returned unchanged. The converted
// file is written to a temporary name first so a crashed run never leaves
// a half-written file behind under the final name.
func (f *FFmpeg) Normalize(ctx context.Context, path string, target Target) (string, error) {
	ext := models.NormalizeExtension(filepath.Ext(path))
	if ext == string(target) {
		return path, nil
	}

	outPath := strings.TrimSuffix(path, filepath.Ext(path)) + "." + string(target)
	tmpPath := outPath + ".tmp." + string(target)

	var args []string
	switch target {
	case TargetWAV:
		args = []string{"-y", "-i", path, "-acodec", "pcm_s16le", "-ar", "44100", tmpPath}
	case TargetMP3:
		args = []string{"-y", "-i", path, "-codec:a", "libmp3lame", "-b:a", "320k", tmpPath}
	default:
		return "", fmt.Errorf("unknown remux target %q", target)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ffmpeg conversion failed for %s: %s", path, strings.TrimSpace(string(output)))
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to finalize converted file: %w", err)
	}

	if err := os.Remove(path); err != nil {
		f.logger.Warn("failed to remove source after conversion", "path", path, "error", err)
	}

	f.logger.Info("normalized audio file", "from", path, "to", outPath)
	return outPath, nil
}
