// Package media shells out to ffmpeg for audio extraction and frame sampling
package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/videodoc/platform/internal/errors"
	"github.com/videodoc/platform/internal/trace"
)

// Frame is a raw sampled video frame before deduplication.
type Frame struct {
	Path        string `json:"path"`
	TimestampMS int64  `json:"timestamp_ms"`
}

// FFmpeg wraps the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
}

// New creates an ffmpeg wrapper. ffprobe is resolved next to ffmpeg.
func New(ffmpegPath string) *FFmpeg {
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: probePathFor(ffmpegPath),
	}
}

// probePathFor derives the ffprobe path from the configured ffmpeg path.
func probePathFor(ffmpegPath string) string {
	dir, base := filepath.Split(ffmpegPath)
	if strings.HasPrefix(base, "ffmpeg") {
		return dir + strings.Replace(base, "ffmpeg", "ffprobe", 1)
	}
	return "ffprobe"
}

// ProbeDuration returns the container duration of a media file.
func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	out, err := cmd.Output()
	if err != nil {
		return 0, errors.Wrapf(err, errors.CodeInvalidInput, "ffprobe failed for %s", path)
	}
	return parseDuration(string(out))
}

func parseDuration(s string) (time.Duration, error) {
	sec, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeInvalidInput, "unparsable media duration")
	}
	return time.Duration(sec * float64(time.Second)), nil
}

// ExtractAudio writes a 16 kHz mono PCM WAV suitable for speech recognition.
func (f *FFmpeg) ExtractAudio(ctx context.Context, videoPath, outPath string) error {
	cmd := exec.CommandContext(ctx, f.ffmpegPath,
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y",
		outPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, errors.CodeInvalidInput, "audio extraction failed for %s", videoPath).
			WithMetadata("stderr", tail(stderr.String()))
	}
	return nil
}

// SampleFrames extracts JPEG frames at the given rate into outDir and returns
// them ordered by timestamp.
func (f *FFmpeg) SampleFrames(ctx context.Context, videoPath, outDir string, fps float64) ([]Frame, error) {
	log := trace.Logger(ctx)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "create frame directory")
	}

	pattern := filepath.Join(outDir, "frame_%06d.jpg")
	cmd := exec.CommandContext(ctx, f.ffmpegPath,
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=%g", fps),
		"-y",
		pattern)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidInput, "frame sampling failed for %s", videoPath).
			WithMetadata("stderr", tail(stderr.String()))
	}

	frames, err := listFrames(outDir, fps)
	if err != nil {
		return nil, err
	}
	log.Info("frames sampled", "video", videoPath, "count", len(frames), "fps", fps)
	return frames, nil
}

// listFrames collects frame_NNNNNN.jpg files in sequence order and assigns
// timestamps from the sampling rate.
func listFrames(dir string, fps float64) ([]Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "read frame directory")
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "frame_") && strings.HasSuffix(name, ".jpg") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	frames := make([]Frame, 0, len(names))
	for i, name := range names {
		frames = append(frames, Frame{
			Path:        filepath.Join(dir, name),
			TimestampMS: frameTimestampMS(i, fps),
		})
	}
	return frames, nil
}

// frameTimestampMS maps the i-th sampled frame (0-based) back to video time.
func frameTimestampMS(i int, fps float64) int64 {
	if fps <= 0 {
		return 0
	}
	return int64(float64(i) / fps * 1000)
}

// tail keeps the last part of ffmpeg's stderr, which carries the actual error.
func tail(s string) string {
	const limit = 512
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return "..." + s[len(s)-limit:]
}
