// Package ffmpeg remuxes and splits media files with the ffmpeg and ffprobe
// command line tools. Streams are always copied, never re-encoded.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// MaxParts bounds the number of segments produced from one input.
const MaxParts = 200

// headroom is the share of the ceiling targeted per part, leaving room for
// bitrate variance and container overhead.
const headroom = 0.9

// maxAttempts bounds the re-cuts with a shorter segment time after a part
// came out over the ceiling.
const maxAttempts = 5

var (
	ErrEmptyPart    = errors.New("segment is empty")
	ErrTooManyParts = errors.New("too many segments")
	ErrPartTooLarge = errors.New("segment exceeds the size limit")
)

// FFmpeg runs the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
	log         *slog.Logger
}

// New returns an FFmpeg using the given binaries, looked up in PATH when empty.
func New(ffmpegPath, ffprobePath string, log *slog.Logger) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath, log: log}
}

// Available reports whether both binaries are executable.
func (f *FFmpeg) Available() bool {
	if _, err := exec.LookPath(f.FFmpegPath); err != nil {
		return false
	}
	_, err := exec.LookPath(f.FFprobePath)
	return err == nil
}

// Remux copies every stream of inputPath into outputPath, whose extension
// selects the container.
func (f *FFmpeg) Remux(ctx context.Context, inputPath, outputPath string) error {
	if _, err := f.run(ctx, f.FFmpegPath, RemuxArgs(inputPath, outputPath)); err != nil {
		return fmt.Errorf("ffmpeg remux failed: %w", err)
	}
	return nil
}

// Segment splits inputPath into consecutive parts no larger than ceiling
// bytes, named by formatting pattern with the 0-based part index. Parts are
// cut in one pass by ffmpeg's segment muxer on keyframes, so together they
// cover the input exactly once. When a part comes out over the ceiling the
// input is cut again with a segment time scaled down by the overshoot.
func (f *FFmpeg) Segment(ctx context.Context, inputPath string, ceiling int64, pattern string) ([]string, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, err
	}
	total, err := f.Duration(ctx, inputPath)
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 || total <= 0 {
		return nil, fmt.Errorf("input %s has no media", inputPath)
	}

	segmentTime := SegmentTime(total, info.Size(), ceiling)
	for attempt := 1; ; attempt++ {
		if total/segmentTime > MaxParts {
			return nil, fmt.Errorf("%w: more than %d", ErrTooManyParts, MaxParts)
		}
		if _, err := f.run(ctx, f.FFmpegPath, SegmentArgs(inputPath, pattern, segmentTime)); err != nil {
			removeAll(collectParts(pattern))
			return nil, fmt.Errorf("ffmpeg segment failed: %w", err)
		}

		parts := collectParts(pattern)
		largest, err := checkParts(parts)
		if err != nil {
			removeAll(parts)
			return nil, err
		}
		if largest <= ceiling {
			f.log.Debug("input segmented",
				slog.String("input", inputPath),
				slog.Int("parts", len(parts)),
				slog.Float64("segment_time", segmentTime),
				slog.Int("attempt", attempt))
			return parts, nil
		}

		removeAll(parts)
		if attempt == maxAttempts {
			return nil, fmt.Errorf("%w: %d bytes after %d attempts, limit %d", ErrPartTooLarge, largest, attempt, ceiling)
		}
		f.log.Debug("segment over limit, cutting shorter",
			slog.Int64("largest", largest),
			slog.Int64("ceiling", ceiling),
			slog.Float64("segment_time", segmentTime))
		segmentTime *= float64(ceiling) * headroom / float64(largest)
	}
}

// SegmentTime is the target part duration, in seconds, for an input of
// size bytes lasting total seconds, assuming a constant bitrate.
func SegmentTime(total float64, size, ceiling int64) float64 {
	return total * float64(ceiling) * headroom / float64(size)
}

// collectParts lists the consecutive parts matching pattern from index 0.
func collectParts(pattern string) []string {
	var parts []string
	for i := 0; ; i++ {
		path := fmt.Sprintf(pattern, i)
		if _, err := os.Stat(path); err != nil {
			return parts
		}
		parts = append(parts, path)
	}
}

// checkParts returns the size of the largest part.
func checkParts(parts []string) (int64, error) {
	if len(parts) == 0 {
		return 0, errors.New("ffmpeg produced no segments")
	}
	var largest int64
	for i, p := range parts {
		info, err := os.Stat(p)
		if err != nil {
			return 0, err
		}
		if info.Size() == 0 {
			return 0, fmt.Errorf("part %d: %w", i+1, ErrEmptyPart)
		}
		largest = max(largest, info.Size())
	}
	return largest, nil
}

func removeAll(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}

// Duration returns the container duration of path in seconds.
func (f *FFmpeg) Duration(ctx context.Context, path string) (float64, error) {
	out, err := f.run(ctx, f.FFprobePath, DurationArgs(path))
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	return ParseDuration(out)
}

func (f *FFmpeg) run(ctx context.Context, bin string, args []string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := lastLine(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return stdout.String(), nil
}

// RemuxArgs builds the ffmpeg arguments for a stream-copy remux.
func RemuxArgs(in, out string) []string {
	return []string{
		"-y", "-v", "error",
		"-i", in,
		"-map", "0",
		"-c", "copy",
		"-movflags", "+faststart",
		out,
	}
}

// SegmentArgs builds the ffmpeg arguments that stream-copy in into parts
// of about segmentTime seconds, each starting on a keyframe with timestamps
// reset to zero.
func SegmentArgs(in, pattern string, segmentTime float64) []string {
	return []string{
		"-y", "-v", "error",
		"-i", in,
		"-map", "0",
		"-c", "copy",
		"-f", "segment",
		"-segment_time", strconv.FormatFloat(segmentTime, 'f', 3, 64),
		"-reset_timestamps", "1",
		"-segment_format_options", "movflags=+faststart",
		pattern,
	}
}

// DurationArgs builds the ffprobe arguments that print the duration alone.
func DurationArgs(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	}
}

// ParseDuration parses ffprobe's duration output.
func ParseDuration(out string) (float64, error) {
	s := strings.TrimSpace(out)
	if s == "" || s == "N/A" {
		return 0, errors.New("duration unavailable")
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return d, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
