package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"

	"media-relay/internal/platform/logger"
)

func TestSegmentArgs(t *testing.T) {
	args := SegmentArgs("in.mp4", "job.part%03d.mp4", 12.5)
	want := []string{
		"-y", "-v", "error",
		"-i", "in.mp4",
		"-map", "0",
		"-c", "copy",
		"-f", "segment",
		"-segment_time", "12.500",
		"-reset_timestamps", "1",
		"-segment_format_options", "movflags=+faststart",
		"job.part%03d.mp4",
	}
	if !slices.Equal(args, want) {
		t.Errorf("SegmentArgs =\n%v\nwant\n%v", args, want)
	}
	if slices.Contains(args, "-ss") || slices.Contains(args, "-fs") {
		t.Error("parts must come from a single pass, not seeks or size cut-offs")
	}
}

func TestSegmentTime(t *testing.T) {
	// 600s at 100 MB against a 50 MB ceiling: 90% of half the duration.
	if got := SegmentTime(600, 100_000_000, 50_000_000); got != 270 {
		t.Errorf("SegmentTime = %v, want 270", got)
	}
}

func TestRemuxArgs(t *testing.T) {
	args := RemuxArgs("in.webm", "out.mp4")
	if args[len(args)-1] != "out.mp4" {
		t.Errorf("output must be last, got %v", args)
	}
	if !slices.Contains(args, "copy") || slices.Contains(args, "libx264") {
		t.Errorf("remux must copy streams: %v", args)
	}
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("  634.120000\n")
	if err != nil || d != 634.12 {
		t.Errorf("ParseDuration = %v, %v", d, err)
	}
	for _, in := range []string{"", "N/A\n", "abc"} {
		if _, err := ParseDuration(in); err == nil {
			t.Errorf("ParseDuration(%q) should fail", in)
		}
	}
}

// writeScript installs an executable shell script standing in for a binary.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts unavailable")
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRemux_reports_stderr(t *testing.T) {
	bin := writeScript(t, "ffmpeg", "echo 'in.webm: Invalid data found when processing input' >&2\nexit 1\n")
	f := New(bin, "", logger.Discard())

	err := f.Remux(context.Background(), "in.webm", "out.mp4")
	if err == nil || !strings.Contains(err.Error(), "Invalid data found") {
		t.Errorf("expected stderr in error, got %v", err)
	}
}

func TestDuration(t *testing.T) {
	bin := writeScript(t, "ffprobe", "echo 42.5\n")
	f := New("", bin, logger.Discard())

	d, err := f.Duration(context.Background(), "any.mp4")
	if err != nil || d != 42.5 {
		t.Errorf("Duration = %v, %v", d, err)
	}
}

// keyframeSegmenter stands in for ffmpeg's segment muxer on a 10s input
// with a keyframe every 2s and 10 bytes per second. A part ends on the first
// keyframe at or after the next multiple of -segment_time. Each part holds
// its "start end" source range, padded to its size.
const keyframeSegmenter = `while [ $# -gt 1 ]; do
  if [ "$1" = "-segment_time" ]; then t=$2; fi
  shift
done
awk -v t="$t" -v pattern="$1" 'BEGIN {
  total = 10; gop = 2; start = 0; i = 0; k = 1
  while (start < total) {
    cut = total
    for (kf = start + gop; kf < total; kf += gop) { if (kf >= k * t) { cut = kf; break } }
    while (k * t <= cut) k++
    file = sprintf(pattern, i)
    printf "%-" ((cut - start) * 10) "s", start " " cut > file
    close(file)
    start = cut; i++
  }
}'
`

func writeInput(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.mp4")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// coverage reads back the source range of each part.
func coverage(t *testing.T, parts []string) [][2]int {
	t.Helper()
	var ranges [][2]int
	for _, p := range parts {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatal(err)
		}
		var r [2]int
		if _, err := fmt.Sscan(string(data), &r[0], &r[1]); err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		ranges = append(ranges, r)
	}
	return ranges
}

func TestSegment_covers_input_contiguously(t *testing.T) {
	ffmpeg := writeScript(t, "ffmpeg", keyframeSegmenter)
	ffprobe := writeScript(t, "ffprobe", "echo 10\n")
	f := New(ffmpeg, ffprobe, logger.Discard())

	tests := []struct {
		name    string
		ceiling int64
		want    [][2]int
	}{
		// The 4.05s target yields a 60 byte part; the re-cut at 2.73s lands
		// on the keyframes at 4 and 6.
		{"recut_once", 45, [][2]int{{0, 4}, {4, 6}, {6, 10}}},
		// The 2.7s target yields a 40 byte part; the re-cut lands on every keyframe.
		{"recut_to_every_keyframe", 30, [][2]int{{0, 2}, {2, 4}, {4, 6}, {6, 8}, {8, 10}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := writeInput(t, 100)
			pattern := filepath.Join(filepath.Dir(in), "job.part%03d.mp4")

			parts, err := f.Segment(context.Background(), in, tt.ceiling, pattern)
			if err != nil {
				t.Fatalf("Segment: %v", err)
			}
			got := coverage(t, parts)
			if !slices.Equal(got, tt.want) {
				t.Errorf("coverage = %v, want %v", got, tt.want)
			}
			end := 0
			for i, r := range got {
				if r[0] != end {
					t.Errorf("part %d starts at %d, previous ended at %d", i+1, r[0], end)
				}
				end = r[1]
			}
			if end != 10 {
				t.Errorf("coverage ends at %d, input lasts 10", end)
			}
			for i, p := range parts {
				if want := fmt.Sprintf(pattern, i); p != want {
					t.Errorf("part %d named %s, want %s", i, p, want)
				}
				if info, _ := os.Stat(p); info.Size() > tt.ceiling {
					t.Errorf("part %d is %d bytes over %d", i+1, info.Size(), tt.ceiling)
				}
			}
		})
	}
}

func TestSegment_gives_up_when_a_gop_exceeds_the_ceiling(t *testing.T) {
	ffmpeg := writeScript(t, "ffmpeg", keyframeSegmenter)
	ffprobe := writeScript(t, "ffprobe", "echo 10\n")
	f := New(ffmpeg, ffprobe, logger.Discard())
	in := writeInput(t, 100)
	pattern := filepath.Join(filepath.Dir(in), "job.part%03d.mp4")

	// A 2s keyframe interval is 20 bytes; no cut can fit 15.
	parts, err := f.Segment(context.Background(), in, 15, pattern)
	if !errors.Is(err, ErrPartTooLarge) {
		t.Fatalf("expected ErrPartTooLarge, got %v", err)
	}
	if parts != nil {
		t.Errorf("no parts should be returned, got %v", parts)
	}
	if left := collectParts(pattern); len(left) != 0 {
		t.Errorf("oversized parts left behind: %v", left)
	}
}

func TestSegment_rejects_empty_part(t *testing.T) {
	ffmpeg := writeScript(t, "ffmpeg", "for last; do :; done\n: > \"$(printf \"$last\" 0)\"\n")
	ffprobe := writeScript(t, "ffprobe", "echo 10\n")
	f := New(ffmpeg, ffprobe, logger.Discard())
	in := writeInput(t, 100)
	pattern := filepath.Join(filepath.Dir(in), "job.part%03d.mp4")

	if _, err := f.Segment(context.Background(), in, 1000, pattern); !errors.Is(err, ErrEmptyPart) {
		t.Fatalf("expected ErrEmptyPart, got %v", err)
	}
	if left := collectParts(pattern); len(left) != 0 {
		t.Errorf("parts left behind: %v", left)
	}
}
