// Package ytdlp implements the media provider on top of the yt-dlp CLI.
package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lrstanley/go-ytdlp"

	"media-relay/internal/bot"
)

// ErrNoFormats is returned when the probed media lists no formats.
var ErrNoFormats = errors.New("no formats listed for media")

// Provider probes and downloads media with yt-dlp.
type Provider struct {
	executable string
	container  string
	log        *slog.Logger
}

// New returns a Provider running executable, or yt-dlp from PATH when empty.
// Separate video and audio downloads are merged into container (mp4 when empty).
func New(executable, container string, log *slog.Logger) *Provider {
	if container == "" {
		container = "mp4"
	}
	return &Provider{executable: executable, container: container, log: log}
}

func (p *Provider) command() *ytdlp.Command {
	cmd := ytdlp.New().
		NoPlaylist().
		NoWarnings().
		NoProgress()
	if p.executable != "" {
		cmd.SetExecutable(p.executable)
	}
	return cmd
}

// Probe lists the formats of url without downloading anything.
func (p *Provider) Probe(ctx context.Context, url string) ([]bot.StreamVariant, error) {
	result, err := p.command().
		DumpSingleJSON().
		SkipDownload().
		Run(ctx, url)
	if err != nil {
		return nil, commandError(err, result)
	}
	var variants []bot.StreamVariant
	if info, ierr := result.GetExtractedInfo(); ierr == nil && len(info) > 0 {
		variants, err = Variants(info[0])
	} else {
		variants, err = ParseFormats([]byte(result.Stdout))
	}
	if err != nil {
		return nil, err
	}
	p.log.Debug("media probed", slog.String("url", url), slog.Int("formats", len(variants)))
	return variants, nil
}

// Fetch downloads formatSpec into outputTemplate. It returns the written path and the media title.
func (p *Provider) Fetch(ctx context.Context, url, formatSpec, outputTemplate string) (string, string, error) {
	result, err := p.command().
		Format(formatSpec).
		MergeOutputFormat(p.container).
		Output(outputTemplate).
		ForceOverwrites().
		PrintJSON().
		Run(ctx, url)
	if err != nil {
		return "", "", commandError(err, result)
	}

	var path, title string
	info, err := result.GetExtractedInfo()
	if err == nil && len(info) > 0 {
		if info[0].Filename != nil {
			path = *info[0].Filename
		}
		if info[0].Title != nil {
			title = *info[0].Title
		}
	}
	p.log.Debug("media fetched",
		slog.String("url", url),
		slog.String("format", formatSpec),
		slog.String("path", path))
	return path, title, nil
}

// commandError prefers yt-dlp's own ERROR line over the exit status.
func commandError(err error, result *ytdlp.Result) error {
	if result == nil {
		return err
	}
	for _, line := range strings.Split(result.Stderr, "\n") {
		if strings.HasPrefix(line, "ERROR:") {
			return errors.New(strings.TrimSpace(line))
		}
	}
	return err
}

// ParseFormats converts yt-dlp's single-JSON dump into stream variants.
// Sizes fall back to yt-dlp's approximation and are 0 when unknown.
func ParseFormats(data []byte) ([]bot.StreamVariant, error) {
	var info ytdlp.ExtractedInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode yt-dlp output: %w", err)
	}
	return Variants(&info)
}

// Variants maps the formats of info to stream variants, dropping formats
// that carry neither video nor audio.
func Variants(info *ytdlp.ExtractedInfo) ([]bot.StreamVariant, error) {
	if info == nil || len(info.Formats) == 0 {
		return nil, ErrNoFormats
	}

	variants := make([]bot.StreamVariant, 0, len(info.Formats))
	for _, f := range info.Formats {
		if f == nil {
			continue
		}
		v := bot.StreamVariant{
			ID:      deref(f.FormatID),
			Height:  int(number(f.Height)),
			Bitrate: float64(number(f.TBR)),
			Ext:     deref(f.Extension),
		}
		v.HasVideo, v.HasAudio = streams(f)
		if size := int64(number(f.FileSize)); size > 0 {
			v.Size = size
		} else if approx := int64(number(f.FileSizeApprox)); approx > 0 {
			v.Size = approx
		}
		if !v.HasVideo && !v.HasAudio {
			// storyboards and other image-only formats
			continue
		}
		variants = append(variants, v)
	}
	return variants, nil
}

// audioExts are containers that never carry video.
var audioExts = map[string]bool{
	"m4a": true, "mp3": true, "aac": true, "opus": true, "ogg": true,
	"oga": true, "wav": true, "flac": true, "weba": true,
}

// streams reports which streams f carries. A codec of "none" marks an absent
// stream. When yt-dlp omits the video codec, a height on a non-audio
// container means video; when it omits the audio codec, audio is assumed.
func streams(f *ytdlp.ExtractedFormat) (video, audio bool) {
	vcodec, acodec := deref(f.VCodec), deref(f.ACodec)
	if vcodec != "" {
		video = vcodec != "none"
	} else {
		video = number(f.Height) > 0 && !audioExts[deref(f.Extension)]
	}
	if acodec != "" {
		audio = acodec != "none"
	} else {
		audio = true
	}
	return video, audio
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func number[T ~int | ~int64 | ~float64](p *T) T {
	if p == nil {
		return 0
	}
	return *p
}
