package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf16"

	"media-relay/internal/platform/metrics"
	"media-relay/internal/workspace"
)

// Segmenter cuts a file into ordered parts of at most ceiling bytes using
// stream copy. outputPattern is a printf pattern taking the 0-based index;
// the returned paths are in playback order.
type Segmenter interface {
	Segment(ctx context.Context, inputPath string, ceiling int64, outputPattern string) ([]string, error)
}

// Transport is the outbound side of the chat.
type Transport interface {
	SendText(ctx context.Context, id ConversationID, text string) error
	SendVideo(ctx context.Context, id ConversationID, path, caption string) error
}

const (
	// DefaultTransportLimit is the largest single upload the transport accepts.
	DefaultTransportLimit int64 = 50 * 1024 * 1024
	// DefaultCaptionLimit is the transport's caption length cap, in runes.
	DefaultCaptionLimit = 1024
)

// Pipeline delivers a retrieved artifact, splitting it when it exceeds the
// transport limit. Every file of the artifact's job is removed before
// Deliver returns, whatever the outcome.
type Pipeline struct {
	segmenter    Segmenter
	transport    Transport
	ceiling      int64
	captionLimit int
	log          *slog.Logger
	metrics      *metrics.Metrics
}

// NewPipeline returns a Pipeline. Non-positive limits fall back to the defaults.
// Metrics may be nil.
func NewPipeline(segmenter Segmenter, transport Transport, ceiling int64, captionLimit int, log *slog.Logger, m *metrics.Metrics) *Pipeline {
	if ceiling <= 0 {
		ceiling = DefaultTransportLimit
	}
	if captionLimit <= 0 {
		captionLimit = DefaultCaptionLimit
	}
	return &Pipeline{
		segmenter:    segmenter,
		transport:    transport,
		ceiling:      ceiling,
		captionLimit: captionLimit,
		log:          log,
		metrics:      m,
	}
}

// Deliver uploads art to the conversation. Parts are sent strictly in order
// and each one is deleted as soon as it is delivered. The first rejected
// upload stops delivery with a *DeliveryError naming the parts that made it.
func (p *Pipeline) Deliver(ctx context.Context, id ConversationID, art Artifact, job *workspace.Job) (report DeliveryReport, err error) {
	defer func() {
		if cerr := job.Cleanup(); cerr != nil {
			p.log.Warn("job cleanup failed", slog.String("job", job.ID), slog.String("error", cerr.Error()))
		}
	}()

	if art.Size <= p.ceiling {
		report.Parts = 1
		if err := p.send(ctx, id, art.Path, TruncateCaption(art.Title, p.captionLimit)); err != nil {
			return report, &DeliveryError{Part: 1, Parts: 1, Err: err}
		}
		report.Delivered = []int{1}
		return report, nil
	}

	ext := strings.TrimPrefix(filepath.Ext(art.Path), ".")
	parts, err := p.segmenter.Segment(ctx, art.Path, p.ceiling, job.SegmentPattern(ext))
	if err != nil {
		return report, &SegmentationError{Err: err}
	}
	if err := p.checkParts(parts); err != nil {
		return report, &SegmentationError{Err: err}
	}

	report.Parts = len(parts)
	p.log.Info("artifact segmented",
		slog.String("conversation_id", string(id)),
		slog.Int64("size", art.Size),
		slog.Int64("ceiling", p.ceiling),
		slog.Int("parts", len(parts)))

	for i, part := range parts {
		caption := partCaption(art.Title, i+1, p.captionLimit)
		if err := p.send(ctx, id, part, caption); err != nil {
			return report, &DeliveryError{Part: i + 1, Parts: len(parts), Delivered: report.Delivered, Err: err}
		}
		report.Delivered = append(report.Delivered, i+1)
		if err := os.Remove(part); err != nil && !os.IsNotExist(err) {
			p.log.Warn("remove delivered part failed", slog.String("path", part), slog.String("error", err.Error()))
		}
		p.log.Debug("part delivered",
			slog.String("conversation_id", string(id)),
			slog.Int("part", i+1),
			slog.Int("parts", len(parts)))
	}
	return report, nil
}

func (p *Pipeline) send(ctx context.Context, id ConversationID, path, caption string) error {
	if err := p.transport.SendVideo(ctx, id, path, caption); err != nil {
		return err
	}
	p.metrics.IncSegmentsSent()
	return nil
}

// checkParts rejects segment sets that could not be delivered as promised.
func (p *Pipeline) checkParts(parts []string) error {
	if len(parts) == 0 {
		return errors.New("segmenter produced no parts")
	}
	for i, part := range parts {
		info, err := os.Stat(part)
		if err != nil {
			return fmt.Errorf("part %d: %w", i+1, err)
		}
		if info.Size() == 0 {
			return fmt.Errorf("part %d is empty", i+1)
		}
		if info.Size() > p.ceiling {
			return fmt.Errorf("part %d is %d bytes, above the %d byte limit", i+1, info.Size(), p.ceiling)
		}
	}
	return nil
}

// TruncateCaption shortens s to at most limit UTF-16 code units, the unit
// the transport counts captions in. Runes are never split.
func TruncateCaption(s string, limit int) string {
	if limit <= 0 || captionLen(s) <= limit {
		return s
	}
	n := 0
	for i, r := range s {
		w := utf16.RuneLen(r)
		if w < 0 {
			w = 1
		}
		if n+w > limit {
			return s[:i]
		}
		n += w
	}
	return s
}

// captionLen is the length of s in UTF-16 code units.
func captionLen(s string) int {
	n := 0
	for _, r := range s {
		if w := utf16.RuneLen(r); w > 0 {
			n += w
		} else {
			n++
		}
	}
	return n
}

// partCaption is "<title> (Part n)", shortening the title so the suffix always fits.
func partCaption(title string, n, limit int) string {
	suffix := fmt.Sprintf(" (Part %d)", n)
	room := limit - captionLen(suffix)
	if room < 0 {
		return TruncateCaption(strings.TrimSpace(suffix), limit)
	}
	return TruncateCaption(title, room) + suffix
}
