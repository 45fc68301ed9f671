package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"media-relay/internal/workspace"
)

// Provider resolves a URL into a catalog of variants and downloads a chosen
// format. Fetch may merge a "video+audio" pairing into one container.
type Provider interface {
	Probe(ctx context.Context, url string) ([]StreamVariant, error)
	Fetch(ctx context.Context, url, formatSpec, outputTemplate string) (path, title string, err error)
}

// Remuxer rewrites a media file into another container without re-encoding.
type Remuxer interface {
	Remux(ctx context.Context, inputPath, outputPath string) error
}

// DefaultContainer is the container delivered to the transport.
const DefaultContainer = "mp4"

// Retriever downloads the chosen offer into a job and normalizes its container.
type Retriever struct {
	provider  Provider
	remuxer   Remuxer
	container string
	log       *slog.Logger
}

// NewRetriever returns a Retriever delivering files in container
// (DefaultContainer when empty).
func NewRetriever(provider Provider, remuxer Remuxer, container string, log *slog.Logger) *Retriever {
	if container == "" {
		container = DefaultContainer
	}
	return &Retriever{
		provider:  provider,
		remuxer:   remuxer,
		container: strings.TrimPrefix(container, "."),
		log:       log,
	}
}

// Container returns the delivery container extension, without dot.
func (r *Retriever) Container() string {
	return r.container
}

// Retrieve fetches offer from url into job. Failures are returned as
// *RetrievalError with the provider's cause; they are never retried here.
// Files left behind on failure belong to job and are removed by its cleanup.
func (r *Retriever) Retrieve(ctx context.Context, url string, offer Offer, job *workspace.Job) (Artifact, error) {
	produced, title, err := r.provider.Fetch(ctx, url, offer.FormatSpec(), job.OutputTemplate())
	if err != nil {
		return Artifact{}, &RetrievalError{Op: "fetch", Err: err}
	}

	path, err := locate(job, produced)
	if err != nil {
		return Artifact{}, &RetrievalError{Op: "locate", Err: err}
	}

	if ext := strings.TrimPrefix(filepath.Ext(path), "."); !strings.EqualFold(ext, r.container) {
		out := job.Path(r.container)
		r.log.Debug("remuxing artifact",
			slog.String("job", job.ID),
			slog.String("from", ext),
			slog.String("to", r.container))
		if err := r.remuxer.Remux(ctx, path, out); err != nil {
			return Artifact{}, &RetrievalError{Op: "remux", Err: err}
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.log.Warn("remove pre-remux file failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		path = out
	}

	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, &RetrievalError{Op: "stat", Err: err}
	}
	if title == "" {
		title = "video"
	}
	return Artifact{Path: path, Title: title, Size: info.Size()}, nil
}

// locate finds the merged output of a fetch. The provider's reported path is
// trusted when it exists inside the job; otherwise the job's files are
// searched for "<job>.<ext>", skipping per-format intermediates such as
// "<job>.f137.mp4" and partial downloads.
func locate(job *workspace.Job, reported string) (string, error) {
	if reported != "" && job.Owns(reported) {
		if _, err := os.Stat(reported); err == nil {
			return reported, nil
		}
	}

	files, err := job.Files()
	if err != nil {
		return "", err
	}
	for _, f := range files {
		rest := strings.TrimPrefix(filepath.Base(f), job.ID+".")
		if rest == "" || strings.Contains(rest, ".") || rest == "part" || rest == "ytdl" {
			continue
		}
		return f, nil
	}
	if reported != "" {
		return "", fmt.Errorf("produced file %q not found", filepath.Base(reported))
	}
	return "", errors.New("produced file not found")
}
