package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"media-relay/internal/platform/logger"
	"media-relay/internal/workspace"
)

type fakeProvider struct {
	mu       sync.Mutex
	variants []StreamVariant
	probeErr error
	fetchErr error
	// payload is written to "<template>.<ext>" on Fetch.
	payload []byte
	ext     string
	title   string
	// block, when set, is waited on inside Probe.
	block   chan struct{}
	fetched []string
}

func (p *fakeProvider) Probe(ctx context.Context, url string) ([]StreamVariant, error) {
	if p.block != nil {
		<-p.block
	}
	if p.probeErr != nil {
		return nil, p.probeErr
	}
	return p.variants, nil
}

func (p *fakeProvider) Fetch(ctx context.Context, url, formatSpec, outputTemplate string) (string, string, error) {
	p.mu.Lock()
	p.fetched = append(p.fetched, formatSpec)
	p.mu.Unlock()
	if p.fetchErr != nil {
		return "", "", p.fetchErr
	}
	ext := p.ext
	if ext == "" {
		ext = "mp4"
	}
	path := strings.Replace(outputTemplate, "%(ext)s", ext, 1)
	if err := os.WriteFile(path, p.payload, 0o644); err != nil {
		return "", "", err
	}
	return path, p.title, nil
}

type fakeRemuxer struct {
	err   error
	calls int
}

func (r *fakeRemuxer) Remux(ctx context.Context, in, out string) error {
	r.calls++
	if r.err != nil {
		return r.err
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

// byteSegmenter splits the input into ceiling-sized chunks, so part sizes
// sum to the input size exactly.
type byteSegmenter struct {
	err error
	// partial makes the segmenter write one part before failing.
	partial bool
}

func (s *byteSegmenter) Segment(ctx context.Context, in string, ceiling int64, pattern string) ([]string, error) {
	data, err := os.ReadFile(in)
	if err != nil {
		return nil, err
	}
	var parts []string
	for i := 0; len(data) > 0; i++ {
		n := int64(len(data))
		if n > ceiling {
			n = ceiling
		}
		path := fmt.Sprintf(pattern, i)
		if err := os.WriteFile(path, data[:n], 0o644); err != nil {
			return parts, err
		}
		parts = append(parts, path)
		data = data[n:]
		if s.partial {
			return parts, s.err
		}
	}
	if s.err != nil {
		return parts, s.err
	}
	return parts, nil
}

type sentVideo struct {
	conv     ConversationID
	path     string
	caption  string
	size     int64
	prevGone bool // the previously sent file was already deleted
}

type fakeTransport struct {
	mu          sync.Mutex
	texts       map[ConversationID][]string
	videos      []sentVideo
	failVideoAt int // 1-based SendVideo call that fails; 0 never fails
	videoCalls  int
	textErr     error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{texts: make(map[ConversationID][]string)}
}

func (t *fakeTransport) SendText(ctx context.Context, id ConversationID, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.texts[id] = append(t.texts[id], text)
	return t.textErr
}

func (t *fakeTransport) SendVideo(ctx context.Context, id ConversationID, path, caption string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.videoCalls++
	if t.failVideoAt != 0 && t.videoCalls == t.failVideoAt {
		return errors.New("upload rejected: Request Entity Too Large")
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	prevGone := true
	if n := len(t.videos); n > 0 {
		if _, err := os.Stat(t.videos[n-1].path); err == nil {
			prevGone = false
		}
	}
	t.videos = append(t.videos, sentVideo{conv: id, path: path, caption: caption, size: info.Size(), prevGone: prevGone})
	return nil
}

func (t *fakeTransport) lastText(id ConversationID) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs := t.texts[id]
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

func openWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, _, err := workspace.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// leftovers lists every file in the workspace except the lock.
func leftovers(t *testing.T, ws *workspace.Workspace) []string {
	t.Helper()
	entries, err := os.ReadDir(ws.Dir())
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, e := range entries {
		if e.Name() != ".lock" {
			out = append(out, filepath.Join(ws.Dir(), e.Name()))
		}
	}
	return out
}

func writeArtifact(t *testing.T, job *workspace.Job, size int, title string) Artifact {
	t.Helper()
	path := job.Path("mp4")
	if err := os.WriteFile(path, bytes.Repeat([]byte{'v'}, size), 0o644); err != nil {
		t.Fatal(err)
	}
	return Artifact{Path: path, Title: title, Size: int64(size)}
}

type testEnv struct {
	svc       *Service
	repo      *InMemoryRepository
	provider  *fakeProvider
	remuxer   *fakeRemuxer
	segmenter *byteSegmenter
	transport *fakeTransport
	ws        *workspace.Workspace
}

// newTestEnv wires a Service with fakes. maxOffer and transportLimit are in bytes.
func newTestEnv(t *testing.T, maxOffer, transportLimit int64) *testEnv {
	t.Helper()
	log := logger.Discard()
	env := &testEnv{
		repo:      NewInMemoryRepository(),
		provider:  &fakeProvider{},
		remuxer:   &fakeRemuxer{},
		segmenter: &byteSegmenter{},
		transport: newFakeTransport(),
		ws:        openWorkspace(t),
	}
	env.svc = NewService(Deps{
		Sessions:  env.repo,
		Provider:  env.provider,
		Retriever: NewRetriever(env.provider, env.remuxer, "mp4", log),
		Pipeline:  NewPipeline(env.segmenter, env.transport, transportLimit, DefaultCaptionLimit, log, nil),
		Transport: env.transport,
		Workspace: env.ws,
		Log:       log,
	}, nil, maxOffer)
	return env
}
