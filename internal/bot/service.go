package bot

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"media-relay/internal/platform/metrics"
	"media-relay/internal/workspace"
)

// DefaultMaxOfferSize is the admission ceiling used when none is configured.
const DefaultMaxOfferSize int64 = 50 * 1024 * 1024

// Deps are the collaborators of a Service. Metrics may be nil.
type Deps struct {
	Sessions  Repository
	Provider  Provider
	Retriever *Retriever
	Pipeline  *Pipeline
	Transport Transport
	Workspace *workspace.Workspace
	Log       *slog.Logger
	Metrics   *metrics.Metrics
}

// Service drives the two-step conversation: a URL yields an offer list, a
// token from that list yields a delivery.
type Service struct {
	sessions     Repository
	provider     Provider
	retriever    *Retriever
	pipeline     *Pipeline
	transport    Transport
	workspace    *workspace.Workspace
	resolutions  []int
	maxOfferSize int64
	log          *slog.Logger
	metrics      *metrics.Metrics
}

// NewService returns a Service ranking offers by resolutions (DefaultResolutions
// when empty) and admitting those estimated at or below maxOfferSize
// (DefaultMaxOfferSize when not positive).
func NewService(deps Deps, resolutions []int, maxOfferSize int64) *Service {
	if len(resolutions) == 0 {
		resolutions = DefaultResolutions
	}
	if maxOfferSize <= 0 {
		maxOfferSize = DefaultMaxOfferSize
	}
	return &Service{
		sessions:     deps.Sessions,
		provider:     deps.Provider,
		retriever:    deps.Retriever,
		pipeline:     deps.Pipeline,
		transport:    deps.Transport,
		workspace:    deps.Workspace,
		resolutions:  resolutions,
		maxOfferSize: maxOfferSize,
		log:          deps.Log,
		metrics:      deps.Metrics,
	}
}

// MaxOfferSize returns the admission ceiling in bytes.
func (s *Service) MaxOfferSize() int64 {
	return s.maxOfferSize
}

// ActiveSessionCount reports conversations awaiting a selection or busy.
func (s *Service) ActiveSessionCount() int {
	return s.sessions.ActiveSessionCount()
}

// OnURLSubmitted probes rawURL and returns the admitted offers, numbered from 1.
// A URL submitted while offers are pending replaces them. With no admitted
// offers the conversation is back to awaiting a URL.
func (s *Service) OnURLSubmitted(ctx context.Context, id ConversationID, rawURL string) ([]Offer, error) {
	target, ok := ParseURL(rawURL)
	if !ok {
		return nil, ErrInvalidURL
	}
	if err := s.sessions.BeginProbe(id); err != nil {
		return nil, err
	}

	variants, err := s.provider.Probe(ctx, target)
	if err != nil {
		s.sessions.CompleteProbe(id, target, nil)
		return nil, &RetrievalError{Op: "probe", Err: err}
	}

	videos, audio, hasAudio := Normalize(variants, s.resolutions)
	if len(videos) == 0 {
		s.sessions.CompleteProbe(id, target, nil)
		return nil, ErrEmptyCatalog
	}

	offers := Admit(BuildOffers(videos, audio, hasAudio), s.maxOfferSize)
	s.sessions.CompleteProbe(id, target, offers)
	if len(offers) == 0 {
		return nil, ErrNoAdmissibleOffers
	}

	s.log.Info("offers listed",
		slog.String("conversation_id", string(id)),
		slog.String("url", target),
		slog.Int("variants", len(variants)),
		slog.Int("offers", len(offers)))
	return offers, nil
}

// OnSelectionSubmitted retrieves and delivers the offer bound to token in the
// current round. Rejected tokens leave the round untouched; once a token is
// accepted the conversation returns to awaiting a URL whatever the outcome.
func (s *Service) OnSelectionSubmitted(ctx context.Context, id ConversationID, token string) (DeliveryReport, error) {
	// Tokens start at 1, so a non-numeric reply maps to a token that never matches.
	n, err := strconv.Atoi(strings.TrimSpace(token))
	if err != nil {
		n = 0
	}
	target, offer, err := s.sessions.Claim(id, n)
	if err != nil {
		return DeliveryReport{}, err
	}
	defer s.sessions.Release(id)

	job := s.workspace.NewJob(string(id))
	defer func() {
		if err := job.Cleanup(); err != nil {
			s.log.Warn("job cleanup failed", slog.String("job", job.ID), slog.String("error", err.Error()))
		}
	}()

	s.log.Info("selection accepted",
		slog.String("conversation_id", string(id)),
		slog.String("job", job.ID),
		slog.String("format", offer.FormatSpec()),
		slog.String("source_ext", offer.Ext),
		slog.Int64("estimated_size", offer.Size))
	s.notify(ctx, id, retrievingMessage)

	art, err := s.retriever.Retrieve(ctx, target, offer, job)
	if err != nil {
		return DeliveryReport{}, err
	}
	return s.pipeline.Deliver(ctx, id, art, job)
}

// HandleMessage routes one inbound text message and replies to it. URLs
// always start a new round; other text is a selection unless the
// conversation is awaiting a URL.
func (s *Service) HandleMessage(ctx context.Context, id ConversationID, text string) {
	text = strings.TrimSpace(text)

	switch {
	case isCommand(text, "start"):
		s.notify(ctx, id, welcomeMessage)

	case looksLikeURL(text) || s.sessions.State(id) == StateAwaitingURL:
		offers, err := s.OnURLSubmitted(ctx, id, text)
		if err != nil {
			s.observeRound(id, err)
			s.notify(ctx, id, RenderError(err, s.maxOfferSize))
			return
		}
		s.metrics.ObserveRound("offered")
		s.notify(ctx, id, RenderOffers(offers, s.maxOfferSize))

	default:
		report, err := s.OnSelectionSubmitted(ctx, id, text)
		if err != nil {
			s.observeDelivery(id, err)
			s.notify(ctx, id, RenderError(err, s.maxOfferSize))
			return
		}
		s.metrics.ObserveDelivery("delivered")
		s.log.Info("delivery complete",
			slog.String("conversation_id", string(id)),
			slog.Int("parts", report.Parts))
	}
}

func (s *Service) observeRound(id ConversationID, err error) {
	kind := ErrorKind(err)
	s.metrics.ObserveRound(string(kind))
	if kind == KindRetrievalFailure || kind == KindUnknown {
		s.log.Error("probe failed", slog.String("conversation_id", string(id)), slog.String("error", err.Error()))
		return
	}
	s.log.Info("round rejected", slog.String("conversation_id", string(id)), slog.String("kind", string(kind)))
}

func (s *Service) observeDelivery(id ConversationID, err error) {
	kind := ErrorKind(err)
	s.metrics.ObserveDelivery(string(kind))
	if kind == KindInvalidInput || kind == KindBusy {
		s.log.Info("selection rejected", slog.String("conversation_id", string(id)), slog.String("kind", string(kind)))
		return
	}
	s.log.Error("delivery failed",
		slog.String("conversation_id", string(id)),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()))
}

// notify sends a text reply; a failed reply is logged and otherwise ignored.
func (s *Service) notify(ctx context.Context, id ConversationID, text string) {
	if err := s.transport.SendText(ctx, id, text); err != nil {
		s.log.Warn("reply failed", slog.String("conversation_id", string(id)), slog.String("error", err.Error()))
	}
}

// ParseURL accepts absolute http and https URLs with a host.
func ParseURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.ContainsAny(raw, " \t\n") {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}

func looksLikeURL(text string) bool {
	lower := strings.ToLower(text)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// isCommand matches "/name" and "/name@botname", with or without arguments.
func isCommand(text, name string) bool {
	if !strings.HasPrefix(text, "/") {
		return false
	}
	cmd := strings.Fields(text[1:])
	if len(cmd) == 0 {
		return false
	}
	head, _, _ := strings.Cut(cmd[0], "@")
	return strings.EqualFold(head, name)
}
