package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"media-relay/internal/bot"
	"media-relay/internal/platform/metrics"
)

// SecretHeader carries the secret registered with the webhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Dispatcher handles one inbound text message.
type Dispatcher interface {
	HandleMessage(ctx context.Context, id bot.ConversationID, text string)
}

// WebhookHandler accepts Telegram updates over HTTP. Updates are acknowledged
// immediately and processed in the background.
type WebhookHandler struct {
	dispatcher Dispatcher
	secret     string
	log        *slog.Logger
	metrics    *metrics.Metrics
	wg         sync.WaitGroup
}

// NewWebhookHandler returns a WebhookHandler. An empty secret disables the
// header check. Metrics may be nil.
func NewWebhookHandler(d Dispatcher, secret string, log *slog.Logger, m *metrics.Metrics) *WebhookHandler {
	return &WebhookHandler{dispatcher: d, secret: secret, log: log, metrics: m}
}

// ServeHTTP handles POST of one update.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(h.secret)) != 1 {
		h.log.Warn("webhook secret mismatch", slog.String("remote_addr", r.RemoteAddr))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.log.Debug("invalid update body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	chat := update.FromChat()
	if update.Message == nil || chat == nil || update.Message.Text == "" {
		h.log.Debug("update ignored", slog.Int("update_id", update.UpdateID))
		w.WriteHeader(http.StatusOK)
		return
	}

	id := ConversationFor(chat.ID)
	text := update.Message.Text
	h.metrics.IncUpdates()
	h.log.Debug("update accepted",
		slog.Int("update_id", update.UpdateID),
		slog.String("conversation_id", string(id)))

	ctx := context.WithoutCancel(r.Context())
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.dispatcher.HandleMessage(ctx, id, text)
	}()
	w.WriteHeader(http.StatusOK)
}

// Wait blocks until every accepted update has been processed.
func (h *WebhookHandler) Wait() {
	h.wg.Wait()
}
