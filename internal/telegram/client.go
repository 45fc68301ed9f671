// Package telegram connects the relay to the Telegram Bot API: outbound
// messages and uploads, and the inbound update webhook.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"media-relay/internal/bot"
)

// uploadTimeout bounds one API call, uploads included.
const uploadTimeout = 10 * time.Minute

// Client sends messages and videos to chats.
type Client struct {
	api          *tgbotapi.BotAPI
	captionLimit int
	log          *slog.Logger
}

// New authenticates token against endpoint (tgbotapi.APIEndpoint when empty).
func New(token, endpoint string, captionLimit int, log *slog.Logger) (*Client, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if captionLimit <= 0 {
		captionLimit = bot.DefaultCaptionLimit
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: uploadTimeout})
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return &Client{api: api, captionLimit: captionLimit, log: log}, nil
}

// Username returns the bot's username.
func (c *Client) Username() string {
	return c.api.Self.UserName
}

// SendText implements bot.Transport.
func (c *Client) SendText(ctx context.Context, id bot.ConversationID, text string) error {
	chatID, err := chatID(id)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendVideo implements bot.Transport. The file is uploaded as a streamable video.
func (c *Client) SendVideo(ctx context.Context, id bot.ConversationID, path, caption string) error {
	chatID, err := chatID(id)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	video := tgbotapi.NewVideo(chatID, tgbotapi.FilePath(path))
	video.Caption = bot.TruncateCaption(caption, c.captionLimit)
	video.SupportsStreaming = true

	start := time.Now()
	if _, err := c.api.Send(video); err != nil {
		return fmt.Errorf("upload video: %w", err)
	}
	c.log.Debug("video uploaded",
		slog.String("conversation_id", string(id)),
		slog.String("path", path),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return nil
}

// RegisterWebhook points Telegram at url. Updates are signed with secret
// when it is not empty.
func (c *Client) RegisterWebhook(url, secret string) error {
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)
	if _, err := c.api.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

func chatID(id bot.ConversationID) (int64, error) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("conversation %q is not a chat id", id)
	}
	return n, nil
}

// ConversationFor maps a chat to its conversation.
func ConversationFor(chatID int64) bot.ConversationID {
	return bot.ConversationID(strconv.FormatInt(chatID, 10))
}
