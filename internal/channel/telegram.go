package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dealwatcher/internal/config"
	"dealwatcher/internal/posts"
	"dealwatcher/internal/render"
)

// Telegram publishes and edits channel posts through the Telegram Bot API.
type Telegram struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegram constructs the Telegram channel client.
func NewTelegram(cfg config.TelegramConfig, logger zerolog.Logger) *Telegram {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := cfg.APIBase
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &Telegram{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "channel_telegram").Logger(),
	}
}

// Publish sends a new photo post and returns the channel message id.
func (t *Telegram) Publish(ctx context.Context, img render.Image, caption string, silent bool) (int64, error) {
	payload := map[string]any{
		"chat_id":              t.chatID,
		"photo":                imageRef(img),
		"caption":              caption,
		"parse_mode":           "HTML",
		"disable_notification": silent,
	}

	var result struct {
		MessageID int64 `json:"message_id"`
	}
	if err := t.call(ctx, "sendPhoto", payload, &result); err != nil {
		return 0, err
	}
	if result.MessageID == 0 {
		return 0, fmt.Errorf("telegram returned no message id")
	}

	t.logger.Info().Int64("message_id", result.MessageID).Bool("silent", silent).Msg("post published")
	return result.MessageID, nil
}

// EditFull replaces a post's photo and caption in one call.
func (t *Telegram) EditFull(ctx context.Context, messageID int64, img render.Image, caption string) error {
	payload := map[string]any{
		"chat_id":    t.chatID,
		"message_id": messageID,
		"media": map[string]any{
			"type":       "photo",
			"media":      imageRef(img),
			"caption":    caption,
			"parse_mode": "HTML",
		},
	}

	if err := t.call(ctx, "editMessageMedia", payload, nil); err != nil {
		return err
	}

	t.logger.Info().Int64("message_id", messageID).Msg("post media edited")
	return nil
}

// EditCaption replaces only a post's caption.
func (t *Telegram) EditCaption(ctx context.Context, messageID int64, caption string) error {
	payload := map[string]any{
		"chat_id":    t.chatID,
		"message_id": messageID,
		"caption":    caption,
		"parse_mode": "HTML",
	}

	if err := t.call(ctx, "editMessageCaption", payload, nil); err != nil {
		return err
	}

	t.logger.Info().Int64("message_id", messageID).Msg("post caption edited")
	return nil
}

func (t *Telegram) call(ctx context.Context, method string, payload map[string]any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram %s returned status %d", method, resp.StatusCode)
	}

	var envelope struct {
		OK     bool            `json:"ok"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode telegram response: %w", err)
	}
	if !envelope.OK {
		return fmt.Errorf("telegram %s returned ok=false", method)
	}

	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("decode telegram result: %w", err)
		}
	}
	return nil
}

// imageRef encodes the dimmed variant in the file reference. Actual image
// composition lives with the rendering pipeline, not this transport.
func imageRef(img render.Image) string {
	if img.Dimmed {
		return img.URL + "#dimmed"
	}
	return img.URL
}

var _ posts.Channel = (*Telegram)(nil)
