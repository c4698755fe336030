package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"
)

const defaultAPIBase = "https://api.telegram.org"

// Config holds Telegram bot configuration
type Config struct {
	BotToken string
	ChatID   string
	Cooldown time.Duration // Minimum time between two alerts with the same key
	APIBase  string        // Defaults to https://api.telegram.org
}

// apiResponse is the envelope of every Bot API response
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Bot sends messages and photos to one chat
type Bot struct {
	token      string
	chatID     string
	apiBase    string
	httpClient *http.Client
	cooldown   time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

// ValidateConfig validates the Telegram bot configuration
func ValidateConfig(config Config) error {
	if config.BotToken == "" {
		return errors.New("telegram bot token is required")
	}
	if config.ChatID == "" {
		return errors.New("telegram chat ID is required")
	}
	if config.Cooldown < 0 {
		return errors.New("cooldown cannot be negative")
	}
	return nil
}

// NewBot creates a bot for the configured chat
func NewBot(config Config, logger *slog.Logger) (*Bot, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	cooldown := config.Cooldown
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}
	apiBase := config.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}

	return &Bot{
		token:      config.BotToken,
		chatID:     config.ChatID,
		apiBase:    strings.TrimRight(apiBase, "/"),
		httpClient: &http.Client{Timeout: 40 * time.Second},
		cooldown:   cooldown,
		logger:     logger.With("component", "telegram"),
		lastSent:   make(map[string]time.Time),
		now:        time.Now,
	}, nil
}

// ChatID returns the only chat the bot talks to
func (b *Bot) ChatID() string {
	return b.chatID
}

// Allow reports whether an alert with this key may be sent now, and if so
// starts its cooldown
func (b *Bot) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if last, ok := b.lastSent[key]; ok && now.Sub(last) < b.cooldown {
		return false
	}
	b.lastSent[key] = now

	// Drop entries that can no longer block anything
	for k, t := range b.lastSent {
		if now.Sub(t) > b.cooldown*2 {
			delete(b.lastSent, k)
		}
	}
	return true
}

// SendMessage sends an HTML formatted text message
func (b *Bot) SendMessage(ctx context.Context, text string) error {
	payload := map[string]any{
		"chat_id":    b.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	return b.call(ctx, "sendMessage", payload, nil)
}

// SendPhoto sends a JPEG with an optional caption using multipart form data
func (b *Bot) SendPhoto(ctx context.Context, photo []byte, caption string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", b.chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}
		if err := writer.WriteField("parse_mode", "HTML"); err != nil {
			return fmt.Errorf("failed to write parse_mode field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", "moodcam.jpg")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photo); err != nil {
		return fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL("sendPhoto"), &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send photo: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp, nil)
}

// getUpdates long-polls for new messages starting at offset
func (b *Bot) getUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message"},
	}
	var updates []Update
	if err := b.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// call posts a JSON payload to a Bot API method and decodes the result into out
func (b *Bot) call(ctx context.Context, method string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL(method), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s failed: %w", method, err)
	}
	defer resp.Body.Close()

	return handleResponse(resp, out)
}

func (b *Bot) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", b.apiBase, b.token, method)
}

// handleResponse processes the Bot API envelope
func handleResponse(resp *http.Response, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal response (status %d): %w", resp.StatusCode, err)
	}
	if !envelope.OK {
		return fmt.Errorf("telegram API error %d: %s", envelope.ErrorCode, envelope.Description)
	}

	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return nil
}
