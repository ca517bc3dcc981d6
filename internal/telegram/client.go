package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// pollTimeoutSec is the long-poll timeout passed to getUpdates.
const pollTimeoutSec = 30

// sendTimeout bounds a single non-polling API call.
const sendTimeout = 20 * time.Second

// Client is a Telegram Bot API client. Methods are safe for concurrent
// use; the underlying http.Client is shared.
type Client struct {
	token   string
	baseURL string
	logger  *slog.Logger

	// sendClient has a short timeout for ordinary method calls. The
	// poll client's timeout leaves headroom over the server-side
	// long-poll window so a healthy idle poll is never cut short.
	sendClient *http.Client
	pollClient *http.Client
}

// NewClient creates a Bot API client. An empty baseURL selects
// [DefaultBaseURL]; tests point it at a local server.
func NewClient(token, baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		token:      token,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
		sendClient: &http.Client{Timeout: sendTimeout},
		pollClient: &http.Client{Timeout: (pollTimeoutSec + 15) * time.Second},
	}
}

// call invokes a Bot API method and returns the raw result payload.
func (c *Client) call(ctx context.Context, httpClient *http.Client, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}

	var api apiResponse
	if err := json.Unmarshal(data, &api); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if !api.OK {
		return nil, fmt.Errorf("telegram %s error %d: %s", method, api.ErrorCode, api.Description)
	}
	return api.Result, nil
}

// GetMe returns the bot's own account. Used at startup to learn the
// bot's user ID (for reply-to-self detection) and username (mention
// handle fallback).
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	raw, err := c.call(ctx, c.sendClient, "getMe", struct{}{})
	if err != nil {
		return nil, err
	}

	var me User
	if err := json.Unmarshal(raw, &me); err != nil {
		return nil, fmt.Errorf("unmarshal getMe result: %w", err)
	}
	return &me, nil
}

// GetUpdates long-polls for updates with update_id >= offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	raw, err := c.call(ctx, c.pollClient, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         pollTimeoutSec,
		"allowed_updates": []string{"message"},
	})
	if err != nil {
		return nil, err
	}

	var updates []Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("unmarshal updates: %w", err)
	}
	return updates, nil
}

// SendMessage sends a text message to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := c.call(ctx, c.sendClient, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	return err
}

// SendChatAction emits a presence signal ("typing") to a chat. The
// indicator fades after a few seconds, so callers refresh it on a
// ticker while work is in progress.
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	_, err := c.call(ctx, c.sendClient, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  action,
	})
	return err
}

// Handler processes one inbound update. Implementations decide their
// own concurrency; Poll invokes the handler synchronously.
type Handler func(ctx context.Context, u Update)

// Poll long-polls getUpdates and dispatches every returned update,
// advancing the offset so each update is delivered once. It returns
// ctx.Err() on cancellation and the transport error on a failed poll;
// the caller owns the restart policy.
func (c *Client) Poll(ctx context.Context, handler Handler) error {
	var offset int64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		updates, err := c.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("poll updates: %w", err)
		}

		if len(updates) > 0 {
			c.logger.Debug("updates received", "count", len(updates), "offset", offset)
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			handler(ctx, u)
		}
	}
}
