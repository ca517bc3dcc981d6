// Package responder turns conversation history into model calls: the
// Generator produces the assistant reply, the Oracle produces the
// reply/observe gating decision. Neither ever propagates an error to
// its caller.
package responder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/history"
	"github.com/parleybot/parley/internal/ollama"
)

// ChatClient abstracts the inference service for testability. The real
// implementation is *ollama.Client.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, stream bool, callback ollama.StreamCallback) (string, error)
}

// Generator assembles a message payload from conversation history and
// drives an inference call to completion.
type Generator struct {
	client ChatClient
	logger *slog.Logger
}

// NewGenerator creates a response generator.
func NewGenerator(client ChatClient, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{client: client, logger: logger}
}

// Generate builds the payload (system prompt, then the conversation in
// order) and returns the model's complete reply. Any inference failure
// is converted to a user-visible error string; the caller always
// receives a reply string, never an error.
func (g *Generator) Generate(ctx context.Context, cfg *config.Config, conv []history.Entry) string {
	messages := BuildPayload(cfg.System, conv)

	reply, err := g.client.Chat(ctx, cfg.Model, messages, cfg.Stream, nil)
	if err != nil {
		g.logger.Error("generation failed",
			"model", cfg.Model,
			"error", err,
		)
		return fmt.Sprintf("Error in streaming response: %v", err)
	}
	return reply
}

// BuildPayload converts conversation history into the wire payload. A
// non-empty system prompt becomes the leading system entry. User
// entries carrying a sender get the sender appended inline; this shapes
// the payload only and never touches the persisted entry.
func BuildPayload(system string, conv []history.Entry) []ollama.Message {
	messages := make([]ollama.Message, 0, len(conv)+1)
	if system != "" {
		messages = append(messages, ollama.Message{Role: history.RoleSystem, Content: system})
	}
	for _, e := range conv {
		content := e.Content
		if e.Role == history.RoleUser && e.Sender != "" {
			content = fmt.Sprintf("%s (sent by %s)", e.Content, e.Sender)
		}
		messages = append(messages, ollama.Message{Role: e.Role, Content: content})
	}
	return messages
}
