package responder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/history"
	"github.com/parleybot/parley/internal/ollama"
)

// Decision is the gating verdict for a generated reply.
type Decision string

const (
	// DecisionReply means the reply should be delivered.
	DecisionReply Decision = "reply"
	// DecisionObserve means the reply is silently suppressed.
	DecisionObserve Decision = "observe"
)

// gatePrompt is the fixed instruction for the gating call.
const gatePrompt = "Based on the following conversation, should you reply to the user " +
	"or simply observe and add to history? Answer exactly with 'reply' or 'observe'. " +
	"If unsure, answer 'reply'."

// gateWindow is how many trailing history entries the oracle sees.
const gateWindow = 5

// Oracle decides whether a generated reply should actually be sent.
type Oracle struct {
	client ChatClient
	logger *slog.Logger
}

// NewOracle creates a gating oracle.
func NewOracle(client ChatClient, logger *slog.Logger) *Oracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{client: client, logger: logger}
}

// Decide renders the most recent history entries and asks the
// intermediate model for a reply/observe verdict. Anything other than
// an exact "observe" answer is treated as reply; an empty result or
// any inference failure also yields reply. The system fails open: it
// prefers responding over silently dropping a message. Decide never
// returns an error.
func (o *Oracle) Decide(ctx context.Context, cfg *config.Config, conv []history.Entry) Decision {
	recent := conv
	if len(recent) > gateWindow {
		recent = recent[len(recent)-gateWindow:]
	}

	lines := make([]string, 0, len(recent))
	for _, e := range recent {
		line := fmt.Sprintf("%s: %s", e.Role, e.Content)
		if e.Sender != "" {
			line += fmt.Sprintf(" (sent by %s)", e.Sender)
		}
		lines = append(lines, line)
	}

	messages := []ollama.Message{
		{Role: history.RoleSystem, Content: gatePrompt},
		{Role: history.RoleUser, Content: strings.Join(lines, "\n")},
	}

	out, err := o.client.Chat(ctx, cfg.IntermediateModel, messages, true, nil)
	if err != nil {
		o.logger.Warn("gating call failed, defaulting to reply",
			"model", cfg.IntermediateModel,
			"error", err,
		)
		return DecisionReply
	}

	verdict := strings.ToLower(strings.TrimSpace(out))
	if verdict == "" {
		o.logger.Debug("gating verdict empty, defaulting to reply")
		return DecisionReply
	}
	if verdict == string(DecisionObserve) {
		return DecisionObserve
	}
	return DecisionReply
}
