// Package bridge routes inbound Telegram messages through history,
// generation, gating, and tool execution, and sends the resulting
// replies back to the originating chat.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/history"
	"github.com/parleybot/parley/internal/responder"
	"github.com/parleybot/parley/internal/segment"
	"github.com/parleybot/parley/internal/telegram"
	"github.com/parleybot/parley/internal/tools"
)

// handleTimeout bounds how long a single inbound message may be
// processed (generation, gating, tool loop, and sends).
const handleTimeout = 5 * time.Minute

// typingInterval is how often the typing indicator is refreshed while
// a reply is being generated. Telegram fades the indicator after about
// five seconds.
const typingInterval = 3 * time.Second

// resetAck confirms a successful /reset command.
const resetAck = "🔄 Your conversation history has been reset."

// Platform is the narrow slice of the messaging platform the bridge
// depends on. The real implementation is *telegram.Client.
type Platform interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
}

// Generator produces the assistant reply for a conversation. The real
// implementation is *responder.Generator.
type Generator interface {
	Generate(ctx context.Context, cfg *config.Config, conv []history.Entry) string
}

// Oracle produces the reply/observe gating verdict. The real
// implementation is *responder.Oracle.
type Oracle interface {
	Decide(ctx context.Context, cfg *config.Config, conv []history.Entry) responder.Decision
}

// Config holds the dependencies for a Bridge.
type Config struct {
	Platform Platform
	Store    *history.Store
	Gen      Generator
	Oracle   Oracle
	Tools    tools.Registry
	Manager  *config.Manager
	Logger   *slog.Logger

	// SelfID is the bot's own user ID; a reply to a message from this
	// ID bypasses gating.
	SelfID int64
	// Handle is the bot's mention handle without the leading '@'. A
	// case-insensitive "@handle" substring in a message bypasses
	// gating. Empty disables mention detection.
	Handle string
}

// Bridge is the per-message conversation orchestrator.
type Bridge struct {
	platform Platform
	store    *history.Store
	gen      Generator
	oracle   Oracle
	tools    tools.Registry
	manager  *config.Manager
	logger   *slog.Logger
	selfID   int64
	handle   string

	wg sync.WaitGroup
}

// New creates a Bridge.
func New(cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		platform: cfg.Platform,
		store:    cfg.Store,
		gen:      cfg.Gen,
		oracle:   cfg.Oracle,
		tools:    cfg.Tools,
		manager:  cfg.Manager,
		logger:   logger,
		selfID:   cfg.SelfID,
		handle:   strings.TrimPrefix(cfg.Handle, "@"),
	}
}

// Handle processes one inbound update. Messages without a text payload
// are ignored. Each text message runs in its own goroutine so a slow
// model call never blocks other conversations; history access is
// serialized per conversation key by the store. A failure while
// handling one message never takes down the bridge.
func (b *Bridge) Handle(ctx context.Context, u telegram.Update) {
	msg := u.Message
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		b.logger.Debug("ignoring update without text payload", "update_id", u.UpdateID)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("message handler panic",
					"chat_id", msg.Chat.ID,
					"panic", r,
				)
			}
		}()

		ctx, cancel := context.WithTimeout(ctx, handleTimeout)
		defer cancel()

		b.handleMessage(ctx, msg)
	}()
}

// Close waits for all in-flight message handlers to finish. Used to
// drain the bridge before a restart or shutdown.
func (b *Bridge) Close() {
	b.wg.Wait()
}

// handleMessage runs the full per-message flow: append the user entry,
// generate, gate, run the tool loop, segment, and send.
func (b *Bridge) handleMessage(ctx context.Context, msg *telegram.Message) {
	cfg := b.manager.Current()
	text := strings.TrimSpace(msg.Text)
	key := conversationKey(msg)
	sender := senderName(msg.From)

	logger := b.logger.With(
		"request_id", uuid.NewString(),
		"conversation", key,
		"sender", sender,
	)

	if msg.Chat.Type != "private" {
		title := msg.Chat.Title
		if title == "" {
			title = "No Title"
		}
		logger.Info("group message received", "title", title, "message_len", len(text))
	} else {
		logger.Info("message received", "message_len", len(text))
	}

	if isResetCommand(text, b.handle) {
		if err := b.store.Reset(key); err != nil {
			logger.Error("history reset failed", "error", err)
			return
		}
		if err := b.platform.SendMessage(ctx, msg.Chat.ID, resetAck); err != nil {
			logger.Warn("reset acknowledgement send failed", "error", err)
		}
		logger.Info("history reset")
		return
	}

	conv := b.store.Append(key, history.RoleUser, text, sender)

	bypass := b.bypassGating(msg, text)

	// Keep the typing indicator alive while the model works. The
	// stop function cancels the ticker goroutine and waits for it to
	// exit before returning; it runs on the error path too.
	stopTyping := b.startTyping(ctx, msg.Chat.ID, logger)
	reply := b.gen.Generate(ctx, cfg, conv)
	stopTyping()

	b.store.Append(key, history.RoleAssistant, reply, "assistant")

	if !bypass {
		verdict := b.oracle.Decide(ctx, cfg, b.store.Load(key))
		if verdict == responder.DecisionObserve {
			// The assistant entry stays in history: the model thought
			// but did not speak.
			logger.Info("gating verdict is observe, suppressing reply")
			return
		}
		logger.Debug("gating verdict is reply")
	} else {
		logger.Debug("gating bypassed")
	}

	if code, ok := tools.ParseToolCall(reply); ok {
		logger.Info("tool call detected", "code", code)

		output := b.tools.Run(code)
		combined := text + "\n" + tools.FormatOutput(output)
		b.store.Append(key, history.RoleUser, combined, sender)

		stopTyping := b.startTyping(ctx, msg.Chat.ID, logger)
		final := b.gen.Generate(ctx, cfg, b.store.Load(key))
		stopTyping()

		b.store.Append(key, history.RoleAssistant, final, "assistant")
		reply = final
	}

	parts := segment.Split(reply, telegram.MaxMessageLen)
	for i, part := range parts {
		if err := b.platform.SendMessage(ctx, msg.Chat.ID, part); err != nil {
			// Keep sending the remaining chunks; one lost chunk is
			// better than a truncated tail.
			logger.Error("reply chunk send failed",
				"chunk", i+1,
				"chunks", len(parts),
				"error", err,
			)
			continue
		}
	}

	logger.Info("reply sent", "chunks", len(parts), "reply_len", len(reply))
}

// startTyping emits the typing presence signal immediately and then on
// a ticker. The returned stop function cancels the goroutine and
// blocks until it has exited, so no stray typing signal can follow the
// reply.
func (b *Bridge) startTyping(ctx context.Context, chatID int64, logger *slog.Logger) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()

		for {
			if err := b.platform.SendChatAction(ctx, chatID, telegram.ActionTyping); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Debug("typing indicator failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// bypassGating reports whether the gating oracle should be skipped: a
// direct reply to one of the bot's own messages, or an explicit
// mention of the bot's handle, always gets an answer.
func (b *Bridge) bypassGating(msg *telegram.Message, text string) bool {
	if r := msg.ReplyToMessage; r != nil && r.From != nil && r.From.IsBot && r.From.ID == b.selfID {
		return true
	}
	if b.handle != "" && strings.Contains(strings.ToLower(text), "@"+strings.ToLower(b.handle)) {
		return true
	}
	return false
}

// conversationKey maps a message to its history key. Private and group
// chats both key on the chat ID.
func conversationKey(msg *telegram.Message) string {
	return strconv.FormatInt(msg.Chat.ID, 10)
}

// senderName resolves a display name for history entries: username
// first, then first (+ last) name, then a placeholder.
func senderName(u *telegram.User) string {
	if u == nil {
		return "Unknown"
	}
	if u.Username != "" {
		return u.Username
	}
	if u.FirstName != "" {
		if u.LastName != "" {
			return fmt.Sprintf("%s %s", u.FirstName, u.LastName)
		}
		return u.FirstName
	}
	return "Unknown"
}

// isResetCommand matches "/reset" and the group-addressed
// "/reset@handle" form, first token only.
func isResetCommand(text, handle string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	cmd := strings.ToLower(fields[0])
	if cmd == "/reset" {
		return true
	}
	return handle != "" && cmd == "/reset@"+strings.ToLower(handle)
}
