// Parley is a Telegram chat relay backed by a local Ollama server.
//
// It long-polls the Telegram Bot API for messages, keeps bounded
// per-chat history on disk, generates replies through Ollama, applies a
// secondary reply/observe gating call for unaddressed messages, runs an
// allow-listed tool step, and sends the result back to the chat.
//
// Configuration lives in a YAML file (default config.yaml, created with
// defaults on first run, reloaded live on change). Secrets come from
// the environment or a .env file: BOT_TOKEN (required) and BOT_USERNAME
// (optional mention handle; defaults to the username Telegram reports).
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/parleybot/parley/internal/bridge"
	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/history"
	"github.com/parleybot/parley/internal/ollama"
	"github.com/parleybot/parley/internal/responder"
	"github.com/parleybot/parley/internal/telegram"
	"github.com/parleybot/parley/internal/tools"
)

// restartDelay is the pause before rebuilding the polling loop after a
// transport failure.
const restartDelay = 5 * time.Second

// main is intentionally minimal: it builds the OS-level environment and
// delegates to run so the full lifecycle is testable.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. It returns nil on clean shutdown and a
// non-nil error only for unrecoverable startup failures; once polling
// has begun, the service restarts its loop instead of exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Parse arguments by hand; the surface is one flag and the flag
	// package's global state gets in the way of tests.
	configPath := "config.yaml"
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			fmt.Fprintln(stdout, "usage: parley [-config config.yaml]")
			return nil
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	// Best-effort .env load; a missing file just means the secrets are
	// already in the environment.
	_ = godotenv.Load()

	token := os.Getenv("BOT_TOKEN")
	if token == "" {
		return fmt.Errorf("missing BOT_TOKEN in environment or .env file")
	}
	envHandle := strings.TrimPrefix(os.Getenv("BOT_USERNAME"), "@")

	// First load happens before the logger exists so the log level can
	// come from the config file itself.
	boot, bootErr := config.LoadOrCreate(configPath)
	level, err := config.ParseLogLevel(boot.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "%s, using info\n", err)
	}
	logger := slog.New(slog.NewTextHandler(stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
	slog.SetDefault(logger)
	if bootErr != nil {
		logger.Warn("config unusable, using defaults", "path", configPath, "error", bootErr)
	}

	manager := config.NewManager(configPath, logger)
	cfg := manager.Current()

	watcher, err := config.NewWatcher(manager, logger)
	if err != nil {
		logger.Warn("config watcher unavailable, edits need a restart", "error", err)
	} else {
		defer watcher.Close()
	}

	store, err := openStore(cfg.History, logger)
	if err != nil {
		return fmt.Errorf("history store: %w", err)
	}

	llm := ollama.NewClient(cfg.OllamaURL, logger)
	if err := llm.Ping(ctx); err != nil {
		logger.Warn("ollama not reachable at startup, continuing anyway",
			"url", cfg.OllamaURL,
			"error", err,
		)
	}

	tg := telegram.NewClient(token, "", logger)

	logger.Info("parley starting",
		"config", configPath,
		"model", cfg.Model,
		"history_dir", cfg.History,
	)

	// Supervised polling loop: any transport failure drains in-flight
	// messages, waits, and rebuilds. The service never exits during
	// normal operation.
	for {
		if ctx.Err() != nil {
			logger.Info("parley shutting down")
			return nil
		}

		me, err := tg.GetMe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error("telegram identity lookup failed, retrying", "error", err)
			sleep(ctx, restartDelay)
			continue
		}

		handle := envHandle
		if handle == "" {
			handle = me.Username
		}

		br := bridge.New(bridge.Config{
			Platform: tg,
			Store:    store,
			Gen:      responder.NewGenerator(llm, logger),
			Oracle:   responder.NewOracle(llm, logger),
			Tools:    tools.DefaultRegistry(),
			Manager:  manager,
			Logger:   logger,
			SelfID:   me.ID,
			Handle:   handle,
		})

		logger.Info("polling for messages",
			"bot_id", me.ID,
			"handle", handle,
		)

		err = tg.Poll(ctx, br.Handle)

		// Let in-flight messages finish before restarting or exiting.
		br.Close()

		if ctx.Err() != nil {
			logger.Info("parley shutting down")
			return nil
		}

		logger.Error("polling failed, restarting", "error", err, "delay", restartDelay)
		sleep(ctx, restartDelay)
	}
}

// openStore opens the history store at the configured path. A path
// that cannot be used as a directory is not fatal: the store falls
// back to [history.DefaultDir] so a bad config value never takes the
// service down.
func openStore(path string, logger *slog.Logger) (*history.Store, error) {
	store, err := history.NewStore(path, logger)
	if err == nil {
		return store, nil
	}
	if path == history.DefaultDir {
		return nil, err
	}
	logger.Warn("configured history dir unusable, using default",
		"path", path,
		"fallback", history.DefaultDir,
		"error", err,
	)
	return history.NewStore(history.DefaultDir, logger)
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
