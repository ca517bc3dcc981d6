// Package history persists bounded per-conversation message logs as
// standalone JSON files, one file per conversation key.
package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultDir is the history directory used when the configured one is
// missing or unusable.
const DefaultDir = "history"

// MaxHistory is the maximum number of entries retained per
// conversation. The oldest entries are evicted first when an append
// would exceed the bound.
const MaxHistory = 100

// timestampLayout matches the on-disk timestamp format.
const timestampLayout = "2006-01-02 15:04:05"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entry is one role-tagged, timestamped unit of conversation history.
// Entries are immutable once appended.
type Entry struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Sender    string `json:"sender,omitempty"`
}

// Store is a durable per-conversation message log. All public methods
// are safe for concurrent use: access is serialized per conversation
// key, so two near-simultaneous appends for the same key can never lose
// each other's update.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a history store rooted at dir, creating the
// directory if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir %s: %w", dir, err)
	}
	return &Store{
		dir:    dir,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// keyLock returns the mutex guarding a single conversation key,
// creating it on first use.
func (s *Store) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Load returns the persisted sequence for key. A missing, unreadable,
// or corrupt file yields an empty sequence; corruption is logged, never
// propagated.
func (s *Store) Load(key string) []Entry {
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()
	return s.loadLocked(key)
}

func (s *Store) loadLocked(key string) []Entry {
	path := s.path(key)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("history unreadable, starting empty",
				"key", key,
				"path", path,
				"error", err,
			)
		}
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("history corrupt, starting empty",
			"key", key,
			"path", path,
			"error", err,
		)
		return nil
	}
	return entries
}

// Append loads the sequence for key, appends a new entry stamped with
// the current wall-clock time, truncates to the most recent MaxHistory
// entries, persists the result, and returns it. The whole operation is
// a single atomic read-modify-write for the key. A persistence failure
// is logged; the in-memory result is still returned.
func (s *Store) Append(key, role, content, sender string) []Entry {
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	entries := s.loadLocked(key)
	entries = append(entries, Entry{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().Format(timestampLayout),
		Sender:    sender,
	})
	if len(entries) > MaxHistory {
		entries = entries[len(entries)-MaxHistory:]
	}

	if err := s.saveLocked(key, entries); err != nil {
		s.logger.Error("history save failed",
			"key", key,
			"error", err,
		)
	}
	return entries
}

// Reset persists an empty sequence for key, discarding all prior
// entries.
func (s *Store) Reset(key string) error {
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()
	return s.saveLocked(key, []Entry{})
}

// saveLocked writes the full sequence for key. The write goes to a
// temp file in the same directory followed by a rename, so a crash
// mid-write never leaves an unparseable file behind.
func (s *Store) saveLocked(key string, entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	path := s.path(key)
	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// path maps a conversation key to its storage location. Keys are
// sanitized so untrusted values cannot traverse outside the store
// directory; distinct sanitized keys map to distinct files.
func (s *Store) path(key string) string {
	return filepath.Join(s.dir, sanitizeKey(key)+".json")
}

// sanitizeKey keeps letters, digits, underscore, and hyphen. Telegram
// chat IDs (including the leading '-' of group IDs) pass through
// unchanged. An empty result becomes "_" so the key still maps to a
// valid filename.
func sanitizeKey(key string) string {
	var sb strings.Builder
	for _, r := range key {
		switch {
		case r >= '0' && r <= '9',
			r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r == '_', r == '-':
			sb.WriteRune(r)
		}
	}
	if sb.Len() == 0 {
		return "_"
	}
	return sb.String()
}
