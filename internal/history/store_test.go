package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewStore(): %v", err)
	}
	return s
}

func TestAppendThenLoad(t *testing.T) {
	s := testStore(t)

	s.Append("1234", RoleUser, "hello", "alice")

	entries := s.Load("1234")
	if len(entries) != 1 {
		t.Fatalf("Load() returned %d entries, want 1", len(entries))
	}
	last := entries[len(entries)-1]
	if last.Role != RoleUser || last.Content != "hello" || last.Sender != "alice" {
		t.Errorf("last entry = %+v, want user/hello/alice", last)
	}
	if last.Timestamp == "" {
		t.Error("last entry has empty timestamp")
	}
}

func TestLoadMissingKey(t *testing.T) {
	s := testStore(t)

	if entries := s.Load("nope"); len(entries) != 0 {
		t.Errorf("Load() returned %d entries for missing key, want 0", len(entries))
	}
}

func TestAppendTruncatesFIFO(t *testing.T) {
	s := testStore(t)

	total := MaxHistory + 25
	for i := 0; i < total; i++ {
		s.Append("42", RoleUser, fmt.Sprintf("msg-%d", i), "bob")
	}

	entries := s.Load("42")
	if len(entries) != MaxHistory {
		t.Fatalf("Load() returned %d entries, want %d", len(entries), MaxHistory)
	}

	// The survivors must be the most recent appends, in original order.
	for i, e := range entries {
		want := fmt.Sprintf("msg-%d", total-MaxHistory+i)
		if e.Content != want {
			t.Fatalf("entries[%d].Content = %q, want %q", i, e.Content, want)
		}
	}
}

func TestResetClearsHistory(t *testing.T) {
	s := testStore(t)

	s.Append("77", RoleUser, "one", "alice")
	s.Append("77", RoleAssistant, "two", "assistant")

	if err := s.Reset("77"); err != nil {
		t.Fatalf("Reset(): %v", err)
	}
	if entries := s.Load("77"); len(entries) != 0 {
		t.Errorf("Load() after Reset returned %d entries, want 0", len(entries))
	}
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewStore(): %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "9.json"), []byte("{{{ not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if entries := s.Load("9"); len(entries) != 0 {
		t.Errorf("Load() of corrupt file returned %d entries, want 0", len(entries))
	}

	// An append over the corrupt file must leave a parseable file.
	s.Append("9", RoleUser, "fresh start", "")
	data, err := os.ReadFile(filepath.Join(dir, "9.json"))
	if err != nil {
		t.Fatalf("read history file: %v", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("history file unparseable after append: %v", err)
	}
	if len(entries) != 1 || entries[0].Content != "fresh start" {
		t.Errorf("persisted entries = %+v, want one fresh entry", entries)
	}
}

func TestKeySanitization(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewStore(): %v", err)
	}

	s.Append("../../etc/passwd", RoleUser, "sneaky", "")

	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d history files, want exactly 1 inside the store dir", len(matches))
	}
	if !strings.HasPrefix(matches[0], dir) {
		t.Errorf("history file %q escaped store dir %q", matches[0], dir)
	}

	// Group chat IDs keep their leading hyphen.
	s.Append("-100200300", RoleUser, "group", "")
	if _, err := os.Stat(filepath.Join(dir, "-100200300.json")); err != nil {
		t.Errorf("group key file missing: %v", err)
	}
}

func TestConcurrentAppendsSameKey(t *testing.T) {
	s := testStore(t)

	const workers = 8
	const perWorker = 10

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s.Append("shared", RoleUser, fmt.Sprintf("w%d-%d", w, i), "")
			}
		}(w)
	}
	wg.Wait()

	entries := s.Load("shared")
	if len(entries) != workers*perWorker {
		t.Errorf("Load() returned %d entries, want %d (lost update)", len(entries), workers*perWorker)
	}
}
