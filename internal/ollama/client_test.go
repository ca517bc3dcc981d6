package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestChatSingleShot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("request stream = true, want false")
		}
		if req.Model != "test-model" {
			t.Errorf("request model = %q, want test-model", req.Model)
		}
		if len(req.Messages) != 2 {
			t.Errorf("request has %d messages, want 2", len(req.Messages))
		}

		json.NewEncoder(w).Encode(chatResponse{
			Model:   req.Model,
			Message: Message{Role: "assistant", Content: "hello back"},
			Done:    true,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, slog.New(slog.DiscardHandler))
	got, err := c.Chat(context.Background(), "test-model", []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello"},
	}, false, nil)
	if err != nil {
		t.Fatalf("Chat(): %v", err)
	}
	if got != "hello back" {
		t.Errorf("Chat() = %q, want %q", got, "hello back")
	}
}

func TestChatStreamingConcatenatesInOrder(t *testing.T) {
	fragments := []string{"Once", " upon", " a", " time."}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("request stream = false, want true")
		}

		enc := json.NewEncoder(w)
		for _, f := range fragments {
			enc.Encode(chatResponse{Message: Message{Role: "assistant", Content: f}})
		}
		enc.Encode(chatResponse{Done: true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, slog.New(slog.DiscardHandler))

	var streamed []string
	got, err := c.Chat(context.Background(), "m", []Message{{Role: "user", Content: "hi"}}, true,
		func(token string) { streamed = append(streamed, token) })
	if err != nil {
		t.Fatalf("Chat(): %v", err)
	}

	want := strings.Join(fragments, "")
	if got != want {
		t.Errorf("Chat() = %q, want %q", got, want)
	}
	if len(streamed) != len(fragments) {
		t.Fatalf("callback fired %d times, want %d", len(streamed), len(fragments))
	}
	for i := range fragments {
		if streamed[i] != fragments[i] {
			t.Errorf("streamed[%d] = %q, want %q", i, streamed[i], fragments[i])
		}
	}
}

func TestChatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, slog.New(slog.DiscardHandler))
	_, err := c.Chat(context.Background(), "missing", []Message{{Role: "user", Content: "hi"}}, false, nil)
	if err == nil {
		t.Fatal("Chat() error = nil, want API error")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "model not found") {
		t.Errorf("error = %q, want status and body included", err)
	}
}

func TestChatStreamMalformedChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"partial"}}`)
		fmt.Fprintln(w, `{{{garbage`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, slog.New(slog.DiscardHandler))
	_, err := c.Chat(context.Background(), "m", []Message{{Role: "user", Content: "hi"}}, true, nil)
	if err == nil {
		t.Fatal("Chat() error = nil, want decode error for malformed stream")
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q, want /api/tags", r.URL.Path)
		}
		fmt.Fprint(w, `{"models":[]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, slog.New(slog.DiscardHandler))
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping(): %v", err)
	}
}

func TestNewClientDefaultURL(t *testing.T) {
	c := NewClient("", slog.New(slog.DiscardHandler))
	if c.baseURL != DefaultBaseURL {
		t.Errorf("baseURL = %q, want %q", c.baseURL, DefaultBaseURL)
	}
}
