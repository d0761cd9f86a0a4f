package client

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"relay-api/internal/handlers/history"
)

func TestLoadStateCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	s, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if !strings.HasPrefix(s.ActiveChatID(), "chat-") {
		t.Fatalf("unexpected chat id %q", s.ActiveChatID())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("state file not written: %v", err)
	}
	if !strings.Contains(string(raw), s.ActiveChatID()) {
		t.Fatalf("state file missing chat id: %s", raw)
	}
}

func TestStateWriteThrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if err := s.SetActiveChatID("chat-fixed"); err != nil {
		t.Fatalf("SetActiveChatID: %v", err)
	}

	reloaded, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if reloaded.ActiveChatID() != "chat-fixed" {
		t.Fatalf("expected persisted chat id, got %q", reloaded.ActiveChatID())
	}

	id, err := reloaded.NewChat()
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	again, _ := LoadState(path)
	if id == "chat-fixed" || again.ActiveChatID() != id {
		t.Fatalf("expected rotated chat id %q, got %q", id, again.ActiveChatID())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, got %d entries", len(entries))
	}
}

func TestLoadStateCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadState(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNewChatIDIsAccepted(t *testing.T) {
	seen := map[string]bool{}
	for range 50 {
		id := NewChatID()
		if err := history.ValidateChatID(id); err != nil {
			t.Fatalf("generated id %q rejected: %v", id, err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
