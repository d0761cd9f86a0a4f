package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aidarkhanov/nanoid"
)

const chatIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewChatID returns a fresh id accepted by the history API
func NewChatID() string {
	id, err := nanoid.Generate(chatIDAlphabet, 11)
	if err != nil {
		// only fails on a bad alphabet or size
		panic(err)
	}
	return "chat-" + id
}

type persistedState struct {
	ActiveChatID string    `json:"active_chat_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// State is the CLI's durable session state. It is loaded once on start and
// written through on every change.
type State struct {
	path string

	mu    sync.Mutex
	state persistedState
}

// LoadState reads path, creating it with a new active chat when missing
func LoadState(path string) (*State, error) {
	s := &State{path: path}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.state = persistedState{ActiveChatID: NewChatID(), UpdatedAt: time.Now().UTC()}
		if err := s.save(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read state: %w", err)
	}

	if err := json.Unmarshal(raw, &s.state); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", path, err)
	}
	if s.state.ActiveChatID == "" {
		s.state.ActiveChatID = NewChatID()
		s.state.UpdatedAt = time.Now().UTC()
		if err := s.save(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *State) ActiveChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ActiveChatID
}

func (s *State) SetActiveChatID(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ActiveChatID = chatID
	s.state.UpdatedAt = time.Now().UTC()
	return s.save()
}

// NewChat rotates the active chat id and returns it
func (s *State) NewChat() (string, error) {
	id := NewChatID()
	return id, s.SetActiveChatID(id)
}

// Save writes the current state
func (s *State) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// save writes to a temp file and renames it over the old one, so a crash
// never leaves a half written state file
func (s *State) save() error {
	raw, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
