package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"relay-api/internal/client"

	"go.uber.org/zap"
)

// syncBuffer is written from the consumer goroutine and read by the test
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func newTestCLI(t *testing.T) (*chatCLI, *syncBuffer) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/chat":
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"So it begins.\"}}]}\n\ndata: [DONE]\n\n")
		case r.URL.Path == "/v1/chat/history" && r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"saved":2}`)
		case r.URL.Path == "/v1/chat/history" && r.Method == http.MethodDelete:
			_, _ = io.WriteString(w, `{"deleted":2}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	state, err := client.LoadState(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	relay, err := client.NewRelayClient(srv.URL, "token", nil)
	if err != nil {
		t.Fatalf("NewRelayClient: %v", err)
	}

	out := &syncBuffer{}
	cli := &chatCLI{out: out, relay: relay, state: state, log: zap.NewNop().Sugar()}
	cli.consumer = client.NewConsumer(relay, client.WithHistory(relay, state.ActiveChatID))
	return cli, out
}

func TestCLIExchangeAndCommands(t *testing.T) {
	cli, out := newTestCLI(t)
	firstChat := cli.state.ActiveChatID()

	cli.run(strings.NewReader("hello\n"))
	if len(cli.consumer.History()) != 2 {
		t.Fatalf("expected one finished turn, got %+v", cli.consumer.History())
	}

	cli.run(strings.NewReader("/history\n/clear\n/new\n/quit\n"))
	got := out.String()
	for _, want := range []string{"user: hello", "assistant: So it begins.", "[cleared 2 messages]", "[new chat chat-"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in output:\n%s", want, got)
		}
	}
	if cli.state.ActiveChatID() == firstChat {
		t.Fatal("expected /new to rotate the chat id")
	}
	if len(cli.consumer.History()) != 0 {
		t.Fatal("expected /new to reset the conversation")
	}
}
