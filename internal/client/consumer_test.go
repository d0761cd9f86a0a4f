package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"relay-api/internal/shared"
)

type savedTurn struct {
	chatID   string
	messages []shared.ChatMessage
}

type recordingSaver struct {
	mu    sync.Mutex
	turns []savedTurn
	err   error
}

func (r *recordingSaver) AppendHistory(_ context.Context, chatID string, messages []shared.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, savedTurn{chatID: chatID, messages: messages})
	return r.err
}

func sseServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *RelayClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	rc, err := NewRelayClient(srv.URL, "token", nil)
	if err != nil {
		t.Fatalf("NewRelayClient: %v", err)
	}
	return rc
}

func writeChunks(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, c := range chunks {
		_, _ = io.WriteString(w, c)
		w.(http.Flusher).Flush()
	}
}

func TestConsumerCompletesExchange(t *testing.T) {
	gotAuth := make(chan string, 1)
	rc := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		writeChunks(w,
			"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n",
			"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n",
			"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n",
			"data: [DONE]\n\n",
		)
	})

	saver := &recordingSaver{}
	var deltas []string
	var phases []Phase
	c := NewConsumer(rc,
		WithHistory(saver, func() string { return "chat-1" }),
		WithOnDelta(func(d string, _ shared.ChatMessage) { deltas = append(deltas, d) }),
		WithOnChange(func(p Phase) { phases = append(phases, p) }),
		WithOnNotice(func(Notice) { t.Error("no notice expected") }),
	)

	ex, err := c.Submit(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res := ex.Wait()

	if res.Phase != PhaseCompleted || res.Assistant.Content != "Hello" {
		t.Fatalf("unexpected result %+v", res)
	}
	if auth := <-gotAuth; auth != "Bearer token" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if strings.Join(deltas, "|") != "Hel|lo" {
		t.Fatalf("unexpected deltas %v", deltas)
	}
	history := c.History()
	if len(history) != 2 || history[0].Content != "hi" || history[1].Content != "Hello" {
		t.Fatalf("unexpected history %+v", history)
	}
	want := []Phase{PhaseSending, PhaseStreaming, PhaseCompleted, PhaseIdle}
	if len(phases) != len(want) {
		t.Fatalf("unexpected phases %v", phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("unexpected phases %v", phases)
		}
	}
	if len(saver.turns) != 1 || saver.turns[0].chatID != "chat-1" || len(saver.turns[0].messages) != 2 {
		t.Fatalf("unexpected persisted turns %+v", saver.turns)
	}
}

func TestConsumerSplitChunks(t *testing.T) {
	rc := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeChunks(w, `data: {"choices":[{"delta":{"conte`, "nt\":\"x\"}}]}\n", "data: [DONE]\n")
	})
	res, err := NewConsumer(rc).Submit(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := res.Wait().Assistant.Content; got != "x" {
		t.Fatalf("expected x, got %q", got)
	}
}

func TestConsumerRejectedExchangeRollsBack(t *testing.T) {
	tests := []struct {
		status int
		notice Notice
	}{
		{401, NoticeLogin},
		{402, NoticeCredits},
		{403, NoticeBanned},
		{400, NoticeFailure},
		{500, NoticeFailure},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			rc := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":"nope"}`)
			})
			saver := &recordingSaver{}
			var notices []Notice
			c := NewConsumer(rc,
				WithHistory(saver, func() string { return "chat-1" }),
				WithOnNotice(func(n Notice) { notices = append(notices, n) }),
			)
			_ = c.SetHistory([]shared.ChatMessage{{Role: shared.RoleUser, Content: "earlier"}})

			ex, err := c.Submit(context.Background(), "hi")
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			res := ex.Wait()

			if res.Phase != PhaseFailed || res.Notice != tt.notice {
				t.Fatalf("unexpected result %+v", res)
			}
			var serr *StatusError
			if !errors.As(res.Err, &serr) || serr.Message != "nope" {
				t.Fatalf("expected status error with server message, got %v", res.Err)
			}
			if len(notices) != 1 || notices[0] != tt.notice {
				t.Fatalf("expected exactly one notice, got %v", notices)
			}
			if h := c.History(); len(h) != 1 || h[0].Content != "earlier" {
				t.Fatalf("expected optimistic message rolled back, got %+v", h)
			}
			if len(saver.turns) != 0 {
				t.Fatal("rejected exchanges are not persisted")
			}
			if c.Phase() != PhaseIdle {
				t.Fatalf("expected idle, got %v", c.Phase())
			}
		})
	}
}

func TestConsumerCancelKeepsPartial(t *testing.T) {
	release := make(chan struct{})
	rc := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeChunks(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	saver := &recordingSaver{}
	var notices int
	first := make(chan struct{}, 1)
	c := NewConsumer(rc,
		WithHistory(saver, func() string { return "chat-1" }),
		WithOnNotice(func(Notice) { notices++ }),
		WithOnDelta(func(string, shared.ChatMessage) { first <- struct{}{} }),
	)

	ex, err := c.Submit(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case <-first:
	case <-time.After(5 * time.Second):
		t.Fatal("no delta received")
	}

	if _, err := c.Submit(context.Background(), "again"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while streaming, got %v", err)
	}

	ex.Cancel()
	res := ex.Wait()

	if res.Phase != PhaseCancelled || res.Err != nil || res.Notice != NoticeNone {
		t.Fatalf("expected silent cancellation, got %+v", res)
	}
	if notices != 0 {
		t.Fatal("cancellation must not publish a notice")
	}
	h := c.History()
	if len(h) != 2 || h[1].Content != "Hel" {
		t.Fatalf("expected partial reply to stay, got %+v", h)
	}
	if len(saver.turns) != 1 || len(saver.turns[0].messages) != 2 {
		t.Fatalf("expected partial turn persisted, got %+v", saver.turns)
	}

	// a new exchange gets a fresh token
	if c.Phase() != PhaseIdle {
		t.Fatalf("expected idle after cancel, got %v", c.Phase())
	}
}

type stubHTTPClient struct {
	resp *http.Response
	err  error
}

func (s *stubHTTPClient) Do(*http.Request) (*http.Response, error) {
	return s.resp, s.err
}

type failingBody struct {
	data []byte
	sent bool
}

func (b *failingBody) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		return copy(p, b.data), nil
	}
	return 0, errors.New("connection reset by peer")
}

func (b *failingBody) Close() error { return nil }

func TestConsumerMidStreamFailureDiscardsPlaceholder(t *testing.T) {
	stub := &stubHTTPClient{resp: &http.Response{
		StatusCode: http.StatusOK,
		Body:       &failingBody{data: []byte("data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n\n")},
	}}
	rc, err := NewRelayClient("http://relay.test", "token", stub)
	if err != nil {
		t.Fatalf("NewRelayClient: %v", err)
	}
	saver := &recordingSaver{}
	var notices []Notice
	c := NewConsumer(rc,
		WithHistory(saver, func() string { return "chat-1" }),
		WithOnNotice(func(n Notice) { notices = append(notices, n) }),
	)

	ex, _ := c.Submit(context.Background(), "hi")
	res := ex.Wait()

	if res.Phase != PhaseFailed || res.Notice != NoticeFailure {
		t.Fatalf("unexpected result %+v", res)
	}
	if h := c.History(); len(h) != 1 || h[0].Role != shared.RoleUser {
		t.Fatalf("expected placeholder discarded, got %+v", h)
	}
	if len(notices) != 1 || len(saver.turns) != 0 {
		t.Fatalf("unexpected notices %v / turns %v", notices, saver.turns)
	}
}

func TestConsumerTransportFailureBeforeResponse(t *testing.T) {
	rc, _ := NewRelayClient("http://relay.test", "token", &stubHTTPClient{err: errors.New("dial tcp: refused")})
	c := NewConsumer(rc)
	ex, _ := c.Submit(context.Background(), "hi")
	res := ex.Wait()
	if res.Phase != PhaseFailed || res.Notice != NoticeFailure {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(c.History()) != 0 {
		t.Fatal("expected user message rolled back")
	}
}

func TestConsumerFailureSettlesToIdle(t *testing.T) {
	rc, _ := NewRelayClient("http://relay.test", "token", &stubHTTPClient{err: errors.New("dial tcp: refused")})
	var phases []Phase
	c := NewConsumer(rc, WithOnChange(func(p Phase) { phases = append(phases, p) }))
	ex, _ := c.Submit(context.Background(), "hi")
	ex.Wait()

	want := []Phase{PhaseSending, PhaseFailed, PhaseIdle}
	if len(phases) != len(want) {
		t.Fatalf("unexpected phases %v", phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("unexpected phases %v", phases)
		}
	}
	if c.Phase() != PhaseIdle {
		t.Fatalf("expected idle once the exchange is over, got %v", c.Phase())
	}
	again, err := c.Submit(context.Background(), "again")
	if err != nil {
		t.Fatalf("expected a new submit to be accepted from idle, got %v", err)
	}
	again.Wait()
}

func TestConsumerPersistFailureIsSwallowed(t *testing.T) {
	rc := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeChunks(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\ndata: [DONE]\n\n")
	})
	c := NewConsumer(rc, WithHistory(&recordingSaver{err: errors.New("db down")}, func() string { return "chat-1" }))
	ex, _ := c.Submit(context.Background(), "hi")
	if res := ex.Wait(); res.Phase != PhaseCompleted || res.Err != nil {
		t.Fatalf("persistence failure must not affect the exchange, got %+v", res)
	}
	if len(c.History()) != 2 {
		t.Fatalf("unexpected history %+v", c.History())
	}
}

func TestSubmitRejectsEmptyMessage(t *testing.T) {
	rc, _ := NewRelayClient("http://relay.test", "", &stubHTTPClient{})
	if _, err := NewConsumer(rc).Submit(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := map[int]Notice{
		401: NoticeLogin,
		402: NoticeCredits,
		403: NoticeBanned,
		404: NoticeFailure,
		500: NoticeFailure,
	}
	for code, want := range cases {
		if got := ClassifyStatus(code); got != want {
			t.Fatalf("ClassifyStatus(%d) = %q, want %q", code, got, want)
		}
	}
}
