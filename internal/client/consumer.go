package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"relay-api/internal/shared"
	"relay-api/internal/sse"

	"go.uber.org/zap"
)

var (
	ErrBusy         = errors.New("an exchange is already in flight")
	ErrEmptyMessage = errors.New("message is empty")
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSending
	PhaseStreaming
	PhaseCompleted
	PhaseCancelled
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSending:
		return "sending"
	case PhaseStreaming:
		return "streaming"
	case PhaseCompleted:
		return "completed"
	case PhaseCancelled:
		return "cancelled"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// Notice is the user facing classification of a failed exchange
type Notice string

const (
	NoticeNone    Notice = ""
	NoticeLogin   Notice = "please login"
	NoticeCredits Notice = "insufficient credits"
	NoticeBanned  Notice = "account banned"
	NoticeFailure Notice = "failed to communicate with the relay"
)

func ClassifyStatus(code int) Notice {
	switch code {
	case http.StatusUnauthorized:
		return NoticeLogin
	case http.StatusPaymentRequired:
		return NoticeCredits
	case http.StatusForbidden:
		return NoticeBanned
	}
	return NoticeFailure
}

// Result is the terminal state of one exchange
type Result struct {
	Phase     Phase
	Assistant shared.ChatMessage
	Notice    Notice
	Err       error
}

// HistorySaver persists finished turns
type HistorySaver interface {
	AppendHistory(ctx context.Context, chatID string, messages []shared.ChatMessage) error
}

type Option func(*Consumer)

// WithOnDelta is called with each delta and the accumulated assistant message
func WithOnDelta(fn func(delta string, assistant shared.ChatMessage)) Option {
	return func(c *Consumer) { c.onDelta = fn }
}

// WithOnNotice is called at most once per exchange, never for cancellation
func WithOnNotice(fn func(Notice)) Option {
	return func(c *Consumer) { c.onNotice = fn }
}

func WithOnChange(fn func(Phase)) Option {
	return func(c *Consumer) { c.onChange = fn }
}

// WithHistory persists every finished turn to the chat returned by chatID
func WithHistory(saver HistorySaver, chatID func() string) Option {
	return func(c *Consumer) {
		c.saver = saver
		c.chatID = chatID
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Consumer) { c.log = log }
}

// Consumer owns the visible conversation and runs one exchange at a time
type Consumer struct {
	relay *RelayClient
	log   *zap.SugaredLogger

	onDelta  func(string, shared.ChatMessage)
	onNotice func(Notice)
	onChange func(Phase)
	saver    HistorySaver
	chatID   func() string

	mu      sync.Mutex
	history []shared.ChatMessage
	phase   Phase
	busy    bool
}

func NewConsumer(relay *RelayClient, opts ...Option) *Consumer {
	c := &Consumer{relay: relay, log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// History returns a copy of the visible conversation
func (c *Consumer) History() []shared.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]shared.ChatMessage(nil), c.history...)
}

// SetHistory replaces the conversation, e.g. after loading a stored chat
func (c *Consumer) SetHistory(messages []shared.ChatMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrBusy
	}
	c.history = append([]shared.ChatMessage(nil), messages...)
	return nil
}

// Phase reports the current phase. A finished exchange passes through its
// terminal phase and settles back to PhaseIdle before Wait returns, so the
// terminal phase is observed through Result or WithOnChange, not here.
func (c *Consumer) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Exchange is one in flight send/stream cycle
type Exchange struct {
	token  CancelToken
	done   chan struct{}
	result Result
}

// Cancel aborts the exchange. The partial reply stays visible.
func (e *Exchange) Cancel() {
	e.token.Cancel()
}

func (e *Exchange) Done() <-chan struct{} {
	return e.done
}

func (e *Exchange) Wait() Result {
	<-e.done
	return e.result
}

// Submit appends the user message and starts streaming the reply
func (c *Consumer) Submit(ctx context.Context, text string) (*Exchange, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.busy = true
	userMsg := shared.ChatMessage{Role: shared.RoleUser, Content: text}
	c.history = append(c.history, userMsg)
	request := make([]shared.ChatMessage, 0, len(c.history))
	for _, m := range c.history {
		if m.Content != "" {
			request = append(request, m)
		}
	}
	c.mu.Unlock()

	ex := &Exchange{token: NewCancelToken(ctx), done: make(chan struct{})}
	c.setPhase(PhaseSending)
	go func() {
		ex.result = c.run(ex.token, userMsg, request)
		c.finish(ex.result)
		close(ex.done)
	}()
	return ex, nil
}

func (c *Consumer) run(token CancelToken, userMsg shared.ChatMessage, request []shared.ChatMessage) Result {
	defer token.Cancel()

	resp, err := c.relay.OpenChat(token.Context(), request)
	if err != nil {
		if token.Cancelled() {
			c.persist(userMsg, shared.ChatMessage{})
			return Result{Phase: PhaseCancelled}
		}
		c.log.Warnw("Failed to reach relay", "error", err)
		c.rollbackUser()
		return c.fail(NoticeFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		serr := readStatusError(resp)
		c.log.Infow("Relay rejected exchange", "status_code", serr.StatusCode, "error", serr.Message)
		c.rollbackUser()
		return c.fail(ClassifyStatus(resp.StatusCode), serr)
	}

	c.mu.Lock()
	c.history = append(c.history, shared.ChatMessage{Role: shared.RoleAssistant})
	c.mu.Unlock()
	c.setPhase(PhaseStreaming)

	assistant, err := c.stream(token, resp.Body)
	switch {
	case err == nil:
		c.persist(userMsg, assistant)
		return Result{Phase: PhaseCompleted, Assistant: assistant}
	case token.Cancelled():
		c.dropEmptyPlaceholder()
		c.persist(userMsg, assistant)
		return Result{Phase: PhaseCancelled, Assistant: assistant}
	default:
		c.log.Warnw("Stream failed", "error", err)
		c.dropPlaceholder()
		return c.fail(NoticeFailure, err)
	}
}

// stream reads body until EOF, feeding the reassembler. Lines after [DONE]
// are not processed but the body is still drained so the connection closes
// cleanly.
func (c *Consumer) stream(token CancelToken, body io.Reader) (shared.ChatMessage, error) {
	assistant := shared.ChatMessage{Role: shared.RoleAssistant}
	var text strings.Builder
	r := sse.NewReassembler(c.log)
	buf := make([]byte, 4096)

	apply := func(deltas []string) {
		for _, d := range deltas {
			text.WriteString(d)
			assistant.Content = text.String()
			c.updateAssistant(assistant)
			if c.onDelta != nil {
				c.onDelta(d, assistant)
			}
		}
	}

	for {
		n, err := body.Read(buf)
		if n > 0 && !r.Done() {
			deltas, ferr := r.Feed(buf[:n])
			apply(deltas)
			if ferr != nil {
				return assistant, ferr
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			apply(r.Finish())
			return assistant, nil
		}
		if token.Cancelled() {
			return assistant, token.Context().Err()
		}
		return assistant, err
	}
}

func (c *Consumer) updateAssistant(msg shared.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.history); n > 0 && c.history[n-1].Role == shared.RoleAssistant {
		c.history[n-1] = msg
	}
}

func (c *Consumer) rollbackUser() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.history); n > 0 && c.history[n-1].Role == shared.RoleUser {
		c.history = c.history[:n-1]
	}
}

func (c *Consumer) dropPlaceholder() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.history); n > 0 && c.history[n-1].Role == shared.RoleAssistant {
		c.history = c.history[:n-1]
	}
}

func (c *Consumer) dropEmptyPlaceholder() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.history); n > 0 && c.history[n-1].Role == shared.RoleAssistant && c.history[n-1].Content == "" {
		c.history = c.history[:n-1]
	}
}

func (c *Consumer) fail(notice Notice, err error) Result {
	if c.onNotice != nil {
		c.onNotice(notice)
	}
	return Result{Phase: PhaseFailed, Notice: notice, Err: err}
}

// persist stores the turn on a detached context; failures are only logged
func (c *Consumer) persist(userMsg, assistant shared.ChatMessage) {
	if c.saver == nil || c.chatID == nil {
		return
	}
	turn := []shared.ChatMessage{userMsg}
	if assistant.Content != "" {
		turn = append(turn, assistant)
	}
	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultPersistTimeout)
	defer cancel()
	if err := c.saver.AppendHistory(ctx, c.chatID(), turn); err != nil {
		c.log.Warnw("Failed to persist chat turn", "error", err)
	}
}

func (c *Consumer) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
	if c.onChange != nil {
		c.onChange(p)
	}
}

func (c *Consumer) finish(res Result) {
	c.setPhase(res.Phase)
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
	c.setPhase(PhaseIdle)
}
