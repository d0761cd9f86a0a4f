package shared

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Account is the credit state of a user, read once per relayed request
type Account struct {
	UserID    uint64 `json:"user_id"`
	Credits   uint64 `json:"credits"`
	Unlimited bool   `json:"unlimited"`
	Banned    bool   `json:"banned"`
}

// HasCredit reports whether the account may start one more exchange
func (a *Account) HasCredit() bool {
	return a.Unlimited || a.Credits >= 1
}

type ChatBody struct {
	Messages []ChatMessage `json:"messages"`
}

type UpstreamBody struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// StreamChunk is one chat-completion chunk. Content is a pointer so a
// role-only or finish frame can be told apart from an empty delta.
type StreamChunk struct {
	ID      string   `json:"id,omitempty"`
	Object  string   `json:"object,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason,omitempty"`
}

type Delta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HistoryBody struct {
	ChatID   string        `json:"chat_id"`
	Messages []ChatMessage `json:"messages"`
}

type HistoryResponse struct {
	ChatID   string        `json:"chat_id"`
	Messages []ChatMessage `json:"messages"`
}
