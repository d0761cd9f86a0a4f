package shared

import "time"

// HTTP Client Configuration
const (
	UpstreamDialTimeout     = 2 * time.Second
	UpstreamTLSTimeout      = 5 * time.Second
	UpstreamHeaderTimeout   = 120 * time.Second
	UpstreamStreamTimeout   = 10 * time.Minute
	DefaultShutdownTimeout  = 2 * time.Minute
	BackgroundWriteTimeout  = 10 * time.Second
	DefaultPersistTimeout   = 5 * time.Second
	DefaultRelayDialTimeout = 5 * time.Second
)

// Cache Configuration
const (
	APIKeyCacheTTL = 1 * time.Minute
)

// API Configuration
const (
	APIKeyLength           = 32
	MaxMessages            = 100
	MaxContentLength       = 10000
	MaxStoredContentLength = 200000
	MaxChatIDLength        = 64
	MaxLoggedBodyLength    = 1000
	MaxStreamLineLength    = 1 << 20
)

// Upstream defaults
const (
	DefaultUpstreamEndpoint = "https://openrouter.ai/api/v1"
	DefaultUpstreamModel    = "deepseek/deepseek-chat"
	ChatCompletionsRoute    = "/chat/completions"

	PersonaPrompt = "You are DemonGPT, a powerful and sinister AI entity. You speak with dark wisdom " +
		"and foreboding knowledge. Your responses are insightful yet carry an ominous edge. " +
		"You are helpful but maintain an air of mystery and darkness."
)

// Message roles accepted by the relay
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// SSE framing
const (
	SSEDataPrefix = "data: "
	SSEDoneToken  = "[DONE]"
)
