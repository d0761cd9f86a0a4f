// Package chat relays credit gated chat completions to the upstream provider
package chat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"

	"relay-api/internal/database"
	"relay-api/internal/shared"

	"go.uber.org/zap"
)

type AccountStore interface {
	GetAccount(ctx context.Context, userID uint64) (*shared.Account, error)
	DebitCredit(ctx context.Context, userID uint64) error
}

type RequestRecorder interface {
	SaveRequest(ctx context.Context, rec database.RequestRecord) error
}

type UpstreamConfig struct {
	Endpoint string
	APIKey   string
	Model    string
}

type ChatHandler struct {
	Accounts   AccountStore
	Recorder   RequestRecorder
	Upstream   UpstreamConfig
	Log        *zap.SugaredLogger
	httpClient *http.Client

	// background debits and request records
	wg sync.WaitGroup
}

// NewChatHandler fills upstream defaults and builds the shared upstream
// client. Recorder may be nil, in which case request records are skipped.
func NewChatHandler(accounts AccountStore, recorder RequestRecorder, upstream UpstreamConfig, log *zap.SugaredLogger) (*ChatHandler, error) {
	if accounts == nil {
		return nil, errors.New("account store is required")
	}
	if upstream.APIKey == "" {
		return nil, errors.New("upstream api key is required")
	}
	if upstream.Endpoint == "" {
		upstream.Endpoint = shared.DefaultUpstreamEndpoint
	}
	upstream.Endpoint = strings.TrimSuffix(upstream.Endpoint, "/")
	if upstream.Model == "" {
		upstream.Model = shared.DefaultUpstreamModel
	}

	tr := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: shared.UpstreamDialTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   shared.UpstreamTLSTimeout,
		ResponseHeaderTimeout: shared.UpstreamHeaderTimeout,
		DisableKeepAlives:     false,
	}

	return &ChatHandler{
		Accounts:   accounts,
		Recorder:   recorder,
		Upstream:   upstream,
		Log:        log,
		httpClient: &http.Client{Transport: tr},
	}, nil
}

// ShutDown waits for in flight background writes
func (h *ChatHandler) ShutDown() {
	h.wg.Wait()
}

func (h *ChatHandler) background(fn func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
}
