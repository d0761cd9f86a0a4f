package chat

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"relay-api/internal/metrics"
	"relay-api/internal/shared"
)

type RelayInput struct {
	Ctx context.Context
	Req *RequestInfo

	// Start is called once, after upstream accepted the request and before
	// the first Write. The router sets stream headers here.
	Start func()
	// Write receives every upstream line verbatim, newline included
	Write func(line []byte) error
}

type RelayOutput struct {
	Completed        bool
	Canceled         bool
	DebitIssued      bool
	Frames           int
	TimeToFirstToken time.Duration
	TotalTime        time.Duration

	// mid-stream errors, if any
	Error error
}

// DoRelay only returns an error when nothing was sent to the caller yet; the
// router maps it to a status code. Anything that goes wrong once streaming
// started lands in RelayOutput.Error.
func (h *ChatHandler) DoRelay(input RelayInput) (*RelayOutput, error) {
	if input.Req == nil {
		return nil, errors.Join(shared.ErrInternalServerError, errors.New("request info missing"))
	}
	req := input.Req

	rctx, cancel := context.WithTimeout(input.Ctx, shared.UpstreamStreamTimeout)
	defer cancel()

	res, err := h.openUpstream(rctx, req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := res.Body.Close(); closeErr != nil {
			h.Log.Warnw("Failed to close upstream body", "error", closeErr)
		}
	}()

	out := &RelayOutput{}
	if !req.Account.Unlimited {
		out.DebitIssued = true
		h.background(func() { h.debit(req) })
	}

	metrics.InflightStreams.Inc()
	defer metrics.InflightStreams.Dec()

	if input.Start != nil {
		input.Start()
	}

	out.Error = h.pipe(input.Ctx, rctx, res.Body, req, out, input.Write)
	out.TotalTime = time.Since(req.StartTime)
	return out, nil
}

// openUpstream sends the request and accepts only 2xx responses. The upstream
// error body is logged, never returned.
func (h *ChatHandler) openUpstream(ctx context.Context, req *RequestInfo) (*http.Response, error) {
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Upstream.Endpoint+shared.ChatCompletionsRoute, bytes.NewReader(req.Body))
	if err != nil {
		return nil, errors.Join(shared.ErrUpstreamFailed, shared.ErrFailedUpstreamReq, err)
	}
	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + h.Upstream.APIKey,
		"X-Request-ID":  req.ID,
	}
	for key, value := range headers {
		r.Header.Set(key, value)
	}

	res, err := h.httpClient.Do(r)
	if err != nil {
		h.Log.Errorw("Upstream request failed", "error", err)
		return nil, errors.Join(shared.ErrUpstreamFailed, shared.ErrFailedUpstreamReq, err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, shared.MaxLoggedBodyLength+1))
		_ = res.Body.Close()
		h.Log.Errorw("Upstream responded with error",
			"status_code", res.StatusCode,
			"body", shared.Truncate(string(body), shared.MaxLoggedBodyLength),
		)
		return nil, errors.Join(shared.ErrUpstreamFailed, shared.ErrFailedUpstreamReqFromCode, fmt.Errorf("upstream status %d", res.StatusCode))
	}
	return res, nil
}

// pipe copies upstream lines to write until EOF, a transport error or the
// caller going away. Bytes after [DONE] are still forwarded so the caller
// sees the upstream body unmodified.
func (h *ChatHandler) pipe(clientCtx, rctx context.Context, body io.Reader, req *RequestInfo, out *RelayOutput, write func([]byte) error) error {
	reader := bufio.NewReaderSize(body, 32*1024)
	donePrefix := []byte(shared.SSEDataPrefix + shared.SSEDoneToken)

	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			trimmed := bytes.TrimSpace(line)
			if !out.Completed && bytes.HasPrefix(trimmed, []byte(shared.SSEDataPrefix)) {
				if out.Frames == 0 {
					out.TimeToFirstToken = time.Since(req.StartTime)
				}
				out.Frames++
			}
			if bytes.Equal(trimmed, donePrefix) {
				out.Completed = true
			}
			if write != nil {
				if err := write(line); err != nil {
					if out.Completed {
						h.Log.Debugw("Client went away after [DONE]", "error", err)
						return nil
					}
					out.Canceled = true
					return errors.Join(shared.ErrClientDisconnected, err)
				}
			}
		}

		if readErr == nil {
			continue
		}
		if out.Completed {
			if !errors.Is(readErr, io.EOF) {
				h.Log.Debugw("Upstream read failed after [DONE]", "error", readErr)
			}
			return nil
		}
		if errors.Is(readErr, io.EOF) {
			return shared.ErrMissingDoneToken
		}
		if clientCtx.Err() != nil {
			out.Canceled = true
			return errors.Join(shared.ErrClientDisconnected, clientCtx.Err())
		}
		if rctx.Err() != nil {
			return errors.Join(shared.ErrFailedReadingResponse, rctx.Err())
		}
		return errors.Join(shared.ErrFailedReadingResponse, readErr)
	}
}
