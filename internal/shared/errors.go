package shared

import (
	"errors"
	"fmt"
)

// RequestError is used when we want a specific error message and StatusCode.
// sane defaults are listed below. The message inside Err is what the caller
// sees in the `{"error": ...}` body, so it must never carry internal detail.
//
// Error codes should be bubbled where the RequestError msg is expected to be
// returned to the user. If the user should see a generic error message but
// the error chain should include more detail for logging purposes, join the
// RequestError with the detailed error using errors.Join
type RequestError struct {
	StatusCode int
	Err        error
}

func (r *RequestError) Error() string {
	return fmt.Sprintf("status %d: err %v", r.StatusCode, r.Err)
}

// Message is the user facing text of the error
func (r *RequestError) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

var (
	ErrMissingAuth   = &RequestError{Err: errors.New("missing authorization header"), StatusCode: 401}
	ErrInvalidFormat = &RequestError{Err: errors.New("invalid authentication format"), StatusCode: 401}
	ErrUnauthorized  = &RequestError{Err: errors.New("unauthorized"), StatusCode: 401}

	ErrInsufficientCredits = &RequestError{Err: errors.New("Insufficient credits. Please contact admin to add more credits."), StatusCode: 402}
	ErrAccountBanned       = &RequestError{Err: errors.New("Your account has been banned. Please contact support."), StatusCode: 403}

	ErrInvalidMessages      = &RequestError{Err: errors.New("Invalid request: messages must be a non-empty array"), StatusCode: 400}
	ErrTooManyMessages      = &RequestError{Err: errors.New("Too many messages: maximum 100 allowed"), StatusCode: 400}
	ErrInvalidMessageFormat = &RequestError{Err: errors.New("Invalid message format: each message must have role and content"), StatusCode: 400}
	ErrInvalidRole          = &RequestError{Err: errors.New("Invalid role: must be user, assistant, or system"), StatusCode: 400}
	ErrInvalidContent       = &RequestError{Err: errors.New("Invalid content: must be a string under 10,000 characters"), StatusCode: 400}
	ErrInvalidStoredContent = &RequestError{Err: errors.New("Invalid content: must be a string under 200,000 characters"), StatusCode: 400}
	ErrInvalidChatID        = &RequestError{Err: errors.New("Invalid request: chat_id is required"), StatusCode: 400}
	ErrBadRequest           = &RequestError{Err: errors.New("bad request"), StatusCode: 400}

	ErrUpstreamFailed      = &RequestError{Err: errors.New("Failed to process request. Please try again later."), StatusCode: 500}
	ErrInternalServerError = &RequestError{Err: errors.New("An unexpected error occurred. Please try again later."), StatusCode: 500}

	ErrAccountLookup             = &MetricsError{Msg: "failed to load account", Code: "account_lookup_err"}
	ErrFailedUpstreamReq         = &MetricsError{Msg: "failed to send http request to upstream", Code: "upstream_http_err"}
	ErrFailedUpstreamReqFromCode = &MetricsError{Msg: "upstream responded with non-2xx", Code: "upstream_http_status_err"}
	ErrFailedReadingResponse     = &MetricsError{Msg: "failed to read upstream response", Code: "upstream_response_err"}
	ErrMissingDoneToken          = &MetricsError{Msg: "missing [DONE] token", Code: "missing_done_token"}
	ErrClientDisconnected        = &MetricsError{Msg: "client disconnected mid-stream", Code: "client_canceled"}
	ErrDebitFailed               = &MetricsError{Msg: "failed to debit credit", Code: "debit_err"}
	ErrSaveRequestFailed         = &MetricsError{Msg: "failed to save request record", Code: "save_request_err"}
)

type MetricsError struct {
	Msg  string
	Code string
}

func (m *MetricsError) Error() string {
	return m.String()
}

func (m *MetricsError) String() string {
	return m.Msg
}

// AsRequestError returns the first RequestError in the chain, falling back to
// ErrInternalServerError so internal errors never reach the caller verbatim.
func AsRequestError(err error) *RequestError {
	var rerr *RequestError
	if errors.As(err, &rerr) {
		return rerr
	}
	return ErrInternalServerError
}

// ErrorCode returns the metrics code of the first MetricsError in the chain
func ErrorCode(err error) string {
	var merr *MetricsError
	if errors.As(err, &merr) {
		return merr.Code
	}
	return "unknown"
}
