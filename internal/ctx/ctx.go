// Package ctx
package ctx

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ContextLogValues should only be accessed for logging, and not for
// actual business logic, or any other logic
type ContextLogValues struct {
	// Added in base middleware
	RequestID       string
	ExternalID      string
	StartTime       time.Time
	StatusCode      int
	RequestDuration time.Duration
	Path            string

	// Added in user middleware
	UserID uint64

	// Added once the account is loaded
	Credits   uint64
	Unlimited bool
	Banned    bool

	// Override log Log Level
	// useful for streaming where status code might be sent before errors from
	// mid-stream or post processing occur
	LogLevel string

	RelayInfo *RelayInfo
	ChatID    string

	// Added dynamically
	Error error
}

type RelayInfo struct {
	Model            string
	Completed        bool
	Canceled         bool
	Debited          bool
	Frames           int
	TimeToFirstToken time.Duration
}

// AddError adds errors to the error chain. Always add errors, even if only warnings.
// Log level is determined by the status code of the reuqest
func (c *ContextLogValues) AddError(err error) {
	if err == nil {
		return
	}
	if c.Error == nil {
		c.Error = err
		return
	}
	c.Error = fmt.Errorf("%w: %w", err, c.Error)
}

// Level picks the log level for the end of request line
func (c *ContextLogValues) Level() zapcore.Level {
	if c.LogLevel != "" {
		if lvl, err := zapcore.ParseLevel(c.LogLevel); err == nil {
			return lvl
		}
	}
	switch {
	case c.StatusCode >= 500:
		return zapcore.ErrorLevel
	case c.StatusCode >= 400:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func (c *ContextLogValues) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if c.UserID != 0 {
		enc.AddUint64("user_id", c.UserID)
		enc.AddUint64("credits", c.Credits)
		enc.AddBool("unlimited", c.Unlimited)
		enc.AddBool("banned", c.Banned)
	}
	if c.RelayInfo != nil {
		enc.AddString("model", c.RelayInfo.Model)
		enc.AddBool("completed", c.RelayInfo.Completed)
		enc.AddBool("canceled", c.RelayInfo.Canceled)
		enc.AddBool("debited", c.RelayInfo.Debited)
		enc.AddInt("frames", c.RelayInfo.Frames)
		enc.AddDuration("ttft", c.RelayInfo.TimeToFirstToken)
	}
	if c.ChatID != "" {
		enc.AddString("chat_id", c.ChatID)
	}
	enc.AddString("request_id", c.RequestID)
	enc.AddString("external_id", c.ExternalID)
	enc.AddTime("start_time", c.StartTime)
	enc.AddDuration("request_duration", c.RequestDuration)
	enc.AddInt("status_code", c.StatusCode)
	if c.Error != nil {
		enc.AddString("error", c.Error.Error())
	}
	enc.AddString("path", c.Path)
	return nil
}

type Context struct {
	echo.Context
	Log       *zap.SugaredLogger
	Reqid     string
	UserID    uint64
	AuthErr   error
	LogValues *ContextLogValues
}
