// Package middleware holds the echo middleware shared by every route group
package middleware

import (
	"fmt"
	"net/http"
	"time"

	"relay-api/internal/ctx"
	"relay-api/internal/metrics"
	"relay-api/internal/shared"

	"github.com/aidarkhanov/nanoid"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

const requestIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewTrackMiddleware wraps every request in a *ctx.Context carrying a request
// scoped logger, and emits one end_of_request line once the handler returns.
func NewTrackMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID, _ := nanoid.Generate(requestIDAlphabet, 28)
			reqID = "req_" + reqID
			externalID := c.Request().Header.Get("X-Request-Id")
			logger := log.With("request_id", reqID)
			if externalID != "" {
				logger = logger.With("external_id", externalID)
			}

			start := time.Now()
			cc := &ctx.Context{
				Context: c,
				Log:     logger,
				Reqid:   reqID,
				LogValues: &ctx.ContextLogValues{
					RequestID:  reqID,
					ExternalID: externalID,
					StartTime:  start,
					Path:       c.Path(),
				},
			}
			c.Response().Header().Set("X-Request-Id", reqID)

			err := next(cc)
			if err != nil {
				// Commit the response so the logged status matches what the
				// caller sees
				cc.LogValues.AddError(err)
				c.Error(err)
			}

			cc.LogValues.RequestDuration = time.Since(start)
			cc.LogValues.StatusCode = c.Response().Status
			if ce := log.Desugar().Check(cc.LogValues.Level(), "end_of_request"); ce != nil {
				ce.Write(zap.Object("request", cc.LogValues))
			}
			metrics.ResponseCodes.WithLabelValues(c.Path(), fmt.Sprintf("%d", c.Response().Status)).Inc()
			return nil
		}
	}
}

func NewRecoverMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return emw.RecoverWithConfig(emw.RecoverConfig{
		StackSize: 1 << 10, // 1 KB
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			defer func() {
				_ = log.Sync()
			}()
			log.Errorw("Api Panic", "error", err.Error(), "stack", string(stack))
			if c.Response().Committed {
				return nil
			}
			return c.JSON(http.StatusInternalServerError, shared.ErrorResponse{
				Error: shared.ErrInternalServerError.Message(),
			})
		},
	})
}
