package middleware

import (
	"relay-api/internal/auth"
	"relay-api/internal/ctx"
	"relay-api/internal/metrics"
	"relay-api/internal/shared"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type UserMiddleware struct {
	auth auth.Authenticator
	log  *zap.SugaredLogger
}

func NewUserMiddleware(authenticator auth.Authenticator, log *zap.SugaredLogger) *UserMiddleware {
	return &UserMiddleware{auth: authenticator, log: log}
}

// ExtractUser resolves the bearer credential when present. Failures are kept
// on the context for RequireUser to report.
func (u *UserMiddleware) ExtractUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(cc echo.Context) error {
		c := cc.(*ctx.Context)
		c.UserID = 0
		c.AuthErr = nil

		token, err := shared.ExtractBearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			c.AuthErr = err
			return next(c)
		}
		userID, err := u.auth.Authenticate(c.Request().Context(), token)
		if err != nil {
			c.AuthErr = err
			return next(c)
		}

		c.UserID = userID
		c.LogValues.UserID = userID
		c.Log = c.Log.With("user_id", userID)
		return next(c)
	}
}

func (u *UserMiddleware) RequireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(cc echo.Context) error {
		c := cc.(*ctx.Context)
		if c.UserID != 0 {
			return next(c)
		}

		authErr := c.AuthErr
		if authErr == nil {
			authErr = shared.ErrMissingAuth
		}
		c.LogValues.AddError(authErr)
		metrics.RejectedRequests.WithLabelValues("unauthorized").Inc()

		rerr := shared.AsRequestError(authErr)
		if rerr.StatusCode != 401 {
			rerr = shared.ErrUnauthorized
		}
		return c.JSON(rerr.StatusCode, shared.ErrorResponse{Error: rerr.Message()})
	}
}
