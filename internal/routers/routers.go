// Package routers wires http routes onto the handlers
package routers

import (
	"net/http"

	"relay-api/internal/ctx"
	"relay-api/internal/middleware"
	"relay-api/internal/shared"

	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

var corsConfig = emw.CORSConfig{
	AllowOrigins: []string{"*"},
	AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
	AllowHeaders: []string{"authorization", "x-client-info", "apikey", "content-type"},
}

// NewEcho builds the server with CORS, liveness and the base group every
// API route hangs off. CORS sits on the root so preflight requests for any
// path are answered before routing.
func NewEcho(log *zap.SugaredLogger) (*echo.Echo, *echo.Group) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(emw.CORSWithConfig(corsConfig))
	e.GET("/ping", func(c echo.Context) error {
		return c.String(200, "")
	})

	base := e.Group("")
	base.Use(middleware.NewRecoverMiddleware(log))
	base.Use(middleware.NewTrackMiddleware(log))
	return e, base
}

func setupSSEHeaders(c *ctx.Context) {
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("Access-Control-Allow-Origin", "*")
	c.Response().WriteHeader(http.StatusOK)
}

func createStreamWriter(c *ctx.Context) func(line []byte) error {
	return func(line []byte) error {
		if err := c.Request().Context().Err(); err != nil {
			return err
		}
		if _, err := c.Response().Write(line); err != nil {
			return err
		}
		c.Response().Flush()
		return nil
	}
}

// sendError logs the full chain and answers with the user facing message
func sendError(c *ctx.Context, err error) error {
	c.LogValues.AddError(err)
	rerr := shared.AsRequestError(err)
	return c.JSON(rerr.StatusCode, shared.ErrorResponse{Error: rerr.Message()})
}
