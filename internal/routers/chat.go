package routers

import (
	"errors"
	"io"

	"relay-api/internal/ctx"
	"relay-api/internal/handlers/chat"
	"relay-api/internal/middleware"
	"relay-api/internal/shared"

	"github.com/labstack/echo/v4"
)

type ChatRouter struct {
	ch *chat.ChatHandler
}

func RegisterChatRoutes(e *echo.Group, ch *chat.ChatHandler, umw *middleware.UserMiddleware) {
	chatRouter := ChatRouter{ch: ch}

	v1 := e.Group("/v1")
	requireUser := v1.Group("", umw.ExtractUser, umw.RequireUser)
	requireUser.POST("/chat", chatRouter.ChatRequest)
}

func (cr *ChatRouter) ChatRequest(cc echo.Context) error {
	c := cc.(*ctx.Context)
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return sendError(c, errors.Join(shared.ErrBadRequest, err))
	}

	reqInfo, err := cr.ch.Preprocess(c.Request().Context(), chat.PreprocessInput{
		Body:      body,
		UserID:    c.UserID,
		RequestID: c.Reqid,
	})
	if err != nil {
		return sendError(c, err)
	}
	c.LogValues.Credits = reqInfo.Account.Credits
	c.LogValues.Unlimited = reqInfo.Account.Unlimited
	c.LogValues.Banned = reqInfo.Account.Banned
	c.LogValues.RelayInfo = &ctx.RelayInfo{Model: reqInfo.Model}

	out, err := cr.ch.DoRelay(chat.RelayInput{
		Ctx:   c.Request().Context(),
		Req:   reqInfo,
		Start: func() { setupSSEHeaders(c) },
		Write: createStreamWriter(c),
	})

	// Nothing was sent yet, so the status code is still ours to pick
	if err != nil {
		c.LogValues.LogLevel = "ERROR"
		return sendError(c, err)
	}

	c.LogValues.RelayInfo.Completed = out.Completed
	c.LogValues.RelayInfo.Canceled = out.Canceled
	c.LogValues.RelayInfo.Debited = out.DebitIssued
	c.LogValues.RelayInfo.Frames = out.Frames
	c.LogValues.RelayInfo.TimeToFirstToken = out.TimeToFirstToken
	c.LogValues.AddError(out.Error)
	switch {
	case out.Canceled:
		c.LogValues.LogLevel = "WARN"
	case out.Error != nil:
		c.LogValues.LogLevel = "ERROR"
	}

	cr.ch.PostProcess(reqInfo, out)
	return nil
}
