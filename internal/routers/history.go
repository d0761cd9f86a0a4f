package routers

import (
	"errors"
	"io"
	"net/http"

	"relay-api/internal/ctx"
	"relay-api/internal/handlers/history"
	"relay-api/internal/middleware"
	"relay-api/internal/shared"

	"github.com/labstack/echo/v4"
)

type HistoryRouter struct {
	hh *history.HistoryHandler
}

type AppendHistoryResponse struct {
	ChatID string `json:"chat_id"`
	Saved  int    `json:"saved"`
}

type ClearHistoryResponse struct {
	ChatID  string `json:"chat_id"`
	Deleted int64  `json:"deleted"`
}

func RegisterHistoryRoutes(e *echo.Group, hh *history.HistoryHandler, umw *middleware.UserMiddleware) {
	historyRouter := HistoryRouter{hh: hh}

	v1 := e.Group("/v1")
	requireUser := v1.Group("", umw.ExtractUser, umw.RequireUser)
	requireUser.GET("/chat/history", historyRouter.GetHistory)
	requireUser.POST("/chat/history", historyRouter.AppendHistory)
	requireUser.DELETE("/chat/history", historyRouter.ClearHistory)
}

func (hr *HistoryRouter) GetHistory(cc echo.Context) error {
	c := cc.(*ctx.Context)
	chatID := c.QueryParam("chat_id")
	c.LogValues.ChatID = chatID

	res, err := hr.hh.ListLogic(c.Request().Context(), c.UserID, chatID)
	if err != nil {
		return sendError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (hr *HistoryRouter) AppendHistory(cc echo.Context) error {
	c := cc.(*ctx.Context)
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return sendError(c, errors.Join(shared.ErrBadRequest, err))
	}

	out, err := hr.hh.AppendLogic(c.Request().Context(), c.UserID, body)
	if err != nil {
		return sendError(c, err)
	}
	c.LogValues.ChatID = out.ChatID
	return c.JSON(http.StatusCreated, AppendHistoryResponse{ChatID: out.ChatID, Saved: out.Count})
}

func (hr *HistoryRouter) ClearHistory(cc echo.Context) error {
	c := cc.(*ctx.Context)
	chatID := c.QueryParam("chat_id")
	c.LogValues.ChatID = chatID

	deleted, err := hr.hh.ClearLogic(c.Request().Context(), c.UserID, chatID)
	if err != nil {
		return sendError(c, err)
	}
	return c.JSON(http.StatusOK, ClearHistoryResponse{ChatID: chatID, Deleted: deleted})
}
