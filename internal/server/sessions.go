package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/boardroom/internal/store"
)

type sessionStore interface {
	GetSession(ctx context.Context, id, userID string) (store.Session, error)
	ListSessions(ctx context.Context, userID string) ([]store.SessionSummary, error)
	ListMessages(ctx context.Context, sessionID string) ([]store.Message, error)
}

type memoryCounter interface {
	Count(ctx context.Context, userID string) (int, error)
}

type SessionsHandler struct {
	Store  sessionStore
	Memory memoryCounter
}

func (h *SessionsHandler) Register(sessions, memory *echo.Group) {
	sessions.GET("", h.list)
	sessions.GET("/:id", h.get)
	memory.GET("/count", h.memoryCount)
}

// List sessions
//
//	@Summary	List chat sessions, most recent first
//	@Tags		sessions
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Produce	json
//	@Success	200	{array}	store.SessionSummary
//	@Router		/api/sessions [get]
func (h *SessionsHandler) list(c echo.Context) error {
	items, err := h.Store.ListSessions(c.Request().Context(), userID(c))
	if err != nil {
		return storeError(err)
	}
	if items == nil {
		items = []store.SessionSummary{}
	}
	return c.JSON(http.StatusOK, items)
}

// Get session
//
//	@Summary	Session with its message log
//	@Tags		sessions
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Produce	json
//	@Param		id	path		string	true	"Session ID"
//	@Success	200	{object}	SessionDetailResponse
//	@Failure	404	{object}	HTTPError
//	@Router		/api/sessions/{id} [get]
func (h *SessionsHandler) get(c echo.Context) error {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	ctx := c.Request().Context()
	sess, err := h.Store.GetSession(ctx, id, userID(c))
	if err != nil {
		return storeError(err)
	}
	msgs, err := h.Store.ListMessages(ctx, sess.ID)
	if err != nil {
		return storeError(err)
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	if sess.History == nil {
		sess.History = []store.Turn{}
	}
	return c.JSON(http.StatusOK, SessionDetailResponse{Session: sess, Messages: msgs})
}

func (h *SessionsHandler) memoryCount(c echo.Context) error {
	if h.Memory == nil {
		return c.JSON(http.StatusOK, MemoryCountResponse{})
	}
	n, err := h.Memory.Count(c.Request().Context(), userID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, MemoryCountResponse{MemoryCount: n})
}
