package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mohammad-safakhou/boardroom/internal/agent/core"
	"github.com/mohammad-safakhou/boardroom/internal/store"
)

var chatTracer = otel.Tracer("boardroom/internal/server/chat")

// SessionHeader carries the session id of a chat stream.
const SessionHeader = "X-Session-ID"

type chatStore interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateSession(ctx context.Context, userID string) (store.Session, error)
	GetSession(ctx context.Context, id, userID string) (store.Session, error)
	UpdateSessionHistory(ctx context.Context, id string, history []store.Turn) error
	AddMessage(ctx context.Context, m store.Message) (store.Message, error)
}

type pipelineRunner interface {
	Stream(ctx context.Context, req core.Request) <-chan core.Event
}

type ChatHandler struct {
	Store    chatStore
	Pipeline pipelineRunner
	Logger   *log.Logger
	now      func() time.Time
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("", h.chat)
}

// Chat
//
//	@Summary		Ask the boardroom
//	@Description	Streams pipeline events as server-sent events; the session id is returned in X-Session-ID
//	@Tags			chat
//	@Security		BearerAuth
//	@Security		CookieAuth
//	@Accept			json
//	@Produce		text/event-stream
//	@Param			payload	body	ChatRequest	true	"Chat payload"
//	@Router			/api/chat [post]
func (h *ChatHandler) chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}
	ctx := c.Request().Context()
	uid := userID(c)
	user, err := h.Store.GetUserByID(ctx, uid)
	if err != nil {
		return storeError(err)
	}
	session, err := h.session(ctx, uid, req.SessionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	ctx, span := chatTracer.Start(ctx, "boardroom.chat")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", session.ID), attribute.String("user_id", uid))

	// rows and history are written even after the client disconnects; Stream
	// keeps delivering until done
	persistCtx := context.WithoutCancel(ctx)
	prior := toCoreTurns(session.History)
	h.persist(persistCtx, store.Message{SessionID: session.ID, UserID: uid, Role: store.RoleUser, Content: message})
	history := append(session.History, store.Turn{Role: "user", Content: message, Timestamp: h.clock()})

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set(SessionHeader, session.ID)
	res.WriteHeader(http.StatusOK)
	flusher, _ := res.Writer.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	rec := &chatRecorder{handler: h, ctx: persistCtx, sessionID: session.ID, userID: uid}
	events := h.Pipeline.Stream(ctx, core.Request{Message: message, User: userContext(user), History: prior})
	writeOK := true
	for ev := range events {
		rec.observe(ev)
		if ev.Type == core.EventError {
			span.RecordError(errors.New(ev.Content))
			span.SetStatus(codes.Error, ev.Content)
		}
		if ev.Type == core.EventDone && ev.Result != nil && ev.Result.Synthesis != "" {
			history = append(history, store.Turn{Role: "assistant", Content: ev.Result.Synthesis, Timestamp: h.clock()})
		}
		if !writeOK {
			continue
		}
		if err := writeSSE(res, ev); err != nil {
			h.logger().Printf("chat stream %s: client gone: %v", session.ID, err)
			writeOK = false
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if err := h.Store.UpdateSessionHistory(persistCtx, session.ID, history); err != nil {
		h.logger().Printf("update history %s: %v", session.ID, err)
		span.RecordError(err)
	}
	return nil
}

// session resumes the caller's session or opens a new one. Unknown, malformed
// or foreign ids silently start a fresh session.
func (h *ChatHandler) session(ctx context.Context, uid, id string) (store.Session, error) {
	if _, err := uuid.Parse(strings.TrimSpace(id)); err == nil {
		s, err := h.Store.GetSession(ctx, strings.TrimSpace(id), uid)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return store.Session{}, err
		}
	}
	return h.Store.CreateSession(ctx, uid)
}

func (h *ChatHandler) persist(ctx context.Context, m store.Message) {
	if _, err := h.Store.AddMessage(ctx, m); err != nil {
		h.logger().Printf("persist %s message for session %s: %v", m.Role, m.SessionID, err)
	}
}

func (h *ChatHandler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now().UTC()
}

func (h *ChatHandler) logger() *log.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return log.New(log.Writer(), "[CHAT] ", log.LstdFlags)
}

// chatRecorder turns stream events into chat_messages rows.
type chatRecorder struct {
	handler   *ChatHandler
	ctx       context.Context
	sessionID string
	userID    string
	plan      *core.PlanSummary
	retries   map[string]int
}

func (r *chatRecorder) observe(ev core.Event) {
	switch ev.Type {
	case core.EventPlanAnnouncement:
		r.plan = ev.Plan
	case core.EventRouting:
		extra := map[string]interface{}{"agents": ev.Responders}
		if r.plan != nil {
			extra["intent"] = r.plan.Intent
			extra["complexity"] = r.plan.Complexity
			extra["response_strategy"] = r.plan.Strategy
			extra["reasoning"] = r.plan.Reasoning
			extra["sub_queries"] = r.plan.WorkItems
		}
		r.add(store.Message{Role: store.RoleRouting, Content: ev.Content, ExtraData: extra})
	case core.EventValidation:
		if ev.Validation == nil {
			return
		}
		v := ev.Validation
		if v.IsRetry {
			if r.retries == nil {
				r.retries = make(map[string]int)
			}
			r.retries[v.ResponderID]++
		}
		score, passed := v.Score, v.Passed
		r.add(store.Message{
			Role:             store.RoleValidation,
			Content:          ev.Content,
			AgentKey:         v.ResponderID,
			AgentName:        ev.ResponderName,
			ValidationScore:  &score,
			ValidationPassed: &passed,
			RetryCount:       v.Attempt,
			ExtraData: map[string]interface{}{
				"scores":       v.DimensionScores,
				"critique":     v.Critique,
				"work_item_id": v.WorkItemID,
			},
		})
	case core.EventResponderOutput:
		r.add(store.Message{
			Role:       store.RoleAgent,
			Content:    ev.Content,
			AgentKey:   ev.Responder,
			AgentName:  ev.ResponderName,
			RetryCount: r.retries[ev.Responder],
		})
	case core.EventSynthesis:
		r.add(store.Message{Role: store.RoleSynthesis, Content: ev.Content})
	}
}

func (r *chatRecorder) add(m store.Message) {
	m.SessionID = r.sessionID
	m.UserID = r.userID
	r.handler.persist(r.ctx, m)
}

func writeSSE(w http.ResponseWriter, ev core.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

func toCoreTurns(in []store.Turn) []core.Turn {
	out := make([]core.Turn, 0, len(in))
	for _, t := range in {
		out = append(out, core.Turn{Role: t.Role, Content: t.Content})
	}
	return out
}

func userContext(u store.User) *core.UserContext {
	return &core.UserContext{
		UserID:     u.ID,
		Name:       u.Name,
		Role:       u.Role,
		Company:    u.CompanyName,
		Stage:      u.CompanyStage,
		Industry:   u.Industry,
		TeamSize:   u.TeamSize,
		Challenges: u.CurrentChallenges,
		Goals:      u.Goals,
	}
}
