package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/mohammad-safakhou/boardroom/config"
	"github.com/mohammad-safakhou/boardroom/internal/agent/core"
	"github.com/mohammad-safakhou/boardroom/internal/agent/telemetry"
	"github.com/mohammad-safakhou/boardroom/internal/runtime"
	"github.com/mohammad-safakhou/boardroom/internal/store"
)

var testSecret = []byte("test-secret")

func newTestServer(t *testing.T, st *stubStore, p pipelineRunner) *echo.Echo {
	t.Helper()
	if p == nil {
		p = &scriptedPipeline{}
	}
	return NewEcho(Deps{
		Store:    st,
		Pipeline: p,
		Memory:   stubCounter{n: 4},
		Secret:   testSecret,
		Server:   config.ServerConfig{TokenTTL: time.Hour},
	})
}

func do(e *echo.Echo, method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func seedUser(t *testing.T, st *stubStore, email, password string) (store.User, string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u, _ := st.CreateUser(context.Background(), email, string(hash), "Ada")
	tok, err := runtime.SignJWT(u.ID, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return u, tok
}

func TestSignupValidatesAndIssuesToken(t *testing.T) {
	st := newStubStore()
	e := newTestServer(t, st, nil)

	if rec := do(e, http.MethodPost, "/api/auth/signup", `{"email":"nope","password":"longenough"}`, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad email: got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/api/auth/signup", `{"email":"a@b.co","password":"short"}`, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("short password: got %d", rec.Code)
	}

	rec := do(e, http.MethodPost, "/api/auth/signup", `{"email":"a@b.co","password":"longenough","name":"Ada"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: got %d %s", rec.Code, rec.Body.String())
	}
	var resp AuthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sub, err := runtime.ParseJWT(resp.Token, testSecret); err != nil || sub != resp.User.ID {
		t.Fatalf("token subject %q %v, want %s", sub, err, resp.User.ID)
	}
	if !strings.Contains(rec.Header().Get("Set-Cookie"), runtime.AuthCookie+"=") {
		t.Fatalf("expected auth cookie, got %q", rec.Header().Get("Set-Cookie"))
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("password hash leaked: %s", rec.Body.String())
	}

	st.createErr = &pq.Error{Code: "23505"}
	if rec := do(e, http.MethodPost, "/api/auth/signup", `{"email":"a@b.co","password":"longenough"}`, ""); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: got %d", rec.Code)
	}
}

func TestLoginAndMe(t *testing.T) {
	st := newStubStore()
	e := newTestServer(t, st, nil)
	u, _ := seedUser(t, st, "ceo@acme.io", "correct horse")

	if rec := do(e, http.MethodPost, "/api/auth/login", `{"email":"ceo@acme.io","password":"wrong pass"}`, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/api/auth/login", `{"email":"who@acme.io","password":"correct horse"}`, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user: got %d", rec.Code)
	}
	rec := do(e, http.MethodPost, "/api/auth/login", `{"email":"ceo@acme.io","password":"correct horse"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: got %d %s", rec.Code, rec.Body.String())
	}
	var resp AuthResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)

	if rec := do(e, http.MethodGet, "/api/auth/me", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("me without token: got %d", rec.Code)
	}
	rec = do(e, http.MethodGet, "/api/auth/me", "", resp.Token)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), u.ID) {
		t.Fatalf("me: got %d %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateProfileCompletesOnboarding(t *testing.T) {
	st := newStubStore()
	e := newTestServer(t, st, nil)
	_, tok := seedUser(t, st, "ceo@acme.io", "correct horse")

	rec := do(e, http.MethodPatch, "/api/auth/profile", `{"company_name":" Acme ","goals":"Series A"}`, tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile: got %d %s", rec.Code, rec.Body.String())
	}
	var u store.User
	_ = json.Unmarshal(rec.Body.Bytes(), &u)
	if u.CompanyName != "Acme" || !u.OnboardingComplete {
		t.Fatalf("unexpected profile %+v", u)
	}
}

func chatScript() []core.Event {
	result := core.PipelineResult{
		Responses:   core.NewResponseSet(),
		RetryCounts: map[string]int{"cfo": 1},
		Synthesis:   "Raise a bridge round.",
	}
	result.Responses.Set("cfo", "Cut burn first.")
	result.Responses.Set("cmo", "Double down on referrals.")
	return []core.Event{
		{Type: core.EventPlanAnnouncement, Content: "plan", Plan: &core.PlanSummary{Intent: core.IntentDecision, Reasoning: "money"}},
		{Type: core.EventRouting, Content: "Routing to: CFO, CMO", Responders: []string{"cfo", "cmo"}},
		{Type: core.EventResponderStarted, Content: "CFO is analysing", Responder: "cfo"},
		{Type: core.EventValidation, Content: "low", Responder: "cfo", ResponderName: "CFO", Validation: &core.ValidationRecord{ResponderID: "cfo", Attempt: 0, Score: 5}},
		{Type: core.EventValidation, Content: "retry ok", Responder: "cfo", ResponderName: "CFO", Validation: &core.ValidationRecord{ResponderID: "cfo", Attempt: 1, IsRetry: true, Passed: true, Score: 8}},
		{Type: core.EventResponderOutput, Content: "Cut burn first.", Responder: "cfo", ResponderName: "CFO"},
		{Type: core.EventResponderOutput, Content: "Double down on referrals.", Responder: "cmo", ResponderName: "CMO"},
		{Type: core.EventSynthesisStarted, Content: "synthesising"},
		{Type: core.EventSynthesis, Content: "Raise a bridge round."},
		{Type: core.EventDone, Result: &result},
	}
}

func TestChatStreamsAndPersists(t *testing.T) {
	st := newStubStore()
	p := &scriptedPipeline{events: chatScript()}
	e := newTestServer(t, st, p)
	u, tok := seedUser(t, st, "ceo@acme.io", "correct horse")

	if rec := do(e, http.MethodPost, "/api/chat", `{"message":"   "}`, tok); rec.Code != http.StatusBadRequest {
		t.Fatalf("blank message: got %d", rec.Code)
	}

	rec := do(e, http.MethodPost, "/api/chat", `{"message":"Should we raise now?","session_id":"not-a-uuid"}`, tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: got %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	sid := rec.Header().Get(SessionHeader)
	if sid == "" {
		t.Fatalf("missing session header")
	}
	frames := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	if len(frames) != len(p.events) {
		t.Fatalf("got %d frames, want %d", len(frames), len(p.events))
	}
	var last core.Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frames[len(frames)-1], "data: ")), &last); err != nil || last.Type != core.EventDone {
		t.Fatalf("last frame %q: %v", frames[len(frames)-1], err)
	}
	if p.got.User == nil || p.got.User.UserID != u.ID || len(p.got.History) != 0 {
		t.Fatalf("unexpected pipeline request %+v", p.got)
	}

	var roles []string
	for _, m := range st.messages {
		roles = append(roles, m.Role)
	}
	want := "user,routing,validation,validation,agent,agent,synthesis"
	if strings.Join(roles, ",") != want {
		t.Fatalf("persisted roles %v, want %s", roles, want)
	}
	routing := st.messages[1]
	if routing.ExtraData["reasoning"] != "money" {
		t.Fatalf("routing extra %+v", routing.ExtraData)
	}
	cfo := st.messages[4]
	if cfo.AgentKey != "cfo" || cfo.RetryCount != 1 {
		t.Fatalf("cfo row %+v", cfo)
	}
	first, retry := st.messages[2], st.messages[3]
	if first.RetryCount != 0 || first.ValidationPassed == nil || *first.ValidationPassed {
		t.Fatalf("first validation row %+v", first)
	}
	if retry.ValidationPassed == nil || !*retry.ValidationPassed || retry.RetryCount != cfo.RetryCount {
		t.Fatalf("retry validation row %+v, agent row retry_count %d", retry, cfo.RetryCount)
	}

	sess := st.sessions[sid]
	if len(sess.History) != 2 || sess.History[0].Role != "user" || sess.History[1].Content != "Raise a bridge round." {
		t.Fatalf("history %+v", sess.History)
	}

	// resuming passes the prior turns to the pipeline
	rec = do(e, http.MethodPost, "/api/chat", `{"message":"And hiring?","session_id":"`+sid+`"}`, tok)
	if rec.Header().Get(SessionHeader) != sid {
		t.Fatalf("expected session %s to resume, got %s", sid, rec.Header().Get(SessionHeader))
	}
	if len(p.got.History) != 2 {
		t.Fatalf("expected 2 prior turns, got %d", len(p.got.History))
	}
	if len(st.sessions[sid].History) != 4 {
		t.Fatalf("history after second turn: %d", len(st.sessions[sid].History))
	}
}

func TestChatIgnoresForeignSession(t *testing.T) {
	st := newStubStore()
	e := newTestServer(t, st, &scriptedPipeline{events: chatScript()})
	other, _ := seedUser(t, st, "other@acme.io", "correct horse")
	_, tok := seedUser(t, st, "ceo@acme.io", "correct horse")
	foreign, _ := st.CreateSession(context.Background(), other.ID)

	rec := do(e, http.MethodPost, "/api/chat", `{"message":"hi","session_id":"`+foreign.ID+`"}`, tok)
	if sid := rec.Header().Get(SessionHeader); sid == "" || sid == foreign.ID {
		t.Fatalf("expected a fresh session, got %q", sid)
	}
	if len(st.sessions[foreign.ID].History) != 0 {
		t.Fatalf("foreign session was modified")
	}
}

func TestSessionsEndpoints(t *testing.T) {
	st := newStubStore()
	e := newTestServer(t, st, &scriptedPipeline{events: chatScript()})
	_, tok := seedUser(t, st, "ceo@acme.io", "correct horse")

	rec := do(e, http.MethodGet, "/api/sessions", "", tok)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("empty list: %d %s", rec.Code, rec.Body.String())
	}

	sid := do(e, http.MethodPost, "/api/chat", `{"message":"hi"}`, tok).Header().Get(SessionHeader)
	if rec := do(e, http.MethodGet, "/api/sessions/garbage", "", tok); rec.Code != http.StatusNotFound {
		t.Fatalf("malformed id: got %d", rec.Code)
	}
	rec = do(e, http.MethodGet, "/api/sessions/"+sid, "", tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("detail: %d %s", rec.Code, rec.Body.String())
	}
	var detail SessionDetailResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.Session.ID != sid || len(detail.Messages) == 0 {
		t.Fatalf("unexpected detail %+v", detail)
	}

	rec = do(e, http.MethodGet, "/api/memory/count", "", tok)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"memory_count":4`) {
		t.Fatalf("memory count: %d %s", rec.Code, rec.Body.String())
	}
}

func TestHealthAndReadiness(t *testing.T) {
	st := newStubStore()
	e := newTestServer(t, st, nil)
	if rec := do(e, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/readyz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("readyz: %d", rec.Code)
	}
	st.pingErr = errors.New("db down")
	rec := do(e, http.MethodGet, "/readyz", "", "")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), `"error":"db down"`) {
		t.Fatalf("readyz down: %d %s", rec.Code, rec.Body.String())
	}
}

func TestOpsPerformance(t *testing.T) {
	st := newStubStore()
	_, tok := seedUser(t, st, "ceo@acme.io", "correct horse")
	tel := telemetry.NewTelemetry(config.TelemetryConfig{})
	defer tel.Shutdown()
	e := NewEcho(Deps{Store: st, Pipeline: &scriptedPipeline{}, Telemetry: tel, Gatherer: tel.Registry(), Secret: testSecret})

	rec := do(e, http.MethodGet, "/api/ops/performance", "", tok)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"report"`) {
		t.Fatalf("performance: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(e, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "boardroom_") {
		t.Fatalf("metrics: %d", rec.Code)
	}
}

func TestMigrateRequiresDSN(t *testing.T) {
	if err := Migrate("", "", "up", 0); err == nil {
		t.Fatalf("expected dsn error")
	}
}

func TestProfileMarkupIsStripped(t *testing.T) {
	st := newStubStore()
	e := newTestServer(t, st, nil)
	_, tok := seedUser(t, st, "ceo@acme.io", "correct horse")

	rec := do(e, http.MethodPatch, "/api/auth/profile", `{"industry":"<b>R&D</b> tooling<script>alert(1)</script>","role":"CEO"}`, tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile: got %d %s", rec.Code, rec.Body.String())
	}
	var u store.User
	_ = json.Unmarshal(rec.Body.Bytes(), &u)
	if u.Industry != "R&D tooling" || u.Role != "CEO" {
		t.Fatalf("unexpected profile %+v", u)
	}
}

func TestBuildPipelineRequiresProvider(t *testing.T) {
	cfg := &config.Config{}
	p, err := BuildPipeline(cfg, nil, nil, nil)
	if !errors.Is(err, core.ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}
	if p != nil {
		t.Fatalf("expected no pipeline without a provider")
	}
}
