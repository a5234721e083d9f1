package server

import (
	"github.com/mohammad-safakhou/boardroom/internal/agent/telemetry"
	"github.com/mohammad-safakhou/boardroom/internal/store"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse carries a bearer token and the signed-in user.
type AuthResponse struct {
	Token string     `json:"token"`
	User  store.User `json:"user"`
}

// ChatRequest starts or continues a conversation.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// SessionDetailResponse is a session with its message log.
type SessionDetailResponse struct {
	Session  store.Session   `json:"session"`
	Messages []store.Message `json:"messages"`
}

// MemoryCountResponse reports how many memories the user has.
type MemoryCountResponse struct {
	MemoryCount int `json:"memory_count"`
}

// PerformanceResponse is the ops snapshot of pipeline telemetry.
type PerformanceResponse struct {
	Metrics telemetry.Metrics `json:"metrics"`
	Report  string            `json:"report"`
}
