package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Turn is one entry of a session's compact conversation history.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a chat conversation owned by one user.
type Session struct {
	ID           string    `json:"session_id"`
	UserID       string    `json:"-"`
	History      []Turn    `json:"conversation_history"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// SessionSummary is a listing row.
type SessionSummary struct {
	ID           string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	MessageCount int       `json:"message_count"`
}

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var sess Session
	var raw []byte
	if err := row.Scan(&sess.ID, &sess.UserID, &raw, &sess.CreatedAt, &sess.LastActiveAt); err != nil {
		return Session{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &sess.History); err != nil {
			return Session{}, fmt.Errorf("decode session history: %w", err)
		}
	}
	return sess, nil
}

func (s *Store) CreateSession(ctx context.Context, userID string) (Session, error) {
	row := s.DB.QueryRowContext(ctx, `INSERT INTO sessions (user_id, conversation_history) VALUES ($1, '[]'::jsonb) RETURNING id, user_id, conversation_history, created_at, last_active_at`, userID)
	return scanSession(row)
}

// GetSession returns the session only when it belongs to userID.
func (s *Store) GetSession(ctx context.Context, id, userID string) (Session, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id, user_id, conversation_history, created_at, last_active_at FROM sessions WHERE id=$1 AND user_id=$2`, id, userID)
	sess, err := scanSession(row)
	return sess, notFound(err)
}

// ListSessions returns the user's sessions, most recently active first.
func (s *Store) ListSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT s.id, s.created_at, s.last_active_at, COUNT(m.id)
FROM sessions s LEFT JOIN chat_messages m ON m.session_id = s.id
WHERE s.user_id=$1
GROUP BY s.id, s.created_at, s.last_active_at
ORDER BY s.last_active_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []SessionSummary{}
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.ID, &sum.CreatedAt, &sum.LastActiveAt, &sum.MessageCount); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// CountSessions returns how many sessions the user has.
func (s *Store) CountSessions(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE user_id=$1`, userID).Scan(&n)
	return n, err
}

// UpdateSessionHistory replaces the stored history and bumps last_active_at.
func (s *Store) UpdateSessionHistory(ctx context.Context, id string, history []Turn) error {
	if history == nil {
		history = []Turn{}
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE sessions SET conversation_history=$2, last_active_at=now() WHERE id=$1`, id, raw)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
