package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Message roles stored in chat_messages.
const (
	RoleUser       = "user"
	RoleRouting    = "routing"
	RoleAgent      = "agent"
	RoleValidation = "validation"
	RoleSynthesis  = "synthesis"
)

// Message is one row of the per-session audit log.
type Message struct {
	ID               string                 `json:"id"`
	SessionID        string                 `json:"session_id"`
	UserID           string                 `json:"-"`
	Role             string                 `json:"role"`
	Content          string                 `json:"content"`
	AgentKey         string                 `json:"agent_key,omitempty"`
	AgentName        string                 `json:"agent_name,omitempty"`
	ExtraData        map[string]interface{} `json:"extra_data,omitempty"`
	ValidationScore  *float64               `json:"validation_score,omitempty"`
	ValidationPassed *bool                  `json:"validation_passed,omitempty"`
	RetryCount       int                    `json:"retry_count"`
	CreatedAt        time.Time              `json:"created_at"`
}

// AddMessage inserts m and returns it with id and created_at filled in.
func (s *Store) AddMessage(ctx context.Context, m Message) (Message, error) {
	var extra sql.NullString
	if len(m.ExtraData) > 0 {
		b, err := json.Marshal(m.ExtraData)
		if err != nil {
			return Message{}, fmt.Errorf("encode extra_data: %w", err)
		}
		extra = sql.NullString{String: string(b), Valid: true}
	}
	var score sql.NullFloat64
	if m.ValidationScore != nil {
		score = sql.NullFloat64{Float64: *m.ValidationScore, Valid: true}
	}
	var passed sql.NullBool
	if m.ValidationPassed != nil {
		passed = sql.NullBool{Bool: *m.ValidationPassed, Valid: true}
	}
	err := s.DB.QueryRowContext(ctx, `INSERT INTO chat_messages (session_id, user_id, role, content, agent_key, agent_name, extra_data, validation_score, validation_passed, retry_count)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id, created_at`,
		m.SessionID, m.UserID, m.Role, m.Content, nullString(m.AgentKey), nullString(m.AgentName), extra, score, passed, m.RetryCount,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	recordMessageWritten(ctx, m.Role)
	return m, nil
}

// ListMessages returns the session's log in insertion order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, session_id, user_id, role, content, agent_key, agent_name, extra_data, validation_score, validation_passed, retry_count, created_at
FROM chat_messages WHERE session_id=$1 ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Message{}
	for rows.Next() {
		var m Message
		var content, agentKey, agentName sql.NullString
		var extra []byte
		var score sql.NullFloat64
		var passed sql.NullBool
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Role, &content, &agentKey, &agentName, &extra, &score, &passed, &m.RetryCount, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Content, m.AgentKey, m.AgentName = content.String, agentKey.String, agentName.String
		if len(extra) > 0 {
			_ = json.Unmarshal(extra, &m.ExtraData)
		}
		if score.Valid {
			v := score.Float64
			m.ValidationScore = &v
		}
		if passed.Valid {
			v := passed.Bool
			m.ValidationPassed = &v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
