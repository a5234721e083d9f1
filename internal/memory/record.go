// Package memory holds the long-term memory stores used by the boardroom
// pipeline. Every store satisfies core.MemoryService and the janitor's
// Pruner interface.
package memory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyUser is returned when an operation is attempted without a user id.
var ErrEmptyUser = errors.New("memory: user id required")

// Record is a single stored memory.
type Record struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	Text      string                 `json:"text"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Pruner is the surface the janitor needs from a store.
type Pruner interface {
	Users(ctx context.Context) ([]string, error)
	// Prune removes memories created before cutoff (when non-zero) and then
	// the oldest ones beyond keep (when keep > 0). It returns how many were removed.
	Prune(ctx context.Context, userID string, keep int, cutoff time.Time) (int, error)
}

func newRecord(userID, text string, metadata map[string]interface{}, now time.Time) (Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Record{}, ErrEmptyUser
	}
	return Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		Text:      text,
		Metadata:  metadata,
		CreatedAt: now.UTC(),
	}, nil
}
