package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore keeps memories in process. It backs the CLI and tests when
// no Redis endpoint is configured.
type InMemoryStore struct {
	mu    sync.Mutex
	users map[string]*userMemories
	now   func() time.Time
}

type userMemories struct {
	records map[string]Record
	order   []string // oldest first
	index   *userIndex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{users: map[string]*userMemories{}, now: time.Now}
}

func (s *InMemoryStore) Add(ctx context.Context, userID, text string, metadata map[string]interface{}) (err error) {
	defer func() { recordWrite(ctx, "inmemory", err) }()
	rec, err := newRecord(userID, text, metadata, s.now())
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	um, ok := s.users[rec.UserID]
	if !ok {
		idx, err := newUserIndex()
		if err != nil {
			return err
		}
		um = &userMemories{records: map[string]Record{}, index: idx}
		s.users[rec.UserID] = um
	}
	if err := um.index.add(rec); err != nil {
		return err
	}
	um.records[rec.ID] = rec
	um.order = append(um.order, rec.ID)
	return nil
}

// Search returns up to limit memory texts matching query. When nothing
// matches, the most recent memories are returned instead.
func (s *InMemoryStore) Search(ctx context.Context, userID, query string, limit int) (out []string, err error) {
	started := time.Now()
	defer func() { recordSearch(ctx, "inmemory", started, err) }()
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	um, ok := s.users[strings.TrimSpace(userID)]
	if !ok {
		return nil, nil
	}
	ids, err := um.index.search(query, limit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		ids = recent(um.order, limit)
	}
	for _, id := range ids {
		if rec, ok := um.records[id]; ok {
			out = append(out, rec.Text)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Count(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if um, ok := s.users[strings.TrimSpace(userID)]; ok {
		return len(um.records), nil
	}
	return 0, nil
}

func (s *InMemoryStore) Users(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]string, 0, len(s.users))
	for id := range s.users {
		users = append(users, id)
	}
	sort.Strings(users)
	return users, nil
}

func (s *InMemoryStore) Prune(ctx context.Context, userID string, keep int, cutoff time.Time) (int, error) {
	userID = strings.TrimSpace(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	um, ok := s.users[userID]
	if !ok {
		return 0, nil
	}
	expired := 0
	if !cutoff.IsZero() {
		for expired < len(um.order) && um.records[um.order[expired]].CreatedAt.Before(cutoff) {
			expired++
		}
	}
	drop := expired
	if keep > 0 && len(um.order)-drop > keep {
		drop = len(um.order) - keep
	}
	removed := um.order[:drop]
	for _, id := range removed {
		delete(um.records, id)
	}
	um.index.remove(removed...)
	um.order = append([]string(nil), um.order[drop:]...)
	if len(um.order) == 0 {
		um.index.close()
		delete(s.users, userID)
	}
	recordPruned(ctx, "inmemory", drop)
	return drop, nil
}

// recent returns up to limit ids from an oldest-first list, newest first.
func recent(order []string, limit int) []string {
	out := make([]string, 0, limit)
	for i := len(order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, order[i])
	}
	return out
}
