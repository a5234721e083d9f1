package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/boardroom/internal/agent/core"
	"github.com/mohammad-safakhou/boardroom/internal/store"
)

type stubStore struct {
	mu        sync.Mutex
	users     map[string]store.User
	sessions  map[string]store.Session
	messages  []store.Message
	createErr error
	pingErr   error
	nextID    int
}

func newStubStore() *stubStore {
	return &stubStore{users: map[string]store.User{}, sessions: map[string]store.Session{}}
}

func (s *stubStore) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

func (s *stubStore) CreateUser(_ context.Context, email, hash, name string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return store.User{}, s.createErr
	}
	u := store.User{ID: s.id("user"), Email: email, PasswordHash: hash, Name: name, CreatedAt: time.Now()}
	s.users[u.ID] = u
	return u, nil
}

func (s *stubStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (s *stubStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (s *stubStore) UpdateProfile(_ context.Context, userID string, upd store.ProfileUpdate) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	upd.Apply(&u)
	s.users[userID] = u
	return u, nil
}

func (s *stubStore) CreateSession(_ context.Context, userID string) (store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := store.Session{ID: uuid.NewString(), UserID: userID, History: []store.Turn{}}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *stubStore) GetSession(_ context.Context, id, userID string) (store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.UserID != userID {
		return store.Session{}, store.ErrNotFound
	}
	return sess, nil
}

func (s *stubStore) ListSessions(_ context.Context, userID string) ([]store.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.SessionSummary
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, store.SessionSummary{ID: sess.ID, MessageCount: len(sess.History)})
		}
	}
	return out, nil
}

func (s *stubStore) UpdateSessionHistory(_ context.Context, id string, history []store.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	sess.History = history
	s.sessions[id] = sess
	return nil
}

func (s *stubStore) AddMessage(_ context.Context, m store.Message) (store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.id("msg")
	s.messages = append(s.messages, m)
	return m, nil
}

func (s *stubStore) ListMessages(_ context.Context, sessionID string) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Message
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *stubStore) Ping(context.Context) error { return s.pingErr }

// scriptedPipeline replays a fixed event list and records the request.
type scriptedPipeline struct {
	events []core.Event
	got    core.Request
}

func (p *scriptedPipeline) Stream(_ context.Context, req core.Request) <-chan core.Event {
	p.got = req
	ch := make(chan core.Event, len(p.events))
	for _, ev := range p.events {
		ch <- ev
	}
	close(ch)
	return ch
}

type stubCounter struct{ n int }

func (c stubCounter) Count(context.Context, string) (int, error) { return c.n, nil }
