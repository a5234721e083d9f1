package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/boardroom/config"
	"github.com/redis/go-redis/v9"
)

// RedisStore persists memories in Redis and searches them through a per-user
// bleve index rebuilt lazily from the stored records.
//
// Layout under the configured prefix:
//
//	<prefix>:users               set of user ids with memories
//	<prefix>:<user>:records      hash id -> JSON Record
//	<prefix>:<user>:timeline     zset id scored by creation time (ms)
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *log.Logger
	now    func() time.Time

	mu      sync.Mutex
	indexes map[string]*userIndex
}

// NewRedisClient builds a client from the storage.redis section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.Timeout > 0 {
		opts.DialTimeout = cfg.Timeout
		opts.ReadTimeout = cfg.Timeout
		opts.WriteTimeout = cfg.Timeout
	}
	return redis.NewClient(opts)
}

func NewRedisStore(client *redis.Client, cfg config.MemoryConfig, logger *log.Logger) *RedisStore {
	cfg = cfg.Normalize()
	if logger == nil {
		logger = log.New(log.Writer(), "[MEMORY] ", log.LstdFlags)
	}
	return &RedisStore{
		client:  client,
		prefix:  strings.TrimSuffix(cfg.KeyPrefix, ":"),
		logger:  logger,
		now:     time.Now,
		indexes: map[string]*userIndex{},
	}
}

func (s *RedisStore) usersKey() string { return s.prefix + ":users" }
func (s *RedisStore) recordsKey(userID string) string { return fmt.Sprintf("%s:%s:records", s.prefix, userID) }
func (s *RedisStore) timelineKey(userID string) string { return fmt.Sprintf("%s:%s:timeline", s.prefix, userID) }

// Client exposes the underlying Redis client.
func (s *RedisStore) Client() *redis.Client { return s.client }

func (s *RedisStore) Add(ctx context.Context, userID, text string, metadata map[string]interface{}) (err error) {
	defer func() { recordWrite(ctx, "redis", err) }()
	rec, err := newRecord(userID, text, metadata, s.now())
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode memory: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.recordsKey(rec.UserID), rec.ID, data)
		p.ZAdd(ctx, s.timelineKey(rec.UserID), redis.Z{Score: float64(rec.CreatedAt.UnixMilli()), Member: rec.ID})
		p.SAdd(ctx, s.usersKey(), rec.UserID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store memory: %w", err)
	}
	s.mu.Lock()
	if idx, ok := s.indexes[rec.UserID]; ok {
		if ierr := idx.add(rec); ierr != nil {
			s.logger.Printf("index memory %s: %v", rec.ID, ierr)
			idx.close()
			delete(s.indexes, rec.UserID)
		}
	}
	s.mu.Unlock()
	return nil
}

// Search returns up to limit memory texts matching query. When nothing
// matches, the most recent memories are returned instead.
func (s *RedisStore) Search(ctx context.Context, userID, query string, limit int) (out []string, err error) {
	started := time.Now()
	defer func() { recordSearch(ctx, "redis", started, err) }()
	userID = strings.TrimSpace(userID)
	if userID == "" || limit <= 0 {
		return nil, nil
	}
	idx, err := s.index(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids, err := idx.search(query, limit)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	if len(ids) == 0 {
		ids, err = s.client.ZRevRange(ctx, s.timelineKey(userID), 0, int64(limit-1)).Result()
		if err != nil {
			return nil, fmt.Errorf("recent memories: %w", err)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := s.client.HMGet(ctx, s.recordsKey(userID), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		out = append(out, rec.Text)
	}
	return out, nil
}

func (s *RedisStore) Count(ctx context.Context, userID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, nil
	}
	n, err := s.client.HLen(ctx, s.recordsKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) Users(ctx context.Context) ([]string, error) {
	users, err := s.client.SMembers(ctx, s.usersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list memory users: %w", err)
	}
	return users, nil
}

func (s *RedisStore) Prune(ctx context.Context, userID string, keep int, cutoff time.Time) (int, error) {
	userID = strings.TrimSpace(userID)
	timeline := s.timelineKey(userID)
	var ids []string
	if !cutoff.IsZero() {
		expired, err := s.client.ZRangeByScore(ctx, timeline, &redis.ZRangeBy{
			Min: "-inf",
			Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
		}).Result()
		if err != nil {
			return 0, fmt.Errorf("expired memories: %w", err)
		}
		ids = expired
	}
	if keep > 0 {
		total, err := s.client.ZCard(ctx, timeline).Result()
		if err != nil {
			return 0, fmt.Errorf("count timeline: %w", err)
		}
		if excess := int(total) - len(ids) - keep; excess > 0 {
			start := int64(len(ids))
			oldest, err := s.client.ZRange(ctx, timeline, start, start+int64(excess)-1).Result()
			if err != nil {
				return 0, fmt.Errorf("oldest memories: %w", err)
			}
			ids = append(ids, oldest...)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, s.recordsKey(userID), ids...)
		p.ZRem(ctx, timeline, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune memories: %w", err)
	}
	if n, err := s.client.ZCard(ctx, timeline).Result(); err == nil && n == 0 {
		_ = s.client.SRem(ctx, s.usersKey(), userID).Err()
	}
	s.mu.Lock()
	if idx, ok := s.indexes[userID]; ok {
		idx.remove(ids...)
	}
	s.mu.Unlock()
	recordPruned(ctx, "redis", len(ids))
	return len(ids), nil
}

// index returns the cached index for userID, rebuilding it when its size
// no longer matches the stored records (another process wrote or pruned).
func (s *RedisStore) index(ctx context.Context, userID string) (*userIndex, error) {
	n, err := s.client.HLen(ctx, s.recordsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("count memories: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indexes[userID]; ok && idx.size() == uint64(n) {
		return idx, nil
	}
	raw, err := s.client.HGetAll(ctx, s.recordsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}
	idx, err := newUserIndex()
	if err != nil {
		return nil, err
	}
	for id, v := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			s.logger.Printf("skip undecodable memory %s: %v", id, err)
			continue
		}
		rec.ID = id
		if err := idx.add(rec); err != nil {
			idx.close()
			return nil, fmt.Errorf("index memories: %w", err)
		}
	}
	if old, ok := s.indexes[userID]; ok {
		old.close()
	}
	s.indexes[userID] = idx
	return idx, nil
}

// Close releases the cached indexes. The Redis client is owned by the caller.
func (s *RedisStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, idx := range s.indexes {
		idx.close()
		delete(s.indexes, id)
	}
}
