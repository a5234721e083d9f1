package memory

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/mohammad-safakhou/boardroom/config"
	"github.com/redis/go-redis/v9"
)

const janitorLockTTL = 10 * time.Minute

// Janitor trims each user's memories on a cron schedule. When a Redis client
// is supplied, runs are serialized across processes with a SETNX lock.
type Janitor struct {
	store     Pruner
	rdb       *redis.Client
	lockKey   string
	expr      *cronexpr.Expression
	keep      int
	retention time.Duration
	logger    *log.Logger
	now       func() time.Time

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewJanitor validates the prune schedule. rdb may be nil.
func NewJanitor(store Pruner, rdb *redis.Client, cfg config.MemoryConfig, logger *log.Logger) (*Janitor, error) {
	cfg = cfg.Normalize()
	expr, err := cronexpr.Parse(cfg.PruneCron)
	if err != nil {
		return nil, fmt.Errorf("memory.prune_cron %q: %w", cfg.PruneCron, err)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[JANITOR] ", log.LstdFlags)
	}
	return &Janitor{
		store:     store,
		rdb:       rdb,
		lockKey:   cfg.KeyPrefix + ":janitor:lock",
		expr:      expr,
		keep:      cfg.MaxPerUser,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		logger:    logger,
		now:       time.Now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Next reports when the schedule fires after t.
func (j *Janitor) Next(t time.Time) time.Time { return j.expr.Next(t) }

// Start runs the janitor until Stop is called.
func (j *Janitor) Start() {
	if !j.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(j.done)
		for {
			next := j.expr.Next(j.now())
			if next.IsZero() {
				j.logger.Printf("schedule has no future activations; janitor exiting")
				return
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-j.stop:
				timer.Stop()
				return
			case <-timer.C:
				removed, err := j.RunOnce(context.Background())
				if err != nil {
					j.logger.Printf("prune failed: %v", err)
					continue
				}
				j.logger.Printf("pruned %d memories", removed)
			}
		}
	}()
}

// Stop halts the schedule and waits for an in-flight run to finish.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.stop)
	})
	if !j.started.Load() {
		return
	}
	select {
	case <-j.done:
	case <-time.After(janitorLockTTL):
	}
}

// RunOnce prunes every user's memories. It returns 0 without error when
// another process holds the lock.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	if j.rdb != nil {
		ok, err := j.rdb.SetNX(ctx, j.lockKey, "1", janitorLockTTL).Result()
		if err != nil {
			return 0, fmt.Errorf("janitor lock: %w", err)
		}
		if !ok {
			j.logger.Printf("another janitor holds %s; skipping", j.lockKey)
			return 0, nil
		}
		defer j.rdb.Del(context.WithoutCancel(ctx), j.lockKey)
	}

	var cutoff time.Time
	if j.retention > 0 {
		cutoff = j.now().Add(-j.retention)
	}
	users, err := j.store.Users(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, u := range users {
		n, err := j.store.Prune(ctx, u, j.keep, cutoff)
		if err != nil {
			j.logger.Printf("prune %s: %v", u, err)
			continue
		}
		total += n
	}
	return total, nil
}
