package core

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of in-flight blocking calls across every request and retry.
// A slot is held only while fn runs.
type Pool struct {
	size int64
	sem  *semaphore.Weighted
}

// NewPool creates a pool with the given number of slots (minimum 1).
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: int64(size), sem: semaphore.NewWeighted(int64(size))}
}

// Size returns the slot count.
func (p *Pool) Size() int { return int(p.size) }

// Do runs fn on a pool slot, waiting for one to free up.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	defer p.sem.Release(1)
	return fn(ctx)
}

// Generate runs one text generation call on the pool.
func (p *Pool) Generate(ctx context.Context, gen TextGenerator, req GenerateRequest) (string, error) {
	var out string
	err := p.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = gen.Generate(ctx, req)
		return err
	})
	return out, err
}
