package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/boardroom/internal/agent/telemetry"
)

// ErrNoGenerator is returned when a responder call has no text generator to run on.
var ErrNoGenerator = errors.New("no text generator configured")

// Executor runs one work item through its responders
type Executor struct {
	registry  *Registry
	generator TextGenerator
	pool      *Pool
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewExecutor creates an executor that issues every call on pool.
func NewExecutor(reg *Registry, gen TextGenerator, pool *Pool, tel *telemetry.Telemetry, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags)
	}
	return &Executor{registry: reg, generator: gen, pool: pool, telemetry: tel, logger: logger}
}

// Execute calls each responder of item in order. Any failure aborts the
// work item and is returned wrapped with the responder id.
func (e *Executor) Execute(ctx context.Context, item WorkItem, pc PromptContext) ([]ResponderOutput, error) {
	if e.generator == nil {
		return nil, fmt.Errorf("work item %s: %w", item.ID, ErrNoGenerator)
	}
	outputs := make([]ResponderOutput, 0, len(item.Responders))
	for _, id := range item.Responders {
		r, ok := e.registry.Get(id)
		if !ok {
			return nil, fmt.Errorf("work item %s: %w: %s", item.ID, ErrUnknownResponder, id)
		}
		prompt, expected := buildResponderPrompt(r, item, pc)

		start := time.Now()
		text, err := e.pool.Generate(ctx, e.generator, GenerateRequest{
			Purpose:        PurposeResponding,
			Role:           r.Role,
			Goal:           r.Goal,
			Backstory:      r.Backstory,
			Prompt:         prompt,
			ExpectedOutput: expected,
		})
		elapsed := time.Since(start)
		e.telemetry.RecordLLMEvent(ctx, telemetry.LLMEvent{Purpose: string(PurposeResponding), Duration: elapsed, Success: err == nil})
		e.telemetry.RecordResponderEvent(ctx, telemetry.ResponderEvent{
			ResponderID: id,
			WorkItemID:  item.ID,
			Duration:    elapsed,
			Success:     err == nil,
		})
		if err != nil {
			e.logger.Printf("Responder %s failed on %s: %v", id, item.ID, err)
			return nil, fmt.Errorf("work item %s: responder %s: %w", item.ID, id, err)
		}
		outputs = append(outputs, ResponderOutput{ResponderID: id, Text: text})
	}
	return outputs, nil
}
