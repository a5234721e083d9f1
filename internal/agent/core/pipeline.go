package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/boardroom/config"
	"github.com/mohammad-safakhou/boardroom/internal/agent/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var pipelineTracer = otel.Tracer("boardroom/internal/agent/core/pipeline")

// Deps are the collaborators of a pipeline. Only Registry is required.
type Deps struct {
	Generator TextGenerator
	Memory    MemoryService
	Registry  *Registry
	Telemetry *telemetry.Telemetry
	Logger    *log.Logger
}

// Request is one user turn entering the pipeline
type Request struct {
	Message string
	User    *UserContext
	History []Turn
}

// Pipeline coordinates memory fetch, planning, dispatch, merge, synthesis and
// memory persistence for one request at a time; it is safe for concurrent use.
type Pipeline struct {
	cfg         config.PipelineConfig
	registry    *Registry
	memory      MemoryService
	telemetry   *telemetry.Telemetry
	logger      *log.Logger
	pool        *Pool
	planner     *Planner
	retry       *RetryController
	synthesizer *Synthesizer
	background  sync.WaitGroup
}

// NewPipeline wires the pipeline components around one shared worker pool.
func NewPipeline(cfg config.PipelineConfig, deps Deps) (*Pipeline, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("pipeline: responder registry required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	pool := NewPool(cfg.PoolSize)
	executor := NewExecutor(deps.Registry, deps.Generator, pool, deps.Telemetry, nil)
	validator := NewValidator(deps.Generator, pool, cfg, deps.Telemetry, nil)
	return &Pipeline{
		cfg:         cfg,
		registry:    deps.Registry,
		memory:      deps.Memory,
		telemetry:   deps.Telemetry,
		logger:      logger,
		pool:        pool,
		planner:     NewPlanner(deps.Registry, deps.Generator, pool, cfg, deps.Telemetry, nil),
		retry:       NewRetryController(executor, validator, cfg, deps.Telemetry, nil),
		synthesizer: NewSynthesizer(deps.Registry, deps.Generator, pool, deps.Telemetry, nil),
	}, nil
}

// Registry returns the responder table the pipeline routes over.
func (p *Pipeline) Registry() *Registry { return p.registry }

// Run executes the pipeline, calling emit for every event in stream order.
// The final event is always done; its result is also returned.
func (p *Pipeline) Run(ctx context.Context, req Request, emit func(Event)) PipelineResult {
	if emit == nil {
		emit = func(Event) {}
	}
	runID := uuid.NewString()
	start := time.Now()
	ctx, span := pipelineTracer.Start(ctx, "boardroom.pipeline")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID))

	userID := ""
	if req.User != nil {
		userID = req.User.UserID
	}
	contextText := FormatUserContext(req.User)
	memories := p.fetchMemories(ctx, userID, req.Message)
	pc := PromptContext{
		Profile:  contextText,
		Memories: FormatMemories(memories),
		History:  FormatHistory(req.History, p.cfg.HistoryTurns),
	}

	plan := p.plan(ctx, PlanRequest{
		Message:     req.Message,
		ContextText: pc.Profile,
		MemoryText:  pc.Memories,
		HistoryText: pc.History,
	})
	responders := plan.Responders()
	emit(planAnnouncementEvent(plan, responders))
	emit(routingEvent(p.registry, responders))
	for _, id := range responders {
		if r, ok := p.registry.Get(id); ok {
			emit(responderStartedEvent(r))
		}
	}

	outcomes, err := p.dispatch(ctx, plan, pc, contextText)
	if err != nil {
		p.logger.Printf("Pipeline %s failed: %v", runID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.recordRun(ctx, runID, userID, start, plan, false, err)
		result := PipelineResult{Responses: NewResponseSet(), RetryCounts: map[string]int{}}
		emit(errorEvent(err.Error()))
		emit(doneEvent(result))
		return result
	}

	m := mergeOutcomes(outcomes)
	for _, rec := range m.validations {
		emit(validationEvent(p.registry, rec))
	}
	for _, out := range m.responses.Outputs() {
		r, ok := p.registry.Get(out.ResponderID)
		if !ok {
			r = Responder{ID: out.ResponderID, Name: out.ResponderID}
		}
		emit(responderOutputEvent(r, out.Text))
	}

	final := ""
	if m.responses.Len() > 1 || plan.Strategy == StrategySynthesis {
		emit(synthesisStartedEvent())
		final = p.synthesize(ctx, req.Message, plan, contextText, m.responses)
		emit(synthesisEvent(final))
	} else if first, ok := m.responses.First(); ok {
		final = first.Text
	}

	result := PipelineResult{
		Responses:        m.responses,
		ValidationEvents: m.validations,
		RetryCounts:      m.retryCounts,
		Plan:             plan.Summary(),
		Synthesis:        final,
		MemoryCount:      len(memories),
	}
	p.persistMemory(ctx, userID, req.Message, final, m.responses.Keys())
	p.recordRun(ctx, runID, userID, start, plan, true, nil)
	emit(doneEvent(result))
	return result
}

// Stream runs the pipeline in a goroutine and returns its events. The channel
// is closed after done. Every event is delivered, also after ctx is cancelled,
// so callers must drain the channel.
func (p *Pipeline) Stream(ctx context.Context, req Request) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		p.Run(ctx, req, func(ev Event) { ch <- ev })
	}()
	return ch
}

// Wait blocks until detached memory writes finish or ctx is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) fetchMemories(ctx context.Context, userID, query string) []string {
	if p.memory == nil || userID == "" {
		return nil
	}
	memories, err := p.memory.Search(ctx, userID, query, p.cfg.MemoryLimit)
	if err != nil {
		p.logger.Printf("Memory search failed for user %s: %v", userID, err)
		return nil
	}
	return memories
}

func (p *Pipeline) plan(ctx context.Context, req PlanRequest) Plan {
	ctx, span := pipelineTracer.Start(ctx, "boardroom.plan")
	defer span.End()
	plan := p.planner.Plan(ctx, req)
	span.SetAttributes(
		attribute.String("intent", string(plan.Intent)),
		attribute.String("strategy", string(plan.Strategy)),
		attribute.Int("work_items", len(plan.WorkItems)),
		attribute.Bool("fallback", plan.Fallback),
	)
	return plan
}

// dispatch runs every work item concurrently and joins them. Any work item
// error, including a panic, is fatal for the run.
func (p *Pipeline) dispatch(ctx context.Context, plan Plan, pc PromptContext, contextText string) ([]WorkItemOutcome, error) {
	ctx, span := pipelineTracer.Start(ctx, "boardroom.dispatch")
	defer span.End()

	outcomes := make([]WorkItemOutcome, len(plan.WorkItems))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range plan.WorkItems {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("work item %s: panic: %v", item.ID, r)
				}
			}()
			oc, err := p.retry.Run(gctx, item, pc, contextText)
			if err != nil {
				return err
			}
			outcomes[i] = oc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	return outcomes, nil
}

// synthesize falls back to the first response when the call fails.
func (p *Pipeline) synthesize(ctx context.Context, message string, plan Plan, contextText string, responses *ResponseSet) string {
	ctx, span := pipelineTracer.Start(ctx, "boardroom.synthesize")
	defer span.End()
	text, err := p.synthesizer.Synthesize(ctx, message, plan, contextText, responses)
	if err == nil {
		return text
	}
	p.logger.Printf("Warning: synthesis failed, using first response: %v", err)
	span.RecordError(err)
	p.telemetry.RecordSynthesisFallback(ctx)
	first, _ := responses.First()
	return first.Text
}

// persistMemory stores a summary of the exchange in the background. The
// write outlives the request context and its failure is only logged.
func (p *Pipeline) persistMemory(ctx context.Context, userID, message, final string, responders []string) {
	if p.memory == nil || userID == "" {
		return
	}
	text := fmt.Sprintf("User asked: %s\nAgents: %s\nKey advice: %s",
		message, strings.Join(responders, ", "), truncate(final, p.cfg.MemorySummaryLimit))
	metadata := map[string]interface{}{"agents": responders}
	bg := context.WithoutCancel(ctx)

	p.background.Add(1)
	go func() {
		defer p.background.Done()
		wctx, cancel := context.WithTimeout(bg, p.cfg.MemoryWriteTimeout)
		defer cancel()
		if err := p.memory.Add(wctx, userID, text, metadata); err != nil {
			p.logger.Printf("Memory write failed for user %s: %v", userID, err)
		}
	}()
}

func (p *Pipeline) recordRun(ctx context.Context, runID, userID string, start time.Time, plan Plan, ok bool, err error) {
	ev := telemetry.RunEvent{
		ID:           runID,
		UserID:       userID,
		StartTime:    start,
		EndTime:      time.Now(),
		Success:      ok,
		Responders:   plan.Responders(),
		WorkItems:    len(plan.WorkItems),
		Synthesized:  ok && (len(plan.Responders()) > 1 || plan.Strategy == StrategySynthesis),
		FallbackPlan: plan.Fallback,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	p.telemetry.RecordRunEvent(ctx, ev)
}
