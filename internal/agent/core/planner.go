package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/boardroom/config"
	"github.com/mohammad-safakhou/boardroom/internal/agent/telemetry"
)

const (
	fallbackWorkItemID = "sq1"
	fallbackFocus      = "General analysis"
	fallbackReasoning  = "Keyword-based routing (planner unavailable)"
)

var errNoJSONObject = errors.New("no JSON object in planner output")

// PlanRequest carries the request text and the pre-rendered context blocks
type PlanRequest struct {
	Message     string
	ContextText string
	MemoryText  string
	HistoryText string
}

// Planner classifies a request and decomposes it into routed work items
type Planner struct {
	registry         *Registry
	generator        TextGenerator
	pool             *Pool
	defaultResponder string
	maxMatches       int
	telemetry        *telemetry.Telemetry
	logger           *log.Logger
}

// NewPlanner creates a new planner instance
func NewPlanner(reg *Registry, gen TextGenerator, pool *Pool, cfg config.PipelineConfig, tel *telemetry.Telemetry, logger *log.Logger) *Planner {
	cfg = cfg.Normalize()
	if logger == nil {
		logger = log.New(log.Writer(), "[PLANNER] ", log.LstdFlags)
	}
	if pool == nil {
		pool = NewPool(cfg.PoolSize)
	}
	def, ok := reg.Resolve(cfg.DefaultResponder)
	if !ok {
		def = reg.IDs()[0]
		logger.Printf("Warning: default responder %q not in registry, using %s", cfg.DefaultResponder, def)
	}
	return &Planner{
		registry:         reg,
		generator:        gen,
		pool:             pool,
		defaultResponder: def,
		maxMatches:       cfg.MaxKeywordMatches,
		telemetry:        tel,
		logger:           logger,
	}
}

// DefaultResponder returns the canonical id used when routing finds nobody.
func (p *Planner) DefaultResponder() string { return p.defaultResponder }

// Plan produces a routing plan. It never fails: generator or parse errors
// yield the keyword fallback plan.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) Plan {
	if p.generator == nil {
		return p.fallbackPlan(req.Message)
	}
	start := time.Now()
	raw, err := p.pool.Generate(ctx, p.generator, GenerateRequest{
		Purpose:        PurposePlanning,
		Role:           plannerRole,
		Goal:           plannerGoal,
		Prompt:         buildPlannerPrompt(p.registry, p.defaultResponder, req),
		ExpectedOutput: "A JSON routing plan",
		JSON:           true,
		Temperature:    floatPtr(0.1),
		MaxTokens:      1024,
	})
	p.telemetry.RecordLLMEvent(ctx, telemetry.LLMEvent{Purpose: string(PurposePlanning), Duration: time.Since(start), Success: err == nil})
	if err != nil {
		p.logger.Printf("Planner call failed, using keyword fallback: %v", err)
		return p.fallbackPlan(req.Message)
	}
	plan, err := p.parsePlan(raw, req.Message)
	if err != nil {
		p.logger.Printf("Planner output unusable, using keyword fallback: %v", err)
		return p.fallbackPlan(req.Message)
	}
	p.logger.Printf("Planning completed in %v: intent=%s complexity=%s strategy=%s items=%d",
		time.Since(start), plan.Intent, plan.Complexity, plan.Strategy, len(plan.WorkItems))
	return plan
}

// fallbackPlan routes by explicit @mentions, then trigger keywords, then the default responder.
func (p *Planner) fallbackPlan(message string) Plan {
	selected := p.registry.Mentions(message)
	if len(selected) > p.maxMatches {
		selected = selected[:p.maxMatches]
	}
	if len(selected) == 0 {
		selected = p.registry.MatchKeywords(message, p.maxMatches)
	}
	if len(selected) == 0 {
		selected = []string{p.defaultResponder}
	}
	strategy := StrategyMultiPerspective
	if len(selected) == 1 {
		strategy = StrategyDirect
	}
	return Plan{
		Intent:     IntentAnalysis,
		Complexity: ComplexitySimple,
		Strategy:   strategy,
		Reasoning:  fallbackReasoning,
		WorkItems:  []WorkItem{fallbackWorkItem(message, selected)},
		Fallback:   true,
	}
}

func fallbackWorkItem(message string, responders []string) WorkItem {
	return WorkItem{
		ID:             fallbackWorkItemID,
		OriginalIntent: message,
		EnrichedPrompt: message,
		Responders:     responders,
		Focus:          fallbackFocus,
	}
}

type rawPlan struct {
	Intent     string        `json:"intent"`
	Complexity string        `json:"complexity"`
	Reasoning  string        `json:"reasoning"`
	Strategy   string        `json:"response_strategy"`
	SubQueries []rawWorkItem `json:"sub_queries"`
}

type rawWorkItem struct {
	ID             string   `json:"id"`
	OriginalIntent string   `json:"original_intent"`
	RewrittenQuery string   `json:"rewritten_query"`
	Focus          string   `json:"focus"`
	Agents         []string `json:"agents"`
}

// parsePlan decodes the planner output and normalises it onto the closed plan model.
func (p *Planner) parsePlan(raw, message string) (Plan, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return Plan{}, err
	}
	var data rawPlan
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return Plan{}, fmt.Errorf("decode plan: %w", err)
	}

	plan := Plan{Reasoning: strings.TrimSpace(data.Reasoning)}
	if plan.Intent, err = ParseIntent(data.Intent); err != nil {
		p.logger.Printf("Warning: %v, defaulting to %s", err, IntentAnalysis)
		plan.Intent = IntentAnalysis
	}
	if plan.Complexity, err = ParseComplexity(data.Complexity); err != nil {
		p.logger.Printf("Warning: %v, defaulting to %s", err, ComplexitySimple)
		plan.Complexity = ComplexitySimple
	}
	if plan.Strategy, err = ParseStrategy(data.Strategy); err != nil {
		p.logger.Printf("Warning: %v, defaulting to %s", err, StrategyDirect)
		plan.Strategy = StrategyDirect
	}

	used := make(map[string]bool)
	for i, sq := range data.SubQueries {
		item := WorkItem{
			ID:             strings.TrimSpace(sq.ID),
			OriginalIntent: strings.TrimSpace(sq.OriginalIntent),
			EnrichedPrompt: strings.TrimSpace(sq.RewrittenQuery),
			Focus:          strings.TrimSpace(sq.Focus),
			Responders:     p.resolveResponders(sq.Agents),
		}
		if item.ID == "" {
			item.ID = fmt.Sprintf("sq%d", i+1)
		}
		base := item.ID
		for n := 2; used[item.ID]; n++ {
			item.ID = fmt.Sprintf("%s_%d", base, n)
		}
		used[item.ID] = true
		if item.OriginalIntent == "" {
			item.OriginalIntent = message
		}
		if item.EnrichedPrompt == "" {
			item.EnrichedPrompt = message
		}
		plan.WorkItems = append(plan.WorkItems, item)
	}
	if len(plan.WorkItems) == 0 {
		plan.WorkItems = []WorkItem{fallbackWorkItem(message, []string{p.defaultResponder})}
	}
	return plan, nil
}

// resolveResponders keeps known ids in canonical form, drops unknown ones
// and duplicates, and falls back to the default responder.
func (p *Planner) resolveResponders(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	var out []string
	for _, id := range raw {
		canonical, ok := p.registry.Resolve(id)
		if !ok {
			if strings.TrimSpace(id) != "" {
				p.logger.Printf("Dropping unknown responder %q from plan", id)
			}
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, canonical)
	}
	if len(out) == 0 {
		return []string{p.defaultResponder}
	}
	return out
}

// extractJSON strips markdown fences and returns the first balanced JSON object.
func extractJSON(raw string) (string, error) {
	s := stripFences(raw)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", errNoJSONObject
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errNoJSONObject
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.Contains(s[:nl], "{") {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
