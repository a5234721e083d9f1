package core

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/boardroom/internal/agent/telemetry"
)

// Synthesizer merges accepted responder outputs into one briefing
type Synthesizer struct {
	registry  *Registry
	generator TextGenerator
	pool      *Pool
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewSynthesizer creates a synthesizer
func NewSynthesizer(reg *Registry, gen TextGenerator, pool *Pool, tel *telemetry.Telemetry, logger *log.Logger) *Synthesizer {
	if logger == nil {
		logger = log.New(log.Writer(), "[SYNTHESIZER] ", log.LstdFlags)
	}
	return &Synthesizer{registry: reg, generator: gen, pool: pool, telemetry: tel, logger: logger}
}

// Synthesize returns the single output unchanged, or issues one generation
// call weaving every output into the four-part executive briefing.
func (s *Synthesizer) Synthesize(ctx context.Context, message string, plan Plan, contextText string, responses *ResponseSet) (string, error) {
	switch responses.Len() {
	case 0:
		return "", nil
	case 1:
		first, _ := responses.First()
		return first.Text, nil
	}
	if s.generator == nil {
		return "", fmt.Errorf("synthesize: no text generator configured")
	}

	start := time.Now()
	text, err := s.pool.Generate(ctx, s.generator, GenerateRequest{
		Purpose:        PurposeSynthesis,
		Role:           synthesizerRole,
		Goal:           synthesizerGoal,
		Backstory:      synthesizerBackstory,
		Prompt:         buildSynthesisPrompt(s.registry, message, plan, contextText, responses),
		ExpectedOutput: synthesizerExpected,
	})
	s.telemetry.RecordLLMEvent(ctx, telemetry.LLMEvent{Purpose: string(PurposeSynthesis), Duration: time.Since(start), Success: err == nil})
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	s.logger.Printf("Synthesised %d perspectives in %v", responses.Len(), time.Since(start))
	return text, nil
}
