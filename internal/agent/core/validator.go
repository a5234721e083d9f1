package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/boardroom/config"
	"github.com/mohammad-safakhou/boardroom/internal/agent/telemetry"
)

const (
	failOpenScore     = 7.0
	failOpenReasoning = "Validation skipped (validator unavailable)"
	// score assumed when the validator omits both the overall score and every dimension
	missingScore = 5.0
)

// FailOpenResult is the passing verdict used when the validator cannot run.
func FailOpenResult() ValidationResult {
	return ValidationResult{
		Passed:          true,
		OverallScore:    failOpenScore,
		DimensionScores: map[Dimension]float64{},
		Reasoning:       failOpenReasoning,
	}
}

// Validator scores responder outputs on the fixed quality dimensions
type Validator struct {
	generator  TextGenerator
	pool       *Pool
	threshold  float64
	inputLimit int
	telemetry  *telemetry.Telemetry
	logger     *log.Logger
}

// NewValidator creates a validator
func NewValidator(gen TextGenerator, pool *Pool, cfg config.PipelineConfig, tel *telemetry.Telemetry, logger *log.Logger) *Validator {
	cfg = cfg.Normalize()
	if logger == nil {
		logger = log.New(log.Writer(), "[VALIDATOR] ", log.LstdFlags)
	}
	if pool == nil {
		pool = NewPool(cfg.PoolSize)
	}
	return &Validator{
		generator:  gen,
		pool:       pool,
		threshold:  cfg.PassThreshold,
		inputLimit: cfg.ValidatorInputLimit,
		telemetry:  tel,
		logger:     logger,
	}
}

// Threshold returns the pass score.
func (v *Validator) Threshold() float64 { return v.threshold }

// Validate scores output against the query it answered. Callers decide the
// fallback on error; see FailOpenResult.
func (v *Validator) Validate(ctx context.Context, query, output, contextText string) (ValidationResult, error) {
	if v.generator == nil {
		return ValidationResult{}, fmt.Errorf("validate: no text generator configured")
	}
	start := time.Now()
	raw, err := v.pool.Generate(ctx, v.generator, GenerateRequest{
		Purpose:        PurposeValidation,
		Role:           validatorRole,
		Goal:           validatorGoal,
		Prompt:         buildValidatorPrompt(v.threshold, query, truncate(output, v.inputLimit), contextText),
		ExpectedOutput: "A JSON quality verdict",
		JSON:           true,
		Temperature:    floatPtr(0.05),
		MaxTokens:      512,
	})
	v.telemetry.RecordLLMEvent(ctx, telemetry.LLMEvent{Purpose: string(PurposeValidation), Duration: time.Since(start), Success: err == nil})
	if err != nil {
		return ValidationResult{}, fmt.Errorf("validate: %w", err)
	}
	res, err := v.parse(raw)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("validate: %w", err)
	}
	return ensureRevision(res, query), nil
}

type rawVerdict struct {
	Scores       map[string]json.Number `json:"scores"`
	OverallScore *json.Number           `json:"overall_score"`
	Passed       *bool                  `json:"passed"`
	Critique     string                 `json:"critique"`
	RevisedQuery string                 `json:"revised_query"`
	Reasoning    string                 `json:"reasoning"`
}

func (v *Validator) parse(raw string) (ValidationResult, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return ValidationResult{}, err
	}
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var data rawVerdict
	if err := dec.Decode(&data); err != nil {
		return ValidationResult{}, fmt.Errorf("decode verdict: %w", err)
	}

	res := ValidationResult{
		DimensionScores: make(map[Dimension]float64, len(Dimensions)),
		Critique:        strings.TrimSpace(data.Critique),
		RevisedPrompt:   strings.TrimSpace(data.RevisedQuery),
		Reasoning:       strings.TrimSpace(data.Reasoning),
	}
	for key, num := range data.Scores {
		dim, err := ParseDimension(key)
		if err != nil {
			continue
		}
		f, err := num.Float64()
		if err != nil {
			continue
		}
		res.DimensionScores[dim] = clampScore(f)
	}

	switch {
	case data.OverallScore != nil:
		f, err := data.OverallScore.Float64()
		if err != nil {
			return ValidationResult{}, fmt.Errorf("overall_score: %w", err)
		}
		res.OverallScore = clampScore(f)
	case len(res.DimensionScores) > 0:
		var sum float64
		for _, s := range res.DimensionScores {
			sum += s
		}
		res.OverallScore = sum / float64(len(res.DimensionScores))
	default:
		res.OverallScore = missingScore
	}

	// an explicit verdict from the model wins over the threshold
	if data.Passed != nil {
		res.Passed = *data.Passed
	} else {
		res.Passed = res.OverallScore >= v.threshold
	}
	return res, nil
}

// ensureRevision guarantees a failing result carries a revised prompt that
// contains both the original query and the critique. Passing results carry none.
func ensureRevision(res ValidationResult, query string) ValidationResult {
	if res.Passed {
		res.RevisedPrompt = ""
		return res
	}
	critique := res.Critique
	if critique == "" {
		critique = res.Reasoning
	}
	if critique == "" {
		critique = "The previous answer did not meet the quality bar. Be more specific, use the user's context and give clear next steps."
		res.Critique = critique
	}
	revised := res.RevisedPrompt
	if revised != "" && strings.Contains(revised, query) && strings.Contains(revised, critique) {
		return res
	}
	res.RevisedPrompt = fmt.Sprintf(revisionTemplate, query, critique)
	if revised != "" && !strings.Contains(res.RevisedPrompt, revised) {
		res.RevisedPrompt += "\n\nADDITIONAL INSTRUCTIONS:\n" + revised
	}
	return res
}

func clampScore(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 10:
		return 10
	}
	return f
}
