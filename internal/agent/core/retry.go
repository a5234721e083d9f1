package core

import (
	"context"
	"log"

	"github.com/mohammad-safakhou/boardroom/config"
	"github.com/mohammad-safakhou/boardroom/internal/agent/telemetry"
)

// WorkItemOutcome is the accepted state of every responder of one work item
type WorkItemOutcome struct {
	WorkItem    WorkItem
	Outputs     []ResponderOutput
	Validations []ValidationRecord
	RetryCounts map[string]int
}

// RetryController drives the validate → revise → retry loop of a work item.
//
// Per responder: Pending → Evaluated → Accepted, or Evaluated → NeedsRevision →
// Retrying → Evaluated, at most maxRetries times. The output of the last allowed
// attempt is accepted whatever its verdict.
type RetryController struct {
	executor   *Executor
	validator  *Validator
	maxRetries int
	keepBetter bool
	telemetry  *telemetry.Telemetry
	logger     *log.Logger
}

// NewRetryController creates a retry controller
func NewRetryController(exec *Executor, val *Validator, cfg config.PipelineConfig, tel *telemetry.Telemetry, logger *log.Logger) *RetryController {
	if logger == nil {
		logger = log.New(log.Writer(), "[VALIDATOR] ", log.LstdFlags)
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RetryController{
		executor:   exec,
		validator:  val,
		maxRetries: maxRetries,
		keepBetter: cfg.KeepBetterAttempt,
		telemetry:  tel,
		logger:     logger,
	}
}

type revision struct {
	responder string
	prompt    string
}

// Run executes item, validates each output and retries failing responders.
// Only executor errors are returned; validator errors fail open.
func (c *RetryController) Run(ctx context.Context, item WorkItem, pc PromptContext, contextText string) (WorkItemOutcome, error) {
	outcome := WorkItemOutcome{WorkItem: item, RetryCounts: make(map[string]int)}

	outputs, err := c.executor.Execute(ctx, item, pc)
	if err != nil {
		return outcome, err
	}

	final := make(map[string]string, len(outputs))
	best := make(map[string]ValidationResult, len(outputs))
	var pending []revision
	for _, out := range outputs {
		final[out.ResponderID] = out.Text
		vr := c.validate(ctx, item, out, 0, contextText, &outcome)
		best[out.ResponderID] = vr
		if !vr.Passed {
			pending = append(pending, revision{responder: out.ResponderID, prompt: revisedOr(vr, item.EnrichedPrompt)})
		}
	}

	for attempt := 1; attempt <= c.maxRetries && len(pending) > 0; attempt++ {
		var stillFailing []revision
		for _, rev := range pending {
			derived := item.Derive(attempt, rev.responder, rev.prompt)
			retried, err := c.executor.Execute(ctx, derived, pc)
			if err != nil {
				return outcome, err
			}
			out := ResponderOutput{ResponderID: rev.responder}
			if len(retried) > 0 {
				out.Text = retried[0].Text
			}
			outcome.RetryCounts[rev.responder] = attempt

			vr := c.validate(ctx, item, out, attempt, contextText, &outcome)
			if c.acceptRetry(best[rev.responder], vr) {
				final[rev.responder] = out.Text
				best[rev.responder] = vr
			}
			if !vr.Passed && attempt < c.maxRetries {
				stillFailing = append(stillFailing, revision{responder: rev.responder, prompt: revisedOr(vr, rev.prompt)})
			}
		}
		pending = stillFailing
	}

	for _, out := range outputs {
		outcome.Outputs = append(outcome.Outputs, ResponderOutput{ResponderID: out.ResponderID, Text: final[out.ResponderID]})
	}
	return outcome, nil
}

// acceptRetry is the single point deciding whether a retry replaces the
// current answer. By default the retry always wins.
func (c *RetryController) acceptRetry(current, retry ValidationResult) bool {
	if !c.keepBetter {
		return true
	}
	return retry.OverallScore >= current.OverallScore
}

// validate scores one attempt against the item's original prompt, failing open on error.
func (c *RetryController) validate(ctx context.Context, item WorkItem, out ResponderOutput, attempt int, contextText string, outcome *WorkItemOutcome) ValidationResult {
	failOpen := false
	vr, err := c.validator.Validate(ctx, item.EnrichedPrompt, out.Text, contextText)
	if err != nil {
		c.logger.Printf("Validator failed for %s on %s, defaulting to pass: %v", out.ResponderID, item.ID, err)
		vr = FailOpenResult()
		failOpen = true
	}
	c.telemetry.RecordValidationEvent(ctx, telemetry.ValidationEvent{
		ResponderID: out.ResponderID,
		Score:       vr.OverallScore,
		Passed:      vr.Passed,
		IsRetry:     attempt > 0,
		FailOpen:    failOpen,
	})
	outcome.Validations = append(outcome.Validations, ValidationRecord{
		ResponderID:     out.ResponderID,
		WorkItemID:      item.ID,
		Attempt:         attempt,
		IsRetry:         attempt > 0,
		Passed:          vr.Passed,
		Score:           vr.OverallScore,
		DimensionScores: vr.DimensionScores,
		Critique:        vr.Critique,
	})
	return vr
}

func revisedOr(vr ValidationResult, prompt string) string {
	if vr.RevisedPrompt != "" {
		return vr.RevisedPrompt
	}
	return prompt
}
