package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Intent classifies what the user is trying to achieve
type Intent string

const (
	IntentDecision   Intent = "decision"
	IntentAnalysis   Intent = "analysis"
	IntentPlanning   Intent = "planning"
	IntentBrainstorm Intent = "brainstorm"
	IntentCheckIn    Intent = "check-in"
)

// ParseIntent maps a raw planner value onto the closed Intent set.
func ParseIntent(raw string) (Intent, error) {
	switch Intent(strings.ToLower(strings.TrimSpace(raw))) {
	case IntentDecision:
		return IntentDecision, nil
	case IntentAnalysis:
		return IntentAnalysis, nil
	case IntentPlanning:
		return IntentPlanning, nil
	case IntentBrainstorm:
		return IntentBrainstorm, nil
	case IntentCheckIn, "checkin", "check_in":
		return IntentCheckIn, nil
	}
	return "", fmt.Errorf("unknown intent %q", raw)
}

// Complexity describes how many independent concerns a request carries
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityCompound Complexity = "compound"
	ComplexityComplex  Complexity = "complex"
)

// ParseComplexity maps a raw planner value onto the closed Complexity set.
func ParseComplexity(raw string) (Complexity, error) {
	switch Complexity(strings.ToLower(strings.TrimSpace(raw))) {
	case ComplexitySimple:
		return ComplexitySimple, nil
	case ComplexityCompound:
		return ComplexityCompound, nil
	case ComplexityComplex:
		return ComplexityComplex, nil
	}
	return "", fmt.Errorf("unknown complexity %q", raw)
}

// Strategy determines how responder outputs are presented
type Strategy string

const (
	StrategyDirect           Strategy = "direct"
	StrategyMultiPerspective Strategy = "multi-perspective"
	StrategySynthesis        Strategy = "synthesis"
)

// ParseStrategy maps a raw planner value onto the closed Strategy set.
func ParseStrategy(raw string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(raw))) {
	case StrategyDirect:
		return StrategyDirect, nil
	case StrategyMultiPerspective, "multi_perspective", "multiperspective":
		return StrategyMultiPerspective, nil
	case StrategySynthesis:
		return StrategySynthesis, nil
	}
	return "", fmt.Errorf("unknown response strategy %q", raw)
}

// Dimension is one fixed validation axis
type Dimension string

const (
	DimensionRelevance     Dimension = "relevance"
	DimensionSpecificity   Dimension = "specificity"
	DimensionContextUse    Dimension = "context_use"
	DimensionActionability Dimension = "actionability"
)

// Dimensions lists the scoring axes in presentation order.
var Dimensions = []Dimension{DimensionRelevance, DimensionSpecificity, DimensionContextUse, DimensionActionability}

// ParseDimension maps a raw validator key onto the closed Dimension set.
func ParseDimension(raw string) (Dimension, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, " ", "_")
	switch Dimension(key) {
	case DimensionRelevance:
		return DimensionRelevance, nil
	case DimensionSpecificity:
		return DimensionSpecificity, nil
	case DimensionContextUse, "contextuse", "context":
		return DimensionContextUse, nil
	case DimensionActionability:
		return DimensionActionability, nil
	}
	return "", fmt.Errorf("unknown validation dimension %q", raw)
}

// WorkItem is one atomic, independently schedulable sub-question
type WorkItem struct {
	ID             string   `json:"id"`
	OriginalIntent string   `json:"original_intent"`
	EnrichedPrompt string   `json:"enriched_prompt"`
	Responders     []string `json:"responders"`
	Focus          string   `json:"focus"`
}

// Derive builds the retry work item for a single responder. The receiver is not modified.
func (w WorkItem) Derive(attempt int, responder, prompt string) WorkItem {
	if strings.TrimSpace(prompt) == "" {
		prompt = w.EnrichedPrompt
	}
	return WorkItem{
		ID:             fmt.Sprintf("%s_retry%d", w.ID, attempt),
		OriginalIntent: w.OriginalIntent,
		EnrichedPrompt: prompt,
		Responders:     []string{responder},
		Focus:          w.Focus,
	}
}

// Plan is the planner's decomposition of one request
type Plan struct {
	Intent     Intent     `json:"intent"`
	Complexity Complexity `json:"complexity"`
	Strategy   Strategy   `json:"response_strategy"`
	Reasoning  string     `json:"reasoning"`
	WorkItems  []WorkItem `json:"work_items"`
	Fallback   bool       `json:"fallback,omitempty"`
}

// Responders returns the union of responders across work items in first-seen order.
func (p Plan) Responders() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, item := range p.WorkItems {
		for _, id := range item.Responders {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Summary returns the caller-facing view of the plan.
func (p Plan) Summary() PlanSummary {
	s := PlanSummary{
		Intent:     p.Intent,
		Complexity: p.Complexity,
		Strategy:   p.Strategy,
		Reasoning:  p.Reasoning,
	}
	for _, item := range p.WorkItems {
		s.WorkItems = append(s.WorkItems, WorkItemSummary{
			ID:         item.ID,
			Focus:      item.Focus,
			Responders: append([]string(nil), item.Responders...),
		})
	}
	return s
}

// PlanSummary is the plan as exposed in events and the final result
type PlanSummary struct {
	Intent     Intent            `json:"intent,omitempty"`
	Complexity Complexity        `json:"complexity,omitempty"`
	Strategy   Strategy          `json:"response_strategy,omitempty"`
	Reasoning  string            `json:"reasoning,omitempty"`
	WorkItems  []WorkItemSummary `json:"sub_queries,omitempty"`
}

// WorkItemSummary is the routing view of one work item
type WorkItemSummary struct {
	ID         string   `json:"id"`
	Focus      string   `json:"focus"`
	Responders []string `json:"agents"`
}

// ResponderOutput is one responder's text for one work item
type ResponderOutput struct {
	ResponderID string `json:"responder_id"`
	Text        string `json:"text"`
}

// ValidationResult is the validator's verdict on one responder output
type ValidationResult struct {
	Passed          bool                  `json:"passed"`
	OverallScore    float64               `json:"overall_score"`
	DimensionScores map[Dimension]float64 `json:"dimension_scores,omitempty"`
	Critique        string                `json:"critique"`
	RevisedPrompt   string                `json:"revised_prompt,omitempty"`
	Reasoning       string                `json:"reasoning,omitempty"`
}

// ValidationRecord is one validation attempt as reported to the caller
type ValidationRecord struct {
	ResponderID     string                `json:"agent"`
	WorkItemID      string                `json:"work_item_id"`
	Attempt         int                   `json:"attempt"`
	IsRetry         bool                  `json:"is_retry"`
	Passed          bool                  `json:"passed"`
	Score           float64               `json:"score"`
	DimensionScores map[Dimension]float64 `json:"scores,omitempty"`
	Critique        string                `json:"critique,omitempty"`
}

// PipelineResult is the final aggregate of one pipeline run
type PipelineResult struct {
	Responses        *ResponseSet       `json:"agent_responses"`
	ValidationEvents []ValidationRecord `json:"validation_events"`
	RetryCounts      map[string]int     `json:"retry_counts"`
	Plan             PlanSummary        `json:"plan"`
	Synthesis        string             `json:"synthesis"`
	MemoryCount      int                `json:"memory_count"`
}

// Empty reports whether the run produced neither responses nor a synthesis.
func (r PipelineResult) Empty() bool {
	return r.Synthesis == "" && (r.Responses == nil || r.Responses.Len() == 0)
}

// ResponseSeparator joins the texts of a responder addressed by several work items.
const ResponseSeparator = "\n\n---\n\n"

// ResponseSet is an insertion-ordered responder → text map
type ResponseSet struct {
	order []string
	text  map[string]string
}

// NewResponseSet returns an empty set.
func NewResponseSet() *ResponseSet {
	return &ResponseSet{text: make(map[string]string)}
}

// Append adds text for a responder, joining with ResponseSeparator when already present.
func (s *ResponseSet) Append(responder, text string) {
	if prev, ok := s.text[responder]; ok {
		s.text[responder] = prev + ResponseSeparator + text
		return
	}
	s.order = append(s.order, responder)
	s.text[responder] = text
}

// Set replaces the text for a responder, keeping its position.
func (s *ResponseSet) Set(responder, text string) {
	if _, ok := s.text[responder]; !ok {
		s.order = append(s.order, responder)
	}
	s.text[responder] = text
}

func (s *ResponseSet) Get(responder string) (string, bool) {
	if s == nil {
		return "", false
	}
	t, ok := s.text[responder]
	return t, ok
}

func (s *ResponseSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Keys returns responder ids in insertion order.
func (s *ResponseSet) Keys() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

// First returns the earliest inserted response.
func (s *ResponseSet) First() (ResponderOutput, bool) {
	if s.Len() == 0 {
		return ResponderOutput{}, false
	}
	id := s.order[0]
	return ResponderOutput{ResponderID: id, Text: s.text[id]}, true
}

// Outputs returns the set as an ordered slice.
func (s *ResponseSet) Outputs() []ResponderOutput {
	out := make([]ResponderOutput, 0, s.Len())
	for _, id := range s.Keys() {
		out = append(out, ResponderOutput{ResponderID: id, Text: s.text[id]})
	}
	return out
}

// MarshalJSON encodes the set as a JSON object preserving insertion order.
func (s *ResponseSet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, id := range s.order {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(s.text[id])
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// UnmarshalJSON decodes an object, keeping the document's key order.
func (s *ResponseSet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("responses: expected object")
	}
	s.order = nil
	s.text = make(map[string]string)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var val string
		if err := dec.Decode(&val); err != nil {
			return err
		}
		s.Set(key, val)
	}
	_, err = dec.Token()
	return err
}

// Purpose identifies the call site of a text generation request
type Purpose string

const (
	PurposePlanning   Purpose = "planning"
	PurposeResponding Purpose = "responding"
	PurposeValidation Purpose = "validation"
	PurposeSynthesis  Purpose = "synthesis"
)

// GenerateRequest is one synchronous text generation call
type GenerateRequest struct {
	Purpose        Purpose
	Role           string
	Goal           string
	Backstory      string
	Prompt         string
	ExpectedOutput string
	// JSON asks the provider for a strict JSON object when it supports one.
	JSON        bool
	Temperature *float64
	MaxTokens   int
}

// TextGenerator is the external LLM capability shared by every call site
type TextGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// MemoryService is the external long-term memory store
type MemoryService interface {
	Search(ctx context.Context, userID, query string, limit int) ([]string, error)
	Add(ctx context.Context, userID, text string, metadata map[string]interface{}) error
	Count(ctx context.Context, userID string) (int, error)
}

func floatPtr(v float64) *float64 { return &v }
