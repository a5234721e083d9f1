package core

import (
	"fmt"
	"strings"
)

// EventType tags one record of the caller-facing event stream
type EventType string

const (
	EventPlanAnnouncement EventType = "plan_announcement"
	EventRouting          EventType = "routing"
	EventResponderStarted EventType = "responder_started"
	EventValidation       EventType = "validation"
	EventResponderOutput  EventType = "responder_output"
	EventSynthesisStarted EventType = "synthesis_started"
	EventSynthesis        EventType = "synthesis"
	EventError            EventType = "error"
	EventDone             EventType = "done"
)

// Event is one record of the pipeline stream. Content is always a display string;
// the remaining fields are set per type.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content"`

	Responder      string `json:"agent,omitempty"`
	ResponderName  string `json:"agent_name,omitempty"`
	ResponderEmoji string `json:"agent_emoji,omitempty"`
	ResponderColor string `json:"agent_color,omitempty"`

	Plan       *PlanSummary      `json:"plan,omitempty"`
	Responders []string          `json:"agents,omitempty"`
	Validation *ValidationRecord `json:"validation,omitempty"`

	Result      *PipelineResult `json:"result,omitempty"`
	MemoryCount *int            `json:"memory_count,omitempty"`
}

var intentIcons = map[Intent]string{
	IntentDecision:   "⚖️",
	IntentAnalysis:   "📊",
	IntentPlanning:   "🗺️",
	IntentBrainstorm: "💡",
	IntentCheckIn:    "📋",
}

var complexityLabels = map[Complexity]string{
	ComplexitySimple:   "Direct query",
	ComplexityCompound: "Compound query",
	ComplexityComplex:  "Complex query",
}

// planHeadline renders e.g. "📊 Analysis · Compound query · 2 sub-queries".
func planHeadline(plan Plan) string {
	icon, ok := intentIcons[plan.Intent]
	if !ok {
		icon = "🎯"
	}
	label, ok := complexityLabels[plan.Complexity]
	if !ok {
		label = string(plan.Complexity)
	}
	intent := string(plan.Intent)
	if intent != "" {
		intent = strings.ToUpper(intent[:1]) + intent[1:]
	}
	line := fmt.Sprintf("%s %s · %s", icon, intent, label)
	if n := len(plan.WorkItems); n > 1 {
		line += fmt.Sprintf(" · %d sub-queries", n)
	}
	return line
}

func planAnnouncementEvent(plan Plan, responders []string) Event {
	summary := plan.Summary()
	return Event{
		Type:       EventPlanAnnouncement,
		Content:    planHeadline(plan),
		Plan:       &summary,
		Responders: responders,
	}
}

func routingEvent(reg *Registry, responders []string) Event {
	names := make([]string, 0, len(responders))
	for _, id := range responders {
		if r, ok := reg.Get(id); ok {
			names = append(names, r.Label())
		}
	}
	return Event{
		Type:       EventRouting,
		Content:    "Routing to: " + strings.Join(names, ", "),
		Responders: responders,
	}
}

func responderEvent(t EventType, r Responder, content string) Event {
	return Event{
		Type:           t,
		Content:        content,
		Responder:      r.ID,
		ResponderName:  r.Name,
		ResponderEmoji: r.Emoji,
		ResponderColor: r.Color,
	}
}

func responderStartedEvent(r Responder) Event {
	return responderEvent(EventResponderStarted, r, r.Name+" is analysing your request...")
}

func responderOutputEvent(r Responder, text string) Event {
	return responderEvent(EventResponderOutput, r, text)
}

func validationEvent(reg *Registry, rec ValidationRecord) Event {
	name := rec.ResponderID
	r, ok := reg.Get(rec.ResponderID)
	if ok {
		name = r.Name
	}
	var content string
	switch {
	case rec.IsRetry && rec.Passed:
		content = fmt.Sprintf("✅ Retry: %s scored %.1f/10", name, rec.Score)
	case rec.IsRetry:
		content = fmt.Sprintf("⚠️ Retry: %s scored %.1f/10", name, rec.Score)
	case rec.Passed:
		content = fmt.Sprintf("✅ Quality check: %s passed (%.1f/10)", name, rec.Score)
	default:
		content = fmt.Sprintf("🔍 Quality check: %s scored %.1f/10, refining...", name, rec.Score)
	}
	ev := Event{Type: EventValidation, Content: content, Responder: rec.ResponderID, Validation: &rec}
	if ok {
		ev.ResponderName, ev.ResponderEmoji, ev.ResponderColor = r.Name, r.Emoji, r.Color
	}
	return ev
}

func synthesisStartedEvent() Event {
	return Event{Type: EventSynthesisStarted, Content: "Boardroom synthesising perspectives..."}
}

func synthesisEvent(text string) Event {
	return Event{Type: EventSynthesis, Content: text}
}

func errorEvent(msg string) Event {
	return Event{Type: EventError, Content: msg}
}

func doneEvent(result PipelineResult) Event {
	count := result.MemoryCount
	return Event{Type: EventDone, Result: &result, MemoryCount: &count}
}
