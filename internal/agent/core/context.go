package core

import (
	"fmt"
	"strings"
)

const (
	noUserContext  = "No user context available."
	noHistory      = "No previous conversation."
	noMemories     = "No relevant memories yet."
	defaultHistory = 6
)

// UserContext is the profile of the person asking. Every field is optional.
type UserContext struct {
	UserID     string `json:"user_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Role       string `json:"role,omitempty"`
	Company    string `json:"company_name,omitempty"`
	Stage      string `json:"company_stage,omitempty"`
	Industry   string `json:"industry,omitempty"`
	TeamSize   string `json:"team_size,omitempty"`
	Challenges string `json:"current_challenges,omitempty"`
	Goals      string `json:"goals,omitempty"`
}

// Turn is one message of the running conversation
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PromptContext carries the pre-rendered text blocks shared by every call of a run.
type PromptContext struct {
	Profile  string
	Memories string
	History  string
}

// FormatUserContext renders the profile as "Label: value" lines.
func FormatUserContext(u *UserContext) string {
	if u == nil {
		return noUserContext
	}
	fields := []struct{ label, value string }{
		{"Name", u.Name},
		{"Role", u.Role},
		{"Company", u.Company},
		{"Stage", u.Stage},
		{"Industry", u.Industry},
		{"Team size", u.TeamSize},
		{"Challenges", u.Challenges},
		{"90-day goal", u.Goals},
	}
	var lines []string
	for _, f := range fields {
		if v := strings.TrimSpace(f.value); v != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", f.label, v))
		}
	}
	if len(lines) == 0 {
		return noUserContext
	}
	return strings.Join(lines, "\n")
}

// FormatHistory renders the last maxTurns turns as "ROLE: content" lines.
func FormatHistory(history []Turn, maxTurns int) string {
	if len(history) == 0 {
		return noHistory
	}
	if maxTurns <= 0 {
		maxTurns = defaultHistory
	}
	if len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	lines := make([]string, 0, len(history))
	for _, t := range history {
		role := strings.TrimSpace(t.Role)
		if role == "" {
			role = "user"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToUpper(role), t.Content))
	}
	return strings.Join(lines, "\n")
}

// FormatMemories renders memories as a bullet list.
func FormatMemories(memories []string) string {
	var lines []string
	for _, m := range memories {
		if m = strings.TrimSpace(m); m != "" {
			lines = append(lines, "- "+m)
		}
	}
	if len(lines) == 0 {
		return noMemories
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
