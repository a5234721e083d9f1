package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/boardroom/config"
)

var errStubTransport = errors.New("stub transport failure")

// scriptedGenerator answers each call site with its own function.
type scriptedGenerator struct {
	registry *Registry

	plan      func(req GenerateRequest) (string, error)
	respond   func(responder string, req GenerateRequest) (string, error)
	validate  func(output string, req GenerateRequest) (string, error)
	synthesis func(req GenerateRequest) (string, error)

	mu    sync.Mutex
	calls []GenerateRequest
}

func (g *scriptedGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	g.mu.Unlock()

	switch req.Purpose {
	case PurposePlanning:
		if g.plan == nil {
			return "", errStubTransport
		}
		return g.plan(req)
	case PurposeResponding:
		id := g.responderFor(req)
		if g.respond == nil {
			return fmt.Sprintf("%s answer", id), nil
		}
		return g.respond(id, req)
	case PurposeValidation:
		if g.validate == nil {
			return passVerdict(8), nil
		}
		return g.validate(evaluatedOutput(req.Prompt), req)
	case PurposeSynthesis:
		if g.synthesis == nil {
			return "unified briefing", nil
		}
		return g.synthesis(req)
	}
	return "", fmt.Errorf("unexpected purpose %q", req.Purpose)
}

func (g *scriptedGenerator) responderFor(req GenerateRequest) string {
	for _, r := range g.registry.All() {
		if r.Role == req.Role {
			return r.ID
		}
	}
	return ""
}

func (g *scriptedGenerator) count(p Purpose) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c.Purpose == p {
			n++
		}
	}
	return n
}

// evaluatedOutput pulls the responder text back out of a validator prompt.
func evaluatedOutput(prompt string) string {
	const marker = "AGENT RESPONSE TO EVALUATE:\n"
	i := strings.Index(prompt, marker)
	if i < 0 {
		return ""
	}
	rest := prompt[i+len(marker):]
	if j := strings.Index(rest, "\n\nEvaluate this response strictly."); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

func passVerdict(score float64) string {
	return fmt.Sprintf(`{"scores":{"relevance":%[1]v,"specificity":%[1]v,"context_use":%[1]v,"actionability":%[1]v},"overall_score":%[1]v,"passed":true,"critique":"","revised_query":"","reasoning":"solid"}`, score)
}

func failVerdict(score float64, critique string) string {
	return fmt.Sprintf(`{"scores":{"relevance":%[1]v,"specificity":%[1]v,"context_use":%[1]v,"actionability":%[1]v},"overall_score":%[1]v,"passed":false,"critique":%[2]q,"revised_query":"","reasoning":"too generic"}`, score, critique)
}

type memoryStub struct {
	mu        sync.Mutex
	memories  []string
	searchErr error
	addErr    error
	searches  []string
	added     []string
	metadata  []map[string]interface{}
}

func (m *memoryStub) Search(ctx context.Context, userID, query string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches = append(m.searches, userID)
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.memories, nil
}

func (m *memoryStub) Add(ctx context.Context, userID, text string, metadata map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, text)
	m.metadata = append(m.metadata, metadata)
	return m.addErr
}

func (m *memoryStub) Count(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.added), nil
}

func testPipelineConfig() config.PipelineConfig {
	cfg := config.DefaultPipelineConfig()
	cfg.PoolSize = 4
	return cfg
}
