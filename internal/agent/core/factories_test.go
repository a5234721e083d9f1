package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/boardroom/config"
	openai "github.com/sashabaranov/go-openai"
)

type fakeCompleter struct {
	failures int
	content  string
	requests []openai.ChatCompletionRequest
}

func (f *fakeCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.requests = append(f.requests, req)
	if len(f.requests) <= f.failures {
		return openai.ChatCompletionResponse{}, errors.New("503 upstream")
	}
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.content}}}}, nil
}

func testLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		Providers: map[string]config.LLMProvider{
			"openai": {
				Type:       "openai",
				APIKey:     "sk-test",
				MaxRetries: 2,
				JSONMode:   true,
				Models: map[string]config.LLMModel{
					"fast":  {Name: "gpt-4o-mini", Temperature: 0.7, MaxTokens: 800},
					"smart": {Name: "gpt-4o", APIName: "gpt-4o-2024-08-06", MaxTokens: 4000},
				},
			},
		},
		Routing: config.LLMRoutingConfig{Planning: "fast", Synthesis: "smart", Fallback: "fast"},
	}
}

func TestNewTextGeneratorRouting(t *testing.T) {
	if _, err := NewTextGenerator(config.LLMConfig{}); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}

	g, err := NewTextGenerator(testLLMConfig())
	if err != nil {
		t.Fatalf("NewTextGenerator: %v", err)
	}
	if got := g.Model(PurposeSynthesis); got != "gpt-4o-2024-08-06" {
		t.Fatalf("expected api name for synthesis, got %s", got)
	}
	if got := g.Model(PurposeResponding); got != "gpt-4o-mini" {
		t.Fatalf("expected fallback model for responding, got %s", got)
	}

	bad := testLLMConfig()
	bad.Routing.Validation = "missing"
	if _, err := NewTextGenerator(bad); err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected unknown routing model error, got %v", err)
	}

	bad = testLLMConfig()
	p := bad.Providers["openai"]
	p.Type = "carrier-pigeon"
	bad.Providers["openai"] = p
	if _, err := NewTextGenerator(bad); err == nil {
		t.Fatalf("expected unsupported provider type error")
	}
}

func withFake(g *OpenAIGenerator, fake *fakeCompleter) {
	g.backoff = 0
	g.fallback.client = fake
	for p, r := range g.routes {
		r.client = fake
		g.routes[p] = r
	}
}

func TestGenerateRetriesThenSucceeds(t *testing.T) {
	g, err := NewTextGenerator(testLLMConfig())
	if err != nil {
		t.Fatalf("NewTextGenerator: %v", err)
	}
	fake := &fakeCompleter{failures: 2, content: `{"ok":true}`}
	withFake(g, fake)

	out, err := g.Generate(context.Background(), GenerateRequest{
		Purpose:        PurposePlanning,
		Role:           "Router",
		Goal:           "route",
		Prompt:         "plan this",
		ExpectedOutput: "JSON",
		JSON:           true,
		Temperature:    floatPtr(0.1),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != `{"ok":true}` || len(fake.requests) != 3 {
		t.Fatalf("expected success on third attempt, got %q after %d", out, len(fake.requests))
	}
	req := fake.requests[0]
	if req.Model != "gpt-4o-mini" || req.MaxTokens != 800 {
		t.Fatalf("unexpected model settings %s/%d", req.Model, req.MaxTokens)
	}
	if req.Temperature < 0.09 || req.Temperature > 0.11 {
		t.Fatalf("expected request temperature override, got %v", req.Temperature)
	}
	if req.ResponseFormat == nil || req.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
		t.Fatalf("expected JSON response format")
	}
	if !strings.Contains(req.Messages[0].Content, "You are the Router.") || !strings.Contains(req.Messages[1].Content, "Expected output:\nJSON") {
		t.Fatalf("unexpected messages %+v", req.Messages)
	}
}

func TestGenerateGivesUpAfterRetries(t *testing.T) {
	g, err := NewTextGenerator(testLLMConfig())
	if err != nil {
		t.Fatalf("NewTextGenerator: %v", err)
	}
	fake := &fakeCompleter{failures: 10}
	withFake(g, fake)
	if _, err := g.Generate(context.Background(), GenerateRequest{Purpose: PurposeResponding, Prompt: "x"}); err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if len(fake.requests) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(fake.requests))
	}

	empty := &fakeCompleter{content: "   "}
	withFake(g, empty)
	if _, err := g.Generate(context.Background(), GenerateRequest{Purpose: PurposeResponding, Prompt: "x"}); !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}
