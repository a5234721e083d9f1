package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mohammad-safakhou/boardroom/config"
	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrNoProviders is returned when the llm config has nothing to route to.
	ErrNoProviders = errors.New("no llm providers configured")
	// ErrEmptyCompletion is returned when the provider answers without content.
	ErrEmptyCompletion = errors.New("empty completion")
)

const defaultBackoff = 300 * time.Millisecond

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type route struct {
	provider string
	client   chatCompleter
	model    config.LLMModel
	retries  int
	timeout  time.Duration
	jsonMode bool
}

// OpenAIGenerator implements TextGenerator over any OpenAI-compatible chat endpoint,
// routing each call site to the model configured for it.
type OpenAIGenerator struct {
	routes   map[Purpose]route
	fallback route
	backoff  time.Duration
}

// NewTextGenerator builds a generator from the llm config
func NewTextGenerator(cfg config.LLMConfig) (*OpenAIGenerator, error) {
	if len(cfg.Providers) == 0 {
		return nil, ErrNoProviders
	}
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	clients := make(map[string]chatCompleter, len(names))
	for _, name := range names {
		p := cfg.Providers[name]
		switch strings.ToLower(p.Type) {
		case "openai", "openai-compatible", "":
		default:
			return nil, fmt.Errorf("unsupported LLM provider type: %s", p.Type)
		}
		apiKey := p.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		oc := openai.DefaultConfig(apiKey)
		if p.BaseURL != "" {
			oc.BaseURL = strings.TrimRight(p.BaseURL, "/")
		}
		clients[name] = openai.NewClientWithConfig(oc)
	}

	lookup := func(key string) (route, bool) {
		if key == "" {
			return route{}, false
		}
		for _, name := range names {
			p := cfg.Providers[name]
			if m, ok := p.Models[key]; ok {
				if m.Name == "" {
					m.Name = key
				}
				return route{
					provider: name,
					client:   clients[name],
					model:    m,
					retries:  p.MaxRetries,
					timeout:  p.Timeout,
					jsonMode: p.JSONMode,
				}, true
			}
		}
		return route{}, false
	}

	g := &OpenAIGenerator{routes: make(map[Purpose]route), backoff: defaultBackoff}
	fallback, ok := lookup(cfg.Routing.Fallback)
	if !ok {
		// first model of the first provider, in name order
		for _, name := range names {
			keys := make([]string, 0, len(cfg.Providers[name].Models))
			for k := range cfg.Providers[name].Models {
				keys = append(keys, k)
			}
			if len(keys) == 0 {
				continue
			}
			sort.Strings(keys)
			fallback, ok = lookup(keys[0])
			break
		}
	}
	if !ok {
		return nil, ErrNoProviders
	}
	g.fallback = fallback

	for purpose, key := range map[Purpose]string{
		PurposePlanning:   cfg.Routing.Planning,
		PurposeResponding: cfg.Routing.Responding,
		PurposeValidation: cfg.Routing.Validation,
		PurposeSynthesis:  cfg.Routing.Synthesis,
	} {
		if r, ok := lookup(key); ok {
			g.routes[purpose] = r
		} else if key != "" {
			return nil, fmt.Errorf("llm.routing.%s: model %q not configured", purpose, key)
		}
	}
	return g, nil
}

// Model returns the api model name serving purpose.
func (g *OpenAIGenerator) Model(purpose Purpose) string {
	r := g.routeFor(purpose)
	return apiModel(r.model)
}

func (g *OpenAIGenerator) routeFor(purpose Purpose) route {
	if r, ok := g.routes[purpose]; ok {
		return r
	}
	return g.fallback
}

// Generate issues one chat completion, retrying transport errors with exponential backoff.
func (g *OpenAIGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	r := g.routeFor(req.Purpose)

	temperature := r.model.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := r.model.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	creq := openai.ChatCompletionRequest{
		Model: apiModel(r.model),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage(req)},
			{Role: openai.ChatMessageRoleUser, Content: userMessage(req)},
		},
		Temperature: float32(temperature),
		MaxTokens:   maxTokens,
	}
	if req.JSON && r.jsonMode {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	var lastErr error
	tries := r.retries + 1
	if tries < 1 {
		tries = 1
	}
	for attempt := 0; attempt < tries; attempt++ {
		text, err := g.complete(ctx, r, creq)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if attempt < tries-1 {
			select {
			case <-time.After(g.backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("%s/%s: %w", r.provider, creq.Model, lastErr)
}

func (g *OpenAIGenerator) complete(ctx context.Context, r route, creq openai.ChatCompletionRequest) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	resp, err := r.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

func systemMessage(req GenerateRequest) string {
	var b strings.Builder
	if req.Role != "" {
		fmt.Fprintf(&b, "You are the %s.", req.Role)
	}
	if req.Backstory != "" {
		b.WriteString("\n\n" + req.Backstory)
	}
	if req.Goal != "" {
		b.WriteString("\n\nYour goal: " + req.Goal)
	}
	return strings.TrimSpace(b.String())
}

func userMessage(req GenerateRequest) string {
	if req.ExpectedOutput == "" {
		return req.Prompt
	}
	return req.Prompt + "\n\nExpected output:\n" + req.ExpectedOutput
}

func apiModel(m config.LLMModel) string {
	if m.APIName != "" {
		return m.APIName
	}
	return m.Name
}
