package core

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed responders.yaml
var defaultRespondersYAML []byte

// ErrUnknownResponder is returned when a responder id is not in the registry.
var ErrUnknownResponder = errors.New("unknown responder")

// Responder is one board member persona
type Responder struct {
	ID              string   `yaml:"id" json:"id"`
	Name            string   `yaml:"name" json:"name"`
	Emoji           string   `yaml:"emoji" json:"emoji"`
	Color           string   `yaml:"color" json:"color"`
	Role            string   `yaml:"role" json:"role"`
	Goal            string   `yaml:"goal" json:"goal"`
	Backstory       string   `yaml:"backstory" json:"backstory"`
	TriggerKeywords []string `yaml:"trigger_keywords" json:"trigger_keywords"`
	Domains         []string `yaml:"domains" json:"domains"`
}

// Label renders "emoji name" for announcements.
func (r Responder) Label() string {
	if r.Emoji == "" {
		return r.Name
	}
	return r.Emoji + " " + r.Name
}

// Registry is the static responder table. It is read-only after construction.
type Registry struct {
	order []string
	byID  map[string]Responder
	// upper-cased id -> canonical id
	fold map[string]string
}

type registryFile struct {
	Responders []Responder `yaml:"responders"`
}

// DefaultRegistry returns the built-in board.
func DefaultRegistry() *Registry {
	reg, err := ParseRegistry(defaultRespondersYAML)
	if err != nil {
		panic(fmt.Errorf("embedded responders.yaml: %w", err))
	}
	return reg
}

// LoadRegistry reads a registry from a YAML file; an empty path yields the built-in board.
func LoadRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRegistry(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read responders file: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes and validates a YAML registry document.
func ParseRegistry(data []byte) (*Registry, error) {
	var doc registryFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode responders: %w", err)
	}
	return NewRegistry(doc.Responders)
}

// NewRegistry builds a registry preserving the given order.
func NewRegistry(responders []Responder) (*Registry, error) {
	if len(responders) == 0 {
		return nil, errors.New("registry requires at least one responder")
	}
	reg := &Registry{
		byID: make(map[string]Responder, len(responders)),
		fold: make(map[string]string, len(responders)),
	}
	for _, r := range responders {
		r.ID = strings.TrimSpace(r.ID)
		if r.ID == "" {
			return nil, errors.New("responder id required")
		}
		key := strings.ToUpper(r.ID)
		if _, dup := reg.fold[key]; dup {
			return nil, fmt.Errorf("duplicate responder id %q", r.ID)
		}
		if r.Name == "" {
			r.Name = r.ID
		}
		r.Backstory = strings.TrimSpace(r.Backstory)
		reg.order = append(reg.order, r.ID)
		reg.byID[r.ID] = r
		reg.fold[key] = r.ID
	}
	return reg, nil
}

// IDs returns responder ids in registry order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// Get returns a responder by exact id.
func (r *Registry) Get(id string) (Responder, bool) {
	resp, ok := r.byID[id]
	return resp, ok
}

// Resolve matches an id case-insensitively and returns the canonical id.
func (r *Registry) Resolve(id string) (string, bool) {
	canonical, ok := r.fold[strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(id), "@")))]
	return canonical, ok
}

// All returns responders in registry order.
func (r *Registry) All() []Responder {
	out := make([]Responder, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Mentions returns responders explicitly addressed as @ID, in registry order.
func (r *Registry) Mentions(message string) []string {
	upper := strings.ToUpper(message)
	var out []string
	for _, id := range r.order {
		if strings.Contains(upper, "@"+strings.ToUpper(id)) {
			out = append(out, id)
		}
	}
	return out
}

// MatchKeywords returns responders whose trigger keywords occur in message
// (case-insensitive substring), in registry order, capped at limit.
func (r *Registry) MatchKeywords(message string, limit int) []string {
	lower := strings.ToLower(message)
	var out []string
	for _, id := range r.order {
		if limit > 0 && len(out) >= limit {
			break
		}
		for _, kw := range r.byID[id].TriggerKeywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(lower, kw) {
				out = append(out, id)
				break
			}
		}
	}
	return out
}
