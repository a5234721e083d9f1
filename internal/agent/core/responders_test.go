package core

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()
	ids := reg.IDs()
	if len(ids) != 14 || ids[0] != "CEO" || ids[len(ids)-1] != "CArch" {
		t.Fatalf("unexpected registry ids %v", ids)
	}
	for _, r := range reg.All() {
		if r.Role == "" || r.Goal == "" || r.Backstory == "" || len(r.TriggerKeywords) == 0 {
			t.Fatalf("responder %s is incomplete", r.ID)
		}
	}
	if id, ok := reg.Resolve("@cpeo"); !ok || id != "CPeO" {
		t.Fatalf("expected case-insensitive resolve, got %q %t", id, ok)
	}
	if _, ok := reg.Resolve("CXO"); ok {
		t.Fatalf("expected unknown id to miss")
	}
}

func TestMatchKeywordsCapsAndOrders(t *testing.T) {
	reg := DefaultRegistry()
	got := reg.MatchKeywords("our runway, our tech stack, our product roadmap and our brand", 3)
	if len(got) != 3 {
		t.Fatalf("expected cap of 3, got %v", got)
	}
	ids := reg.IDs()
	pos := map[string]int{}
	for i, id := range ids {
		pos[id] = i
	}
	for i := 1; i < len(got); i++ {
		if pos[got[i-1]] > pos[got[i]] {
			t.Fatalf("expected registry order, got %v", got)
		}
	}
}

func TestParseRegistryErrors(t *testing.T) {
	if _, err := ParseRegistry([]byte("responders: []")); err == nil {
		t.Fatalf("expected error for empty registry")
	}
	dup := "responders:\n  - id: A\n  - id: a\n"
	if _, err := ParseRegistry([]byte(dup)); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestLoadRegistryFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "board.yaml")
	doc := "responders:\n  - id: GC\n    name: General Counsel\n    role: Counsel\n    trigger_keywords: [contract]\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if r, ok := reg.Get("GC"); !ok || r.Label() != "General Counsel" {
		t.Fatalf("unexpected responder %+v", r)
	}
	if _, err := LoadRegistry(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if reg, err := LoadRegistry(""); err != nil || len(reg.IDs()) != 14 {
		t.Fatalf("empty path should load the built-in board")
	}
}

func TestExecutorRejectsUnknownResponder(t *testing.T) {
	exec := NewExecutor(DefaultRegistry(), &scriptedGenerator{registry: DefaultRegistry()}, NewPool(1), nil, nil)
	_, err := exec.Execute(t.Context(), WorkItem{ID: "x", Responders: []string{"CXO"}}, PromptContext{})
	if !errors.Is(err, ErrUnknownResponder) {
		t.Fatalf("expected ErrUnknownResponder, got %v", err)
	}
}
