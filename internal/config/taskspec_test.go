package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/longregen/promptopt/internal/domain"
)

func TestLoadTaskSpec_YAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "original.txt"), []byte("  You are a helpful RAG assistant.\n"), 0644); err != nil {
		t.Fatal(err)
	}
	task := `
task_description: Answer questions using only the provided documents
behavioral_specification: |
  Cite sources. Refuse when the answer is not in the documents.
validation_rules:
  - never invent citations
  - answer in the user's language
original_prompt_file: original.txt
`
	path := filepath.Join(dir, "task.yaml")
	if err := os.WriteFile(path, []byte(task), 0644); err != nil {
		t.Fatal(err)
	}

	spec, err := LoadTaskSpec(path)
	if err != nil {
		t.Fatalf("LoadTaskSpec() error: %v", err)
	}
	if spec.TaskDescription != "Answer questions using only the provided documents" {
		t.Errorf("unexpected description %q", spec.TaskDescription)
	}
	if len(spec.ValidationRules) != 2 {
		t.Errorf("expected 2 rules, got %d", len(spec.ValidationRules))
	}
	if spec.OriginalPrompt != "You are a helpful RAG assistant." {
		t.Errorf("unexpected original prompt %q", spec.OriginalPrompt)
	}
}

func TestParseTaskSpec_JSON(t *testing.T) {
	spec, err := ParseTaskSpec([]byte(`{"task_description": "summarize", "original_prompt": "Be brief."}`), ".")
	if err != nil {
		t.Fatalf("ParseTaskSpec() error: %v", err)
	}
	if spec.OriginalPrompt != "Be brief." {
		t.Errorf("unexpected original prompt %q", spec.OriginalPrompt)
	}
}

func TestParseTaskSpec_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing description", `behavioral_specification: x`},
		{"malformed yaml", "task_description: [unclosed"},
		{"missing original file", "task_description: x\noriginal_prompt_file: nope.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTaskSpec([]byte(tt.data), t.TempDir())
			if !errors.Is(err, domain.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
