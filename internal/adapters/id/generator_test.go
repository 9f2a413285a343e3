package id

import (
	"strings"
	"testing"

	"github.com/longregen/promptopt/internal/ports"
)

var _ ports.IDGenerator = (*Generator)(nil)

func TestGenerator_Prefixes(t *testing.T) {
	g := New()

	tests := []struct {
		name   string
		gen    func() string
		prefix string
	}{
		{"run", g.GenerateRunID, PrefixRun},
		{"prompt", g.GeneratePromptID, PrefixPrompt},
		{"test case", g.GenerateTestCaseID, PrefixTestCase},
		{"evaluation", g.GenerateEvaluationID, PrefixEvaluation},
		{"weakness", g.GenerateWeaknessID, PrefixWeakness},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tt.gen()
			if !strings.HasPrefix(id, tt.prefix+"_") {
				t.Errorf("id %q missing prefix %q", id, tt.prefix)
			}
			if len(id) != len(tt.prefix)+1+21 {
				t.Errorf("id %q has unexpected length %d", id, len(id))
			}
		})
	}
}

func TestGenerator_Unique(t *testing.T) {
	g := New()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := g.GeneratePromptID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
