package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longregen/promptopt/internal/config"
)

func TestApplyRunFlags_OnlyChangedFlagsOverride(t *testing.T) {
	cmd := optimizeRunCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--task", "task.yaml", "--top-k", "3", "--sequential"}))

	var f runFlags
	f.topK, _ = cmd.Flags().GetInt("top-k")
	f.sequential, _ = cmd.Flags().GetBool("sequential")

	base := config.DefaultOptimizerConfig()
	got := applyRunFlags(cmd, base, f)

	assert.Equal(t, 3, got.TopKAdvance)
	assert.False(t, got.ParallelExecution)
	assert.Equal(t, base.TopMRefine, got.TopMRefine)
	assert.Equal(t, base.MaxIterationsPerTrack, got.MaxIterationsPerTrack)
	assert.Equal(t, base.OutputDir, got.OutputDir)
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "(not set)"},
		{"short", "(set)"},
		{"sk-abcdefghijkl", "sk-a...ijkl"},
	}
	for _, tt := range tests {
		if got := maskSecret(tt.in); got != tt.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
