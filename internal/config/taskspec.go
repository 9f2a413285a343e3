package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/longregen/promptopt/internal/domain"
	"github.com/longregen/promptopt/internal/domain/models"
)

// taskFile is the on-disk shape of a task. JSON files decode too since YAML is a superset.
type taskFile struct {
	TaskDescription    string   `yaml:"task_description"`
	BehavioralSpec     string   `yaml:"behavioral_specification"`
	ValidationRules    []string `yaml:"validation_rules"`
	OriginalPrompt     string   `yaml:"original_prompt"`
	OriginalPromptFile string   `yaml:"original_prompt_file"`
}

// LoadTaskSpec reads and validates a task file. original_prompt_file is
// resolved relative to the task file and wins over an inline original_prompt.
func LoadTaskSpec(path string) (*models.TaskSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}

	spec, err := ParseTaskSpec(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("task file %s: %w", path, err)
	}
	return spec, nil
}

// ParseTaskSpec decodes task YAML. baseDir anchors original_prompt_file.
func ParseTaskSpec(data []byte, baseDir string) (*models.TaskSpec, error) {
	var tf taskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	spec := &models.TaskSpec{
		TaskDescription: strings.TrimSpace(tf.TaskDescription),
		BehavioralSpec:  strings.TrimSpace(tf.BehavioralSpec),
		ValidationRules: tf.ValidationRules,
		OriginalPrompt:  strings.TrimSpace(tf.OriginalPrompt),
	}

	if tf.OriginalPromptFile != "" {
		p := tf.OriginalPromptFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: original prompt file: %v", domain.ErrInvalidConfig, err)
		}
		spec.OriginalPrompt = strings.TrimSpace(string(raw))
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}
