package id

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for generated identifiers.
const (
	PrefixRun        = "aor"
	PrefixPrompt     = "apc"
	PrefixTestCase   = "atc"
	PrefixEvaluation = "ape"
	PrefixWeakness   = "awa"
)

type Generator struct{}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) generate(prefix string) string {
	id, err := gonanoid.New(21)
	if err != nil {
		return prefix + "_fallback"
	}
	return prefix + "_" + id
}

func (g *Generator) GenerateRunID() string {
	return g.generate(PrefixRun)
}

func (g *Generator) GeneratePromptID() string {
	return g.generate(PrefixPrompt)
}

func (g *Generator) GenerateTestCaseID() string {
	return g.generate(PrefixTestCase)
}

func (g *Generator) GenerateEvaluationID() string {
	return g.generate(PrefixEvaluation)
}

func (g *Generator) GenerateWeaknessID() string {
	return g.generate(PrefixWeakness)
}
