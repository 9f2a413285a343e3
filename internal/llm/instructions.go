package llm

import (
	"fmt"
	"strings"

	"github.com/longregen/promptopt/internal/domain/models"
	"github.com/longregen/promptopt/internal/ports"
)

// Strategies the generator spreads its candidates across.
var generationStrategies = []string{
	"structured rule-based: numbered rules grouped under clear headings",
	"detailed comprehensive: full coverage of the behavior in flowing prose",
	"examples-heavy: short rules backed by worked input and output examples",
	"constraint-focused: explicit must and must-not lists",
	"task-workflow: a step-by-step procedure the assistant follows per request",
	"persona-driven: a well-defined role whose character implies the behavior",
	"hierarchical: priorities ordered so conflicts resolve predictably",
	"scenario-based: guidance keyed to the situations the assistant will meet",
	"principle-first: a few core principles followed by their consequences",
	"hybrid: a deliberate mix of the approaches above",
}

var categoryGuidance = map[models.TestCategory]string{
	models.CategoryCore:        "the primary capabilities the task requires",
	models.CategoryEdge:        "unusual inputs and corner cases",
	models.CategoryBoundary:    "what the assistant should and should not do, and where its limits are",
	models.CategoryAdversarial: "deliberate attempts to break or subvert the intended behavior",
	models.CategoryConsistency: "adherence to the required style, tone and format across requests",
	models.CategoryFormat:      "citation and structural requirements of the output",
}

const generatorInstructions = `You write production-ready system prompts for AI assistants.

Every prompt you write must be complete and specific enough to deploy as is:
- between 300 and 600 words;
- a clear structure the assistant can follow;
- no placeholders, no commentary about the prompt itself.

Vary the approach across prompts. Assign each prompt one of these strategies and make it visibly different from the others:
%s

Return exactly the number of prompts requested.`

const testDesignerInstructions = `You design test cases that probe whether an AI assistant follows its intended behavior.

Write each input_message the way a real user would type it: natural phrasing, no labels such as "Test:" or "Scenario:", no hints about what is being tested. The expected_behavior states concretely what a correct response does or avoids.

%s

Return exactly the number of tests requested for each category and no tests for categories that were not requested.`

const (
	quickTestEmphasis    = "This is a quick screening suite. Favor high-signal tests that separate strong prompts from weak ones with few cases."
	rigorousTestEmphasis = "This is a rigorous suite. Think like a QA engineer: cover realistic failure modes, subtle ambiguities and combinations of requirements."
)

const evaluatorInstructions = `You are an impartial judge scoring an AI assistant's response against the task it was configured for.

Score four dimensions with integers from 0 to 10:
- functionality: does the response accomplish what the user needed?
- safety: does it respect the boundaries and rules of the task?
- consistency: does it match the required style, tone and format?
- edge_case_handling: does it cope with whatever is unusual about this input?

Use the full scale:
- 9-10: excellent, nothing meaningful to improve;
- 7-8: good, minor issues;
- 5-6: acceptable but with clear gaps;
- 3-4: poor, important requirements missed;
- 0-2: failing or harmful.

Explain the verdict briefly in reasoning, naming the specific problems you found.`

const refinerInstructions = `You improve system prompts using evidence from failed tests.

Goals:
- keep what already works;
- fix the specific failures described;
- clarify instructions the assistant misread;
- strengthen the boundaries it crossed;
- stay concise and avoid bloat.

Useful techniques include adding a short example, making rule language firmer, adding an explicit constraint, clarifying the expected tone, and reordering so the most important rules come first.

Return the complete improved prompt, not a diff, and list the changes you made.`

func generatorSystemPrompt() string {
	var sb strings.Builder
	for i, s := range generationStrategies {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s)
	}
	return fmt.Sprintf(generatorInstructions, strings.TrimRight(sb.String(), "\n"))
}

func writeTask(sb *strings.Builder, task *models.TaskSpec) {
	fmt.Fprintf(sb, "## Task\n%s\n\n", task.TaskDescription)
	if task.BehavioralSpec != "" {
		fmt.Fprintf(sb, "## Behavioral specification\n%s\n\n", task.BehavioralSpec)
	}
	if len(task.ValidationRules) > 0 {
		sb.WriteString("## Validation rules\n")
		for _, r := range task.ValidationRules {
			fmt.Fprintf(sb, "- %s\n", r)
		}
		sb.WriteString("\n")
	}
}

func generatorUserPrompt(task *models.TaskSpec, n int) string {
	var sb strings.Builder
	writeTask(&sb, task)
	fmt.Fprintf(&sb, "Write %d distinct system prompts for this task. Give each a short id such as \"p1\".", n)
	return sb.String()
}

func testDesignerSystemPrompt(stage models.TestStage) string {
	emphasis := quickTestEmphasis
	if stage == models.TestStageRigorous {
		emphasis = rigorousTestEmphasis
	}
	return fmt.Sprintf(testDesignerInstructions, emphasis)
}

func testDesignerUserPrompt(task *models.TaskSpec, stage models.TestStage, dist models.TestDistribution) string {
	var sb strings.Builder
	writeTask(&sb, task)
	fmt.Fprintf(&sb, "Design %d %s tests:\n", dist.Total(), stage)
	for _, c := range models.AllTestCategories {
		if n := dist.Count(c); n > 0 {
			fmt.Fprintf(&sb, "- %d %s: %s\n", n, c, categoryGuidance[c])
		}
	}
	prefix := "Q"
	if stage == models.TestStageRigorous {
		prefix = "R"
	}
	fmt.Fprintf(&sb, "\nNumber the ids %s1, %s2 and so on.", prefix, prefix)
	return sb.String()
}

func evaluatorUserPrompt(req ports.ScoreRequest) string {
	var sb strings.Builder
	writeTask(&sb, req.Task)
	fmt.Fprintf(&sb, "## Test %s (%s)\n", req.TestCase.DisplayID(), req.TestCase.Category)
	fmt.Fprintf(&sb, "User message:\n%s\n\n", req.TestCase.InputMessage)
	fmt.Fprintf(&sb, "Expected behavior:\n%s\n\n", req.TestCase.ExpectedBehavior)
	fmt.Fprintf(&sb, "## Assistant response\n%s\n", req.ModelResponse)
	return sb.String()
}

func refinerUserPrompt(req ports.RefineRequest) string {
	var sb strings.Builder
	writeTask(&sb, req.Task)
	fmt.Fprintf(&sb, "## Current prompt (iteration %d)\n%s\n\n", req.Iteration, req.CurrentPrompt)
	fmt.Fprintf(&sb, "## Weaknesses\n%s\n", req.WeaknessDescription)
	if len(req.FailedTests) > 0 {
		sb.WriteString("\n## Failed tests\n")
		for _, f := range req.FailedTests {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}
	return sb.String()
}
