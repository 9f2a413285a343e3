package models

// PromptStage is the lifecycle position of a candidate. It only moves forward.
type PromptStage string

const (
	StageInitial     PromptStage = "initial"
	StageQuickFilter PromptStage = "quick_filter"
	StageRigorous    PromptStage = "rigorous"
	StageRefined     PromptStage = "refined"
)

var stageRanks = map[PromptStage]int{
	StageInitial:     0,
	StageQuickFilter: 1,
	StageRigorous:    2,
	StageRefined:     3,
}

// Rank returns the ordinal of the stage, or -1 for unknown values.
func (s PromptStage) Rank() int {
	if r, ok := stageRanks[s]; ok {
		return r
	}
	return -1
}

func (s PromptStage) IsValid() bool {
	return s.Rank() >= 0
}

// ParsePromptStage validates a stage name coming from the outside world.
func ParsePromptStage(s string) (PromptStage, bool) {
	stage := PromptStage(s)
	return stage, stage.IsValid()
}

// ScoreField names the persisted score column used to rank a stage.
type ScoreField string

const (
	ScoreQuick    ScoreField = "quick_score"
	ScoreRigorous ScoreField = "rigorous_score"
	ScoreAverage  ScoreField = "average_score"
)

// StageScoreField maps a stage to the score it is ranked by. Refined
// candidates are evaluated on the rigorous suite.
func StageScoreField(stage PromptStage) ScoreField {
	switch stage {
	case StageRigorous, StageRefined:
		return ScoreRigorous
	default:
		return ScoreQuick
	}
}

// TestStage distinguishes the two evaluation suites.
type TestStage string

const (
	TestStageQuick    TestStage = "quick"
	TestStageRigorous TestStage = "rigorous"
)

func (s TestStage) IsValid() bool {
	return s == TestStageQuick || s == TestStageRigorous
}

// TestCategory classifies what a test case probes.
type TestCategory string

const (
	CategoryCore        TestCategory = "core"
	CategoryEdge        TestCategory = "edge"
	CategoryBoundary    TestCategory = "boundary"
	CategoryAdversarial TestCategory = "adversarial"
	CategoryConsistency TestCategory = "consistency"
	CategoryFormat      TestCategory = "format"
)

// AllTestCategories lists categories in the order they are presented to the oracle.
var AllTestCategories = []TestCategory{
	CategoryCore,
	CategoryEdge,
	CategoryBoundary,
	CategoryAdversarial,
	CategoryConsistency,
	CategoryFormat,
}

func (c TestCategory) IsValid() bool {
	for _, known := range AllTestCategories {
		if c == known {
			return true
		}
	}
	return false
}
