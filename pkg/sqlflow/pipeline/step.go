package pipeline

// Step names one pipeline state. Steps are stored in checkpoints, so their
// values are part of the persisted format.
type Step string

// Pipeline steps.
const (
	StepDiscoverSchema     Step = "discover_schema"
	StepClassify           Step = "classify"
	StepGenerateQuery      Step = "generate_query"
	StepCheckQuery         Step = "check_query"
	StepHumanApproval      Step = "human_approval"
	StepRunQuery           Step = "run_query"
	StepValidateResult     Step = "validate_result"
	StepPlanAnalysis       Step = "plan_analysis"
	StepExecutePlanStep    Step = "execute_plan_step"
	StepSynthesizeAnalysis Step = "synthesize_analysis"
	StepValidateAnalysis   Step = "validate_analysis"
)

// End marks a finished run.
const End Step = ""

// Steps lists every step in declaration order.
func Steps() []Step {
	return []Step{
		StepDiscoverSchema,
		StepClassify,
		StepGenerateQuery,
		StepCheckQuery,
		StepHumanApproval,
		StepRunQuery,
		StepValidateResult,
		StepPlanAnalysis,
		StepExecutePlanStep,
		StepSynthesizeAnalysis,
		StepValidateAnalysis,
	}
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	for _, known := range Steps() {
		if s == known {
			return true
		}
	}
	return false
}

// String returns the step name, or "END" for End.
func (s Step) String() string {
	if s == End {
		return "END"
	}
	return string(s)
}
