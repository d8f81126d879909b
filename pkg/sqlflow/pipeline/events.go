package pipeline

// Event names emitted while a run progresses.
const (
	EventSchemaDiscovered          = "schema_discovered"
	EventClassifyingQuery          = "classifying_query"
	EventQueryClassified           = "query_classified"
	EventSQLGenerated              = "sql_generated"
	EventQueryChecked              = "query_checked"
	EventAwaitingApproval          = "awaiting_approval"
	EventQueryExecuted             = "query_executed"
	EventQueryFailed               = "query_failed"
	EventResultValidationWarning   = "result_validation_warning"
	EventPlanningAnalysis          = "planning_analysis"
	EventAnalysisPlanCreated       = "analysis_plan_created"
	EventPlanFailed                = "plan_failed"
	EventPlanStepStarted           = "plan_step_started"
	EventPlanStepSQLGenerated      = "plan_step_sql_generated"
	EventPlanStepExecuted          = "plan_step_executed"
	EventPlanStepFailed            = "plan_step_failed"
	EventAnalysisSynthesisStarted  = "analysis_synthesis_started"
	EventAnalysisComplete          = "analysis_complete"
	EventAnalysisValidationWarning = "analysis_validation_warning"
	EventAnalysisValidationPassed  = "analysis_validation_passed"
	EventAnswer                    = "answer"
)

// Event is one progress notification from a run.
type Event struct {
	Name string         `json:"event"`
	Data map[string]any `json:"data,omitempty"`
}

// Emitter receives events in order. It is called synchronously from the
// run's goroutine and must not block for long.
type Emitter func(Event)

// Collect returns an Emitter that appends to events.
func Collect(events *[]Event) Emitter {
	return func(ev Event) { *events = append(*events, ev) }
}

// Names returns the event names in order.
func Names(events []Event) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Name
	}
	return names
}
