// Package pipeline implements the resumable text-to-SQL state machine.
//
// A run is a sequence of steps driven by Engine. The simple (ReAct) mode
// loops between query generation, checking, execution and result
// validation until the model answers in text:
//
//	discover_schema → classify → generate_query ⇄ check_query → run_query → validate_result
//	                                              check_query → human_approval → run_query
//
// Questions classified as analytical follow a plan instead:
//
//	plan_analysis → execute_plan_step* → synthesize_analysis ⇄ validate_analysis
//
// The State is checkpointed after every step under the run's thread id.
// When check_query finds problems the run stops before human_approval and
// Run returns a suspended Result; Resume continues it with a Decision, in
// this process or another one sharing the checkpoint store.
//
// Basic usage:
//
//	engine := pipeline.New(client, backend, schemas,
//	    pipeline.WithCheckpointStore(store),
//	    pipeline.WithLogger(logger),
//	)
//	res, err := engine.Run(ctx, recordID, "How many users are there?", nil)
//	if res.Suspended() {
//	    res, err = engine.Resume(ctx, recordID, pipeline.Decision{Approved: true}, nil)
//	}
//
// Runs on one thread are serialized; runs on different threads are
// independent.
package pipeline
