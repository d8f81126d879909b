/*
Package sqlflow turns natural-language questions into executed, read-only SQL.

# Overview

sqlflow sequences schema discovery, query generation, validation, human
approval, execution and self-correction as a resumable state machine. Every
step is checkpointed, so a run that pauses for review survives a process
restart and can be resumed from any surface (HTTP, SSE, MCP tools).

Two execution regimes share one pipeline:
  - Simple mode: a turn-taking ReAct loop where the model calls a run_query
    tool until it can answer in text.
  - Analytical mode: the question is planned into ordered sub-queries, each
    executed in isolation, then synthesized and checked before answering.

# Packages

This package holds the domain types and error taxonomy shared by all others:

  - sqlguard: read-only SQL classification and LLM artifact stripping
  - errors: error categorization and bounded retry
  - llm: chat client interface, Anthropic client, retry and fallback wrappers
  - database: backend interface with sqlite, postgres and mysql drivers
  - schema: TTL-cached discovery, budgeted rendering and table selection
  - querycache: memoized answers keyed by question and schema fingerprint
  - store: query record and session stores (memory and SQLite)
  - checkpoint: durable per-thread pipeline snapshots
  - approval: the pending → approved/rejected lifecycle
  - pipeline: the step machine, driver loop and interrupt/resume protocol
  - orchestrator: the façade that surfaces call

# Basic Usage

	orch := orchestrator.New(runner, records, orchestrator.WithSessions(sessions))
	rec, err := orch.Submit(ctx, "How many users are there?")
	if err != nil {
	    log.Fatal(err)
	}
	if rec.Status == sqlflow.StatusPending {
	    rec, err = orch.Approve(ctx, rec.ID, true, "")
	}
	fmt.Println(rec.Answer)

# Record Lifecycle

Every persisted QueryRecord ends in exactly one of executed, failed or
rejected, or remains pending while it waits for a reviewer:

	pending → approved → executed | failed
	pending → rejected
*/
package sqlflow
