// Package orchestrator runs the NoC build pipeline.
//
// # Overview
//
// A run takes a Request naming one project and the stages to execute. Stages
// always run in pipeline order, whatever order they were requested in:
//
//	Project → Graph → Compile → Database
//
// The project stage applies a lifecycle action (create, open, erase, rename)
// through a project.Manager. The three build stages each drive one external
// tool and own a slice of the project's progress flags.
//
// # Build Stage Sequence
//
// For each build stage the Executor:
//  1. loads the project record (a missing record is ErrMissingProject)
//  2. runs the stage gates (PreconditionGate by default)
//  3. clears the stage's flags and every downstream flag, merges the typed
//     stage arguments and saves the record
//  4. invokes the tool as `<tool> -l <location> -n <name> [args...]`
//  5. on success reloads the record, marks the stage complete and saves it
//
// The first failure aborts the run. Whatever was saved before the failure
// stays, so an interrupted stage is always recorded as not completed.
//
// # Concurrency
//
// A run holds an advisory lock on the project for its whole duration.
// A second run on the same project fails with ErrProjectLocked, or waits
// when the Locker is configured to.
//
// # Progress
//
// OnProgress receives a StageProgress per stage start and end; the CLI turns
// these into the `<Tool> success.` and `<Tool> failure.` lines. SetRecorder
// attaches run metrics. SetTracer emits a "pipeline.run" span with one
// "stage.<name>" child per stage.
package orchestrator
