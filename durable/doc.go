// Package durable runs functions as sequences of named, memoized steps.
//
// Each step outcome is persisted through a core.RunStore. Re-invoking a run
// replays completed steps from the store and resumes at the first step that
// has not completed. Run lifecycle:
//
//	pending -> running -> completed | suspended | permanently_failed
//	suspended -> running (scheduler re-invocation)
//
// Non-retriable step failures end the run permanently; every other failure
// suspends it until the retry budget is exhausted.
package durable
