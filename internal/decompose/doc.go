// Package decompose runs the decomposition pipeline: a requirements
// document is turned into a draft task list by the generation stage,
// checked by the review stage, optionally revised, and finally approved
// into the workspace's active task list.
//
// Runs are asynchronous. Start, RetryReview and Revise validate their
// input, claim the artifact and return an acknowledgement; the work itself
// happens on a goroutine that always leaves the artifact in a terminal
// state (COMPLETED or ERROR), including when a stage panics.
//
// State lives in a statestore.Store per workspace. The in-memory Registry
// only tracks which runs this process started and is never consulted for
// correctness.
package decompose
