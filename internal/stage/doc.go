// Package stage runs the two intelligence-backed steps of a decomposition:
// generation (document to draft task list) and review (draft against
// document to verdict).
//
// Both stages drive the external CLI in print mode with stream-json output
// and translate the stream into [Callbacks] as it arrives, so callers can
// forward progress before the stage returns. The CLI is reached through an
// [Invoker]; tests substitute a fake.
package stage
