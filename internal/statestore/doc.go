// Package statestore persists the decomposition state of each artifact and
// corrects records left behind by a process that died mid-run.
//
// Each (workspace, artifact) pair has exactly one [State] record. Records are
// overwritten in full and never deleted; an artifact with no record reads as
// [StatusIdle].
//
// Two backends implement [Store]:
//
//   - [FileStore]: one JSON file per artifact at
//     <root>/<artifactID>/decompose_state.json, written atomically
//   - [SQLiteStore]: one row per artifact in a decompose_state table
//
// [Reader] wraps a Store and rewrites any active record whose run started
// before the current process to IDLE, so a crashed server never leaves an
// artifact stuck in DECOMPOSING.
package statestore
