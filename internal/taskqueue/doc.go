// Package taskqueue is the file-backed execution queue that approved tasks
// are handed to. Entries are (specId, taskId) references with a status;
// the task bodies stay in each spec's task list.
//
// The queue file is shared between processes (the server, the CLI and the
// execution loop), so every operation reads, mutates and rewrites the file
// while holding an flock(2) on "<queue file>.lock".
//
// Usage:
//
//	q := taskqueue.New(layout.QueuePath())
//	added, err := q.AddAll("billing", []string{"T-001", "T-002"})
//	refs, err := q.List()
package taskqueue
