package taskqueue

import "time"

// Status is the execution state of a queued task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted:
		return true
	}
	return false
}

// Ref points at one task of one spec.
type Ref struct {
	SpecID   string    `json:"specId"`
	TaskID   string    `json:"taskId"`
	Status   Status    `json:"status"`
	QueuedAt time.Time `json:"queuedAt"`
}

// Key identifies the reference within the queue.
func (r Ref) Key() string {
	return r.SpecID + "/" + r.TaskID
}
