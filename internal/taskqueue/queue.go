package taskqueue

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/QalaTech/speki-sub001/internal/errors"
)

const (
	defaultLockTimeout = 5 * time.Second
	lockPollInterval   = 20 * time.Millisecond
)

// Queue is the execution queue stored at one path. All methods are safe for
// concurrent use within and across processes.
type Queue struct {
	path        string
	dir         string
	lockTimeout time.Duration
	mu          sync.Mutex
	now         func() time.Time
}

// New returns the queue stored at path. The file is created on first write.
func New(path string) *Queue {
	return &Queue{
		path:        path,
		dir:         filepath.Dir(path),
		lockTimeout: defaultLockTimeout,
		now:         time.Now,
	}
}

// Path returns the queue file path.
func (q *Queue) Path() string { return q.path }

// Add queues one task. It returns false without error if the task is
// already queued.
func (q *Queue) Add(specID, taskID string) (bool, error) {
	added, err := q.AddAll(specID, []string{taskID})
	return len(added) == 1, err
}

// AddAll appends the given tasks of specID in order, skipping any already
// queued, and returns the references that were added.
func (q *Queue) AddAll(specID string, taskIDs []string) ([]Ref, error) {
	if err := validateRef(specID, taskIDs...); err != nil {
		return nil, err
	}

	var added []Ref
	err := q.update(func(refs []Ref) ([]Ref, bool, error) {
		seen := keys(refs)
		now := q.now().UTC()
		for _, id := range taskIDs {
			r := Ref{SpecID: specID, TaskID: id, Status: StatusQueued, QueuedAt: now}
			if seen[r.Key()] {
				continue
			}
			seen[r.Key()] = true
			refs = append(refs, r)
			added = append(added, r)
		}
		return refs, len(added) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// Remove drops a task from the queue. A running task cannot be removed.
func (q *Queue) Remove(specID, taskID string) error {
	if err := validateRef(specID, taskID); err != nil {
		return err
	}
	return q.update(func(refs []Ref) ([]Ref, bool, error) {
		for i, r := range refs {
			if r.SpecID != specID || r.TaskID != taskID {
				continue
			}
			if r.Status == StatusRunning {
				return nil, false, errors.NewValidationError(
					fmt.Sprintf("task %s/%s is running and cannot be removed", specID, taskID))
			}
			return append(refs[:i:i], refs[i+1:]...), true, nil
		}
		return nil, false, errors.NewNotFoundError("queued task", specID+"/"+taskID).WithCause(errors.ErrTaskNotFound)
	})
}

// List returns every queued reference in queue order.
func (q *Queue) List() ([]Ref, error) {
	var out []Ref
	err := q.update(func(refs []Ref) ([]Ref, bool, error) {
		out = refs
		return nil, false, nil
	})
	return out, err
}

// SetStatus records the execution state of a queued task.
func (q *Queue) SetStatus(specID, taskID string, status Status) error {
	if !status.IsValid() {
		return errors.NewValidationError("invalid queue status").WithField("status").WithValue(status)
	}
	return q.update(func(refs []Ref) ([]Ref, bool, error) {
		for i := range refs {
			if refs[i].SpecID == specID && refs[i].TaskID == taskID {
				refs[i].Status = status
				return refs, true, nil
			}
		}
		return nil, false, errors.NewNotFoundError("queued task", specID+"/"+taskID).WithCause(errors.ErrTaskNotFound)
	})
}

// QuickStart moves the given tasks of specID to the front of the queue in
// the order given, adding any that are not queued yet. Completed tasks are
// requeued. It returns the references now at the front.
func (q *Queue) QuickStart(specID string, taskIDs []string) ([]Ref, error) {
	if err := validateRef(specID, taskIDs...); err != nil {
		return nil, err
	}

	var front []Ref
	err := q.update(func(refs []Ref) ([]Ref, bool, error) {
		existing := make(map[string]Ref, len(refs))
		for _, r := range refs {
			existing[r.Key()] = r
		}

		picked := make(map[string]bool, len(taskIDs))
		now := q.now().UTC()
		for _, id := range taskIDs {
			r, ok := existing[Ref{SpecID: specID, TaskID: id}.Key()]
			if !ok {
				r = Ref{SpecID: specID, TaskID: id, QueuedAt: now}
			}
			if picked[r.Key()] {
				continue
			}
			if r.Status != StatusRunning {
				r.Status = StatusQueued
			}
			picked[r.Key()] = true
			front = append(front, r)
		}

		next := append([]Ref{}, front...)
		for _, r := range refs {
			if !picked[r.Key()] {
				next = append(next, r)
			}
		}
		return next, true, nil
	})
	if err != nil {
		return nil, err
	}
	return front, nil
}

func keys(refs []Ref) map[string]bool {
	m := make(map[string]bool, len(refs))
	for _, r := range refs {
		m[r.Key()] = true
	}
	return m
}

func validateRef(specID string, taskIDs ...string) error {
	if specID == "" {
		return errors.NewValidationError("spec id is required").WithField("specId")
	}
	if len(taskIDs) == 0 {
		return errors.NewValidationError("at least one task id is required").WithField("taskId")
	}
	for _, id := range taskIDs {
		if id == "" {
			return errors.NewValidationError("task id is required").WithField("taskId")
		}
	}
	return nil
}
