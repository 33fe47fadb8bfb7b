// Package queuebridge hands approved tasks to the execution queue and
// extends the iteration budget of a loop already working through it.
package queuebridge

import (
	"github.com/QalaTech/speki-sub001/internal/event"
	"github.com/QalaTech/speki-sub001/internal/logging"
	"github.com/QalaTech/speki-sub001/internal/loop"
	"github.com/QalaTech/speki-sub001/internal/taskqueue"
	"github.com/QalaTech/speki-sub001/internal/taskset"
)

// Bridge connects approved task lists to the queue and the loop registry.
type Bridge struct {
	loops  *loop.Registry
	bus    *event.Bus
	logger *logging.Logger
}

// New creates a Bridge. bus may be nil.
func New(loops *loop.Registry, bus *event.Bus, logger *logging.Logger) *Bridge {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Bridge{loops: loops, bus: bus, logger: logger}
}

// Merge appends to existing every task whose id it does not already hold
// and returns exactly those tasks. A repeated id within newTasks is added
// once.
func (b *Bridge) Merge(existing *taskset.TaskSet, newTasks []taskset.Task) []taskset.Task {
	seen := make(map[string]bool, len(existing.Tasks)+len(newTasks))
	for _, t := range existing.Tasks {
		seen[t.ID] = true
	}

	added := []taskset.Task{}
	for _, t := range newTasks {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		existing.Tasks = append(existing.Tasks, t)
		added = append(added, t)
	}
	return added
}

// Enqueue adds tasks of specID to q and returns the references added.
func (b *Bridge) Enqueue(q *taskqueue.Queue, workspaceID, specID string, tasks []taskset.Task) ([]taskqueue.Ref, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}

	added, err := q.AddAll(specID, ids)
	if err != nil {
		return nil, err
	}
	if len(added) > 0 && b.bus != nil {
		keys := make([]string, len(added))
		for i, r := range added {
			keys[i] = r.TaskID
		}
		b.bus.Publish(event.NewTasksEnqueuedEvent(workspaceID, specID, keys))
	}
	b.logger.Info("tasks enqueued", "spec_id", specID, "count", len(added))
	return added, nil
}

// NotifyRunningLoop raises the iteration ceiling of the loop working in
// workspaceID to cover incomplete outstanding tasks. It never lowers the
// ceiling and does nothing when no loop is running. The returned ceiling is
// the loop's ceiling after the call, or 0 when no loop is running.
func (b *Bridge) NotifyRunningLoop(workspaceID string, incomplete int) (raised bool, ceiling int) {
	if b.loops == nil {
		return false, 0
	}

	budget := loop.IterationBudget(incomplete)
	previous, raised := b.loops.RaiseCeiling(workspaceID, budget)
	if !raised {
		if s, ok := b.loops.Get(workspaceID); ok && s.IsActive() {
			return false, s.MaxIterations
		}
		return false, 0
	}

	b.logger.Info("raised loop iteration ceiling",
		"workspace_id", workspaceID,
		"previous", previous,
		"ceiling", budget,
		"incomplete", incomplete,
	)
	if b.bus != nil {
		b.bus.Publish(event.NewBudgetRaisedEvent(workspaceID, previous, budget))
	}
	return true, budget
}
