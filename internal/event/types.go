package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// WorkspaceScoped is implemented by events that belong to one workspace.
type WorkspaceScoped interface {
	Workspace() string
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Progress Events
// -----------------------------------------------------------------------------

// ProgressEvent carries one message on a workspace progress channel. The
// channel name is the event type, so bus subscribers can listen to a single
// channel directly.
type ProgressEvent struct {
	baseEvent
	WorkspaceID string
	Channel     string
	Payload     any
}

// NewProgressEvent creates a ProgressEvent.
func NewProgressEvent(workspaceID, channel string, payload any) ProgressEvent {
	return ProgressEvent{
		baseEvent:   newBaseEvent(channel),
		WorkspaceID: workspaceID,
		Channel:     channel,
		Payload:     payload,
	}
}

// Workspace implements WorkspaceScoped.
func (e ProgressEvent) Workspace() string { return e.WorkspaceID }

// -----------------------------------------------------------------------------
// Queue Events
// -----------------------------------------------------------------------------

// TasksEnqueuedEvent is emitted when approved tasks are added to the
// execution queue.
type TasksEnqueuedEvent struct {
	baseEvent
	WorkspaceID string
	SpecID      string
	TaskIDs     []string
}

// NewTasksEnqueuedEvent creates a TasksEnqueuedEvent.
func NewTasksEnqueuedEvent(workspaceID, specID string, taskIDs []string) TasksEnqueuedEvent {
	return TasksEnqueuedEvent{
		baseEvent:   newBaseEvent("queue.enqueued"),
		WorkspaceID: workspaceID,
		SpecID:      specID,
		TaskIDs:     taskIDs,
	}
}

// Workspace implements WorkspaceScoped.
func (e TasksEnqueuedEvent) Workspace() string { return e.WorkspaceID }

// BudgetRaisedEvent is emitted when a running execution loop's iteration
// ceiling is raised to cover newly approved tasks.
type BudgetRaisedEvent struct {
	baseEvent
	WorkspaceID string
	Previous    int
	Ceiling     int
}

// NewBudgetRaisedEvent creates a BudgetRaisedEvent.
func NewBudgetRaisedEvent(workspaceID string, previous, ceiling int) BudgetRaisedEvent {
	return BudgetRaisedEvent{
		baseEvent:   newBaseEvent("loop.budget_raised"),
		WorkspaceID: workspaceID,
		Previous:    previous,
		Ceiling:     ceiling,
	}
}

// Workspace implements WorkspaceScoped.
func (e BudgetRaisedEvent) Workspace() string { return e.WorkspaceID }
