// Package loop tracks execution loops that work through a workspace's task
// queue. The loop itself runs elsewhere; this package only records which
// workspaces have one running and how many iterations each may take, so
// newly approved work can extend a live loop's budget.
package loop

import (
	"sync"
	"time"
)

// IterationBudget returns the iteration ceiling for a loop with incomplete
// tasks outstanding: one iteration per task plus one retry for all but the
// last, never less than 1.
func IterationBudget(incomplete int) int {
	if n := 2*incomplete - 1; n > 1 {
		return n
	}
	return 1
}

// Phase is the lifecycle phase of a loop.
type Phase string

const (
	PhaseWorking       Phase = "working"
	PhaseComplete      Phase = "complete"
	PhaseMaxIterations Phase = "max_iterations"
	PhaseCancelled     Phase = "cancelled"
)

// Session is the tracked state of one loop.
type Session struct {
	WorkspaceID      string     `json:"workspaceId"`
	MaxIterations    int        `json:"maxIterations"`
	CurrentIteration int        `json:"currentIteration"`
	Phase            Phase      `json:"phase"`
	StartedAt        time.Time  `json:"startedAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// IsActive reports whether the loop is still running.
func (s Session) IsActive() bool {
	return s.Phase == PhaseWorking
}

// ShouldContinue reports whether another iteration may start.
func (s Session) ShouldContinue() bool {
	if !s.IsActive() {
		return false
	}
	return s.MaxIterations <= 0 || s.CurrentIteration < s.MaxIterations
}

// Registry holds the loops of this process keyed by workspace id. At most
// one loop runs per workspace.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session), now: time.Now}
}

// Start records a running loop for workspaceID, replacing any finished one.
// It returns false if a loop is already working there.
func (r *Registry) Start(workspaceID string, maxIterations int) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[workspaceID]; ok && s.IsActive() {
		return *s, false
	}
	s := &Session{
		WorkspaceID:   workspaceID,
		MaxIterations: maxIterations,
		Phase:         PhaseWorking,
		StartedAt:     r.now(),
	}
	r.sessions[workspaceID] = s
	return *s, true
}

// Get returns a copy of the loop for workspaceID.
func (r *Registry) Get(workspaceID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[workspaceID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Active reports whether a loop is working in workspaceID.
func (r *Registry) Active(workspaceID string) bool {
	s, ok := r.Get(workspaceID)
	return ok && s.IsActive()
}

// Advance counts one iteration and returns the updated loop. A loop that
// reaches its ceiling moves to PhaseMaxIterations.
func (r *Registry) Advance(workspaceID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[workspaceID]
	if !ok || !s.IsActive() {
		return Session{}, false
	}
	s.CurrentIteration++
	if s.MaxIterations > 0 && s.CurrentIteration >= s.MaxIterations {
		r.finishLocked(s, PhaseMaxIterations)
	}
	return *s, true
}

// RaiseCeiling sets the loop's ceiling to ceiling if that is higher than the
// current one. It never lowers a ceiling, and an unlimited loop stays
// unlimited. The previous ceiling is returned along with whether it
// changed; both are zero values when no loop is working in workspaceID.
func (r *Registry) RaiseCeiling(workspaceID string, ceiling int) (previous int, raised bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[workspaceID]
	if !ok || !s.IsActive() {
		return 0, false
	}
	previous = s.MaxIterations
	if previous <= 0 || ceiling <= previous {
		return previous, false
	}
	s.MaxIterations = ceiling
	return previous, true
}

// Finish ends the loop for workspaceID with phase.
func (r *Registry) Finish(workspaceID string, phase Phase) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[workspaceID]
	if !ok || !s.IsActive() {
		return false
	}
	r.finishLocked(s, phase)
	return true
}

func (r *Registry) finishLocked(s *Session, phase Phase) {
	now := r.now()
	s.Phase = phase
	s.CompletedAt = &now
}
