package decompose

import (
	"sort"
	"sync"
	"time"
)

// ActiveRun describes a run in flight in this process.
type ActiveRun struct {
	RunID      string    `json:"runId"`
	ArtifactID string    `json:"artifactId"`
	Operation  string    `json:"operation"`
	StartedAt  time.Time `json:"startedAt"`
}

// Registry tracks in-flight runs keyed by workspace id. Entries are added
// when a run is accepted and removed when it reaches a terminal state. It
// is a best-effort view for callers such as IsGenerating; the state store
// remains the authority on run status.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]map[string]ActiveRun
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]map[string]ActiveRun)}
}

// Add records run in workspaceID.
func (r *Registry) Add(workspaceID string, run ActiveRun) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byArtifact, ok := r.runs[workspaceID]
	if !ok {
		byArtifact = make(map[string]ActiveRun)
		r.runs[workspaceID] = byArtifact
	}
	byArtifact[run.ArtifactID] = run
}

// Remove drops the run for artifactID if its id matches runID.
func (r *Registry) Remove(workspaceID, artifactID, runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byArtifact := r.runs[workspaceID]
	if run, ok := byArtifact[artifactID]; ok && run.RunID == runID {
		delete(byArtifact, artifactID)
	}
	if len(byArtifact) == 0 {
		delete(r.runs, workspaceID)
	}
}

// Get returns the run for artifactID in workspaceID.
func (r *Registry) Get(workspaceID, artifactID string) (ActiveRun, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[workspaceID][artifactID]
	return run, ok
}

// IsGenerating reports whether any run is in flight in workspaceID.
func (r *Registry) IsGenerating(workspaceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs[workspaceID]) > 0
}

// Active returns the runs in flight in workspaceID ordered by start time.
func (r *Registry) Active(workspaceID string) []ActiveRun {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ActiveRun, 0, len(r.runs[workspaceID]))
	for _, run := range r.runs[workspaceID] {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
