package statestore

import (
	"context"
	"time"

	"github.com/QalaTech/speki-sub001/internal/logging"
)

// InterruptedMessage replaces the message of a run that did not survive a
// process restart.
const InterruptedMessage = "Previous decomposition was interrupted (server restarted). Start again to retry."

// Reader is the read path for state. Every Get passes through the stale-run
// check: a record in an active status whose StartedAt precedes the process
// start time belongs to a run that can no longer finish, so it is rewritten
// to IDLE and persisted before being returned.
type Reader struct {
	store        Store
	processStart time.Time
	logger       *logging.Logger
}

// NewReader wraps store. processStart is normally the time the server
// process began; a nil logger discards output.
func NewReader(store Store, processStart time.Time, logger *logging.Logger) *Reader {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Reader{store: store, processStart: processStart, logger: logger}
}

// Store returns the wrapped store for writes.
func (r *Reader) Store() Store { return r.store }

// ProcessStart returns the cutoff used by the stale-run check.
func (r *Reader) ProcessStart() time.Time { return r.processStart }

// Get returns the stale-corrected state of an artifact. A failure to persist
// the correction is logged and the corrected state is still returned.
func (r *Reader) Get(ctx context.Context, artifactID string) (State, error) {
	s, err := r.store.Get(ctx, artifactID)
	if err != nil {
		return s, err
	}
	corrected, stale := r.Correct(s)
	if !stale {
		return s, nil
	}

	r.logger.WithArtifact(artifactID).Warn("correcting stale run",
		"previous_status", string(s.Status),
		"started_at", s.StartedAt.Format(time.RFC3339),
		"process_start", r.processStart.Format(time.RFC3339),
	)
	if err := r.store.Set(ctx, artifactID, corrected); err != nil {
		r.logger.WithArtifact(artifactID).Error("failed to persist stale-run correction", "error", err)
	}
	return corrected, nil
}

// Correct applies the stale-run rule to s without touching storage. Records
// without StartedAt are never considered stale.
func (r *Reader) Correct(s State) (State, bool) {
	if !s.Status.IsActive() || s.StartedAt == nil || !s.StartedAt.Before(r.processStart) {
		return s, false
	}
	return State{
		Status:        StatusIdle,
		Message:       InterruptedMessage,
		SourceDocPath: s.SourceDocPath,
		DraftPath:     s.DraftPath,
		Attempt:       s.Attempt,
	}, true
}
