package statestore

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/QalaTech/speki-sub001/internal/errors"
)

// Status is the pipeline position of an artifact.
type Status string

const (
	StatusIdle         Status = "IDLE"
	StatusInitializing Status = "INITIALIZING"
	StatusDecomposing  Status = "DECOMPOSING"
	StatusReviewing    Status = "REVIEWING"
	StatusRevising     Status = "REVISING"
	StatusCompleted    Status = "COMPLETED"
	StatusError        Status = "ERROR"
)

// IsActive reports whether a run owns the artifact in this status.
func (s Status) IsActive() bool {
	switch s {
	case StatusInitializing, StatusDecomposing, StatusReviewing, StatusRevising:
		return true
	}
	return false
}

// IsTerminal reports whether a run has finished in this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Verdict is the outcome of the review stage.
type Verdict string

const (
	VerdictPass    Verdict = "PASS"
	VerdictFail    Verdict = "FAIL"
	VerdictUnknown Verdict = "UNKNOWN"
	// VerdictSkipped marks a run that completed without review.
	VerdictSkipped Verdict = "SKIPPED"
)

// ParseVerdict normalizes a verdict string from the review output. Anything
// other than PASS or FAIL is UNKNOWN.
func ParseVerdict(s string) Verdict {
	switch Verdict(strings.ToUpper(strings.TrimSpace(s))) {
	case VerdictPass:
		return VerdictPass
	case VerdictFail:
		return VerdictFail
	case VerdictSkipped:
		return VerdictSkipped
	default:
		return VerdictUnknown
	}
}

// State is the persisted decomposition record of one artifact.
type State struct {
	Status        Status      `json:"status"`
	Message       string      `json:"message"`
	SourceDocPath string      `json:"sourceDocPath,omitempty"`
	DraftPath     string      `json:"draftPath,omitempty"`
	Verdict       Verdict     `json:"verdict,omitempty"`
	Error         string      `json:"error,omitempty"`
	ErrorKind     errors.Kind `json:"errorKind,omitempty"`
	StartedAt     *time.Time  `json:"startedAt,omitempty"`
	Attempt       int         `json:"attempt,omitempty"`
	ReviewPath    string      `json:"reviewPath,omitempty"`
	UpdatedAt     *time.Time  `json:"updatedAt,omitempty"`
}

// DefaultMessage is the message of an artifact that has never been decomposed.
const DefaultMessage = "Ready to decompose"

// Default returns the state of an artifact with no persisted record.
func Default() State {
	return State{Status: StatusIdle, Message: DefaultMessage}
}

// Store reads and writes State records by artifact ID.
type Store interface {
	// Get returns the stored record, or Default() when none exists.
	Get(ctx context.Context, artifactID string) (State, error)
	// Set overwrites the record in full.
	Set(ctx context.Context, artifactID string, s State) error
	// List returns the IDs of all artifacts with a record.
	List(ctx context.Context) ([]string, error)
}

var nonIDChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// ArtifactID derives the stable artifact identifier from a document path:
// the lower-cased file stem with every run of other characters replaced by
// a single '-'.
func ArtifactID(docPath string) string {
	base := filepath.Base(docPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	id := nonIDChars.ReplaceAllString(strings.ToLower(stem), "-")
	id = strings.Trim(id, "-")
	if id == "" || id == "." || id == ".." {
		return "untitled"
	}
	return id
}

// stamp sets UpdatedAt. StartedAt is left as the caller wrote it.
func stamp(s State, now time.Time) State {
	t := now.UTC()
	s.UpdatedAt = &t
	return s
}
