// Package workspace resolves project directories and the on-disk layout
// speki keeps inside them.
//
//	<root>/.speki/
//	    specs/<artifactID>/decompose_state.json
//	    specs/<artifactID>/tasks.draft.json
//	    specs/<artifactID>/tasks.json
//	    specs/<artifactID>/feedback.json
//	    specs/<artifactID>/logs/peer_review_attempt_<N>_<ts>.log
//	    queue.json
//	    logs/debug.log
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultDataDir is the directory name used when no configuration is given.
const DefaultDataDir = ".speki"

// File names inside a spec directory.
const (
	DraftFileName    = "tasks.draft.json"
	ActiveFileName   = "tasks.json"
	FeedbackFileName = "feedback.json"
	QueueFileName    = "queue.json"
)

// Layout locates speki files for one workspace.
type Layout struct {
	// Root is the absolute, cleaned project directory. It doubles as the
	// workspace ID.
	Root    string
	dataDir string
}

// Resolve normalizes path into a Layout. path must exist and be a directory.
// An empty dataDir selects DefaultDataDir.
func Resolve(path, dataDir string) (Layout, error) {
	if strings.TrimSpace(path) == "" {
		return Layout{}, fmt.Errorf("workspace path is required")
	}
	root, err := ID(path)
	if err != nil {
		return Layout{}, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return Layout{}, fmt.Errorf("workspace %s: %w", root, err)
	}
	if !info.IsDir() {
		return Layout{}, fmt.Errorf("workspace %s is not a directory", root)
	}
	if dataDir == "" {
		dataDir = DefaultDataDir
	}
	return Layout{Root: root, dataDir: dataDir}, nil
}

// ID returns the workspace ID of path: its absolute form with symlinks
// resolved when possible.
func ID(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return filepath.Clean(abs), nil
}

// ID returns the workspace ID.
func (l Layout) ID() string { return l.Root }

// DataDir is <root>/.speki.
func (l Layout) DataDir() string { return filepath.Join(l.Root, l.dataDir) }

// SpecsDir is the state store root.
func (l Layout) SpecsDir() string { return filepath.Join(l.DataDir(), "specs") }

// SpecDir holds every file for one artifact.
func (l Layout) SpecDir(artifactID string) string {
	return filepath.Join(l.SpecsDir(), artifactID)
}

// DraftPath is the unapproved task list written by the generation stage.
func (l Layout) DraftPath(artifactID string) string {
	return filepath.Join(l.SpecDir(artifactID), DraftFileName)
}

// ActivePath is the approved task list.
func (l Layout) ActivePath(artifactID string) string {
	return filepath.Join(l.SpecDir(artifactID), ActiveFileName)
}

// FeedbackPath is the operator's latest revision feedback.
func (l Layout) FeedbackPath(artifactID string) string {
	return filepath.Join(l.SpecDir(artifactID), FeedbackFileName)
}

// AttemptLogDir holds review attempt logs and review JSON artifacts.
func (l Layout) AttemptLogDir(artifactID string) string {
	return filepath.Join(l.SpecDir(artifactID), "logs")
}

// QueuePath is the execution queue file.
func (l Layout) QueuePath() string { return filepath.Join(l.DataDir(), QueueFileName) }

// LogDir holds debug.log.
func (l Layout) LogDir() string { return filepath.Join(l.DataDir(), "logs") }

// Rel returns path relative to the workspace root when it lies inside it.
func (l Layout) Rel(path string) string {
	rel, err := filepath.Rel(l.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
