// Package taskset defines the structured task list produced by decomposing a
// requirements document, and its on-disk JSON form.
package taskset

import (
	"fmt"
	"os"
	"strings"

	"github.com/QalaTech/speki-sub001/internal/errors"
	"github.com/QalaTech/speki-sub001/internal/util"
)

// Complexity is the generator's estimate of a task's size.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Task is one unit of implementation work.
type Task struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	AcceptanceCriteria []string   `json:"acceptanceCriteria"`
	Dependencies       []string   `json:"dependencies"`
	Complexity         Complexity `json:"complexity,omitempty"`
	ReviewStatus       string     `json:"reviewStatus,omitempty"`
	Passes             bool       `json:"passes"`
	Notes              string     `json:"notes,omitempty"`
}

// TaskSet is the output of the generation stage and the unit of approval.
type TaskSet struct {
	ProjectName string `json:"projectName"`
	BranchName  string `json:"branchName"`
	Language    string `json:"language"`
	Description string `json:"description"`
	Tasks       []Task `json:"tasks"`
}

// Validate checks that every task has an ID and that IDs are unique.
func (ts *TaskSet) Validate() error {
	seen := make(map[string]bool, len(ts.Tasks))
	for i, t := range ts.Tasks {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return errors.NewValidationError("task id is required").WithField(fmt.Sprintf("tasks[%d].id", i))
		}
		if seen[id] {
			return errors.NewValidationError("duplicate task id").
				WithField(fmt.Sprintf("tasks[%d].id", i)).
				WithValue(id).
				WithCause(errors.ErrDuplicateTask)
		}
		seen[id] = true
	}
	for i, c := range ts.Tasks {
		if c.Complexity != "" && c.Complexity != ComplexityLow && c.Complexity != ComplexityMedium && c.Complexity != ComplexityHigh {
			return errors.NewValidationError("unknown complexity").
				WithField(fmt.Sprintf("tasks[%d].complexity", i)).
				WithValue(string(c.Complexity))
		}
	}
	return nil
}

// IDs returns task IDs in order.
func (ts *TaskSet) IDs() []string {
	ids := make([]string, len(ts.Tasks))
	for i, t := range ts.Tasks {
		ids[i] = t.ID
	}
	return ids
}

// Has reports whether a task with id exists.
func (ts *TaskSet) Has(id string) bool {
	for _, t := range ts.Tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}

// Incomplete returns the number of tasks that do not pass yet.
func (ts *TaskSet) Incomplete() int {
	n := 0
	for _, t := range ts.Tasks {
		if !t.Passes {
			n++
		}
	}
	return n
}

// Load reads a TaskSet from path. A missing file returns an error for which
// os.IsNotExist is true.
func Load(path string) (*TaskSet, error) {
	var ts TaskSet
	if err := util.ReadJSON(path, &ts); err != nil {
		return nil, err
	}
	return &ts, nil
}

// LoadOrEmpty reads a TaskSet from path, returning an empty set when the file
// does not exist.
func LoadOrEmpty(path string) (*TaskSet, error) {
	ts, err := Load(path)
	if os.IsNotExist(err) {
		return &TaskSet{}, nil
	}
	return ts, err
}

// Save writes ts atomically.
func Save(path string, ts *TaskSet) error {
	if ts.Tasks == nil {
		ts.Tasks = []Task{}
	}
	return util.WriteJSON(path, ts)
}
