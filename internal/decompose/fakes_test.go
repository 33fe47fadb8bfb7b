package decompose

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/QalaTech/speki-sub001/internal/attempt"
	"github.com/QalaTech/speki-sub001/internal/progress"
	"github.com/QalaTech/speki-sub001/internal/stage"
	"github.com/QalaTech/speki-sub001/internal/statestore"
	"github.com/QalaTech/speki-sub001/internal/taskset"
)

// fakeGenerator writes a fixed draft. When release is non-nil it blocks
// until the channel is closed.
type fakeGenerator struct {
	mu      sync.Mutex
	tasks   []taskset.Task
	err     error
	panics  bool
	release chan struct{}
	started chan struct{}
	reqs    []stage.GenerateRequest
}

func newFakeGenerator(ids ...string) *fakeGenerator {
	g := &fakeGenerator{}
	for _, id := range ids {
		g.tasks = append(g.tasks, taskset.Task{ID: id, Title: "Task " + id})
	}
	return g
}

func (g *fakeGenerator) Generate(ctx context.Context, req stage.GenerateRequest, cb stage.Callbacks) (*stage.GenerateResult, error) {
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	release, started := g.release, g.started
	g.mu.Unlock()

	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	if g.panics {
		panic("generator exploded")
	}
	if cb.OnText != nil {
		cb.OnText("Reading document\nPlanning tasks")
	}
	if cb.OnToolCall != nil {
		cb.OnToolCall("Read", req.SourceDocPath)
	}
	if g.err != nil {
		return nil, g.err
	}

	ts := &taskset.TaskSet{ProjectName: "billing", Tasks: append([]taskset.Task{}, g.tasks...)}
	if err := taskset.Save(req.DraftPath, ts); err != nil {
		return nil, err
	}
	return &stage.GenerateResult{TaskSet: ts, DraftPath: req.DraftPath}, nil
}

func (g *fakeGenerator) requests() []stage.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]stage.GenerateRequest{}, g.reqs...)
}

// fakeReviewer returns scripted results in order, repeating the last one.
// Each call writes an attempt log so the ledger sees it.
type fakeReviewer struct {
	mu      sync.Mutex
	results []*stage.ReviewResult
	reqs    []stage.ReviewRequest
}

func (r *fakeReviewer) Review(ctx context.Context, req stage.ReviewRequest, cb stage.Callbacks) (*stage.ReviewResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)

	os.MkdirAll(req.LogDir, 0755)
	logPath := filepath.Join(req.LogDir, attempt.LogName(req.Attempt, time.Now()))
	if err := os.WriteFile(logPath, []byte("review"), 0644); err != nil {
		return nil, err
	}

	i := len(r.reqs) - 1
	if i >= len(r.results) {
		i = len(r.results) - 1
	}
	res := *r.results[i]
	res.LogPath = logPath
	return &res, nil
}

func (r *fakeReviewer) requests() []stage.ReviewRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]stage.ReviewRequest{}, r.reqs...)
}

func verdict(v statestore.Verdict, issues ...stage.Issue) *stage.ReviewResult {
	return &stage.ReviewResult{Success: true, Verdict: v, Issues: issues}
}

// collector records progress messages of one workspace.
type collector struct {
	mu   sync.Mutex
	msgs []progress.Message
}

func (c *collector) add(m progress.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
}

func (c *collector) statuses() []statestore.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []statestore.Status
	for _, m := range c.msgs {
		if sp, ok := m.Payload.(progress.StatePayload); ok {
			out = append(out, sp.Status)
		}
	}
	return out
}

func (c *collector) channel(name string) []progress.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []progress.Message
	for _, m := range c.msgs {
		if m.Channel == name {
			out = append(out, m)
		}
	}
	return out
}
