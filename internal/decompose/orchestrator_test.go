package decompose

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/QalaTech/speki-sub001/internal/attempt"
	"github.com/QalaTech/speki-sub001/internal/config"
	"github.com/QalaTech/speki-sub001/internal/errors"
	"github.com/QalaTech/speki-sub001/internal/event"
	"github.com/QalaTech/speki-sub001/internal/loop"
	"github.com/QalaTech/speki-sub001/internal/progress"
	"github.com/QalaTech/speki-sub001/internal/queuebridge"
	"github.com/QalaTech/speki-sub001/internal/stage"
	"github.com/QalaTech/speki-sub001/internal/statestore"
	"github.com/QalaTech/speki-sub001/internal/taskqueue"
	"github.com/QalaTech/speki-sub001/internal/taskset"
	"github.com/QalaTech/speki-sub001/internal/workspace"
)

type harness struct {
	o      *Orchestrator
	gen    *fakeGenerator
	rev    *fakeReviewer
	loops  *loop.Registry
	ws     workspace.Layout
	doc    string
	events *collector
}

func newHarness(t *testing.T, gen *fakeGenerator, rev *fakeReviewer) *harness {
	t.Helper()
	root := t.TempDir()
	doc := filepath.Join(root, "Billing Spec.md")
	if err := os.WriteFile(doc, []byte("# Billing\nInvoices must be generated monthly."), 0644); err != nil {
		t.Fatal(err)
	}
	ws, err := workspace.Resolve(root, "")
	if err != nil {
		t.Fatal(err)
	}

	bus := event.NewBus()
	pub := progress.NewPublisher(bus)
	loops := loop.NewRegistry()
	h := &harness{
		gen:    gen,
		rev:    rev,
		loops:  loops,
		ws:     ws,
		doc:    doc,
		events: &collector{},
	}
	h.o = New(Config{
		Generator:   gen,
		Reviewer:    rev,
		Publisher:   pub,
		Bridge:      queuebridge.New(loops, bus, nil),
		AutoEnqueue: true,
	})
	pub.Subscribe(ws.ID(), h.events.add)
	t.Cleanup(func() { h.o.Close(context.Background()) })
	return h
}

func (h *harness) start(t *testing.T, skipReview bool) Ack {
	t.Helper()
	ack, err := h.o.Start(context.Background(), StartRequest{Workspace: h.ws.Root, SourceDoc: "Billing Spec.md", SkipReview: skipReview})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.o.Wait(h.ws.Root, ack.ArtifactID)
	return ack
}

func (h *harness) state(t *testing.T, artifactID string) statestore.State {
	t.Helper()
	s, err := h.o.State(context.Background(), h.ws.Root, artifactID)
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	return s
}

func equalStatuses(got []statestore.Status, want ...statestore.Status) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestStartReviewPass(t *testing.T) {
	h := newHarness(t, newFakeGenerator("T-001", "T-002"), &fakeReviewer{results: []*stage.ReviewResult{verdict(statestore.VerdictPass)}})

	ack, err := h.o.Start(context.Background(), StartRequest{Workspace: h.ws.Root, SourceDoc: h.doc})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if ack.ArtifactID != "billing-spec" || ack.Status != statestore.StatusInitializing || ack.RunID == "" {
		t.Errorf("ack = %+v", ack)
	}
	h.o.Wait(h.ws.Root, ack.ArtifactID)

	want := []statestore.Status{
		statestore.StatusInitializing,
		statestore.StatusDecomposing,
		statestore.StatusReviewing,
		statestore.StatusCompleted,
	}
	if got := h.events.statuses(); !equalStatuses(got, want...) {
		t.Errorf("transitions = %v, want %v", got, want)
	}

	s := h.state(t, ack.ArtifactID)
	if s.Status != statestore.StatusCompleted || s.Verdict != statestore.VerdictPass {
		t.Errorf("final state = %+v", s)
	}
	if s.Attempt != 1 || s.DraftPath != h.ws.DraftPath(ack.ArtifactID) {
		t.Errorf("attempt = %d, draftPath = %q", s.Attempt, s.DraftPath)
	}
	if s.SourceDocPath != h.doc || s.StartedAt == nil {
		t.Errorf("sourceDocPath = %q, startedAt = %v", s.SourceDocPath, s.StartedAt)
	}

	complete := h.events.channel(progress.ChannelComplete)
	if len(complete) != 1 {
		t.Fatalf("complete events = %d, want 1", len(complete))
	}
	cp := complete[0].Payload.(progress.CompletePayload)
	if !cp.Success || cp.StoryCount != 2 || cp.Verdict != statestore.VerdictPass || cp.OutputPath != s.DraftPath {
		t.Errorf("complete payload = %+v", cp)
	}

	var sawToolLine bool
	for _, m := range h.events.channel(progress.ChannelLog) {
		if strings.HasPrefix(m.Payload.(progress.LogPayload).Line, "[Read]") {
			sawToolLine = true
		}
	}
	if !sawToolLine {
		t.Error("tool call was not published as a log line")
	}
	if h.o.IsGenerating(h.ws.Root) {
		t.Error("IsGenerating() = true after run finished")
	}
}

func TestFailVerdictThenRetryReview(t *testing.T) {
	issue := stage.Issue{Severity: stage.SeverityCritical, Description: "refunds not covered"}
	rev := &fakeReviewer{results: []*stage.ReviewResult{
		verdict(statestore.VerdictFail, issue),
		verdict(statestore.VerdictPass),
	}}
	h := newHarness(t, newFakeGenerator("T-001"), rev)

	ack := h.start(t, false)
	s := h.state(t, ack.ArtifactID)
	if s.Status != statestore.StatusCompleted || s.Verdict != statestore.VerdictFail {
		t.Fatalf("after first review: %+v", s)
	}
	cp := h.events.channel(progress.ChannelComplete)[0].Payload.(progress.CompletePayload)
	if len(cp.Issues) != 1 {
		t.Errorf("issues not published: %+v", cp)
	}

	retry, err := h.o.RetryReview(context.Background(), h.ws.Root, ack.ArtifactID)
	if err != nil {
		t.Fatalf("RetryReview() error = %v", err)
	}
	if retry.Status != statestore.StatusReviewing || retry.Message != "Peer review attempt 2..." {
		t.Errorf("retry ack = %+v", retry)
	}
	h.o.Wait(h.ws.Root, ack.ArtifactID)

	s = h.state(t, ack.ArtifactID)
	if s.Status != statestore.StatusCompleted || s.Verdict != statestore.VerdictPass || s.Attempt != 2 {
		t.Errorf("after retry: %+v", s)
	}

	records, err := attempt.NewLedger(h.ws.AttemptLogDir).Records(ack.ArtifactID)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[1].Number != 2 {
		t.Errorf("attempt records = %+v, want attempts 1 and 2", records)
	}
	if reqs := rev.requests(); reqs[1].Attempt != 2 {
		t.Errorf("second review attempt = %d, want 2", reqs[1].Attempt)
	}
	if len(h.gen.requests()) != 1 {
		t.Error("retry review ran generation again")
	}
}

func TestUnknownVerdictCompletes(t *testing.T) {
	h := newHarness(t, newFakeGenerator("T-001"), &fakeReviewer{results: []*stage.ReviewResult{verdict(statestore.VerdictUnknown)}})
	ack := h.start(t, false)

	s := h.state(t, ack.ArtifactID)
	if s.Status != statestore.StatusCompleted || s.Verdict != statestore.VerdictUnknown {
		t.Errorf("state = %+v, want COMPLETED/UNKNOWN", s)
	}
}

func TestSkipReview(t *testing.T) {
	rev := &fakeReviewer{results: []*stage.ReviewResult{verdict(statestore.VerdictPass)}}
	h := newHarness(t, newFakeGenerator("T-001"), rev)
	ack := h.start(t, true)

	s := h.state(t, ack.ArtifactID)
	if s.Status != statestore.StatusCompleted || s.Verdict != statestore.VerdictSkipped {
		t.Errorf("state = %+v, want COMPLETED/SKIPPED", s)
	}
	if len(rev.requests()) != 0 {
		t.Error("reviewer called with skipReview")
	}
}

func TestStartRejectsActiveRun(t *testing.T) {
	gen := newFakeGenerator("T-001")
	gen.release = make(chan struct{})
	gen.started = make(chan struct{})
	h := newHarness(t, gen, &fakeReviewer{results: []*stage.ReviewResult{verdict(statestore.VerdictPass)}})

	ack, err := h.o.Start(context.Background(), StartRequest{Workspace: h.ws.Root, SourceDoc: h.doc})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-gen.started

	if !h.o.IsGenerating(h.ws.Root) {
		t.Error("IsGenerating() = false during run")
	}
	if _, err := h.o.Start(context.Background(), StartRequest{Workspace: h.ws.Root, SourceDoc: h.doc}); !errors.Is(err, errors.ErrRunActive) {
		t.Errorf("second Start() error = %v, want ErrRunActive", err)
	}
	if _, err := h.o.RetryReview(context.Background(), h.ws.Root, ack.ArtifactID); !errors.Is(err, errors.ErrRunActive) {
		t.Errorf("RetryReview() during run = %v, want ErrRunActive", err)
	}
	if _, err := h.o.Approve(context.Background(), h.ws.Root, ack.ArtifactID); !errors.Is(err, errors.ErrRunActive) {
		t.Errorf("Approve() during run = %v, want ErrRunActive", err)
	}

	close(gen.release)
	h.o.Wait(h.ws.Root, ack.ArtifactID)
	if s := h.state(t, ack.ArtifactID); s.Status != statestore.StatusCompleted {
		t.Errorf("final status = %s", s.Status)
	}
}

func TestStartValidation(t *testing.T) {
	h := newHarness(t, newFakeGenerator("T-001"), &fakeReviewer{results: []*stage.ReviewResult{verdict(statestore.VerdictPass)}})

	tests := []struct {
		name string
		req  StartRequest
	}{
		{"missing document", StartRequest{Workspace: h.ws.Root}},
		{"nonexistent document", StartRequest{Workspace: h.ws.Root, SourceDoc: "nope.md"}},
		{"directory", StartRequest{Workspace: h.ws.Root, SourceDoc: "."}},
		{"missing workspace", StartRequest{SourceDoc: h.doc}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.o.Start(context.Background(), tt.req); !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("Start() error = %v, want validation error", err)
			}
		})
	}
	if len(h.events.statuses()) != 0 {
		t.Error("rejected start wrote state")
	}
}

func TestGenerationFailureClassified(t *testing.T) {
	gen := newFakeGenerator()
	gen.err = errors.NewStageError("generation", errors.New("exec: \"claude\": executable file not found in $PATH"))
	h := newHarness(t, gen, &fakeReviewer{results: []*stage.ReviewResult{verdict(statestore.VerdictPass)}})
	ack := h.start(t, false)

	s := h.state(t, ack.ArtifactID)
	if s.Status != statestore.StatusError || s.ErrorKind != errors.KindCLIUnavailable || s.Error == "" {
		t.Errorf("state = %+v, want ERROR/CLI_UNAVAILABLE", s)
	}
	errs := h.events.channel(progress.ChannelError)
	if len(errs) != 1 {
		t.Fatalf("error events = %d, want 1", len(errs))
	}
	if ep := errs[0].Payload.(progress.ErrorPayload); !strings.Contains(ep.Details, "CLI_UNAVAILABLE") {
		t.Errorf("error payload = %+v", ep)
	}
}

func TestReviewInvocationFailure(t *testing.T) {
	rev := &fakeReviewer{results: []*stage.ReviewResult{{
		Success:   false,
		Error:     "review timed out after 15m0s",
		ErrorKind: errors.KindTimeout,
	}}}
	h := newHarness(t, newFakeGenerator("T-001"), rev)
	ack := h.start(t, false)

	s := h.state(t, ack.ArtifactID)
	if s.Status != statestore.StatusError || s.ErrorKind != errors.KindTimeout {
		t.Errorf("state = %+v, want ERROR/TIMEOUT", s)
	}
	if s.DraftPath == "" || s.Attempt != 1 {
		t.Errorf("error state lost draft or attempt: %+v", s)
	}
}

func TestPanicEndsInError(t *testing.T) {
	gen := newFakeGenerator("T-001")
	gen.panics = true
	h := newHarness(t, gen, &fakeReviewer{results: []*stage.ReviewResult{verdict(statestore.VerdictPass)}})
	ack := h.start(t, false)

	s := h.state(t, ack.ArtifactID)
	if s.Status != statestore.StatusError || s.ErrorKind != errors.KindCrash {
		t.Errorf("state = %+v, want ERROR/CRASH", s)
	}
	if !strings.Contains(s.Error, "generator exploded") {
		t.Errorf("error = %q", s.Error)
	}
	if h.o.IsGenerating(h.ws.Root) {
		t.Error("panicked run left in registry")
	}

	// The artifact is claimable again.
	gen.panics = false
	h.start(t, false)
	if s := h.state(t, ack.ArtifactID); s.Status != statestore.StatusCompleted {
		t.Errorf("restart status = %s", s.Status)
	}
}

func TestRevise(t *testing.T) {
	gen := newFakeGenerator("T-001")
	rev := &fakeReviewer{results: []*stage.ReviewResult{verdict(statestore.VerdictFail), verdict(statestore.VerdictPass)}}
	h := newHarness(t, gen, rev)
	ack := h.start(t, false)

	if _, err := h.o.Revise(context.Background(), h.ws.Root, ack.ArtifactID, "  "); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Revise(empty) = %v, want validation error", err)
	}

	gen.tasks = append(gen.tasks, taskset.Task{ID: "T-002", Title: "Refunds"})
	revAck, err := h.o.Revise(context.Background(), h.ws.Root, ack.ArtifactID, "Cover refunds")
	if err != nil {
		t.Fatalf("Revise() error = %v", err)
	}
	if revAck.Status != statestore.StatusRevising {
		t.Errorf("ack status = %s", revAck.Status)
	}
	h.o.Wait(h.ws.Root, ack.ArtifactID)

	reqs := gen.requests()
	if len(reqs) != 2 || reqs[1].Feedback != "Cover refunds" || reqs[1].PreviousDraft == nil {
		t.Fatalf("revision request = %+v", reqs[len(reqs)-1])
	}
	if len(reqs[1].PreviousDraft.Tasks) != 1 {
		t.Errorf("previous draft tasks = %d, want 1", len(reqs[1].PreviousDraft.Tasks))
	}

	s := h.state(t, ack.ArtifactID)
	if s.Status != statestore.StatusCompleted || s.Verdict != statestore.VerdictPass || s.Attempt != 2 {
		t.Errorf("state = %+v", s)
	}

	fb, err := h.o.Feedback(context.Background(), h.ws.Root, ack.ArtifactID)
	if err != nil || fb.Feedback != "Cover refunds" {
		t.Errorf("Feedback() = (%+v, %v)", fb, err)
	}

	var sawRevising bool
	for _, st := range h.events.statuses() {
		if st == statestore.StatusRevising {
			sawRevising = true
		}
	}
	if !sawRevising {
		t.Error("REVISING not published")
	}
}

func TestFreshStartRestartsAttemptNumbering(t *testing.T) {
	rev := &fakeReviewer{results: []*stage.ReviewResult{verdict(statestore.VerdictPass)}}
	h := newHarness(t, newFakeGenerator("T-001"), rev)

	ack := h.start(t, false)
	if s := h.state(t, ack.ArtifactID); s.Attempt != 1 {
		t.Fatalf("first run attempt = %d, want 1", s.Attempt)
	}

	h.start(t, false)
	s := h.state(t, ack.ArtifactID)
	if s.Status != statestore.StatusCompleted || s.Attempt != 1 {
		t.Errorf("second run state = %+v, want attempt 1", s)
	}
	reqs := rev.requests()
	if len(reqs) != 2 || reqs[1].Attempt != 1 {
		t.Errorf("review requests = %+v", reqs)
	}

	records, err := attempt.NewLedger(h.ws.AttemptLogDir).Records(ack.ArtifactID)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Number != 1 {
		t.Errorf("current records = %+v, want only the new attempt 1", records)
	}

	entries, err := os.ReadDir(h.ws.AttemptLogDir(ack.ArtifactID))
	if err != nil {
		t.Fatal(err)
	}
	var archived int
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "run-") {
			archived++
		}
	}
	if archived != 1 {
		t.Errorf("archived run directories = %d, want 1", archived)
	}
}

func TestReviseWithUnreadableDraftIsCrash(t *testing.T) {
	rev := &fakeReviewer{results: []*stage.ReviewResult{verdict(statestore.VerdictFail)}}
	h := newHarness(t, newFakeGenerator("T-001"), rev)
	ack := h.start(t, false)

	if err := os.WriteFile(h.ws.DraftPath(ack.ArtifactID), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := h.o.Revise(context.Background(), h.ws.Root, ack.ArtifactID, "Cover refunds"); err != nil {
		t.Fatalf("Revise() error = %v", err)
	}
	h.o.Wait(h.ws.Root, ack.ArtifactID)

	s := h.state(t, ack.ArtifactID)
	if s.Status != statestore.StatusError || s.ErrorKind != errors.KindCrash {
		t.Errorf("state = %+v, want ERROR/CRASH", s)
	}
}

func TestRetryReviewRequiresDraft(t *testing.T) {
	h := newHarness(t, newFakeGenerator("T-001"), &fakeReviewer{results: []*stage.ReviewResult{verdict(statestore.VerdictPass)}})

	_, err := h.o.RetryReview(context.Background(), h.ws.Root, "billing-spec")
	if !errors.Is(err, errors.ErrNoDraft) {
		t.Errorf("RetryReview() error = %v, want ErrNoDraft", err)
	}
	if _, err := h.o.Revise(context.Background(), h.ws.Root, "billing-spec", "more"); !errors.Is(err, errors.ErrNoDraft) {
		t.Errorf("Revise() error = %v, want ErrNoDraft", err)
	}
}

func TestStaleRunCorrectedOnRead(t *testing.T) {
	root := t.TempDir()
	ws, _ := workspace.Resolve(root, "")
	store := statestore.NewFileStore(ws.SpecsDir())

	started := time.Now().Add(-time.Hour)
	if err := store.Set(context.Background(), "billing", statestore.State{
		Status:        statestore.StatusReviewing,
		Message:       "Peer review attempt 1...",
		SourceDocPath: filepath.Join(root, "billing.md"),
		StartedAt:     &started,
	}); err != nil {
		t.Fatal(err)
	}

	o := New(Config{Generator: newFakeGenerator(), Reviewer: &fakeReviewer{}})
	s, err := o.State(context.Background(), root, "billing")
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if s.Status != statestore.StatusIdle || s.Message != statestore.InterruptedMessage {
		t.Errorf("State() = %+v, want corrected IDLE", s)
	}

	persisted, _ := store.Get(context.Background(), "billing")
	if persisted.Status != statestore.StatusIdle {
		t.Errorf("correction not persisted: %+v", persisted)
	}
}

func TestCorruptedStateReadsIdle(t *testing.T) {
	h := newHarness(t, newFakeGenerator("T-001"), &fakeReviewer{results: []*stage.ReviewResult{verdict(statestore.VerdictPass)}})
	path := statestore.NewFileStore(h.ws.SpecsDir()).Path("billing-spec")
	os.MkdirAll(filepath.Dir(path), 0755)
	os.WriteFile(path, []byte("{not json"), 0644)

	if s := h.state(t, "billing-spec"); s.Status != statestore.StatusIdle {
		t.Errorf("State() = %+v, want IDLE", s)
	}
	h.start(t, false)
	if s := h.state(t, "billing-spec"); s.Status != statestore.StatusCompleted {
		t.Errorf("run over corrupted state ended in %s", s.Status)
	}
}

func TestApprove(t *testing.T) {
	h := newHarness(t, newFakeGenerator("T-001", "T-002"), &fakeReviewer{results: []*stage.ReviewResult{verdict(statestore.VerdictPass)}})
	ack := h.start(t, false)

	existing := &taskset.TaskSet{Tasks: []taskset.Task{{ID: "T-001", Title: "Already active", Passes: true}}}
	if err := taskset.Save(h.ws.ActivePath(ack.ArtifactID), existing); err != nil {
		t.Fatal(err)
	}
	res, err := h.o.Approve(context.Background(), h.ws.Root, ack.ArtifactID)
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if len(res.Added) != 1 || res.Added[0].ID != "T-002" || res.Total != 2 {
		t.Errorf("result = %+v", res)
	}
	if res.Enqueued != 1 {
		t.Errorf("Enqueued = %d, want 1", res.Enqueued)
	}
	if res.LoopRaised || res.Ceiling != 0 {
		t.Errorf("no loop running but raised = %v, ceiling = %d", res.LoopRaised, res.Ceiling)
	}

	active, err := taskset.Load(h.ws.ActivePath(ack.ArtifactID))
	if err != nil || len(active.Tasks) != 2 || active.Tasks[0].Title != "Already active" {
		t.Errorf("active = %+v, err = %v", active, err)
	}
	if active.ProjectName != "billing" {
		t.Errorf("metadata not inherited: %q", active.ProjectName)
	}
	if _, err := os.Stat(h.ws.DraftPath(ack.ArtifactID)); !os.IsNotExist(err) {
		t.Error("draft not cleared")
	}

	refs, _ := taskqueue.New(h.ws.QueuePath()).List()
	if len(refs) != 1 || refs[0].TaskID != "T-002" || refs[0].SpecID != ack.ArtifactID {
		t.Errorf("queue = %+v", refs)
	}

	if s := h.state(t, ack.ArtifactID); s.DraftPath != "" || !strings.HasPrefix(s.Message, "Draft approved") {
		t.Errorf("state after approve = %+v", s)
	}
}

func TestApproveRaisesRunningLoop(t *testing.T) {
	h := newHarness(t, newFakeGenerator("T-004"), &fakeReviewer{results: []*stage.ReviewResult{verdict(statestore.VerdictPass)}})
	ack := h.start(t, false)

	// Three incomplete tasks are active and the loop was sized for them.
	existing := &taskset.TaskSet{Tasks: []taskset.Task{{ID: "T-001"}, {ID: "T-002"}, {ID: "T-003"}}}
	taskset.Save(h.ws.ActivePath(ack.ArtifactID), existing)
	h.loops.Start(h.ws.ID(), 5)

	res, err := h.o.Approve(context.Background(), h.ws.Root, ack.ArtifactID)
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if !res.LoopRaised || res.Ceiling != 7 {
		t.Errorf("Approve() raised = %v, ceiling = %d, want true, 7", res.LoopRaised, res.Ceiling)
	}
	if s, _ := h.loops.Get(h.ws.ID()); s.MaxIterations != 7 {
		t.Errorf("loop ceiling = %d, want 7", s.MaxIterations)
	}
}

func TestApproveRejectsMissingOrEmptyDraft(t *testing.T) {
	h := newHarness(t, newFakeGenerator("T-001"), &fakeReviewer{results: []*stage.ReviewResult{verdict(statestore.VerdictPass)}})
	store := statestore.NewFileStore(h.ws.SpecsDir())

	if _, err := h.o.Approve(context.Background(), h.ws.Root, "billing-spec"); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Approve(missing) = %v, want validation error", err)
	}
	if _, err := os.Stat(store.Path("billing-spec")); !os.IsNotExist(err) {
		t.Error("rejected approval created a state record")
	}

	ack := h.start(t, false)
	before, _ := store.Get(context.Background(), ack.ArtifactID)
	taskset.Save(h.ws.DraftPath(ack.ArtifactID), &taskset.TaskSet{})

	if _, err := h.o.Approve(context.Background(), h.ws.Root, ack.ArtifactID); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Approve(empty) = %v, want validation error", err)
	}
	after, _ := store.Get(context.Background(), ack.ArtifactID)
	if before.Message != after.Message || !before.UpdatedAt.Equal(*after.UpdatedAt) {
		t.Error("rejected approval mutated state")
	}
	if _, err := os.Stat(h.ws.ActivePath(ack.ArtifactID)); !os.IsNotExist(err) {
		t.Error("rejected approval wrote the active task list")
	}
}

func TestFeedbackRoundTrip(t *testing.T) {
	h := newHarness(t, newFakeGenerator(), &fakeReviewer{})

	if _, err := h.o.Feedback(context.Background(), h.ws.Root, "billing-spec"); !errors.Is(err, &errors.NotFoundError{}) {
		t.Errorf("Feedback() before save = %v, want not found", err)
	}
	if _, err := h.o.SaveFeedback(context.Background(), h.ws.Root, "billing-spec", "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.o.SaveFeedback(context.Background(), h.ws.Root, "billing-spec", "second"); err != nil {
		t.Fatal(err)
	}
	fb, err := h.o.Feedback(context.Background(), h.ws.Root, "billing-spec")
	if err != nil || fb.Feedback != "second" || fb.Timestamp.IsZero() {
		t.Errorf("Feedback() = (%+v, %v)", fb, err)
	}
}

func TestSQLiteBackedRun(t *testing.T) {
	root := t.TempDir()
	doc := filepath.Join(root, "auth.md")
	os.WriteFile(doc, []byte("# Auth"), 0644)

	o := New(Config{
		Generator: newFakeGenerator("T-001"),
		Reviewer:  &fakeReviewer{results: []*stage.ReviewResult{verdict(statestore.VerdictPass)}},
		OpenStore: OpenerFor(config.StateConfig{Backend: "sqlite", SQLitePath: "state.db"}),
	})
	ack, err := o.Start(context.Background(), StartRequest{Workspace: root, SourceDoc: doc})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	o.Wait(root, ack.ArtifactID)

	s, err := o.State(context.Background(), root, ack.ArtifactID)
	if err != nil || s.Status != statestore.StatusCompleted {
		t.Errorf("State() = (%+v, %v)", s, err)
	}
	ws, _ := workspace.Resolve(root, "")
	if _, err := os.Stat(filepath.Join(ws.DataDir(), "state.db")); err != nil {
		t.Errorf("database not created: %v", err)
	}
	if err := o.Close(context.Background()); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestCloseRejectsNewRuns(t *testing.T) {
	h := newHarness(t, newFakeGenerator("T-001"), &fakeReviewer{results: []*stage.ReviewResult{verdict(statestore.VerdictPass)}})
	if err := h.o.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := h.o.Start(context.Background(), StartRequest{Workspace: h.ws.Root, SourceDoc: h.doc}); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Close = %v, want ErrClosed", err)
	}
}

func TestCloseWaitsForRuns(t *testing.T) {
	gen := newFakeGenerator("T-001")
	gen.release = make(chan struct{})
	gen.started = make(chan struct{})
	h := newHarness(t, gen, &fakeReviewer{results: []*stage.ReviewResult{verdict(statestore.VerdictPass)}})

	ack, _ := h.o.Start(context.Background(), StartRequest{Workspace: h.ws.Root, SourceDoc: h.doc})
	<-gen.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := h.o.Close(ctx); err == nil {
		t.Error("Close() returned before in-flight run finished")
	}

	close(gen.release)
	if err := h.o.Close(context.Background()); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if s := h.state(t, ack.ArtifactID); !s.Status.IsTerminal() {
		t.Errorf("status after Close = %s", s.Status)
	}
}
