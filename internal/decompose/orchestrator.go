package decompose

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/QalaTech/speki-sub001/internal/attempt"
	"github.com/QalaTech/speki-sub001/internal/errors"
	"github.com/QalaTech/speki-sub001/internal/event"
	"github.com/QalaTech/speki-sub001/internal/logging"
	"github.com/QalaTech/speki-sub001/internal/metrics"
	"github.com/QalaTech/speki-sub001/internal/progress"
	"github.com/QalaTech/speki-sub001/internal/queuebridge"
	"github.com/QalaTech/speki-sub001/internal/stage"
	"github.com/QalaTech/speki-sub001/internal/statestore"
	"github.com/QalaTech/speki-sub001/internal/workspace"
)

// ErrClosed is returned for requests made after Close.
var ErrClosed = errors.New("orchestrator is shutting down")

// Config wires an Orchestrator.
type Config struct {
	Generator stage.Generator
	Reviewer  stage.Reviewer
	Publisher *progress.Publisher
	Bridge    *queuebridge.Bridge
	// OpenStore defaults to FileStores.
	OpenStore StoreOpener
	// DataDir is the per-workspace data directory name (".speki").
	DataDir string
	// ProcessStart is the cutoff for the stale-run check. Defaults to now.
	ProcessStart time.Time
	// AutoEnqueue hands approved tasks to the execution queue.
	AutoEnqueue bool
	Metrics     metrics.Recorder
	Logger      *logging.Logger
}

// StartRequest asks for a new decomposition of SourceDoc.
type StartRequest struct {
	// Workspace is the project directory.
	Workspace string `json:"workspace"`
	// SourceDoc is the document path, absolute or relative to Workspace.
	SourceDoc  string `json:"sourceDoc"`
	SkipReview bool   `json:"skipReview,omitempty"`
}

// Ack acknowledges an accepted run. The run continues in the background.
type Ack struct {
	RunID       string            `json:"runId"`
	WorkspaceID string            `json:"workspaceId"`
	ArtifactID  string            `json:"artifactId"`
	Status      statestore.Status `json:"status"`
	Message     string            `json:"message"`
}

// Orchestrator drives decomposition runs.
type Orchestrator struct {
	generator stage.Generator
	reviewer  stage.Reviewer
	publisher *progress.Publisher
	bridge    *queuebridge.Bridge
	openStore StoreOpener
	dataDir   string
	start     time.Time
	enqueue   bool
	metrics   metrics.Recorder
	logger    *logging.Logger
	registry  *Registry
	now       func() time.Time

	mu      sync.Mutex
	readers map[string]*statestore.Reader
	claims  map[string]*sync.Mutex
	done    map[string]chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		generator: cfg.Generator,
		reviewer:  cfg.Reviewer,
		publisher: cfg.Publisher,
		bridge:    cfg.Bridge,
		openStore: cfg.OpenStore,
		dataDir:   cfg.DataDir,
		start:     cfg.ProcessStart,
		enqueue:   cfg.AutoEnqueue,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		registry:  NewRegistry(),
		now:       time.Now,
		readers:   make(map[string]*statestore.Reader),
		claims:    make(map[string]*sync.Mutex),
		done:      make(map[string]chan struct{}),
	}
	if o.openStore == nil {
		o.openStore = FileStores()
	}
	if o.dataDir == "" {
		o.dataDir = workspace.DefaultDataDir
	}
	if o.start.IsZero() {
		o.start = time.Now()
	}
	if o.metrics == nil {
		o.metrics = metrics.Nop()
	}
	if o.logger == nil {
		o.logger = logging.NopLogger()
	}
	if o.publisher == nil {
		o.publisher = progress.NewPublisher(event.NewBus())
	}
	if o.bridge == nil {
		o.bridge = queuebridge.New(nil, nil, o.logger)
	}
	return o
}

// Registry returns the in-flight run registry.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Resolve returns the layout of a workspace path.
func (o *Orchestrator) Resolve(workspacePath string) (workspace.Layout, error) {
	ws, err := workspace.Resolve(workspacePath, o.dataDir)
	if err != nil {
		return workspace.Layout{}, errors.NewValidationError(err.Error()).WithField("workspace")
	}
	return ws, nil
}

// reader returns the stale-checking state reader of ws, opening its store
// on first use.
func (o *Orchestrator) reader(ws workspace.Layout) (*statestore.Reader, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if r, ok := o.readers[ws.ID()]; ok {
		return r, nil
	}
	store, err := o.openStore(ws)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store for %s: %w", ws.Root, err)
	}
	r := statestore.NewReader(store, o.start, o.logger.WithWorkspace(ws.ID()))
	o.readers[ws.ID()] = r
	return r, nil
}

// State returns the current state of an artifact. Reads go through the
// stale-run check. An unreadable record is reported as IDLE.
func (o *Orchestrator) State(ctx context.Context, workspacePath, artifactID string) (statestore.State, error) {
	ws, err := o.Resolve(workspacePath)
	if err != nil {
		return statestore.State{}, err
	}
	return o.state(ctx, ws, artifactID)
}

func (o *Orchestrator) state(ctx context.Context, ws workspace.Layout, artifactID string) (statestore.State, error) {
	if artifactID == "" {
		return statestore.State{}, errors.NewValidationError("artifact id is required").WithField("artifact")
	}
	r, err := o.reader(ws)
	if err != nil {
		return statestore.State{}, err
	}
	s, err := r.Get(ctx, artifactID)
	if errors.Is(err, errors.ErrStateCorrupted) {
		o.logger.WithWorkspace(ws.ID()).WithArtifact(artifactID).Warn("treating unreadable state as idle", "error", err)
		return statestore.Default(), nil
	}
	return s, err
}

// IsGenerating reports whether this process has a run in flight in the
// workspace.
func (o *Orchestrator) IsGenerating(workspacePath string) bool {
	id, err := workspace.ID(workspacePath)
	if err != nil {
		return false
	}
	return o.registry.IsGenerating(id)
}

// Start validates req, claims the artifact and begins generation in the
// background. It returns errors.ErrRunActive if the artifact already has an
// active run.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (Ack, error) {
	ws, err := o.Resolve(req.Workspace)
	if err != nil {
		return Ack{}, err
	}
	doc, err := resolveDocument(ws, req.SourceDoc)
	if err != nil {
		return Ack{}, err
	}

	r := &run{
		op:         metrics.OpStart,
		ws:         ws,
		artifactID: statestore.ArtifactID(doc),
		sourceDoc:  doc,
		skipReview: req.SkipReview,
	}
	initial := statestore.State{
		Status:        statestore.StatusInitializing,
		Message:       fmt.Sprintf("Starting decomposition of %s...", filepath.Base(doc)),
		SourceDocPath: doc,
	}
	return o.launch(ctx, r, initial, nil)
}

// RetryReview runs the review stage again on the existing draft with the
// next attempt number.
func (o *Orchestrator) RetryReview(ctx context.Context, workspacePath, artifactID string) (Ack, error) {
	ws, err := o.Resolve(workspacePath)
	if err != nil {
		return Ack{}, err
	}
	r := &run{op: metrics.OpRetryReview, ws: ws, artifactID: artifactID, reviewOnly: true}

	return o.launch(ctx, r, statestore.State{}, func(current statestore.State) (statestore.State, error) {
		if err := requireDraft(ws, artifactID); err != nil {
			return statestore.State{}, err
		}
		if current.SourceDocPath == "" {
			return statestore.State{}, errors.NewValidationError("no source document recorded for " + artifactID)
		}
		n, err := attempt.NewLedger(ws.AttemptLogDir).Next(artifactID)
		if err != nil {
			return statestore.State{}, err
		}
		r.sourceDoc = current.SourceDocPath
		r.attempt = n
		return statestore.State{
			Status:        statestore.StatusReviewing,
			Message:       reviewMessage(n),
			SourceDocPath: current.SourceDocPath,
			DraftPath:     ws.DraftPath(artifactID),
			Attempt:       n,
		}, nil
	})
}

// Revise regenerates the draft with operator feedback and reviews the
// result. The feedback is saved as the artifact's feedback record.
func (o *Orchestrator) Revise(ctx context.Context, workspacePath, artifactID, feedback string) (Ack, error) {
	ws, err := o.Resolve(workspacePath)
	if err != nil {
		return Ack{}, err
	}
	if strings.TrimSpace(feedback) == "" {
		return Ack{}, errors.NewValidationError("feedback is required").WithField("feedback")
	}
	r := &run{op: metrics.OpRevise, ws: ws, artifactID: artifactID, feedback: feedback}

	return o.launch(ctx, r, statestore.State{}, func(current statestore.State) (statestore.State, error) {
		if err := requireDraft(ws, artifactID); err != nil {
			return statestore.State{}, err
		}
		if current.SourceDocPath == "" {
			return statestore.State{}, errors.NewValidationError("no source document recorded for " + artifactID)
		}
		if _, err := saveFeedback(ws, artifactID, feedback, o.now()); err != nil {
			return statestore.State{}, err
		}
		r.sourceDoc = current.SourceDocPath
		return statestore.State{
			Status:        statestore.StatusRevising,
			Message:       "Revising draft with feedback...",
			SourceDocPath: current.SourceDocPath,
			DraftPath:     ws.DraftPath(artifactID),
			Attempt:       current.Attempt,
		}, nil
	})
}

// launch performs the per-artifact compare-and-swap and spawns the run.
// prepare, when set, derives the initial state from the current one while
// the artifact is claimed.
func (o *Orchestrator) launch(ctx context.Context, r *run, initial statestore.State, prepare func(statestore.State) (statestore.State, error)) (Ack, error) {
	if r.artifactID == "" {
		return Ack{}, errors.NewValidationError("artifact id is required").WithField("artifact")
	}

	claim := o.claim(r.ws.ID(), r.artifactID)
	claim.Lock()
	defer claim.Unlock()

	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return Ack{}, ErrClosed
	}

	current, err := o.state(ctx, r.ws, r.artifactID)
	if err != nil {
		return Ack{}, err
	}
	if current.Status.IsActive() {
		return Ack{}, errors.Wrapf(errors.ErrRunActive, "%s is %s", r.artifactID, current.Status)
	}
	if _, inFlight := o.registry.Get(r.ws.ID(), r.artifactID); inFlight {
		return Ack{}, errors.Wrapf(errors.ErrRunActive, "%s has a run in flight", r.artifactID)
	}

	if prepare != nil {
		if initial, err = prepare(current); err != nil {
			return Ack{}, err
		}
	}

	r.id = uuid.NewString()
	r.startedAt = o.now().UTC()
	r.store, err = o.reader(r.ws)
	if err != nil {
		return Ack{}, err
	}
	r.logger = o.logger.WithWorkspace(r.ws.ID()).WithArtifact(r.artifactID).With("run_id", r.id)

	initial.StartedAt = &r.startedAt
	if err := o.write(ctx, r, initial); err != nil {
		return Ack{}, err
	}

	o.registry.Add(r.ws.ID(), ActiveRun{
		RunID:      r.id,
		ArtifactID: r.artifactID,
		Operation:  r.op,
		StartedAt:  r.startedAt,
	})
	done := make(chan struct{})
	o.mu.Lock()
	o.done[runKey(r.ws.ID(), r.artifactID)] = done
	o.mu.Unlock()

	o.metrics.RunStarted(r.op)
	r.logger.Info("run accepted", "operation", r.op, "status", string(initial.Status))

	o.wg.Add(1)
	go o.execute(r, done)

	return Ack{
		RunID:       r.id,
		WorkspaceID: r.ws.ID(),
		ArtifactID:  r.artifactID,
		Status:      initial.Status,
		Message:     initial.Message,
	}, nil
}

func (o *Orchestrator) claim(workspaceID, artifactID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := runKey(workspaceID, artifactID)
	m, ok := o.claims[key]
	if !ok {
		m = &sync.Mutex{}
		o.claims[key] = m
	}
	return m
}

// Wait blocks until the current run of an artifact, if any, has finished.
func (o *Orchestrator) Wait(workspacePath, artifactID string) {
	id, err := workspace.ID(workspacePath)
	if err != nil {
		return
	}
	o.mu.Lock()
	done, ok := o.done[runKey(id, artifactID)]
	o.mu.Unlock()
	if ok {
		<-done
	}
}

// Close stops accepting runs, waits for in-flight runs until ctx is done,
// and closes the state stores.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(finished)
	}()

	var waitErr error
	select {
	case <-finished:
	case <-ctx.Done():
		waitErr = fmt.Errorf("waiting for in-flight runs: %w", ctx.Err())
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	var errs []error
	if waitErr != nil {
		errs = append(errs, waitErr)
	}
	if waitErr == nil {
		for id, r := range o.readers {
			if c, ok := r.Store().(io.Closer); ok {
				if err := c.Close(); err != nil {
					errs = append(errs, fmt.Errorf("close state store for %s: %w", id, err))
				}
			}
		}
		o.readers = make(map[string]*statestore.Reader)
	}
	return errors.Join(errs...)
}

func runKey(workspaceID, artifactID string) string {
	return workspaceID + "\x00" + artifactID
}

// resolveDocument validates the source document and returns its absolute
// path.
func resolveDocument(ws workspace.Layout, doc string) (string, error) {
	if strings.TrimSpace(doc) == "" {
		return "", errors.NewValidationError("source document is required").WithField("sourceDoc")
	}
	if !filepath.IsAbs(doc) {
		doc = filepath.Join(ws.Root, doc)
	}
	doc = filepath.Clean(doc)

	info, err := os.Stat(doc)
	if err != nil {
		return "", errors.NewValidationError("source document is not readable").
			WithField("sourceDoc").WithValue(doc).WithCause(err)
	}
	if info.IsDir() {
		return "", errors.NewValidationError("source document is a directory").
			WithField("sourceDoc").WithValue(doc)
	}
	f, err := os.Open(doc)
	if err != nil {
		return "", errors.NewValidationError("source document is not readable").
			WithField("sourceDoc").WithValue(doc).WithCause(err)
	}
	f.Close()
	return doc, nil
}

func requireDraft(ws workspace.Layout, artifactID string) error {
	if _, err := os.Stat(ws.DraftPath(artifactID)); err != nil {
		return errors.NewNotFoundError("draft", artifactID).WithCause(errors.ErrNoDraft)
	}
	return nil
}

func reviewMessage(n int) string {
	return fmt.Sprintf("Peer review attempt %d...", n)
}
