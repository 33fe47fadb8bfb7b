// Package statewatch follows state changes made by another process, such
// as a server running a decomposition while the CLI shows its progress.
package statewatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/QalaTech/speki-sub001/internal/statestore"
)

const debounceInterval = 50 * time.Millisecond

// Watcher reports changes to a set of files in one directory. The directory
// is watched rather than the files so that atomic replace-by-rename is seen.
type Watcher struct {
	watcher *fsnotify.Watcher
	names   map[string]bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New watches the named files in dir, creating dir if needed.
func New(dir string, names ...string) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	w := &Watcher{
		watcher: watcher,
		names:   make(map[string]bool, len(names)),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, n := range names {
		w.names[n] = true
	}
	return w, nil
}

// Start calls onChange, debounced, whenever a watched file is written,
// created or renamed into place.
func (w *Watcher) Start(onChange func()) {
	go w.watchLoop(onChange)
}

// Stop ends watching and waits for the watch loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
	<-w.doneCh
}

func (w *Watcher) watchLoop(onChange func()) {
	defer close(w.doneCh)

	// Writers may touch a file several times per update.
	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C
	pending := false

	for {
		select {
		case <-w.stopCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !w.names[filepath.Base(ev.Name)] {
				continue
			}
			pending = true
			debounceTimer.Reset(debounceInterval)

		case <-debounceTimer.C:
			if pending {
				pending = false
				onChange()
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Follow emits the current state and then every changed state until the
// artifact reaches a terminal status or ctx is done. load reads the state.
func Follow(ctx context.Context, w *Watcher, load func() (statestore.State, error), emit func(statestore.State)) (statestore.State, error) {
	changes := make(chan struct{}, 1)
	w.Start(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer w.Stop()

	var last statestore.State
	first := true
	for {
		s, err := load()
		if err != nil {
			return last, err
		}
		if first || changed(last, s) {
			emit(s)
			first = false
		}
		last = s
		if s.Status.IsTerminal() {
			return s, nil
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-changes:
		}
	}
}

func changed(a, b statestore.State) bool {
	if a.Status != b.Status || a.Message != b.Message || a.Attempt != b.Attempt {
		return true
	}
	if (a.UpdatedAt == nil) != (b.UpdatedAt == nil) {
		return true
	}
	return a.UpdatedAt != nil && !a.UpdatedAt.Equal(*b.UpdatedAt)
}
