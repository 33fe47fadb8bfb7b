package taskqueue

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/QalaTech/speki-sub001/internal/errors"
	"github.com/QalaTech/speki-sub001/internal/util"
)

// persistedQueue is the on-disk form of the queue.
type persistedQueue struct {
	Tasks []Ref `json:"tasks"`
}

func (q *Queue) load() ([]Ref, error) {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Ref{}, nil
		}
		return nil, errors.Wrap(err, "read queue file")
	}
	var pq persistedQueue
	if err := json.Unmarshal(data, &pq); err != nil {
		return nil, errors.Wrap(err, "unmarshal queue")
	}
	if pq.Tasks == nil {
		pq.Tasks = []Ref{}
	}
	return pq.Tasks, nil
}

func (q *Queue) save(refs []Ref) error {
	if refs == nil {
		refs = []Ref{}
	}
	return errors.Wrap(util.WriteJSON(q.path, persistedQueue{Tasks: refs}), "write queue file")
}

// lock takes the cross-process lock, polling until lockTimeout elapses.
func (q *Queue) lock() (*fileLock, error) {
	if err := os.MkdirAll(q.dir, 0755); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}
	fl := newFileLock(q.path)
	deadline := time.Now().Add(q.lockTimeout)
	for {
		ok, err := fl.tryLock()
		if err != nil {
			return nil, err
		}
		if ok {
			return fl, nil
		}
		if time.Now().After(deadline) {
			if pid := fl.holder(); pid > 0 {
				return nil, errors.Wrapf(errors.ErrQueueLocked, "held by pid %d", pid)
			}
			return nil, errors.ErrQueueLocked
		}
		time.Sleep(lockPollInterval)
	}
}

// update runs fn on the current queue contents under the lock and saves the
// result when fn reports a change.
func (q *Queue) update(fn func(refs []Ref) ([]Ref, bool, error)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	fl, err := q.lock()
	if err != nil {
		return err
	}
	defer func() { _ = fl.unlock() }()

	refs, err := q.load()
	if err != nil {
		return err
	}
	next, changed, err := fn(refs)
	if err != nil || !changed {
		return err
	}
	return q.save(next)
}
