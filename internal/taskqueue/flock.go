package taskqueue

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// fileLock is an flock(2) on "<queue file>.lock". The holder writes its pid
// into the lock file so a contended caller can say who has the queue.
type fileLock struct {
	path string
	file *os.File
}

func newFileLock(queuePath string) *fileLock {
	return &fileLock{path: queuePath + ".lock"}
}

// tryLock takes the lock without blocking. It returns false when another
// open file description holds it.
func (fl *fileLock) tryLock() (bool, error) {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("flock %s: %w", fl.path, err)
	}

	// Best effort; the flock alone provides exclusion.
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	fl.file = f
	return true, nil
}

func (fl *fileLock) unlock() error {
	if fl.file == nil {
		return nil
	}
	f := fl.file
	fl.file = nil
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		_ = f.Close()
		return fmt.Errorf("funlock %s: %w", fl.path, err)
	}
	return f.Close()
}

// holder returns the pid recorded by the last holder, or 0 if unknown.
func (fl *fileLock) holder() int {
	data, err := os.ReadFile(fl.path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
