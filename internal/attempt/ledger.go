// Package attempt derives review attempt numbers from the attempt log files
// on disk. There is no stored counter: the next attempt is one more than the
// highest number found in the artifact's log directory.
package attempt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// TimestampFormat is the filename-safe timestamp used in attempt artifacts.
const TimestampFormat = "2006-01-02T15-04-05.000Z"

var (
	logNamePattern  = regexp.MustCompile(`^peer_review_attempt_(\d+)_(.+)\.log$`)
	artifactPattern = regexp.MustCompile(`^(peer_review_attempt_\d+_.+\.(log|jsonl)|decompose-review-.+\.json)$`)
)

// LogName returns the attempt log file name for attempt n.
func LogName(n int, at time.Time) string {
	return fmt.Sprintf("peer_review_attempt_%d_%s.log", n, Timestamp(at))
}

// TranscriptName returns the raw stream-json transcript name for attempt n.
func TranscriptName(n int, at time.Time) string {
	return fmt.Sprintf("peer_review_attempt_%d_%s.jsonl", n, Timestamp(at))
}

// ReviewJSONName returns the structured review artifact name.
func ReviewJSONName(at time.Time) string {
	return fmt.Sprintf("decompose-review-%s.json", Timestamp(at))
}

// Timestamp formats at for use in file names.
func Timestamp(at time.Time) string {
	return at.UTC().Format(TimestampFormat)
}

// ParseLogName extracts the attempt number from an attempt log file name.
func ParseLogName(name string) (int, bool) {
	m := logNamePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Record is one attempt log found on disk.
type Record struct {
	Number int
	Name   string
}

// Ledger reads attempt logs from a per-artifact directory.
type Ledger struct {
	dirFor func(artifactID string) string
}

// NewLedger returns a Ledger whose log directories come from dirFor.
func NewLedger(dirFor func(artifactID string) string) *Ledger {
	return &Ledger{dirFor: dirFor}
}

// Dir returns the log directory of an artifact.
func (l *Ledger) Dir(artifactID string) string {
	return l.dirFor(artifactID)
}

// Records returns the attempt logs of an artifact ordered by attempt number.
// A missing directory yields no records.
func (l *Ledger) Records(artifactID string) ([]Record, error) {
	entries, err := os.ReadDir(l.dirFor(artifactID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read attempt logs: %w", err)
	}

	var records []Record
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := ParseLogName(e.Name()); ok {
			records = append(records, Record{Number: n, Name: e.Name()})
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Number != records[j].Number {
			return records[i].Number < records[j].Number
		}
		return records[i].Name < records[j].Name
	})
	return records, nil
}

// Next returns max(existing attempt numbers) + 1, or 1 when there are none.
func (l *Ledger) Next(artifactID string) (int, error) {
	records, err := l.Records(artifactID)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 1, nil
	}
	return records[len(records)-1].Number + 1, nil
}

// ArchiveDirName returns the subdirectory that Archive moves a previous
// run's attempt files into.
func ArchiveDirName(at time.Time) string {
	return "run-" + Timestamp(at)
}

// Archive moves the artifact's attempt logs, transcripts and review JSON
// files into a run-stamped subdirectory so numbering restarts at 1. It
// returns the number of files moved; nothing is created when there are none.
func (l *Ledger) Archive(artifactID string, at time.Time) (int, error) {
	dir := l.dirFor(artifactID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read attempt logs: %w", err)
	}

	archive := filepath.Join(dir, ArchiveDirName(at))
	moved := 0
	for _, e := range entries {
		if e.IsDir() || !artifactPattern.MatchString(e.Name()) {
			continue
		}
		if moved == 0 {
			if err := os.MkdirAll(archive, 0755); err != nil {
				return 0, fmt.Errorf("failed to create attempt archive: %w", err)
			}
		}
		if err := os.Rename(filepath.Join(dir, e.Name()), filepath.Join(archive, e.Name())); err != nil {
			return moved, fmt.Errorf("failed to archive %s: %w", e.Name(), err)
		}
		moved++
	}
	return moved, nil
}
