package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LogEntry is one parsed line of debug.log.
type LogEntry struct {
	Timestamp   time.Time      `json:"time"`
	Level       string         `json:"level"`
	Message     string         `json:"msg"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	ArtifactID  string         `json:"artifact_id,omitempty"`
	Stage       string         `json:"stage,omitempty"`
	RunID       string         `json:"run_id,omitempty"`
	Attrs       map[string]any `json:"attrs,omitempty"`
}

// LogFilter selects entries. Zero-valued fields do not filter.
type LogFilter struct {
	// Level keeps entries at or above this level.
	Level           string
	Since           time.Time
	ArtifactID      string
	Stage           string
	RunID           string
	MessageContains string
}

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

var contextKeys = map[string]bool{
	"time":         true,
	"level":        true,
	"msg":          true,
	"workspace_id": true,
	"artifact_id":  true,
	"stage":        true,
	"run_id":       true,
}

// AggregateLogs reads {logDir}/debug.log and returns its entries sorted by
// time. Lines that are not valid JSON are skipped.
func AggregateLogs(logDir string) ([]LogEntry, error) {
	file, err := os.Open(filepath.Join(logDir, LogFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no log file found in %s: %w", logDir, err)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var entries []LogEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := parseLogEntry(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

func parseLogEntry(line string) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	str := func(key string) string {
		s, _ := raw[key].(string)
		return s
	}

	entry := LogEntry{
		Level:       str("level"),
		Message:     str("msg"),
		WorkspaceID: str("workspace_id"),
		ArtifactID:  str("artifact_id"),
		Stage:       str("stage"),
		RunID:       str("run_id"),
	}
	if t, err := time.Parse(time.RFC3339Nano, str("time")); err == nil {
		entry.Timestamp = t
	}
	for k, v := range raw {
		if contextKeys[k] {
			continue
		}
		if entry.Attrs == nil {
			entry.Attrs = make(map[string]any)
		}
		entry.Attrs[k] = v
	}
	return entry, nil
}

// FilterLogs returns the entries matching every set field of filter.
func FilterLogs(entries []LogEntry, filter LogFilter) []LogEntry {
	if filter == (LogFilter{}) {
		return entries
	}
	var out []LogEntry
	for _, e := range entries {
		if matchesFilter(e, filter) {
			out = append(out, e)
		}
	}
	return out
}

func matchesFilter(e LogEntry, f LogFilter) bool {
	if f.Level != "" {
		want, ok1 := levelOrder[strings.ToUpper(f.Level)]
		got, ok2 := levelOrder[e.Level]
		if ok1 && ok2 && got < want {
			return false
		}
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if f.ArtifactID != "" && e.ArtifactID != f.ArtifactID {
		return false
	}
	if f.Stage != "" && e.Stage != f.Stage {
		return false
	}
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	if f.MessageContains != "" && !strings.Contains(e.Message, f.MessageContains) {
		return false
	}
	return true
}

// WriteEntries renders entries to w as "json" (an indented array) or "text".
func WriteEntries(w io.Writer, entries []LogEntry, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "text", "":
		for _, e := range entries {
			if _, err := io.WriteString(w, formatText(e)+"\n"); err != nil {
				return fmt.Errorf("failed to write text entry: %w", err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: json, text)", format)
	}
}

func formatText(e LogEntry) string {
	parts := []string{
		"[" + e.Timestamp.Format("2006-01-02 15:04:05.000") + "]",
		e.Level, "-", e.Message,
	}
	var ctx []string
	if e.ArtifactID != "" {
		ctx = append(ctx, "artifact="+e.ArtifactID)
	}
	if e.Stage != "" {
		ctx = append(ctx, "stage="+e.Stage)
	}
	if e.RunID != "" {
		ctx = append(ctx, "run="+e.RunID)
	}
	if len(ctx) > 0 {
		parts = append(parts, "("+strings.Join(ctx, ", ")+")")
	}
	if len(e.Attrs) > 0 {
		if b, err := json.Marshal(e.Attrs); err == nil {
			parts = append(parts, string(b))
		}
	}
	return strings.Join(parts, " ")
}
