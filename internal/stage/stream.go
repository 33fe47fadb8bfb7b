package stage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/QalaTech/speki-sub001/internal/util"
)

// EventKind classifies one parsed stream-json line.
type EventKind int

const (
	EventNone EventKind = iota
	EventText
	EventToolUse
	EventToolResult
	EventResult
)

// StreamEvent is the meaningful content of one stream-json line. An
// assistant line can carry several blocks, so a line yields a slice.
type StreamEvent struct {
	Kind    EventKind
	Text    string
	ToolID  string
	Tool    string
	Detail  string
	IsError bool
	// Blocks is set on a result that came as an object of content blocks
	// rather than a plain string.
	Blocks bool
}

type streamLine struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype,omitempty"`
	Message *streamMessage  `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

type streamMessage struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ParseStreamLine decodes one line of stream-json output. Lines that are
// not JSON, and system or metadata lines, yield no events.
func ParseStreamLine(line []byte) []StreamEvent {
	var sl streamLine
	if err := json.Unmarshal(line, &sl); err != nil {
		return nil
	}

	switch sl.Type {
	case "assistant":
		if sl.Message == nil {
			return nil
		}
		var events []StreamEvent
		for _, b := range sl.Message.Content {
			switch b.Type {
			case "text":
				if b.Text != "" {
					events = append(events, StreamEvent{Kind: EventText, Text: b.Text})
				}
			case "tool_use":
				name := b.Name
				if name == "" {
					name = "unknown"
				}
				events = append(events, StreamEvent{
					Kind:   EventToolUse,
					ToolID: b.ID,
					Tool:   name,
					Detail: ToolDetail(name, b.Input),
				})
			}
		}
		return events

	case "user":
		if sl.Message == nil {
			return nil
		}
		var events []StreamEvent
		for _, b := range sl.Message.Content {
			if b.Type == "tool_result" {
				events = append(events, StreamEvent{
					Kind:    EventToolResult,
					ToolID:  b.ToolUseID,
					Detail:  util.Summarize(toolResultText(b.Content), 120),
					IsError: b.IsError,
				})
			}
		}
		return events

	case "result":
		text, blocks := resultText(sl)
		return []StreamEvent{{Kind: EventResult, Text: text, IsError: sl.IsError, Blocks: blocks}}
	}
	return nil
}

// ToolDetail summarizes a tool call's input for progress display.
func ToolDetail(tool string, input map[string]any) string {
	str := func(key string) string {
		s, _ := input[key].(string)
		return s
	}
	switch tool {
	case "Read", "Write", "Edit":
		return str("file_path")
	case "Grep":
		path := str("path")
		if path == "" {
			path = "."
		}
		return fmt.Sprintf("pattern=%q in %s", str("pattern"), path)
	case "Glob":
		return str("pattern")
	case "Bash":
		return truncateRunes(str("command"), 80)
	case "Task":
		return str("description")
	}
	if d := str("description"); d != "" {
		return d
	}
	if len(input) == 0 {
		return ""
	}
	raw, _ := json.Marshal(input)
	return truncateRunes(string(raw), 60)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// resultText handles both the string form of "result" and the older object
// form carrying content blocks.
func resultText(sl streamLine) (string, bool) {
	if len(sl.Result) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(sl.Result, &s); err == nil {
		return s, false
	}
	var msg streamMessage
	if err := json.Unmarshal(sl.Result, &msg); err == nil {
		var sb strings.Builder
		for _, b := range msg.Content {
			if b.Type == "text" {
				sb.WriteString(b.Text)
			}
		}
		return sb.String(), true
	}
	return "", false
}

func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.TrimSpace(strings.Join(parts, " "))
	}
	return ""
}

// Transcript is the accumulated output of one CLI invocation.
type Transcript struct {
	// Text is every distinct assistant text block in order.
	Text string
	// Result is the final result text, empty if no result line arrived.
	Result    string
	IsError   bool
	ToolCalls int
}

// Final returns the text to parse for structured output: the result when
// present, otherwise the accumulated assistant text.
func (t *Transcript) Final() string {
	if strings.TrimSpace(t.Result) != "" {
		return t.Result
	}
	return t.Text
}

// ConsumeStream reads stream-json lines from r until EOF. Every raw line is
// copied to raw when it is non-nil. Text blocks already seen are not
// repeated, and each tool call is reported once even if the CLI re-emits it.
func ConsumeStream(r io.Reader, raw io.Writer, cb Callbacks) (*Transcript, error) {
	var (
		t     Transcript
		full  strings.Builder
		tools = make(map[string]bool)
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if raw != nil {
			raw.Write(line)
			raw.Write([]byte{'\n'})
		}
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		for _, ev := range ParseStreamLine(line) {
			switch ev.Kind {
			case EventText:
				if strings.Contains(full.String(), ev.Text) {
					continue
				}
				full.WriteString(ev.Text)
				cb.text(ev.Text)
			case EventToolUse:
				if ev.ToolID != "" {
					if tools[ev.ToolID] {
						continue
					}
					tools[ev.ToolID] = true
				}
				t.ToolCalls++
				cb.toolCall(ev.Tool, ev.Detail)
			case EventToolResult:
				cb.toolResult(ev.Detail)
			case EventResult:
				t.Result = ev.Text
				t.IsError = ev.IsError
				// A string result repeats the final answer; only content
				// blocks are echoed as text.
				if ev.Blocks && ev.Text != "" && !strings.Contains(full.String(), ev.Text) {
					full.WriteString(ev.Text)
					cb.text(ev.Text)
				}
			}
		}
	}
	t.Text = full.String()
	if err := scanner.Err(); err != nil {
		return &t, fmt.Errorf("failed to read stream: %w", err)
	}
	return &t, nil
}
