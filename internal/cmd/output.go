package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/QalaTech/speki-sub001/internal/statestore"
	"github.com/QalaTech/speki-sub001/internal/util"
)

// maxMessageWidth bounds a rendered state message on a terminal.
const maxMessageWidth = 120

// styles renders terminal output. Styling is applied only when the writer
// is a terminal so piped output stays plain.
type styles struct {
	enabled bool
	label   lipgloss.Style
	dim     lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	fail    lipgloss.Style
	active  lipgloss.Style
}

func newStyles(w io.Writer) styles {
	f, ok := w.(*os.File)
	return styles{
		enabled: ok && term.IsTerminal(int(f.Fd())),
		label:   lipgloss.NewStyle().Bold(true),
		dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		ok:      lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		fail:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		active:  lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true),
	}
}

func (s styles) render(style lipgloss.Style, text string) string {
	if !s.enabled {
		return text
	}
	return style.Render(text)
}

func (s styles) status(status statestore.Status) string {
	switch {
	case status == statestore.StatusCompleted:
		return s.render(s.ok, string(status))
	case status == statestore.StatusError:
		return s.render(s.fail, string(status))
	case status.IsActive():
		return s.render(s.active, string(status))
	default:
		return s.render(s.dim, string(status))
	}
}

func (s styles) verdict(v statestore.Verdict) string {
	switch v {
	case statestore.VerdictPass:
		return s.render(s.ok, string(v))
	case statestore.VerdictFail:
		return s.render(s.fail, string(v))
	default:
		return s.render(s.warn, string(v))
	}
}

// message shortens long messages on a terminal.
func (s styles) message(msg string) string {
	if !s.enabled {
		return msg
	}
	return util.TruncateANSI(msg, maxMessageWidth)
}

// printState writes a human-readable summary of an artifact's state.
func printState(w io.Writer, s styles, artifactID string, st statestore.State) {
	fmt.Fprintf(w, "%s %s\n", s.render(s.label, "Artifact:"), artifactID)
	fmt.Fprintf(w, "%s %s\n", s.render(s.label, "Status:  "), s.status(st.Status))
	if st.Message != "" {
		fmt.Fprintf(w, "%s %s\n", s.render(s.label, "Message: "), s.message(st.Message))
	}
	if st.Verdict != "" {
		fmt.Fprintf(w, "%s %s\n", s.render(s.label, "Verdict: "), s.verdict(st.Verdict))
	}
	if st.Attempt > 0 {
		fmt.Fprintf(w, "%s %d\n", s.render(s.label, "Attempt: "), st.Attempt)
	}
	if st.Error != "" {
		fmt.Fprintf(w, "%s %s (%s)\n", s.render(s.label, "Error:   "), s.render(s.fail, st.Error), st.ErrorKind)
	}
	if st.DraftPath != "" {
		fmt.Fprintf(w, "%s %s\n", s.render(s.label, "Draft:   "), st.DraftPath)
	}
	if st.ReviewPath != "" {
		fmt.Fprintf(w, "%s %s\n", s.render(s.label, "Review:  "), st.ReviewPath)
	}
	if st.UpdatedAt != nil {
		fmt.Fprintf(w, "%s %s\n", s.render(s.label, "Updated: "), s.render(s.dim, st.UpdatedAt.Local().Format("2006-01-02 15:04:05")))
	}
}

// writeStructured renders v as "json" or "yaml". YAML keys follow the JSON
// field names.
func writeStructured(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format: %s (supported: text, json, yaml)", format)
	}
}
