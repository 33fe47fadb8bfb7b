package stage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/QalaTech/speki-sub001/internal/config"
	"github.com/QalaTech/speki-sub001/internal/errors"
)

// CommandContext and LookPath are replaced in tests to avoid running a real
// binary.
var (
	CommandContext = exec.CommandContext
	LookPath       = exec.LookPath
)

// Invocation is one call to the intelligence CLI.
type Invocation struct {
	// Name labels the call in errors ("generation", "review").
	Name   string
	Dir    string
	Prompt string
	// Raw receives every stream-json line when non-nil.
	Raw       io.Writer
	Callbacks Callbacks
}

// Invoker runs a prompt through the intelligence service.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (*Transcript, error)
}

// CLIRunner invokes the intelligence CLI:
//
//	claude -p <prompt> --output-format stream-json --verbose [--dangerously-skip-permissions] [--model m]
type CLIRunner struct {
	command         string
	skipPermissions bool
	model           string
}

// NewCLIRunner builds a CLIRunner from configuration.
func NewCLIRunner(cfg config.IntelligenceConfig) *CLIRunner {
	command := cfg.Command
	if command == "" {
		command = "claude"
	}
	return &CLIRunner{
		command:         command,
		skipPermissions: cfg.SkipPermissions,
		model:           cfg.Model,
	}
}

// Args returns the CLI arguments for prompt.
func (r *CLIRunner) Args(prompt string) []string {
	args := []string{"-p", prompt, "--output-format", "stream-json", "--verbose"}
	if r.skipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if r.model != "" {
		args = append(args, "--model", r.model)
	}
	return args
}

// Invoke implements Invoker. The returned error is a *errors.StageError
// whose Kind distinguishes a missing CLI, a timeout and any other failure.
func (r *CLIRunner) Invoke(ctx context.Context, inv Invocation) (*Transcript, error) {
	if _, err := LookPath(r.command); err != nil {
		return nil, errors.NewStageError(inv.Name, err).WithKind(errors.KindCLIUnavailable)
	}

	cmd := CommandContext(ctx, r.command, r.Args(inv.Prompt)...)
	cmd.Dir = inv.Dir
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.NewStageError(inv.Name, err)
	}
	stderr := &tailBuffer{max: 8 * 1024}
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, errors.NewStageError(inv.Name, err)
	}

	transcript, streamErr := ConsumeStream(stdout, inv.Raw, inv.Callbacks)
	waitErr := cmd.Wait()

	if ctx.Err() == context.DeadlineExceeded {
		return transcript, errors.NewStageError(inv.Name,
			errors.NewTimeoutError(inv.Name, time.Since(start).Round(time.Second)).WithCause(ctx.Err()),
		).WithKind(errors.KindTimeout)
	}
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" && transcript != nil && transcript.IsError {
			msg = transcript.Result
		}
		if msg != "" {
			waitErr = fmt.Errorf("%w: %s", waitErr, msg)
		}
		return transcript, errors.NewStageError(inv.Name, waitErr)
	}
	if streamErr != nil {
		return transcript, errors.NewStageError(inv.Name, streamErr)
	}
	if transcript.IsError {
		return transcript, errors.NewStageError(inv.Name, fmt.Errorf("%s reported an error: %s", r.command, transcript.Result))
	}
	return transcript, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if over := b.buf.Len() - b.max; over > 0 {
		b.buf.Next(over)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// withTimeout applies d to ctx when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
