package stage

import (
	"context"
	"io"
)

// fakeInvoker replays a canned transcript. run, when set, is called before
// returning so tests can simulate side effects such as writing files.
type fakeInvoker struct {
	transcript *Transcript
	err        error
	lines      []string
	run        func(inv Invocation)

	calls []Invocation
}

func (f *fakeInvoker) Invoke(ctx context.Context, inv Invocation) (*Transcript, error) {
	f.calls = append(f.calls, inv)
	if inv.Raw != nil {
		for _, l := range f.lines {
			io.WriteString(inv.Raw, l+"\n")
		}
	}
	if f.run != nil {
		f.run(inv)
	}
	inv.Callbacks.text("fake output")
	return f.transcript, f.err
}
