package actuator

import (
	"context"
	"sync"

	"padbridge/internal/sample"
)

// Call is one recorded actuator invocation.
type Call struct {
	Op  string
	Cmd sample.Command
}

// Fake records every call for test assertions.
// Safe for concurrent use.
type Fake struct {
	mu    sync.Mutex
	calls []Call

	// ApplyError, if set, is returned by Apply.
	ApplyError error
	// NeutralError, if set, is returned by Neutral.
	NeutralError error
	// Block, if set, makes each call wait until it is closed or ctx is done.
	Block chan struct{}
	// Panic, if set, makes each call panic with this value.
	Panic any

	// Closed tracks if Close was called.
	Closed bool
}

// NewFake creates an empty Fake.
func NewFake() *Fake {
	return &Fake{}
}

// Apply records the command.
func (f *Fake) Apply(ctx context.Context, cmd sample.Command) error {
	return f.record(ctx, Call{Op: OpApply, Cmd: cmd})
}

// Neutral records a neutral call.
func (f *Fake) Neutral(ctx context.Context) error {
	return f.record(ctx, Call{Op: OpNeutral, Cmd: sample.Neutral})
}

func (f *Fake) record(ctx context.Context, c Call) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	block, p := f.Block, f.Panic
	err := f.ApplyError
	if c.Op == OpNeutral {
		err = f.NeutralError
	}
	f.mu.Unlock()

	if p != nil {
		panic(p)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// SetErrors replaces the configured errors under the lock.
func (f *Fake) SetErrors(apply, neutral error) {
	f.mu.Lock()
	f.ApplyError, f.NeutralError = apply, neutral
	f.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Count returns the number of recorded calls with the given op.
func (f *Fake) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Reset clears the recorded calls.
func (f *Fake) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

// Close marks the fake as closed.
func (f *Fake) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
