// Package monitor provides the simulator's tracing facility: an
// append-only span tree recording which component is waiting on what, so a
// stalled waiting item or cache request can be traced back to its cause.
package monitor

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/xid"
)

// Span is one node in the trace tree: a named interval of simulated time
// owned by some component (a witem blocking on a slot, a vector op
// dispatching its sections). The tree is immutable append-only: a Span's
// Children only grows, and a Span is never removed once recorded.
type Span struct {
	ID     xid.ID
	Name   string
	Cycle  uint64
	Parent *Span

	Children []*Span

	closed bool
	detail string
}

// Closed reports whether End has been called on this span.
func (s *Span) Closed() bool { return s.closed }

// Detail returns the free-form annotation attached by End, if any.
func (s *Span) Detail() string { return s.detail }

// Tracer is the process-wide monitor: a singleton threaded through
// constructors per spec.md's design note on the Monitor's global state,
// rather than a package-level global.
type Tracer struct {
	mu  sync.Mutex
	out io.Writer
	// roots holds every top-level span ever started, for tests and
	// postmortem inspection. It is never trimmed: WithOutput(io.Discard)
	// only silences logging and still keeps every span here.
	roots []*Span
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithOutput sets the writer spans are logged to as they start/end. Pass
// io.Discard to disable logging while keeping the span tree itself (e.g.
// for tests that only assert on tree shape).
func WithOutput(w io.Writer) TracerOption {
	return func(t *Tracer) { t.out = w }
}

// NewTracer creates a Tracer. With no options, spans are recorded but not
// logged anywhere.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{out: io.Discard}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan begins a new span named name, cycle-stamped, as a child of
// parent (nil for a root span).
func (t *Tracer) StartSpan(cycle uint64, name string, parent *Span) *Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &Span{ID: xid.New(), Name: name, Cycle: cycle, Parent: parent}
	if parent != nil {
		parent.Children = append(parent.Children, s)
	} else {
		t.roots = append(t.roots, s)
	}
	fmt.Fprintf(t.out, "cycle %d: start %s %s\n", cycle, s.ID, name)
	return s
}

// EndSpan closes s with a free-form detail string (e.g. "fault" or "ok").
// Ending an already-closed span is a no-op.
func (t *Tracer) EndSpan(cycle uint64, s *Span, detail string) {
	if s == nil || s.closed {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s.closed = true
	s.detail = detail
	fmt.Fprintf(t.out, "cycle %d: end %s %s (%s)\n", cycle, s.ID, s.Name, detail)
}

// Roots returns every top-level span started on this tracer, in start
// order. The returned slice is a snapshot; later spans do not appear in it.
func (t *Tracer) Roots() []*Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Span, len(t.roots))
	copy(out, t.roots)
	return out
}
