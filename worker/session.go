package worker

import (
	"bytes"
	"context"
	"maps"
	"sync"

	"github.com/caffeineduck/pyworker/installer"
	"github.com/caffeineduck/pyworker/interp"
)

type outputBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// output is the stdout and stderr captured for one request.
type output struct {
	stdout outputBuffer
	stderr outputBuffer
}

// outputRouter is the interpreter's stdout and stderr. Writes go to the
// attached request's output; with none attached they are dropped, so an
// evaluation that outlived its request never writes into a later one.
type outputRouter struct {
	mu  sync.Mutex
	cur *output
}

// attach routes writes to o unless ctx has already ended, in which case
// the request was answered and a newer one may own the router.
func (r *outputRouter) attach(ctx context.Context, o *output) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	r.cur = o
	return true
}

func (r *outputRouter) detach(o *output) {
	r.mu.Lock()
	if r.cur == o {
		r.cur = nil
	}
	r.mu.Unlock()
}

func (r *outputRouter) write(p []byte, stderr bool) (int, error) {
	r.mu.Lock()
	o := r.cur
	r.mu.Unlock()
	switch {
	case o == nil:
		return len(p), nil
	case stderr:
		return o.stderr.Write(p)
	default:
		return o.stdout.Write(p)
	}
}

type routedWriter struct {
	r      *outputRouter
	stderr bool
}

func (w routedWriter) Write(p []byte) (int, error) {
	return w.r.write(p, w.stderr)
}

// Session is the state a worker keeps across requests: the interpreter,
// installed packages, output buffers and the merged context scope.
type Session struct {
	mu          sync.Mutex
	initialized bool
	interp      interp.Interpreter
	importlib   interp.Module
	lastResult  any
	scope       map[string]any

	installed installer.Set
	router    outputRouter
	last      *output
}

func newSession() *Session {
	return &Session{scope: make(map[string]any), last: &output{}}
}

// begin resets per-request state, merges ctx into the scope and returns
// the request's output. The output receives interpreter writes only once
// attached.
func (s *Session) begin(ctx map[string]any) *output {
	out := &output{}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResult = nil
	s.last = out
	maps.Copy(s.scope, ctx)
	return out
}

func (s *Session) setInterpreter(in interp.Interpreter, importlib interp.Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interp = in
	s.importlib = importlib
	s.initialized = true
}

func (s *Session) interpreter() interp.Interpreter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interp
}

func (s *Session) target() installer.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return installer.Target{Interp: s.interp, Importlib: s.importlib}
}

func (s *Session) setLastResult(v any) {
	s.mu.Lock()
	s.lastResult = v
	s.mu.Unlock()
}

// Initialized reports whether bootstrap has completed.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Installed returns the requested names installed so far, in order.
func (s *Session) Installed() []string {
	return s.installed.List()
}

// Scope returns a copy of the merged request contexts.
func (s *Session) Scope() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.scope)
}

// LastResult returns the raw value of the last successful evaluation.
func (s *Session) LastResult() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

func (s *Session) lastOutput() *output {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Stdout returns what the latest request has printed so far.
func (s *Session) Stdout() string { return s.lastOutput().stdout.String() }

// Stderr returns what the latest request has written to stderr so far.
func (s *Session) Stderr() string { return s.lastOutput().stderr.String() }

func (s *Session) close() error {
	s.mu.Lock()
	in := s.interp
	s.interp = nil
	s.importlib = nil
	s.initialized = false
	s.mu.Unlock()
	if in == nil {
		return nil
	}
	return in.Close()
}
