// Package interptest provides a scripted interpreter for testing code that
// drives an interp.Interpreter without a real WASM runtime.
package interptest

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/caffeineduck/pyworker/interp"
)

// Handler scripts the result of one EvaluateAsync call.
type Handler func(env *Env, source string) (any, error)

// Env gives a Handler access to the host wiring of the interpreter.
type Env struct {
	ctx context.Context
	cfg interp.Config
}

// Context returns the context passed to EvaluateAsync.
func (e *Env) Context() context.Context { return e.ctx }

// Print writes to the stdout sink.
func (e *Env) Print(s string) {
	if e.cfg.Stdout != nil {
		io.WriteString(e.cfg.Stdout, s)
	}
}

// PrintErr writes to the stderr sink.
func (e *Env) PrintErr(s string) {
	if e.cfg.Stderr != nil {
		io.WriteString(e.cfg.Stderr, s)
	}
}

// Input performs a blocking input() call through the host.
func (e *Env) Input(prompt string) (string, error) {
	if e.cfg.Input == nil {
		return "", fmt.Errorf("EOFError: EOF when reading a line")
	}
	return e.cfg.Input(e.ctx, prompt)
}

// Fake is a scripted interp.Interpreter. A single Fake is returned by every
// call to its Factory, mirroring one interpreter per worker.
type Fake struct {
	Handler Handler

	// InstallErr returns a non-nil error for package names that must fail.
	InstallErr func(name string) error
	// ConstructErr, when set, makes the factory fail.
	ConstructErr error
	// ImportErr, when set, makes Import fail.
	ImportErr error

	mu           sync.Mutex
	cfg          interp.Config
	constructed  int
	evaluated    []string
	installed    []string
	installTries []string
	mounts       []string
	imports      []string
	calls        []string
	proxy        *url.URL
	closed       bool

	running int
	idle    chan struct{}
}

// New returns a Fake that evaluates code with h.
func New(h Handler) *Fake {
	return &Fake{Handler: h}
}

// Factory returns an interp.Factory yielding f.
func (f *Fake) Factory() interp.Factory {
	return func(ctx context.Context, cfg interp.Config) (interp.Interpreter, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.constructed++
		if f.ConstructErr != nil {
			return nil, f.ConstructErr
		}
		f.cfg = cfg
		f.closed = false
		return f, nil
	}
}

func (f *Fake) EvaluateAsync(ctx context.Context, source string) (any, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, interp.ErrClosed
	}
	f.evaluated = append(f.evaluated, source)
	h := f.Handler
	env := &Env{ctx: ctx, cfg: f.cfg}
	if f.running == 0 {
		f.idle = make(chan struct{})
	}
	f.running++
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running--
		if f.running == 0 {
			close(f.idle)
			f.idle = nil
		}
		f.mu.Unlock()
	}()

	if h == nil {
		return nil, nil
	}
	return h(env, source)
}

// WaitIdle blocks until no handler is running, including handlers whose
// callers stopped waiting.
func (f *Fake) WaitIdle(ctx context.Context) error {
	f.mu.Lock()
	idle := f.idle
	f.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fake) InstallPackage(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installTries = append(f.installTries, name)
	if f.InstallErr != nil {
		if err := f.InstallErr(name); err != nil {
			return err
		}
	}
	f.installed = append(f.installed, name)
	return nil
}

func (f *Fake) MountDirectory(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mounts = append(f.mounts, path)
	return nil
}

func (f *Fake) Import(ctx context.Context, name string) (interp.Module, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ImportErr != nil {
		return nil, f.ImportErr
	}
	f.imports = append(f.imports, name)
	return &fakeModule{name: name, f: f}, nil
}

func (f *Fake) SetProxy(u *url.URL) {
	f.mu.Lock()
	f.proxy = u
	f.mu.Unlock()
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Constructed reports how many times the factory ran.
func (f *Fake) Constructed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.constructed
}

// Evaluated returns every evaluated source in order.
func (f *Fake) Evaluated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.evaluated...)
}

// EvaluatedContaining counts evaluated sources containing substr.
func (f *Fake) EvaluatedContaining(substr string) int {
	n := 0
	for _, src := range f.Evaluated() {
		if strings.Contains(src, substr) {
			n++
		}
	}
	return n
}

// Installed returns package names whose installation succeeded.
func (f *Fake) Installed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.installed...)
}

// InstallAttempts returns every name passed to InstallPackage.
func (f *Fake) InstallAttempts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.installTries...)
}

// Mounts returns mounted paths.
func (f *Fake) Mounts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.mounts...)
}

// Imports returns imported module names.
func (f *Fake) Imports() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.imports...)
}

// ModuleCalls returns "module.fn" for every Module.Call.
func (f *Fake) ModuleCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Proxy returns the proxy set through SetProxy.
func (f *Fake) Proxy() *url.URL {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.proxy
}

// Closed reports whether Close was called after the last construction.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeModule struct {
	name string
	f    *Fake
}

func (m *fakeModule) Name() string { return m.name }

func (m *fakeModule) Call(ctx context.Context, fn string, args ...any) (any, error) {
	m.f.mu.Lock()
	m.f.calls = append(m.f.calls, m.name+"."+fn)
	m.f.mu.Unlock()
	return nil, nil
}

// PyError builds the error an interpreter reports for an uncaught exception.
func PyError(typeName, msg string) error {
	return &interp.Error{
		TypeName: typeName,
		Message:  typeName + ": " + msg,
	}
}
