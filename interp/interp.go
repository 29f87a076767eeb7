// Package interp defines the boundary between the worker and the language
// interpreter it drives. The worker treats the interpreter as an opaque
// capability: evaluate source, stream stdout/stderr, install packages,
// mount directories and import modules.
package interp

import (
	"context"
	"errors"
	"io"
	"net/url"
)

// InputFunc satisfies a blocking input() call made by interpreter code.
type InputFunc func(ctx context.Context, prompt string) (string, error)

// Config wires an interpreter to its host. Stdout and Stderr receive output
// incrementally while code runs.
type Config struct {
	Stdout io.Writer
	Stderr io.Writer
	Input  InputFunc
}

// Interpreter is a persistent interpreter instance. Global state defined by
// one EvaluateAsync call is visible to the next.
type Interpreter interface {
	// EvaluateAsync runs source and returns the value of a trailing
	// expression, or nil. The returned value may contain Proxy values.
	EvaluateAsync(ctx context.Context, source string) (any, error)

	// InstallPackage makes a package importable by subsequent evaluations.
	InstallPackage(ctx context.Context, name string) error

	// MountDirectory exposes a writable working directory at path.
	MountDirectory(path string) error

	// Import loads a module and returns a handle to it.
	Import(ctx context.Context, name string) (Module, error)

	Close() error
}

// Factory constructs a new interpreter instance.
type Factory func(ctx context.Context, cfg Config) (Interpreter, error)

// Module is a handle to an imported interpreter module.
type Module interface {
	Name() string
	Call(ctx context.Context, fn string, args ...any) (any, error)
}

// Proxy is an interpreter-native value that must be converted before it
// can leave the worker.
type Proxy interface {
	ToGo() (any, error)
}

// Idler is implemented by interpreters whose evaluations can outlive the
// context they were started with. WaitIdle blocks until no evaluation is
// in progress.
type Idler interface {
	WaitIdle(ctx context.Context) error
}

// ProxySetter is implemented by interpreters whose outbound traffic (package
// downloads, host HTTP calls) can be routed through a proxy.
type ProxySetter interface {
	SetProxy(u *url.URL)
}

// Error is an exception raised by interpreter code. Message carries the
// interpreter's rendering, e.g. "IndexError: list index out of range".
type Error struct {
	TypeName  string
	Message   string
	Traceback string
}

func (e *Error) Error() string {
	return e.Message
}

var ErrClosed = errors.New("interpreter closed")
