// Package python provides the Python language adapter for the executor.
// The RustPython WASM binary is loaded from disk on first use; fetch it
// with internal/tools/download.
package python

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// EnvModulePath overrides the default module location.
const EnvModulePath = "PYWORKER_PYTHON_WASM"

var ErrModuleNotFound = errors.New("python.wasm not found")

//go:embed prelude.py
var prelude string

// Option configures a Python adapter.
type Option func(*Python)

// WithModulePath loads the interpreter binary from path.
func WithModulePath(path string) Option {
	return func(p *Python) {
		if path != "" {
			p.path = path
		}
	}
}

// WithModule uses wasm as the interpreter binary.
func WithModule(wasm []byte) Option {
	return func(p *Python) {
		p.wasm = wasm
	}
}

// Python implements executor.Language for RustPython.
type Python struct {
	path string

	once sync.Once
	wasm []byte
	err  error
}

func New(opts ...Option) *Python {
	p := &Python{path: DefaultModulePath()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DefaultModulePath is $PYWORKER_PYTHON_WASM or ~/.pyworker/python.wasm.
func DefaultModulePath() string {
	if path := os.Getenv(EnvModulePath); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".pyworker", "python.wasm")
	}
	return filepath.Join(home, ".pyworker", "python.wasm")
}

func (p *Python) Name() string {
	return "python"
}

// Path returns where the module is loaded from.
func (p *Python) Path() string {
	return p.path
}

// Module returns the RustPython WASM binary, reading it once.
func (p *Python) Module() ([]byte, error) {
	p.once.Do(func() {
		if p.wasm != nil {
			return
		}
		data, err := os.ReadFile(p.path)
		if errors.Is(err, os.ErrNotExist) {
			p.err = fmt.Errorf("%w at %s (set %s or download it)", ErrModuleNotFound, p.path, EnvModulePath)
			return
		}
		if err != nil {
			p.err = fmt.Errorf("read %s: %w", p.path, err)
			return
		}
		p.wasm = data
	})
	return p.wasm, p.err
}

// Prelude returns the host bindings and session command loop.
func (p *Python) Prelude() string {
	return prelude
}

func (p *Python) Args(prelude string) []string {
	return []string{"python", "-c", prelude}
}
