package executor

// Language defines a WASM-based interpreter the executor can host.
type Language interface {
	// Name returns a unique identifier for this language, used as the
	// cache key for compiled modules.
	Name() string

	// Module returns the WASM binary for the interpreter.
	Module() ([]byte, error)

	// Prelude returns the source that binds host functions and runs the
	// session command loop. It must emit the ready frame once it is
	// listening on stdin.
	Prelude() string

	// Args returns the command line that makes the module run prelude.
	// For Python: []string{"python", "-c", prelude}
	Args(prelude string) []string
}
