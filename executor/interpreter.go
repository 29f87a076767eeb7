package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"slices"

	"github.com/caffeineduck/pyworker/interp"
)

var dottedName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Interpreter adapts a Session to interp.Interpreter.
type Interpreter struct {
	session *Session
	tempDir string
}

var (
	_ interp.Interpreter = (*Interpreter)(nil)
	_ interp.ProxySetter = (*Interpreter)(nil)
	_ interp.Idler       = (*Interpreter)(nil)
)

// NewInterpreter creates a session whose stdout, stderr and input are
// wired to cfg.
func (e *Executor) NewInterpreter(lang Language, cfg interp.Config, opts ...SessionOption) (*Interpreter, error) {
	opts = append(slices.Clone(opts), WithStdout(cfg.Stdout), WithStderr(cfg.Stderr), WithInput(cfg.Input))
	s, err := e.NewSession(lang, opts...)
	if err != nil {
		return nil, err
	}
	return &Interpreter{session: s}, nil
}

// Factory returns an interp.Factory building interpreters on e.
func Factory(e *Executor, lang Language, opts ...SessionOption) interp.Factory {
	return func(ctx context.Context, cfg interp.Config) (interp.Interpreter, error) {
		return e.NewInterpreter(lang, cfg, opts...)
	}
}

// Session returns the underlying session.
func (in *Interpreter) Session() *Session { return in.session }

func (in *Interpreter) EvaluateAsync(ctx context.Context, source string) (any, error) {
	raw, err := in.session.Eval(ctx, source)
	if err != nil {
		return nil, err
	}
	return newValue(raw), nil
}

func (in *Interpreter) WaitIdle(ctx context.Context) error {
	return in.session.WaitIdle(ctx)
}

func (in *Interpreter) InstallPackage(ctx context.Context, name string) error {
	if in.session.packages == nil {
		return errors.New("package installation disabled")
	}
	_, err := in.session.packages.Install(ctx, name)
	return err
}

// MountDirectory backs path with the configured work dir or, failing that,
// a temporary directory owned by the interpreter.
func (in *Interpreter) MountDirectory(path string) error {
	host := in.session.cfg.workDir
	if host == "" {
		dir, err := os.MkdirTemp("", "pyworker-work-*")
		if err != nil {
			return fmt.Errorf("create work dir: %w", err)
		}
		in.tempDir = dir
		host = dir
	} else if err := os.MkdirAll(host, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	return in.session.Mount(path, host, false)
}

func (in *Interpreter) Import(ctx context.Context, name string) (interp.Module, error) {
	if !dottedName.MatchString(name) {
		return nil, fmt.Errorf("invalid module name %q", name)
	}
	if _, err := in.session.Eval(ctx, "import "+name+"\n"); err != nil {
		return nil, err
	}
	return &module{in: in, name: name}, nil
}

// SetProxy routes package downloads and http_request calls through u.
func (in *Interpreter) SetProxy(u *url.URL) {
	in.session.http.SetProxy(u)
	if in.session.packages != nil {
		in.session.packages.SetProxy(u)
	}
}

func (in *Interpreter) Close() error {
	err := in.session.Close()
	if in.tempDir != "" {
		err = errors.Join(err, os.RemoveAll(in.tempDir))
		in.tempDir = ""
	}
	return err
}

type module struct {
	in   *Interpreter
	name string
}

func (m *module) Name() string { return m.name }

// Call invokes fn on the module with JSON-encodable args.
func (m *module) Call(ctx context.Context, fn string, args ...any) (any, error) {
	if !dottedName.MatchString(fn) {
		return nil, fmt.Errorf("invalid function name %q", fn)
	}
	if args == nil {
		args = []any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	literal, _ := json.Marshal(string(encoded))
	code := fmt.Sprintf("_goru_module_call(%q, %q, %s)\n", m.name, fn, literal)
	raw, err := m.in.session.Eval(ctx, code)
	if err != nil {
		return nil, err
	}
	return newValue(raw), nil
}

// Value is an interpreter result still in its JSON encoding. Values the
// interpreter could not encode arrive as {"__repr__": "..."} and convert
// to their repr string.
type Value struct {
	raw json.RawMessage
}

func newValue(raw json.RawMessage) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return Value{raw: trimmed}
}

func (v Value) Raw() json.RawMessage { return v.raw }

func (v Value) ToGo() (any, error) {
	var out any
	if err := json.Unmarshal(v.raw, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	if m, ok := out.(map[string]any); ok && len(m) == 1 {
		if r, ok := m["__repr__"].(string); ok {
			return r, nil
		}
	}
	return out, nil
}
