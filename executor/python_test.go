package executor_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/caffeineduck/pyworker/executor"
	"github.com/caffeineduck/pyworker/hostfunc"
	"github.com/caffeineduck/pyworker/interp"
	"github.com/caffeineduck/pyworker/language/python"
)

// Shared executor to avoid a cold start per test. These are integration
// tests against the real interpreter and skip when it is not installed.
var (
	sharedExec *executor.Executor
	sharedLang = python.New()
)

func TestMain(m *testing.M) {
	var err error
	sharedExec, err = executor.New(hostfunc.NewRegistry(), executor.WithDiskCache())
	if err != nil {
		panic("failed to create shared executor: " + err.Error())
	}
	code := m.Run()
	sharedExec.Close()
	os.Exit(code)
}

type lockedBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

func newPython(t *testing.T, cfg interp.Config) interp.Interpreter {
	t.Helper()
	if _, err := sharedLang.Module(); err != nil {
		t.Skipf("python interpreter unavailable: %v", err)
	}
	in, err := executor.Factory(sharedExec, sharedLang)(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to create interpreter: %v", err)
	}
	t.Cleanup(func() { in.Close() })
	return in
}

func toGo(t *testing.T, v any) any {
	t.Helper()
	if v == nil {
		return nil
	}
	out, err := v.(interp.Proxy).ToGo()
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestPythonTrailingExpression(t *testing.T) {
	in := newPython(t, interp.Config{})
	ctx := context.Background()

	v, err := in.EvaluateAsync(ctx, "x = 20\nx * 2 + 2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toGo(t, v); got != 42.0 {
		t.Errorf("expected 42, got %v", got)
	}

	v, err = in.EvaluateAsync(ctx, "y = 1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != nil {
		t.Errorf("assignment should yield no value, got %v", toGo(t, v))
	}
}

func TestPythonStatePersists(t *testing.T) {
	var stdout lockedBuffer
	in := newPython(t, interp.Config{Stdout: &stdout})
	ctx := context.Background()

	if _, err := in.EvaluateAsync(ctx, "def greet(name):\n    return f'Hello, {name}!'"); err != nil {
		t.Fatalf("define: %v", err)
	}
	if _, err := in.EvaluateAsync(ctx, "print(greet('World'))"); err != nil {
		t.Fatalf("call: %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != "Hello, World!" {
		t.Errorf("stdout = %q", got)
	}
}

func TestPythonError(t *testing.T) {
	in := newPython(t, interp.Config{})

	_, err := in.EvaluateAsync(context.Background(), "[1, 2, 3][10]")
	var pyErr *interp.Error
	if !errors.As(err, &pyErr) {
		t.Fatalf("expected *interp.Error, got %v", err)
	}
	if pyErr.TypeName != "IndexError" || !strings.HasPrefix(pyErr.Message, "IndexError:") {
		t.Errorf("unexpected error %+v", pyErr)
	}
}

func TestPythonUnencodableResult(t *testing.T) {
	in := newPython(t, interp.Config{})

	v, err := in.EvaluateAsync(context.Background(), "object()")
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := toGo(t, v).(string); !ok || !strings.Contains(got, "object") {
		t.Errorf("expected repr string, got %v", got)
	}
}

func TestPythonInput(t *testing.T) {
	in := newPython(t, interp.Config{Input: func(ctx context.Context, prompt string) (string, error) {
		return "Ada", nil
	}})

	v, err := in.EvaluateAsync(context.Background(), `_goru_call("input", {"prompt": "Name? "})`)
	if err != nil {
		t.Fatal(err)
	}
	if got := toGo(t, v); got != "Ada" {
		t.Errorf("expected Ada, got %v", got)
	}
}

func TestPythonTimeoutThenRecover(t *testing.T) {
	in := newPython(t, interp.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := in.EvaluateAsync(ctx, "import time\ntime.sleep(0.5)\n'late'"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	v, err := in.EvaluateAsync(context.Background(), "'next'")
	if err != nil {
		t.Fatal(err)
	}
	if got := toGo(t, v); got != "next" {
		t.Errorf("expected next, got %v", got)
	}
}

func TestPythonImportAndCall(t *testing.T) {
	in := newPython(t, interp.Config{})
	ctx := context.Background()

	mod, err := in.Import(ctx, "json")
	if err != nil {
		t.Fatal(err)
	}
	v, err := mod.Call(ctx, "dumps", map[string]any{"a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if got := toGo(t, v); got != `{"a": 1}` {
		t.Errorf("json.dumps = %v", got)
	}
}
