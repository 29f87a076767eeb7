package executor

import (
	"os"
	"path/filepath"
	"testing"
)

//go:generate sh -c "cd testdata && GOOS=wasip1 GOARCH=wasm go build -o mock.wasm mock.go"

// mockLanguage implements Language for testing session logic without the
// overhead of the real interpreter.
type mockLanguage struct {
	wasm []byte
}

func (m *mockLanguage) Name() string                 { return "mock" }
func (m *mockLanguage) Module() ([]byte, error)      { return m.wasm, nil }
func (m *mockLanguage) Prelude() string              { return "" }
func (m *mockLanguage) Args(prelude string) []string { return []string{"mock"} }

// newMockLanguage loads testdata/mock.wasm, skipping the test when it has
// not been built.
func newMockLanguage(t testing.TB) *mockLanguage {
	t.Helper()
	wasm, err := os.ReadFile(filepath.Join("testdata", "mock.wasm"))
	if err != nil {
		t.Skip("testdata/mock.wasm not built; run go generate ./executor")
	}
	return &mockLanguage{wasm: wasm}
}
