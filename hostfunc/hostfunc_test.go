package hostfunc

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("b", TimeNow)
	r.Register("a", TimeNow)

	if got := r.List(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("List() = %v", got)
	}
	if _, ok := r.Get("a"); !ok {
		t.Error("a not registered")
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("unexpected function")
	}

	all := r.All()
	delete(all, "a")
	if _, ok := r.Get("a"); !ok {
		t.Error("All should return a copy")
	}
}

func TestRegistryMerge(t *testing.T) {
	base := NewRegistry()
	base.Register("time_now", TimeNow)
	extra := NewRegistry()
	extra.Register("input", NewInput(nil))

	merged := base.Merge(extra)
	if got := merged.List(); !slices.Equal(got, []string{"input", "time_now"}) {
		t.Errorf("merged List() = %v", got)
	}
	if got := (*Registry)(nil).Merge(extra).List(); !slices.Equal(got, []string{"input"}) {
		t.Errorf("nil merge List() = %v", got)
	}
}

func TestInput(t *testing.T) {
	var prompts []string
	fn := NewInput(func(ctx context.Context, prompt string) (string, error) {
		prompts = append(prompts, prompt)
		return "Ada", nil
	})

	got, err := fn(context.Background(), map[string]any{"prompt": "Name? "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Ada" {
		t.Errorf("got %v, want Ada", got)
	}
	if !slices.Equal(prompts, []string{"Name? "}) {
		t.Errorf("prompts = %v", prompts)
	}
}

func TestInputErrors(t *testing.T) {
	if _, err := NewInput(nil)(context.Background(), nil); err == nil {
		t.Error("expected error without an input function")
	}

	cause := errors.New("cancelled")
	fn := NewInput(func(ctx context.Context, prompt string) (string, error) { return "", cause })
	if _, err := fn(context.Background(), map[string]any{}); !errors.Is(err, cause) {
		t.Errorf("expected %v, got %v", cause, err)
	}
}

func TestTimeNow(t *testing.T) {
	v, err := TimeNow(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if f, ok := v.(float64); !ok || f < 1e9 {
		t.Errorf("unexpected time %v", v)
	}
}
