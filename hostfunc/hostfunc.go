package hostfunc

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// Func is a Go function callable from interpreter code. Args arrive as
// decoded JSON; the result is encoded back as JSON.
type Func func(ctx context.Context, args map[string]any) (any, error)

type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	return fn, ok
}

// All returns a snapshot of the registered functions.
func (r *Registry) All() map[string]Func {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.funcs)
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.funcs))
}

// Merge returns a new registry holding r's functions overlaid with
// other's. Either may be nil.
func (r *Registry) Merge(other *Registry) *Registry {
	out := NewRegistry()
	for _, src := range []*Registry{r, other} {
		if src == nil {
			continue
		}
		maps.Copy(out.funcs, src.All())
	}
	return out
}
