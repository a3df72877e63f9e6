package dynfunc

import (
	"sort"
	"sync"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/filter"
	"github.com/starford/tiwaz/internal/need"
	"github.com/starford/tiwaz/internal/store"
)

// Call is what a function sees of the build.
type Call struct {
	Store  store.View
	Need   *need.Need
	Filter *filter.Filter
}

// Func computes a field value. The result is a string, a list of strings, a
// number, a bool or nil.
type Func func(c Call, args []any, kwargs map[string]any) (any, error)

// Registry maps function names to implementations.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: map[string]Func{}}
}

// Default returns a registry holding the built-in functions.
func Default() *Registry {
	r := NewRegistry()
	for name, fn := range builtins() {
		_ = r.Register(name, fn)
	}
	return r
}

// Register adds fn under name. Registering a name twice is a configuration
// error.
func (r *Registry) Register(name string, fn Func) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.funcs[name]; ok {
		return apperr.Newf(apperr.ErrDuplicateFunction, "", "dynamic function %s is already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names lists the registered names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
