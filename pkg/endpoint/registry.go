// Package endpoint holds the endpoint registry: handler registration, the
// deferred registration list used before a server exists, the per-call
// request context and binding of handlers to host modules.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"sync"
)

const logPrefix = "endpoint:registry"

// ErrModuleNotLoaded is returned when a module-bound endpoint is called while
// its module is not loaded by the host.
var ErrModuleNotLoaded = errors.New("endpoint: module not loaded")

// HandlerFunc serves one endpoint. The result must be JSON-serialisable.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// MethodFunc is a handler that needs the live instance of a host module.
type MethodFunc[T any] func(module T, ctx context.Context, req *Request) (any, error)

// Entry is one registration. Func serves free-function endpoints; Bind builds
// a handler from the module instance for module-bound endpoints.
type Entry struct {
	Name   string
	Module string
	Func   HandlerFunc
	Bind   func(module any) (HandlerFunc, error)
}

// Handler resolves the function to invoke. A module-bound entry whose module
// the host has loaded is bound to that instance; otherwise the free function
// is used when present.
func (e Entry) Handler(host Host) (HandlerFunc, error) {
	if e.Module != "" && e.Bind != nil && host != nil {
		if instance, ok := host.Module(e.Module); ok {
			return e.Bind(instance)
		}
	}
	if e.Func != nil {
		return e.Func, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrModuleNotLoaded, e.Module)
}

// Registrar accepts endpoint registrations.
type Registrar interface {
	Add(e Entry)
}

// Registry maps endpoint names to entries for one server instance.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Add stores e, replacing any entry with the same name.
func (r *Registry) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Name] = e
}

// Register binds fn under name, or under fn's own identifier when name is
// empty. It returns fn unchanged.
func (r *Registry) Register(name string, fn HandlerFunc) HandlerFunc {
	return register(r, name, fn)
}

// Resolve looks up the entry for name.
func (r *Registry) Resolve(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Names returns the registered endpoint names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Merge drains p into the registry. Deferred entries are applied in
// registration order and override existing entries of the same name.
// It returns the number of entries merged.
func (r *Registry) Merge(p *Pending) int {
	drained := p.Drain()
	if len(drained) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range drained {
		r.entries[e.Name] = e
	}
	slog.Debug(fmt.Sprintf("%s - Merged %d pending endpoints", logPrefix, len(drained)))
	return len(drained)
}

// RegisterMethod registers a module-bound endpoint on r. When name is empty
// the method's own identifier is used.
func RegisterMethod[T any](r Registrar, name, module string, fn MethodFunc[T]) MethodFunc[T] {
	if name == "" {
		name = funcName(fn)
	}
	r.Add(Entry{
		Name:   name,
		Module: module,
		Bind: func(instance any) (HandlerFunc, error) {
			m, ok := instance.(T)
			if !ok {
				return nil, fmt.Errorf("endpoint: module %s has type %T, endpoint %s expects %s",
					module, instance, name, reflect.TypeFor[T]())
			}
			return func(ctx context.Context, req *Request) (any, error) {
				return fn(m, ctx, req)
			}, nil
		},
	})
	return fn
}

func register(r Registrar, name string, fn HandlerFunc) HandlerFunc {
	if name == "" {
		name = funcName(fn)
	}
	r.Add(Entry{Name: name, Func: fn})
	return fn
}

// funcName returns the short identifier of a function value, e.g. "ping" for
// pkg.ping or "Stats" for a (*module).Stats method value.
func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return ""
	}
	name := strings.TrimSuffix(f.Name(), "-fm")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
