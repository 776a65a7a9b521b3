package endpoint

import "sync"

// Pending is an append-only list of registrations made before a server
// instance exists, for example from init functions of plugin packages.
// A server drains it into its own Registry.
type Pending struct {
	mu      sync.Mutex
	entries []Entry
}

var defaultPending = &Pending{}

// DefaultPending returns the process-wide deferred registration list.
func DefaultPending() *Pending {
	return defaultPending
}

// Add appends e.
func (p *Pending) Add(e Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, e)
}

// Register appends fn under name, or under fn's own identifier when name is empty.
func (p *Pending) Register(name string, fn HandlerFunc) HandlerFunc {
	return register(p, name, fn)
}

// Len returns the number of entries waiting to be drained.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Drain returns all entries and empties the list.
func (p *Pending) Drain() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	drained := p.entries
	p.entries = nil
	return drained
}

// Route registers fn on the process-wide deferred list.
func Route(name string, fn HandlerFunc) HandlerFunc {
	return defaultPending.Register(name, fn)
}

// RouteMethod registers a module-bound endpoint on the process-wide deferred list.
func RouteMethod[T any](name, module string, fn MethodFunc[T]) MethodFunc[T] {
	return RegisterMethod(defaultPending, name, module, fn)
}
