package endpoint

import "sync"

// Host lets the dispatcher find module instances the surrounding application
// currently has loaded.
type Host interface {
	Module(name string) (any, bool)
}

// HostFunc adapts a lookup function to Host.
type HostFunc func(name string) (any, bool)

// Module calls f.
func (f HostFunc) Module(name string) (any, bool) {
	return f(name)
}

// ModuleSet is a concurrency-safe Host for applications that load and unload
// modules at runtime.
type ModuleSet struct {
	mu      sync.RWMutex
	modules map[string]any
}

// NewModuleSet returns an empty ModuleSet.
func NewModuleSet() *ModuleSet {
	return &ModuleSet{modules: make(map[string]any)}
}

// Load makes instance available under name, replacing any previous instance.
func (s *ModuleSet) Load(name string, instance any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[name] = instance
}

// Unload removes the module. It reports whether it was loaded.
func (s *ModuleSet) Unload(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.modules[name]
	delete(s.modules, name)
	return ok
}

// Module returns the loaded instance for name.
func (s *ModuleSet) Module(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[name]
	return m, ok
}
