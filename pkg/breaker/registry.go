package breaker

import "sync"

// Registry hands out one breaker per dependency name.
type Registry struct {
	settings Settings
	observer Observer

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates breakers lazily with shared settings.
func NewRegistry(settings Settings, observer Observer) *Registry {
	return &Registry{
		settings: settings,
		observer: observer,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, r.settings, r.observer)
	r.breakers[name] = b
	return b
}
