package provider

import "sync"

// Registry holds all registered catalog adapters keyed by platform.
type Registry struct {
	mu      sync.RWMutex
	clients map[Key]CatalogClient
}

// NewRegistry creates an empty catalog registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[Key]CatalogClient),
	}
}

// Register adds a catalog client to the registry.
func (r *Registry) Register(c CatalogClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Name()] = c
}

// Get returns a catalog client by platform, or nil if not registered.
func (r *Registry) Get(key Key) CatalogClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[key]
}

// All returns all registered catalog clients in a stable order.
func (r *Registry) All() []CatalogClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []CatalogClient
	for _, key := range AllCatalogKeys() {
		if c, ok := r.clients[key]; ok {
			result = append(result, c)
		}
	}
	return result
}
