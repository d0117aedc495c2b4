package transport

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maintains a mapping of driver names to drivers.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// DefaultRegistry is the global driver registry.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// Register adds or replaces a driver. The name must match the PubSubSystem
// config value.
func (r *Registry) Register(driver Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if driver.Capabilities.Name == "" {
		driver.Capabilities.Name = driver.Name
	}
	r.drivers[driver.Name] = driver
}

// Lookup returns the driver registered under name.
func (r *Registry) Lookup(name string) (Driver, error) {
	r.mu.RLock()
	driver, ok := r.drivers[name]
	r.mu.RUnlock()

	if !ok {
		return Driver{}, fmt.Errorf("unknown transport: %q (registered: %v)", name, r.Names())
	}
	if driver.DialPublisher == nil || driver.DialConsumer == nil {
		return Driver{}, fmt.Errorf("transport %q is missing a dialer", name)
	}
	return driver, nil
}

// ForConfig resolves the driver named by cfg.
func (r *Registry) ForConfig(cfg Config) (Driver, error) {
	if cfg == nil {
		return Driver{}, fmt.Errorf("config is required")
	}
	return r.Lookup(cfg.GetPubSubSystem())
}

// GetCapabilities returns a zero Capabilities carrying only the name when the
// driver is unknown.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if driver, ok := r.drivers[name]; ok {
		return driver.Capabilities
	}
	return Capabilities{Name: name}
}

// Names returns the registered driver names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.drivers[name]
	return ok
}

// Register adds a driver to the default registry.
func Register(driver Driver) {
	DefaultRegistry.Register(driver)
}

// Lookup resolves a driver from the default registry.
func Lookup(name string) (Driver, error) {
	return DefaultRegistry.Lookup(name)
}

// GetCapabilities returns capabilities from the default registry.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}
