package dispatch

import (
	"fmt"
	"sync"
)

// Factory builds a Tool instance from channel configuration.
type Factory func(config map[string]string) (Tool, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a tool factory available by provider name. New channels are
// added by registering an implementation, never by branching on type.
// Typically called from an init() function in the adapter package.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("dispatch: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// New creates a Tool by provider name using the registered factory.
func New(name string, config map[string]string) (Tool, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("dispatch: unknown provider %q", name)
	}
	return factory(config)
}

// Available returns the names of all registered providers.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}
