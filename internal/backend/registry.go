package backend

import (
	"fmt"
	"slices"
	"sync"

	"github.com/go-logr/logr"
)

// Factory is a constructor function that adapters register to create themselves.
type Factory func(log logr.Logger, settings map[string]string) (Adapter, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register is called by adapter packages in their init() to self-register.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("backend: provider %q already registered", kind))
	}
	factories[kind] = f
}

// New looks up the provider kind in the registry and creates the adapter.
// Missing or invalid settings fail here, not on first use.
func New(kind string, log logr.Logger, settings map[string]string) (Adapter, error) {
	mu.RLock()
	f, ok := factories[kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownKind, kind, Kinds())
	}
	return f(log.WithValues("provider", kind), settings)
}

// Kinds returns the registered provider kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
