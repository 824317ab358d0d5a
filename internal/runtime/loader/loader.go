// Package loader turns catalog decoder metadata into live Decoder instances.
//
// Loading is split in three parts so the strategy can change without touching
// the cache or the stage: the ArtifactLoader fetches and persists artifacts,
// an Opener loads an artifact's code unit and yields a Factory, and the
// Registry remembers which entry points are already loaded in-process.
package loader

import (
	"fmt"
	"sort"
	"sync"

	rterrors "github.com/drblury/decodeflow/internal/runtime/errors"
)

// Decoder turns a payload body into a flat record.
type Decoder interface {
	Decode(data []byte) (map[string]any, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(data []byte) (map[string]any, error)

func (f DecoderFunc) Decode(data []byte) (map[string]any, error) { return f(data) }

// Factory instantiates a decoder.
type Factory func() (Decoder, error)

// Registry maps entry point names to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for entryPoint.
func (r *Registry) Register(entryPoint string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[entryPoint] = factory
}

// LoadOrRegister returns the factory already registered for entryPoint, or
// registers factory and returns it.
func (r *Registry) LoadOrRegister(entryPoint string, factory Factory) Factory {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.factories[entryPoint]; ok {
		return existing
	}
	r.factories[entryPoint] = factory
	return factory
}

// Lookup returns the factory for entryPoint.
func (r *Registry) Lookup(entryPoint string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[entryPoint]
	return f, ok
}

// Has reports whether entryPoint is loaded.
func (r *Registry) Has(entryPoint string) bool {
	_, ok := r.Lookup(entryPoint)
	return ok
}

// Names returns the registered entry points, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Instantiate builds a decoder through the factory for entryPoint.
func (r *Registry) Instantiate(entryPoint string) (Decoder, error) {
	factory, ok := r.Lookup(entryPoint)
	if !ok {
		return nil, fmt.Errorf("%w: %q", rterrors.ErrEntryPointNotFound, entryPoint)
	}
	return instantiate(factory)
}

func instantiate(factory Factory) (Decoder, error) {
	dec, err := factory()
	if err != nil {
		return nil, err
	}
	if dec == nil {
		return nil, rterrors.ErrNilDecoder
	}
	return dec, nil
}
