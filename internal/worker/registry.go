// ============================================================================
// Stress-Lab Worker Registry
// ============================================================================
//
// Package: internal/worker
// File: registry.go
// Purpose: Maps worker names carried by work requests to Worker factories.
//
// Work requests only name the worker that should run them. The scheduler
// resolves the name through a Registry each time the work is dispatched, so
// every run gets a fresh Worker instance and no state leaks between runs.
//
// ============================================================================

package worker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownWorker is returned when no factory is registered under a name
	ErrUnknownWorker = errors.New("unknown worker")
	// ErrDuplicateWorker is returned when a name is registered twice
	ErrDuplicateWorker = errors.New("worker already registered")
)

// Factory builds a new Worker instance for one run.
type Factory func() Worker

// Registry holds the Worker factories known to a scheduler.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("register worker %q: name and factory are required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateWorker, name)
	}
	r.factories[name] = factory
	return nil
}

// New builds a Worker for name.
func (r *Registry) New(name string) (Worker, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, name)
	}
	return factory(), nil
}

// Has reports whether a factory is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[name]
	return exists
}

// Names returns the registered worker names, sorted.
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
