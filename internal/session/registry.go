package session

import (
	"context"
	"errors"
	"sync"
)

// Registry hands out one Manager per identity, hydrating each from the
// remote store the first time the identity is seen. Managers are never
// evicted; the expected population is the set of active users of one
// deployment.
type Registry struct {
	store SessionStore
	opts  []ManagerOption

	mu       sync.Mutex
	managers map[string]*Manager
}

// NewRegistry creates a Registry. The options are applied to every manager
// it constructs.
func NewRegistry(store SessionStore, opts ...ManagerOption) (*Registry, error) {
	if store == nil {
		return nil, errors.New("session: store must not be nil")
	}
	return &Registry{
		store:    store,
		opts:     opts,
		managers: make(map[string]*Manager),
	}, nil
}

// Manager returns the manager for identity, creating and loading it on first
// use. Load failures degrade to a usable default state inside Load itself,
// so the only error here is an invalid identity.
func (r *Registry) Manager(ctx context.Context, identity string) (*Manager, error) {
	r.mu.Lock()
	if m, ok := r.managers[identity]; ok {
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()

	m, err := NewManager(identity, r.store, r.opts...)
	if err != nil {
		return nil, err
	}
	m.Load(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another request may have won the race; keep the first loaded manager.
	if existing, ok := r.managers[identity]; ok {
		return existing, nil
	}
	r.managers[identity] = m
	return m, nil
}
