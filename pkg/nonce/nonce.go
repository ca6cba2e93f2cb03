// Package nonce serializes transaction broadcasts per funding address.
// Two goroutines signing from the same address in parallel would race on
// the account nonce; a per-address mutex inside the process removes the
// common case before it reaches the chain.
package nonce

import (
	"strings"
	"sync"
)

// Registry hands out one mutex per funding address. Address comparison is
// case-insensitive because EVM addresses arrive in mixed checksum casings.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*sync.Mutex)}
}

func (r *Registry) mutex(address string) *sync.Mutex {
	key := strings.ToLower(address)
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[key]
	if !ok {
		m = &sync.Mutex{}
		r.locks[key] = m
	}
	return m
}

// Lock blocks until the caller holds the address and returns the unlock.
func (r *Registry) Lock(address string) func() {
	m := r.mutex(address)
	m.Lock()
	return m.Unlock
}
