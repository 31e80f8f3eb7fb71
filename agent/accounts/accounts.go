// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package accounts answers whether a local account exists.
package accounts

import (
	"sync"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"

	"github.com/xmppd/xmppd/agent/structs"
	"github.com/xmppd/xmppd/logging"
)

// DefaultCacheSize is the number of verification results kept by a
// CachingVerifier.
const DefaultCacheSize = 4096

// Verifier reports whether the bare address of addr is a local account.
type Verifier interface {
	VerifyAccountExists(addr structs.Address) bool
}

// MemoryStore is a Verifier over a fixed set of accounts.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[structs.Address]struct{}
}

// NewMemoryStore returns a store holding the given accounts.
func NewMemoryStore(users ...structs.Address) *MemoryStore {
	s := &MemoryStore{users: make(map[structs.Address]struct{}, len(users))}
	for _, u := range users {
		s.users[u.Bare()] = struct{}{}
	}
	return s
}

func (s *MemoryStore) AddUser(addr structs.Address) {
	s.mu.Lock()
	s.users[addr.Bare()] = struct{}{}
	s.mu.Unlock()
}

func (s *MemoryStore) RemoveUser(addr structs.Address) {
	s.mu.Lock()
	delete(s.users, addr.Bare())
	s.mu.Unlock()
}

// SetUsers replaces the stored accounts.
func (s *MemoryStore) SetUsers(users []structs.Address) {
	m := make(map[structs.Address]struct{}, len(users))
	for _, u := range users {
		m[u.Bare()] = struct{}{}
	}
	s.mu.Lock()
	s.users = m
	s.mu.Unlock()
}

func (s *MemoryStore) VerifyAccountExists(addr structs.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[addr.Bare()]
	return ok
}

// CachingVerifier remembers the answers of a slower Verifier. Both positive
// and negative answers are cached until evicted or invalidated.
type CachingVerifier struct {
	backend Verifier
	cache   *lru.Cache
	logger  hclog.Logger

	// generation is bumped by Invalidate and Purge. An answer looked up
	// under an older generation is returned but not cached.
	lock       sync.Mutex
	generation uint64
}

// NewCachingVerifier wraps backend with an LRU cache of size entries.
func NewCachingVerifier(backend Verifier, size int, logger hclog.Logger) (*CachingVerifier, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &CachingVerifier{
		backend: backend,
		cache:   cache,
		logger:  logger.Named(logging.Accounts),
	}, nil
}

func (v *CachingVerifier) VerifyAccountExists(addr structs.Address) bool {
	key := addr.Bare()
	if raw, ok := v.cache.Get(key); ok {
		metrics.IncrCounter([]string{"accounts", "cache", "hit"}, 1)
		return raw.(bool)
	}
	metrics.IncrCounter([]string{"accounts", "cache", "miss"}, 1)

	v.lock.Lock()
	gen := v.generation
	v.lock.Unlock()

	exists := v.backend.VerifyAccountExists(key)

	v.lock.Lock()
	if gen == v.generation {
		v.cache.Add(key, exists)
	}
	v.lock.Unlock()

	if !exists {
		v.logger.Trace("account does not exist", "address", key)
	}
	return exists
}

// Invalidate drops the cached answer for addr.
func (v *CachingVerifier) Invalidate(addr structs.Address) {
	v.lock.Lock()
	defer v.lock.Unlock()
	v.generation++
	v.cache.Remove(addr.Bare())
}

// Purge drops all cached answers.
func (v *CachingVerifier) Purge() {
	v.lock.Lock()
	defer v.lock.Unlock()
	v.generation++
	v.cache.Purge()
}
