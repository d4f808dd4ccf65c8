// Package kv is the string key/value persistence the entitlement and history
// stores are built on.
package kv

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// Keys used by the planner. Each chat has its own namespace.
const (
	KeyPlanHistory        = "plan-history"
	KeyThemePreference    = "theme-preference"
	KeyLastFreePlan       = "last-free-plan-timestamp"
	KeySubscriptionStatus = "subscription-status"
	KeySubscriptionExpiry = "subscription-expiry"
	KeyPlanCount          = "plan-count-in-cycle"
)

// KeyRedeemedPayment is the key marking a payment reference as redeemed.
func KeyRedeemedPayment(reference string) string {
	return "redeemed-payment:" + reference
}

// Store is a namespaced string key/value store.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// MemoryStore is an in-process Store, used in tests and as a fallback when
// no database is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

// Keys returns the stored keys in sorted order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.values))
}
