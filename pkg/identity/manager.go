// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"time"

	"github.com/keelworks/authgate/pkg/cache"
)

const (
	defaultCacheMaxItems = 10000
	defaultCacheTTL      = 5 * time.Minute
)

// Manager wraps a Store with short-TTL lookup caches so hot credentials do
// not hit the identity store on every request. It implements Store itself
// and can be dropped in anywhere a Store is expected.
//
// Misses are not cached: a key that does not exist yet (eventual
// consistency) must become visible as soon as the store has it.
type Manager struct {
	store          Store
	ttl            time.Duration
	accessKeyCache *cache.Cache[string, *KeyResolution]
	principalCache *cache.Cache[string, *Principal]
}

// NewManager creates a Manager with default cache settings.
func NewManager(store Store) *Manager {
	return NewManagerWithCache(store, defaultCacheMaxItems, defaultCacheTTL)
}

// NewManagerWithCache creates a Manager with custom cache bounds.
func NewManagerWithCache(store Store, maxItems int, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		ttl:   ttl,
		accessKeyCache: cache.New[string, *KeyResolution](
			cache.WithMaxSize[string, *KeyResolution](maxItems),
			cache.WithExpiry[string, *KeyResolution](ttl),
		),
		principalCache: cache.New[string, *Principal](
			cache.WithMaxSize[string, *Principal](maxItems),
			cache.WithExpiry[string, *Principal](ttl),
		),
	}
}

func (m *Manager) GetByAccessKey(ctx context.Context, accessKeyID string) (*KeyResolution, error) {
	if res, ok := m.accessKeyCache.Get(accessKeyID); ok {
		return res, nil
	}

	res, err := m.store.GetByAccessKey(ctx, accessKeyID)
	if err != nil {
		return nil, err
	}

	// Temporary credentials are never cached past their expiration; the
	// cheap option is to not cache ones about to lapse.
	if res.Temporary == nil || time.Until(res.Temporary.Expiration) > m.ttl {
		m.accessKeyCache.Set(accessKeyID, res)
	}
	return res, nil
}

func (m *Manager) GetPrincipal(ctx context.Context, uuid string) (*Principal, error) {
	if p, ok := m.principalCache.Get(uuid); ok {
		return p, nil
	}

	p, err := m.store.GetPrincipal(ctx, uuid)
	if err != nil {
		return nil, err
	}
	m.principalCache.Set(uuid, p)
	return p, nil
}

// InvalidateAccessKey removes one access key from the cache, e.g. after a
// revocation event from the change stream.
func (m *Manager) InvalidateAccessKey(accessKeyID string) {
	m.accessKeyCache.Delete(accessKeyID)
}

// InvalidatePrincipal removes one principal from the cache.
func (m *Manager) InvalidatePrincipal(uuid string) {
	m.principalCache.Delete(uuid)
}

// InvalidateAll clears both caches.
func (m *Manager) InvalidateAll() {
	m.accessKeyCache.Clear()
	m.principalCache.Clear()
}

// Store returns the wrapped store.
func (m *Manager) Store() Store {
	return m.store
}
