// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"sync"

	"github.com/keelworks/authgate/pkg/bloom"
)

// MemoryStore is an in-memory implementation of ReadWriter, used for tests
// and single-node deployments.
type MemoryStore struct {
	mu         sync.RWMutex
	principals map[string]*Principal    // uuid -> principal
	index      map[string]KeyResolution // accessKeyId -> resolution

	// Bloom filter for fast rejection of unknown access keys.
	// Reduces lock contention on the hot authentication path.
	keyBloom *bloom.Filter
}

// NewMemoryStore creates an empty in-memory identity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		principals: make(map[string]*Principal),
		index:      make(map[string]KeyResolution),
		keyBloom:   bloom.New(1000000, 0.01), // 1M keys, 1% FPR
	}
}

func (s *MemoryStore) GetByAccessKey(ctx context.Context, accessKeyID string) (*KeyResolution, error) {
	// Fast path: if not in the Bloom filter, the key is definitely absent.
	if !s.keyBloom.Contains(accessKeyID) {
		return nil, ErrAccessKeyNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	res, exists := s.index[accessKeyID]
	if !exists {
		return nil, ErrAccessKeyNotFound
	}
	return &res, nil
}

func (s *MemoryStore) GetPrincipal(ctx context.Context, uuid string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.principals[uuid]
	if !exists {
		return nil, ErrPrincipalNotFound
	}
	return p, nil
}

func (s *MemoryStore) PutPrincipal(ctx context.Context, p *Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.principals[p.UUID] = p
	for accessKeyID := range p.AccessKeys {
		s.index[accessKeyID] = KeyResolution{OwnerUUID: p.UUID}
		s.keyBloom.Add(accessKeyID)
	}
	return nil
}

func (s *MemoryStore) PutTemporaryCredential(ctx context.Context, cred *TemporaryCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index[cred.AccessKeyID] = KeyResolution{Temporary: cred}
	s.keyBloom.Add(cred.AccessKeyID)
	return nil
}

func (s *MemoryStore) DeleteAccessKey(ctx context.Context, accessKeyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The Bloom filter cannot unlearn a key; the resulting false positive
	// falls through to the map and misses there.
	delete(s.index, accessKeyID)
	return nil
}
