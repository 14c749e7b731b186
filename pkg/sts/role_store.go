// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

package sts

import (
	"context"
	"sync"
)

// MemoryRoleStore is an in-memory RoleStore for tests and single-node
// deployments.
type MemoryRoleStore struct {
	mu    sync.RWMutex
	roles map[string]*Role // arn -> role
}

// NewMemoryRoleStore creates an empty role store.
func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{roles: make(map[string]*Role)}
}

func (s *MemoryRoleStore) GetRole(ctx context.Context, arn string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, exists := s.roles[arn]
	if !exists {
		return nil, ErrRoleNotFound
	}
	return role, nil
}

// PutRole stores or replaces a role record.
func (s *MemoryRoleStore) PutRole(role *Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[role.ARN] = role
}
