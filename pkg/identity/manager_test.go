// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore wraps a Store and counts reads.
type countingStore struct {
	Store
	keyReads       atomic.Int64
	principalReads atomic.Int64
}

func (c *countingStore) GetByAccessKey(ctx context.Context, id string) (*KeyResolution, error) {
	c.keyReads.Add(1)
	return c.Store.GetByAccessKey(ctx, id)
}

func (c *countingStore) GetPrincipal(ctx context.Context, uuid string) (*Principal, error) {
	c.principalReads.Add(1)
	return c.Store.GetPrincipal(ctx, uuid)
}

func TestManager_CachesLookups(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := NewMemoryStore()
	require.NoError(t, mem.PutPrincipal(ctx, testPrincipal()))

	counting := &countingStore{Store: mem}
	mgr := NewManager(counting)

	for i := 0; i < 5; i++ {
		res, err := mgr.GetByAccessKey(ctx, "AKIATEST123EXAMPLE")
		require.NoError(t, err)
		assert.Equal(t, "5d0049f4-67ed-4724-8b8f-6c9b0a9af602", res.Owner())

		_, err = mgr.GetPrincipal(ctx, res.Owner())
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), counting.keyReads.Load())
	assert.Equal(t, int64(1), counting.principalReads.Load())
}

func TestManager_MissesNotCached(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := NewMemoryStore()
	counting := &countingStore{Store: mem}
	mgr := NewManager(counting)

	_, err := mgr.GetByAccessKey(ctx, "AKIATEST123EXAMPLE")
	assert.ErrorIs(t, err, ErrAccessKeyNotFound)

	// The key arrives from the change stream; it must be visible at once.
	require.NoError(t, mem.PutPrincipal(ctx, testPrincipal()))

	res, err := mgr.GetByAccessKey(ctx, "AKIATEST123EXAMPLE")
	require.NoError(t, err)
	assert.Equal(t, "5d0049f4-67ed-4724-8b8f-6c9b0a9af602", res.Owner())
	assert.Equal(t, int64(2), counting.keyReads.Load())
}

func TestManager_Invalidate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := NewMemoryStore()
	require.NoError(t, mem.PutPrincipal(ctx, testPrincipal()))

	counting := &countingStore{Store: mem}
	mgr := NewManager(counting)

	_, err := mgr.GetByAccessKey(ctx, "AKIATEST123EXAMPLE")
	require.NoError(t, err)

	mgr.InvalidateAccessKey("AKIATEST123EXAMPLE")

	_, err = mgr.GetByAccessKey(ctx, "AKIATEST123EXAMPLE")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counting.keyReads.Load())
}
