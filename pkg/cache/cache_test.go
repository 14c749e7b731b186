// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetGet(t *testing.T) {
	t.Parallel()

	c := New[string, int]()
	c.Set("a", 1)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	t.Parallel()

	now := time.Now()
	clock := func() time.Time { return now }

	c := New[string, string](
		WithExpiry[string, string](5*time.Minute),
		WithClock[string, string](clock),
	)

	c.Set("k", "v")
	_, ok := c.Get("k")
	assert.True(t, ok)

	now = now.Add(6 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestCache_MaxSizeEviction(t *testing.T) {
	t.Parallel()

	c := New[int, int](WithMaxSize[int, int](3))
	for i := 0; i < 5; i++ {
		c.Set(i, i)
	}
	assert.Equal(t, 3, c.Size())
}

func TestCache_DeleteClear(t *testing.T) {
	t.Parallel()

	c := New[string, int]()
	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Size())
}
