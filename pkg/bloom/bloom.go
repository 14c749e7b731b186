// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package bloom provides a small concurrent Bloom filter used to reject
// unknown access keys before touching the identity store. False positives
// fall through to the store lookup; false negatives never occur.
package bloom

import (
	"hash/fnv"
	"math"
	"sync"
)

// Filter is a fixed-size Bloom filter safe for concurrent use.
type Filter struct {
	mu      sync.RWMutex
	bits    []uint64
	numBits uint64
	numHash uint64
}

// New creates a filter sized for the expected number of items at the given
// false positive rate.
func New(expectedItems int, falsePositiveRate float64) *Filter {
	if expectedItems < 1 {
		expectedItems = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	// m = -n*ln(p)/ln(2)^2, k = (m/n)*ln(2)
	n := float64(expectedItems)
	m := -n * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)
	k := (m / n) * math.Ln2

	numWords := (uint64(math.Ceil(m)) + 63) / 64
	if numWords == 0 {
		numWords = 1
	}
	numHash := uint64(math.Ceil(k))
	if numHash < 1 {
		numHash = 1
	}

	return &Filter{
		bits:    make([]uint64, numWords),
		numBits: numWords * 64,
		numHash: numHash,
	}
}

// indexes derives the k bit positions for key using double hashing over a
// single FNV-1a pass (Kirsch-Mitzenmacher).
func (f *Filter) indexes(key string) (uint64, uint64) {
	h := fnv.New64a()
	h.Write([]byte(key))
	h1 := h.Sum64()
	h2 := h1>>33 | h1<<31
	if h2 == 0 {
		h2 = 0x9e3779b97f4a7c15
	}
	return h1, h2
}

// Add inserts key into the filter.
func (f *Filter) Add(key string) {
	h1, h2 := f.indexes(key)

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := uint64(0); i < f.numHash; i++ {
		bit := (h1 + i*h2) % f.numBits
		f.bits[bit/64] |= 1 << (bit % 64)
	}
}

// Contains reports whether key is possibly in the set.
func (f *Filter) Contains(key string) bool {
	h1, h2 := f.indexes(key)

	f.mu.RLock()
	defer f.mu.RUnlock()
	for i := uint64(0); i < f.numHash; i++ {
		bit := (h1 + i*h2) % f.numBits
		if f.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}
