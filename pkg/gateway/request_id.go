// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// RequestIDHeader carries the per-request id on responses so a client can
// quote it when reporting a rejected request.
const RequestIDHeader = "X-Request-Id"

// requestIDGenerator produces process-unique request ids: a random prefix
// fixed at startup plus a monotonic counter.
type requestIDGenerator struct {
	counter atomic.Uint64
	prefix  string
}

func newRequestIDGenerator() *requestIDGenerator {
	return &requestIDGenerator{
		prefix: uuid.New().String()[0:8],
	}
}

func (g *requestIDGenerator) next() string {
	return g.prefix + "-" + strconv.FormatUint(g.counter.Add(1), 10)
}
