// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	authRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authgate_auth_requests_total",
		Help: "Authentication attempts by internal outcome code",
	}, []string{"outcome"})

	authLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "authgate_auth_latency_seconds",
		Help:    "Request verification latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	keyLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authgate_key_lookups_total",
		Help: "Direct access-key lookups by result",
	}, []string{"result"})
)
