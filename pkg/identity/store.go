// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"errors"
)

var (
	ErrAccessKeyNotFound = errors.New("access key not found")
	ErrPrincipalNotFound = errors.New("principal not found")
)

// Store is the read side of the identity store as seen by the auth core.
// Implementations return ErrAccessKeyNotFound / ErrPrincipalNotFound for
// misses; any other error is an infrastructure failure the caller may
// retry.
type Store interface {
	// GetByAccessKey resolves an access key id through the reverse index.
	GetByAccessKey(ctx context.Context, accessKeyID string) (*KeyResolution, error)

	// GetPrincipal fetches a principal record by UUID.
	GetPrincipal(ctx context.Context, uuid string) (*Principal, error)
}

// Writer is the write side used by the ingestion pipeline and by the STS
// service when it mints temporary credentials. The verifier itself never
// writes.
type Writer interface {
	// PutPrincipal stores a principal record and indexes its permanent
	// access keys.
	PutPrincipal(ctx context.Context, p *Principal) error

	// PutTemporaryCredential stores a temporary-credential record directly
	// at its access key id in the reverse index.
	PutTemporaryCredential(ctx context.Context, cred *TemporaryCredential) error

	// DeleteAccessKey removes an access key from the reverse index.
	DeleteAccessKey(ctx context.Context, accessKeyID string) error
}

// ReadWriter combines both sides; all bundled store implementations
// satisfy it.
type ReadWriter interface {
	Store
	Writer
}
