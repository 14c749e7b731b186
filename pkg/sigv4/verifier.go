// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

package sigv4

import (
	"context"
	"errors"
	"time"

	"github.com/keelworks/authgate/pkg/autherr"
	"github.com/keelworks/authgate/pkg/identity"
	"github.com/keelworks/authgate/pkg/logger"
	"github.com/keelworks/authgate/pkg/token"
)

// MaxClockSkew is the freshness window: requests timestamped more than this
// far in the past or the future are rejected. The window is symmetric.
const MaxClockSkew = 15 * time.Minute

// KeySnapshotFunc supplies the current signing-key snapshot. Rotation swaps
// the snapshot atomically; a verification in flight keeps the one it took.
type KeySnapshotFunc func() *token.KeyStore

// Verifier authenticates inbound requests against the identity store. It
// holds no per-request state; one Verifier serves any number of concurrent
// verifications.
type Verifier struct {
	store identity.Store
	keys  KeySnapshotFunc
	now   func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithClock overrides the time source used for freshness checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// NewVerifier creates a Verifier over the given identity store. keys may be
// nil when no session-token verification is required (no temporary
// credentials in the deployment).
func NewVerifier(store identity.Store, keys KeySnapshotFunc, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		store: store,
		keys:  keys,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Result is a successful authentication.
type Result struct {
	AccessKeyID   string
	Principal     *identity.Principal
	IsTemporary   bool
	AssumedRole   *identity.AssumedRole
	SessionClaims *token.Claims // set for temporary credentials
}

// VerifyRequest runs the verification state machine over the inbound
// request. Stages run in a fixed order: syntactic checks first (no I/O),
// then the store reads, then the timestamp check, and the HMAC
// recomputation last, so malformed or clearly-foreign requests never pay
// for a store round trip or an HMAC.
//
// On failure the returned ErrorCode identifies the stage internally;
// callers expose only its uniform APIError mapping.
func (v *Verifier) VerifyRequest(ctx context.Context, req *RequestDescriptor) (*Result, autherr.ErrorCode) {
	// 1. Header presence.
	authHeader := req.HeaderValue("Authorization")
	if authHeader == "" {
		return nil, autherr.ErrMissingAuthHeader
	}

	// 2. Format check: must carry the SigV4 algorithm token.
	if !hasAlgorithmPrefix(authHeader) {
		return nil, autherr.ErrInvalidAuthFormat
	}

	// 3. Credential parse.
	cred, err := ParseAuthorizationHeader(authHeader)
	if err != nil {
		return nil, autherr.ErrInvalidAuthFormat
	}

	// 4. Key length guard. The parser already bounds the id, but call
	// sites that construct a Credential directly bypass it; the verifier
	// enforces the cap itself.
	if len(cred.AccessKeyID) > maxAccessKeyIDLen {
		return nil, autherr.ErrAccessKeyIDTooLong
	}

	// 5. Key resolution through the reverse index.
	resolution, err := v.store.GetByAccessKey(ctx, cred.AccessKeyID)
	if err != nil {
		if errors.Is(err, identity.ErrAccessKeyNotFound) {
			return nil, autherr.ErrInvalidAccessKey
		}
		logger.Ctx(ctx).Error().Err(err).Msg("identity store read failed")
		return nil, autherr.ErrStoreUnavailable
	}

	// 6. Temporary credential guard: MSTS/MSAR keys must present a session
	// proof, and the proof must verify against the current key snapshot.
	var claims *token.Claims
	if identity.IsTemporaryKey(cred.AccessKeyID) && resolution.IsTemporary() {
		sessionToken := req.HeaderValue("X-Amz-Security-Token")
		if sessionToken == "" {
			return nil, autherr.ErrMissingSessionToken
		}
		var snapshot *token.KeyStore
		if v.keys != nil {
			snapshot = v.keys()
		}
		claims, err = token.Verify(sessionToken, snapshot)
		if err != nil {
			return nil, autherr.ErrInvalidSessionToken
		}
		if resolution.Temporary.IsExpired(v.now()) {
			return nil, autherr.ErrInvalidSessionToken
		}
	}

	// 7. Owner resolution.
	principal, err := v.store.GetPrincipal(ctx, resolution.Owner())
	if err != nil {
		if errors.Is(err, identity.ErrPrincipalNotFound) {
			return nil, autherr.ErrUserNotFound
		}
		logger.Ctx(ctx).Error().Err(err).Msg("identity store read failed")
		return nil, autherr.ErrStoreUnavailable
	}

	// 8. Secret resolution. Permanent keys live in the owner's credential
	// map; a temporary key's secret is bound to its reverse-index record.
	var secret string
	if resolution.IsTemporary() {
		secret = resolution.Temporary.Secret
	} else {
		var found bool
		secret, found = principal.AccessKeys[cred.AccessKeyID]
		if !found {
			return nil, autherr.ErrAccessKeyNotFound
		}
	}

	// 9. Timestamp freshness: |now - requestTime| within the window, same
	// rejection for stale-past and too-far-future.
	timestamp, code := v.requestTimestamp(req)
	if code != autherr.ErrNone {
		return nil, code
	}
	if delta := v.now().Sub(timestamp); delta > MaxClockSkew || delta < -MaxClockSkew {
		return nil, autherr.ErrTimestampTooOld
	}

	// 10. Signature recomputation over the actual inbound request, using
	// the secret bound to the resolved owner — never anything taken from
	// the request itself.
	canonicalReq := CanonicalRequest(req.Method, req.Path, req.RawQuery, req.Headers, cred.SignedHeaders, req.PayloadHash())
	stringToSign := StringToSign(v.timestampString(req), cred.Scope(), canonicalReq)
	signingKey := DeriveSigningKey(secret, cred.DateStamp, cred.Region, cred.Service)
	expected := CalculateSignature(signingKey, stringToSign)

	if !constantTimeCompare(cred.Signature, expected) {
		return nil, autherr.ErrSignatureMismatch
	}

	// 11. Authenticated.
	result := &Result{
		AccessKeyID: cred.AccessKeyID,
		Principal:   principal,
		IsTemporary: resolution.IsTemporary(),
	}
	if resolution.IsTemporary() {
		result.AssumedRole = resolution.Temporary.AssumedRole
		result.SessionClaims = claims
	}
	return result, autherr.ErrNone
}

func hasAlgorithmPrefix(authHeader string) bool {
	return len(authHeader) >= len(Algorithm) && authHeader[:len(Algorithm)] == Algorithm
}

// requestTimestamp reads X-Amz-Date, falling back to the standard Date
// header. Neither present, or neither parseable, means the request carries
// no usable timestamp.
func (v *Verifier) requestTimestamp(req *RequestDescriptor) (time.Time, autherr.ErrorCode) {
	if amzDate := req.HeaderValue("X-Amz-Date"); amzDate != "" {
		t, err := time.Parse(Iso8601BasicFormat, amzDate)
		if err != nil {
			return time.Time{}, autherr.ErrMissingTimestamp
		}
		return t, autherr.ErrNone
	}
	if date := req.HeaderValue("Date"); date != "" {
		t, err := time.Parse(time.RFC1123, date)
		if err != nil {
			return time.Time{}, autherr.ErrMissingTimestamp
		}
		return t.UTC(), autherr.ErrNone
	}
	return time.Time{}, autherr.ErrMissingTimestamp
}

// timestampString returns the ISO8601 basic timestamp the string-to-sign
// uses, converting a Date-header fallback into the basic format.
func (v *Verifier) timestampString(req *RequestDescriptor) string {
	if amzDate := req.HeaderValue("X-Amz-Date"); amzDate != "" {
		return amzDate
	}
	if date := req.HeaderValue("Date"); date != "" {
		if t, err := time.Parse(time.RFC1123, date); err == nil {
			return t.UTC().Format(Iso8601BasicFormat)
		}
	}
	return ""
}
