// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

package sigv4

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keelworks/authgate/pkg/autherr"
	"github.com/keelworks/authgate/pkg/identity"
	"github.com/keelworks/authgate/pkg/token"
)

var fixedNow = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

const (
	testUUID      = "5d0049f4-67ed-4724-8b8f-6c9b0a9af602"
	testAccessKey = "AKIATEST123EXAMPLE"
	testSecret    = "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY"
	testTempKey   = "MSTS1234567890ABCDEF"
	testTempSec   = "temporary-secret-0123456789abcdef0123456"
)

func fixedClock() time.Time { return fixedNow }

func newTestStore(t *testing.T) *identity.MemoryStore {
	t.Helper()
	store := identity.NewMemoryStore()
	err := store.PutPrincipal(context.Background(), &identity.Principal{
		UUID:       testUUID,
		Login:      "alice",
		Account:    "123456789012",
		AccessKeys: map[string]string{testAccessKey: testSecret},
	})
	require.NoError(t, err)
	return store
}

func newSignedRequest(t *testing.T, signedAt time.Time, accessKeyID, secret string) *RequestDescriptor {
	t.Helper()
	req := &RequestDescriptor{
		Method:   "GET",
		Path:     "/accounts/" + testUUID,
		RawQuery: "list=true",
		Headers:  http.Header{},
	}
	req.Headers.Set("Host", "authgate.local")

	signer := NewSigner("us-east-1", "sts")
	signer.Now = func() time.Time { return signedAt }
	signer.Sign(req, accessKeyID, secret)
	return req
}

func newTestKeys(t *testing.T) (KeySnapshotFunc, token.KeyEntry) {
	t.Helper()
	entry := token.KeyEntry{
		KeyID:    "k-1",
		Material: []byte("0123456789abcdef0123456789abcdef"),
		Primary:  true,
		AddedAt:  fixedNow,
	}
	store := token.NewKeyStore(10*time.Minute, []token.KeyEntry{entry})
	return func() *token.KeyStore { return store }, entry
}

func TestVerifyRequest_Valid(t *testing.T) {
	t.Parallel()

	v := NewVerifier(newTestStore(t), nil, WithClock(fixedClock))
	req := newSignedRequest(t, fixedNow, testAccessKey, testSecret)

	result, code := v.VerifyRequest(context.Background(), req)
	require.Equal(t, autherr.ErrNone, code)
	assert.Equal(t, testAccessKey, result.AccessKeyID)
	assert.Equal(t, testUUID, result.Principal.UUID)
	assert.False(t, result.IsTemporary)
	assert.Nil(t, result.AssumedRole)

	// Verifying the identical request again gives the identical outcome.
	again, code := v.VerifyRequest(context.Background(), req)
	require.Equal(t, autherr.ErrNone, code)
	assert.Equal(t, result.Principal.UUID, again.Principal.UUID)
}

func TestVerifyRequest_TamperedRequest(t *testing.T) {
	t.Parallel()

	v := NewVerifier(newTestStore(t), nil, WithClock(fixedClock))

	req := newSignedRequest(t, fixedNow, testAccessKey, testSecret)
	req.Path = "/accounts/someone-else"
	_, code := v.VerifyRequest(context.Background(), req)
	assert.Equal(t, autherr.ErrSignatureMismatch, code)

	req = newSignedRequest(t, fixedNow, testAccessKey, testSecret)
	req.RawQuery = "list=false"
	_, code = v.VerifyRequest(context.Background(), req)
	assert.Equal(t, autherr.ErrSignatureMismatch, code)
}

func TestVerifyRequest_WrongSecret(t *testing.T) {
	t.Parallel()

	v := NewVerifier(newTestStore(t), nil, WithClock(fixedClock))
	req := newSignedRequest(t, fixedNow, testAccessKey, "not-the-real-secret")

	_, code := v.VerifyRequest(context.Background(), req)
	assert.Equal(t, autherr.ErrSignatureMismatch, code)
}

func TestVerifyRequest_TimestampWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		signedAt time.Time
		want     autherr.ErrorCode
	}{
		{"20 minutes old", fixedNow.Add(-20 * time.Minute), autherr.ErrTimestampTooOld},
		{"14.5 minutes old", fixedNow.Add(-14*time.Minute - 30*time.Second), autherr.ErrNone},
		{"20 minutes ahead", fixedNow.Add(20 * time.Minute), autherr.ErrTimestampTooOld},
		{"14.5 minutes ahead", fixedNow.Add(14*time.Minute + 30*time.Second), autherr.ErrNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := NewVerifier(newTestStore(t), nil, WithClock(fixedClock))
			req := newSignedRequest(t, tt.signedAt, testAccessKey, testSecret)
			_, code := v.VerifyRequest(context.Background(), req)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestVerifyRequest_MissingTimestamp(t *testing.T) {
	t.Parallel()

	v := NewVerifier(newTestStore(t), nil, WithClock(fixedClock))

	req := newSignedRequest(t, fixedNow, testAccessKey, testSecret)
	req.Headers.Del("X-Amz-Date")
	_, code := v.VerifyRequest(context.Background(), req)
	assert.Equal(t, autherr.ErrMissingTimestamp, code)

	req = newSignedRequest(t, fixedNow, testAccessKey, testSecret)
	req.Headers.Set("X-Amz-Date", "not-a-timestamp")
	_, code = v.VerifyRequest(context.Background(), req)
	assert.Equal(t, autherr.ErrMissingTimestamp, code)
}

// When x-amz-date is not among the signed headers the standard Date header
// supplies the timestamp.
func TestVerifyRequest_DateHeaderFallback(t *testing.T) {
	t.Parallel()

	v := NewVerifier(newTestStore(t), nil, WithClock(fixedClock))

	req := &RequestDescriptor{
		Method:  "GET",
		Path:    "/accounts/" + testUUID,
		Headers: http.Header{},
	}
	req.Headers.Set("Host", "authgate.local")

	signer := NewSigner("us-east-1", "sts")
	signer.SignedHeaders = []string{"host"}
	signer.Now = fixedClock
	signer.Sign(req, testAccessKey, testSecret)

	req.Headers.Del("X-Amz-Date")
	req.Headers.Set("Date", fixedNow.Format(time.RFC1123))

	_, code := v.VerifyRequest(context.Background(), req)
	assert.Equal(t, autherr.ErrNone, code)
}

func TestVerifyRequest_UnknownAccessKey(t *testing.T) {
	t.Parallel()

	v := NewVerifier(newTestStore(t), nil, WithClock(fixedClock))
	req := newSignedRequest(t, fixedNow, "AKIAUNKNOWNKEY01", "whatever")

	_, code := v.VerifyRequest(context.Background(), req)
	assert.Equal(t, autherr.ErrInvalidAccessKey, code)
}

func TestVerifyRequest_HeaderChecks(t *testing.T) {
	t.Parallel()

	v := NewVerifier(newTestStore(t), nil, WithClock(fixedClock))

	req := &RequestDescriptor{Method: "GET", Path: "/", Headers: http.Header{}}
	_, code := v.VerifyRequest(context.Background(), req)
	assert.Equal(t, autherr.ErrMissingAuthHeader, code)

	req.Headers.Set("Authorization", "Bearer some-jwt")
	_, code = v.VerifyRequest(context.Background(), req)
	assert.Equal(t, autherr.ErrInvalidAuthFormat, code)

	req.Headers.Set("Authorization", Algorithm+" garbage")
	_, code = v.VerifyRequest(context.Background(), req)
	assert.Equal(t, autherr.ErrInvalidAuthFormat, code)
}

func TestVerifyRequest_AccessKeyTooLong(t *testing.T) {
	t.Parallel()

	v := NewVerifier(newTestStore(t), nil, WithClock(fixedClock))

	longID := make([]byte, 129)
	for i := range longID {
		longID[i] = 'A'
	}
	req := &RequestDescriptor{Method: "GET", Path: "/", Headers: http.Header{}}
	req.Headers.Set("Authorization", authHeaderFor(string(longID)))

	_, code := v.VerifyRequest(context.Background(), req)
	assert.Equal(t, autherr.ErrAccessKeyIDTooLong, code)
}

func putTempCredential(t *testing.T, store identity.Writer, signing token.KeyEntry, expiration time.Time) string {
	t.Helper()

	sessionToken, err := token.Issue(token.Claims{
		PrincipalUUID: testUUID,
		RoleARN:       "arn:aws:iam::123456789012:role/auditor",
		SessionName:   "audit-session",
		ExpiresAt:     time.Now().Add(time.Hour),
	}, signing)
	require.NoError(t, err)

	err = store.PutTemporaryCredential(context.Background(), &identity.TemporaryCredential{
		AccessKeyID:   testTempKey,
		OwnerUUID:     testUUID,
		Secret:        testTempSec,
		Expiration:    expiration,
		SessionToken:  sessionToken,
		PrincipalUUID: testUUID,
		AssumedRole: &identity.AssumedRole{
			RoleUUID: "b1f6f4a2-1111-2222-3333-444455556666",
			ARN:      "arn:aws:iam::123456789012:role/auditor",
		},
	})
	require.NoError(t, err)
	return sessionToken
}

func TestVerifyRequest_TemporaryCredential(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	keys, signing := newTestKeys(t)
	sessionToken := putTempCredential(t, store, signing, fixedNow.Add(time.Hour))

	v := NewVerifier(store, keys, WithClock(fixedClock))
	req := newSignedRequest(t, fixedNow, testTempKey, testTempSec)
	req.Headers.Set("X-Amz-Security-Token", sessionToken)

	result, code := v.VerifyRequest(context.Background(), req)
	require.Equal(t, autherr.ErrNone, code)
	assert.True(t, result.IsTemporary)
	assert.Equal(t, testUUID, result.Principal.UUID)
	require.NotNil(t, result.AssumedRole)
	assert.Equal(t, "arn:aws:iam::123456789012:role/auditor", result.AssumedRole.ARN)
	require.NotNil(t, result.SessionClaims)
	assert.Equal(t, testUUID, result.SessionClaims.PrincipalUUID)
}

func TestVerifyRequest_TemporaryCredentialTokenChecks(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	keys, signing := newTestKeys(t)
	sessionToken := putTempCredential(t, store, signing, fixedNow.Add(time.Hour))

	v := NewVerifier(store, keys, WithClock(fixedClock))

	// No session token at all.
	req := newSignedRequest(t, fixedNow, testTempKey, testTempSec)
	_, code := v.VerifyRequest(context.Background(), req)
	assert.Equal(t, autherr.ErrMissingSessionToken, code)

	// A token that verifies against nothing.
	req = newSignedRequest(t, fixedNow, testTempKey, testTempSec)
	req.Headers.Set("X-Amz-Security-Token", "not.a.jwt")
	_, code = v.VerifyRequest(context.Background(), req)
	assert.Equal(t, autherr.ErrInvalidSessionToken, code)

	// A valid token cannot revive an expired credential record.
	expiredStore := newTestStore(t)
	putTempCredential(t, expiredStore, signing, fixedNow.Add(-time.Minute))
	v = NewVerifier(expiredStore, keys, WithClock(fixedClock))
	req = newSignedRequest(t, fixedNow, testTempKey, testTempSec)
	req.Headers.Set("X-Amz-Security-Token", sessionToken)
	_, code = v.VerifyRequest(context.Background(), req)
	assert.Equal(t, autherr.ErrInvalidSessionToken, code)
}

// stubStore lets tests stage resolution records that disagree with the
// principal table, and inject infrastructure failures.
type stubStore struct {
	resolutions  map[string]*identity.KeyResolution
	principals   map[string]*identity.Principal
	keyErr       error
	principalErr error
}

func (s *stubStore) GetByAccessKey(_ context.Context, accessKeyID string) (*identity.KeyResolution, error) {
	if s.keyErr != nil {
		return nil, s.keyErr
	}
	res, ok := s.resolutions[accessKeyID]
	if !ok {
		return nil, identity.ErrAccessKeyNotFound
	}
	return res, nil
}

func (s *stubStore) GetPrincipal(_ context.Context, uuid string) (*identity.Principal, error) {
	if s.principalErr != nil {
		return nil, s.principalErr
	}
	p, ok := s.principals[uuid]
	if !ok {
		return nil, identity.ErrPrincipalNotFound
	}
	return p, nil
}

func TestVerifyRequest_DanglingIndexEntries(t *testing.T) {
	t.Parallel()

	// Index resolves but the owner record is gone.
	store := &stubStore{
		resolutions: map[string]*identity.KeyResolution{
			testAccessKey: {OwnerUUID: "ghost-uuid"},
		},
		principals: map[string]*identity.Principal{},
	}
	v := NewVerifier(store, nil, WithClock(fixedClock))
	req := newSignedRequest(t, fixedNow, testAccessKey, testSecret)
	_, code := v.VerifyRequest(context.Background(), req)
	assert.Equal(t, autherr.ErrUserNotFound, code)

	// Owner exists but no longer lists the key.
	store = &stubStore{
		resolutions: map[string]*identity.KeyResolution{
			testAccessKey: {OwnerUUID: testUUID},
		},
		principals: map[string]*identity.Principal{
			testUUID: {UUID: testUUID, Login: "alice", AccessKeys: map[string]string{}},
		},
	}
	v = NewVerifier(store, nil, WithClock(fixedClock))
	_, code = v.VerifyRequest(context.Background(), req)
	assert.Equal(t, autherr.ErrAccessKeyNotFound, code)
}

func TestVerifyRequest_StoreUnavailable(t *testing.T) {
	t.Parallel()

	infraErr := errors.New("connection refused")

	v := NewVerifier(&stubStore{keyErr: infraErr}, nil, WithClock(fixedClock))
	req := newSignedRequest(t, fixedNow, testAccessKey, testSecret)
	_, code := v.VerifyRequest(context.Background(), req)
	assert.Equal(t, autherr.ErrStoreUnavailable, code)
	assert.False(t, code.IsAuthFailure())
	assert.True(t, code.Retryable())

	v = NewVerifier(&stubStore{
		resolutions: map[string]*identity.KeyResolution{
			testAccessKey: {OwnerUUID: testUUID},
		},
		principalErr: infraErr,
	}, nil, WithClock(fixedClock))
	_, code = v.VerifyRequest(context.Background(), req)
	assert.Equal(t, autherr.ErrStoreUnavailable, code)
}

// A lowercase prefix is an ordinary permanent key; no session token is
// demanded for it.
func TestVerifyRequest_LowercasePrefixIsPermanent(t *testing.T) {
	t.Parallel()

	store := identity.NewMemoryStore()
	err := store.PutPrincipal(context.Background(), &identity.Principal{
		UUID:       testUUID,
		Login:      "alice",
		AccessKeys: map[string]string{"mstslooksliketemp1": testSecret},
	})
	require.NoError(t, err)

	v := NewVerifier(store, nil, WithClock(fixedClock))
	req := newSignedRequest(t, fixedNow, "mstslooksliketemp1", testSecret)

	result, code := v.VerifyRequest(context.Background(), req)
	require.Equal(t, autherr.ErrNone, code)
	assert.False(t, result.IsTemporary)
}

func TestVerifyRequest_UnsignedHeadersDoNotMatter(t *testing.T) {
	t.Parallel()

	v := NewVerifier(newTestStore(t), nil, WithClock(fixedClock))
	req := newSignedRequest(t, fixedNow, testAccessKey, testSecret)

	// Mutating a header outside the signed set never breaks the signature.
	req.Headers.Set("User-Agent", "changed-after-signing")
	_, code := v.VerifyRequest(context.Background(), req)
	assert.Equal(t, autherr.ErrNone, code)
}
