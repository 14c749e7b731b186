// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package sigv4 implements AWS Signature Version 4 request authentication:
// the canonical-request builder, the Authorization header parser, a
// client-side signer, and the request-verification state machine.
//
// Reference: https://docs.aws.amazon.com/general/latest/gr/signature-version-4.html
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
)

const (
	// Algorithm is the SigV4 algorithm token that prefixes every
	// Authorization header.
	Algorithm = "AWS4-HMAC-SHA256"

	// RequestType terminates every credential scope.
	RequestType = "aws4_request"

	Iso8601BasicFormat = "20060102T150405Z"
	Iso8601DateFormat  = "20060102"

	// UnsignedPayload is the sentinel payload hash for unsigned bodies;
	// it passes through the canonical request verbatim.
	UnsignedPayload = "UNSIGNED-PAYLOAD"

	// HashedEmptyPayload is the precomputed SHA256 of an empty payload.
	HashedEmptyPayload = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

// RequestDescriptor is the abstract inbound request shape the verifier
// consumes. It carries required fields explicitly rather than an
// open-ended map, and has no dependency on any HTTP server framework.
type RequestDescriptor struct {
	Method   string
	Path     string
	RawQuery string
	Headers  http.Header
	Body     []byte
}

// HeaderValue looks a header up case-insensitively; absent headers yield
// the empty string.
func (r *RequestDescriptor) HeaderValue(name string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(name)
}

// PayloadHash returns the hex digest line for the canonical request: the
// caller-supplied X-Amz-Content-Sha256 value when present (including the
// UNSIGNED-PAYLOAD sentinel), otherwise the SHA256 of the raw body.
func (r *RequestDescriptor) PayloadHash() string {
	if h := r.HeaderValue("X-Amz-Content-Sha256"); h != "" {
		return h
	}
	if len(r.Body) == 0 {
		return HashedEmptyPayload
	}
	sum := sha256.Sum256(r.Body)
	return hex.EncodeToString(sum[:])
}

// CanonicalRequest converts the request shape into the exact SigV4
// canonical byte string: six newline-joined sections (method, URI, query,
// header block, signed-header list, payload hash). It is pure and
// deterministic; header insertion order and signedHeaderNames order never
// change the output.
func CanonicalRequest(method, path, rawQuery string, headers http.Header, signedHeaderNames []string, payloadHash string) string {
	canonicalHeaders, sortedNames := canonicalHeaders(headers, signedHeaderNames)

	return strings.Join([]string{
		method,
		canonicalURI(path),
		canonicalQuery(rawQuery),
		canonicalHeaders,
		strings.Join(sortedNames, ";"),
		payloadHash,
	}, "\n")
}

// canonicalURI percent-encodes the path per RFC 3986, segment by segment,
// so slashes survive as separators.
func canonicalURI(path string) string {
	if path == "" || path == "/" {
		return "/"
	}

	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	encoded := make([]string, len(segments))
	for i, segment := range segments {
		encoded[i] = awsURLEncode(segment)
	}
	return "/" + strings.Join(encoded, "/")
}

// canonicalQuery splits the raw query on '&', percent-encodes each key and
// value independently (a pair without '=' becomes "key="), sorts the pairs
// lexicographically by their encoded form, and rejoins with '&'. An empty
// query yields an empty line.
func canonicalQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	pairs := strings.Split(rawQuery, "&")
	encoded := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		encoded = append(encoded, awsURLEncode(key)+"="+awsURLEncode(value))
	}
	sort.Strings(encoded)
	return strings.Join(encoded, "&")
}

// canonicalHeaders emits "name:value\n" lines for each signed header in
// ascending order of lower-cased name, and returns the sorted name list.
// A missing header contributes an empty value rather than an error;
// internal whitespace runs collapse to a single space.
func canonicalHeaders(headers http.Header, signedHeaderNames []string) (string, []string) {
	seen := make(map[string]bool, len(signedHeaderNames))
	names := make([]string, 0, len(signedHeaderNames))
	for _, name := range signedHeaderNames {
		lower := strings.ToLower(strings.TrimSpace(name))
		if lower == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		names = append(names, lower)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		value := ""
		if headers != nil {
			value = headers.Get(name)
		}
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(collapseWhitespace(value))
		b.WriteByte('\n')
	}
	return b.String(), names
}

// collapseWhitespace trims the value and squeezes internal whitespace runs
// down to a single space.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// awsURLEncode percent-encodes per the SigV4 rules: unreserved characters
// A-Z a-z 0-9 - _ . ~ stay literal, everything else becomes uppercase %XX.
// Neither url.QueryEscape (space as '+') nor url.PathEscape (sub-delims
// kept literal) matches these rules exactly.
func awsURLEncode(s string) string {
	const hexDigits = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0xf])
		}
	}
	return b.String()
}

// StringToSign binds the hashed canonical request to a timestamp and
// credential scope.
func StringToSign(timestamp, credentialScope, canonicalRequest string) string {
	sum := sha256.Sum256([]byte(canonicalRequest))
	return strings.Join([]string{
		Algorithm,
		timestamp,
		credentialScope,
		hex.EncodeToString(sum[:]),
	}, "\n")
}

// DeriveSigningKey runs the iterated HMAC-SHA256 chain; each stage's
// output keys the next stage.
func DeriveSigningKey(secret, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte(RequestType))
}

// CalculateSignature computes the final hex signature.
func CalculateSignature(signingKey []byte, stringToSign string) string {
	return hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// constantTimeCompare prevents timing side-channels on signature checks.
func constantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
