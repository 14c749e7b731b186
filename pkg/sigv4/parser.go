// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

package sigv4

import (
	"errors"
	"regexp"
	"strings"
)

// ErrMalformedAuthorization is the single generic parse failure: no partial
// credential is ever returned, and the specific violation is not surfaced.
var ErrMalformedAuthorization = errors.New("malformed authorization header")

// Access key ids are word characters only, 16 characters at minimum; the
// verifier caps them at maxAccessKeyIDLen.
const (
	minAccessKeyIDLen = 16
	maxAccessKeyIDLen = 128
)

var (
	accessKeyIDPattern = regexp.MustCompile(`^\w+$`)
	dateStampPattern   = regexp.MustCompile(`^[0-9]{8}$`)
)

// Credential is the parsed content of a SigV4 Authorization header.
type Credential struct {
	AccessKeyID   string
	DateStamp     string // YYYYMMDD from the credential scope
	Region        string
	Service       string
	SignedHeaders []string
	Signature     string // opaque; format errors surface as a signature mismatch
}

// Scope reassembles the credential scope the signature was bound to.
func (c *Credential) Scope() string {
	return strings.Join([]string{c.DateStamp, c.Region, c.Service, RequestType}, "/")
}

// ParseAuthorizationHeader parses and validates a SigV4 Authorization
// header value:
//
//	AWS4-HMAC-SHA256 Credential=<id>/<date>/<region>/<service>/aws4_request,
//	SignedHeaders=<a;b;c>, Signature=<hex>
//
// Any violation yields ErrMalformedAuthorization.
func ParseAuthorizationHeader(headerValue string) (*Credential, error) {
	rest, ok := strings.CutPrefix(headerValue, Algorithm)
	if !ok {
		return nil, ErrMalformedAuthorization
	}

	cred := &Credential{}
	var haveCredential, haveSignedHeaders, haveSignature bool

	for _, part := range strings.Split(rest, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}

		switch key {
		case "Credential":
			scopeParts := strings.Split(value, "/")
			if len(scopeParts) != 5 {
				return nil, ErrMalformedAuthorization
			}
			cred.AccessKeyID = scopeParts[0]
			cred.DateStamp = scopeParts[1]
			cred.Region = scopeParts[2]
			cred.Service = scopeParts[3]
			if scopeParts[4] != RequestType {
				return nil, ErrMalformedAuthorization
			}
			haveCredential = true

		case "SignedHeaders":
			cred.SignedHeaders = strings.Split(value, ";")
			haveSignedHeaders = true

		case "Signature":
			cred.Signature = value
			haveSignature = true
		}
	}

	if !haveCredential || !haveSignedHeaders || !haveSignature {
		return nil, ErrMalformedAuthorization
	}

	// The 128-character cap is enforced by the verifier's explicit guard so
	// an oversized id is reported as such rather than as a generic parse
	// failure.
	if len(cred.AccessKeyID) < minAccessKeyIDLen {
		return nil, ErrMalformedAuthorization
	}
	if !accessKeyIDPattern.MatchString(cred.AccessKeyID) {
		return nil, ErrMalformedAuthorization
	}
	if !dateStampPattern.MatchString(cred.DateStamp) {
		return nil, ErrMalformedAuthorization
	}
	if strings.TrimSpace(cred.Region) == "" || strings.TrimSpace(cred.Service) == "" {
		return nil, ErrMalformedAuthorization
	}
	return cred, nil
}
