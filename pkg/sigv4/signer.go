// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

package sigv4

import (
	"sort"
	"strings"
	"time"
)

// Signer produces SigV4-signed requests. The gateway's own tests and
// tooling use it; it shares the canonicalization code with the verifier so
// the two cannot drift.
type Signer struct {
	Region        string
	Service       string
	SignedHeaders []string
	Now           func() time.Time
}

// NewSigner creates a Signer for the given region and service, signing
// host, x-amz-date and x-amz-content-sha256 by default.
func NewSigner(region, service string) *Signer {
	return &Signer{
		Region:        region,
		Service:       service,
		SignedHeaders: []string{"host", "x-amz-date", "x-amz-content-sha256"},
		Now:           time.Now,
	}
}

// Sign stamps the request with X-Amz-Date and X-Amz-Content-Sha256 and sets
// the Authorization header.
func (s *Signer) Sign(req *RequestDescriptor, accessKeyID, secret string) {
	now := s.Now().UTC()
	amzDate := now.Format(Iso8601BasicFormat)
	dateStamp := now.Format(Iso8601DateFormat)

	req.Headers.Set("X-Amz-Date", amzDate)
	req.Headers.Set("X-Amz-Content-Sha256", req.PayloadHash())

	scope := strings.Join([]string{dateStamp, s.Region, s.Service, RequestType}, "/")

	canonicalReq := CanonicalRequest(req.Method, req.Path, req.RawQuery, req.Headers, s.SignedHeaders, req.PayloadHash())
	stringToSign := StringToSign(amzDate, scope, canonicalReq)
	signingKey := DeriveSigningKey(secret, dateStamp, s.Region, s.Service)
	signature := CalculateSignature(signingKey, stringToSign)

	sortedNames := append([]string(nil), s.SignedHeaders...)
	for i, name := range sortedNames {
		sortedNames[i] = strings.ToLower(name)
	}
	sort.Strings(sortedNames)

	req.Headers.Set("Authorization", Algorithm+
		" Credential="+accessKeyID+"/"+scope+
		", SignedHeaders="+strings.Join(sortedNames, ";")+
		", Signature="+signature)
}
