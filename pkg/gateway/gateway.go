// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway is the HTTP serving surface over the verification core:
// an authentication middleware, a caller-identity endpoint, credential
// minting endpoints, and a direct access-key lookup. It owns the mapping
// from internal error codes to the external JSON contract.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/keelworks/authgate/pkg/autherr"
	"github.com/keelworks/authgate/pkg/identity"
	"github.com/keelworks/authgate/pkg/logger"
	"github.com/keelworks/authgate/pkg/sigv4"
	"github.com/keelworks/authgate/pkg/sts"
)

// maxBodyBytes caps how much of a request body the gateway will read for
// payload hashing.
const maxBodyBytes = 1 << 20

// Handler is the gateway's HTTP handler.
type Handler struct {
	verifier *sigv4.Verifier
	store    identity.Store
	sts      *sts.Service
	mux      *http.ServeMux
	ids      *requestIDGenerator
}

// New assembles the gateway over a verifier and its identity store. The
// sts service may be nil; the minting endpoints then answer 404.
func New(verifier *sigv4.Verifier, store identity.Store, stsService *sts.Service) *Handler {
	h := &Handler{
		verifier: verifier,
		store:    store,
		sts:      stsService,
		mux:      http.NewServeMux(),
		ids:      newRequestIDGenerator(),
	}
	h.mux.HandleFunc("GET /v1/caller-identity", h.authenticated(h.handleCallerIdentity))
	h.mux.HandleFunc("GET /v1/keys/{id}", h.authenticated(h.handleKeyLookup))
	if stsService != nil {
		h.mux.HandleFunc("POST /v1/assume-role", h.authenticated(h.handleAssumeRole))
		h.mux.HandleFunc("POST /v1/session-token", h.authenticated(h.handleSessionToken))
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := h.ids.next()
	w.Header().Set(RequestIDHeader, requestID)

	l := logger.Ctx(r.Context()).With().Str("request_id", requestID).Logger()
	r = r.WithContext(logger.WithLogger(r.Context(), &l))

	h.mux.ServeHTTP(w, r)
}

type authedHandler func(w http.ResponseWriter, r *http.Request, result *sigv4.Result, body []byte)

// authenticated verifies the request signature before handing off. Every
// failure renders through the uniform external error surface; the internal
// code only reaches logs and metrics.
func (h *Handler) authenticated(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeAPIError(w, autherr.APIError{
				Code:           "InvalidRequest",
				Message:        "The request body could not be read.",
				HTTPStatusCode: http.StatusBadRequest,
			})
			return
		}

		req := &sigv4.RequestDescriptor{
			Method:   r.Method,
			Path:     r.URL.EscapedPath(),
			RawQuery: r.URL.RawQuery,
			Headers:  r.Header.Clone(),
			Body:     body,
		}
		// The Host header lives on the Request, not in the header map.
		req.Headers.Set("Host", r.Host)

		result, code := h.verifier.VerifyRequest(r.Context(), req)
		authLatency.Observe(time.Since(start).Seconds())
		authRequestsTotal.WithLabelValues(code.String()).Inc()

		if code != autherr.ErrNone {
			if code.IsAuthFailure() {
				logger.Ctx(r.Context()).Debug().
					Str("outcome", code.String()).
					Str("path", r.URL.Path).
					Msg("request rejected")
			}
			writeAPIError(w, code.APIError())
			return
		}

		next(w, r, result, body)
	}
}

type callerIdentityResponse struct {
	UUID        string `json:"uuid"`
	Login       string `json:"login"`
	Account     string `json:"account"`
	AccessKeyID string `json:"accessKeyId"`
	Temporary   bool   `json:"temporary"`
	RoleARN     string `json:"roleArn,omitempty"`
	SessionName string `json:"sessionName,omitempty"`
}

func (h *Handler) handleCallerIdentity(w http.ResponseWriter, _ *http.Request, result *sigv4.Result, _ []byte) {
	resp := callerIdentityResponse{
		UUID:        result.Principal.UUID,
		Login:       result.Principal.Login,
		Account:     result.Principal.Account,
		AccessKeyID: result.AccessKeyID,
		Temporary:   result.IsTemporary,
	}
	if result.SessionClaims != nil {
		resp.RoleARN = result.SessionClaims.RoleARN
		resp.SessionName = result.SessionClaims.SessionName
	}
	writeJSON(w, http.StatusOK, resp)
}

type keyLookupResponse struct {
	AccessKeyID string `json:"accessKeyId"`
	OwnerUUID   string `json:"ownerUuid"`
	Temporary   bool   `json:"temporary"`
}

// handleKeyLookup is the direct, non-signing lookup path: a miss is a 404,
// unlike the signing path where it would collapse into the 403 surface.
func (h *Handler) handleKeyLookup(w http.ResponseWriter, r *http.Request, _ *sigv4.Result, _ []byte) {
	accessKeyID := r.PathValue("id")

	res, err := h.store.GetByAccessKey(r.Context(), accessKeyID)
	if err != nil {
		if errors.Is(err, identity.ErrAccessKeyNotFound) {
			keyLookupsTotal.WithLabelValues("miss").Inc()
			writeAPIError(w, autherr.LookupAPIError())
			return
		}
		logger.Ctx(r.Context()).Error().Err(err).Msg("identity store read failed")
		keyLookupsTotal.WithLabelValues("error").Inc()
		writeAPIError(w, autherr.ErrStoreUnavailable.APIError())
		return
	}

	keyLookupsTotal.WithLabelValues("hit").Inc()
	writeJSON(w, http.StatusOK, keyLookupResponse{
		AccessKeyID: accessKeyID,
		OwnerUUID:   res.Owner(),
		Temporary:   res.IsTemporary(),
	})
}

type assumeRoleRequest struct {
	RoleARN         string `json:"roleArn"`
	RoleSessionName string `json:"roleSessionName"`
	DurationSeconds int64  `json:"durationSeconds"`
}

type credentialsResponse struct {
	AccessKeyID     string    `json:"accessKeyId"`
	SecretAccessKey string    `json:"secretAccessKey"`
	SessionToken    string    `json:"sessionToken"`
	Expiration      time.Time `json:"expiration"`
	AssumedRoleARN  string    `json:"assumedRoleArn,omitempty"`
	RoleSessionName string    `json:"roleSessionName,omitempty"`
}

func (h *Handler) handleAssumeRole(w http.ResponseWriter, r *http.Request, result *sigv4.Result, body []byte) {
	var in assumeRoleRequest
	if err := json.Unmarshal(body, &in); err != nil || strings.TrimSpace(in.RoleARN) == "" {
		writeAPIError(w, autherr.APIError{
			Code:           "InvalidRequest",
			Message:        "The request body must name a roleArn.",
			HTTPStatusCode: http.StatusBadRequest,
		})
		return
	}

	creds, err := h.sts.AssumeRole(r.Context(), result.Principal.Caller(), sts.AssumeRoleInput{
		RoleARN:         in.RoleARN,
		RoleSessionName: in.RoleSessionName,
		DurationSeconds: in.DurationSeconds,
	})
	if err != nil {
		writeAssumeRoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCredentialsResponse(creds))
}

type sessionTokenRequest struct {
	DurationSeconds int64 `json:"durationSeconds"`
}

func (h *Handler) handleSessionToken(w http.ResponseWriter, r *http.Request, result *sigv4.Result, body []byte) {
	var in sessionTokenRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &in); err != nil {
			writeAPIError(w, autherr.APIError{
				Code:           "InvalidRequest",
				Message:        "The request body is not valid JSON.",
				HTTPStatusCode: http.StatusBadRequest,
			})
			return
		}
	}

	creds, err := h.sts.GetSessionToken(r.Context(), result.Principal.Caller(), sts.GetSessionTokenInput{
		DurationSeconds: in.DurationSeconds,
	})
	if err != nil {
		writeAssumeRoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCredentialsResponse(creds))
}

func toCredentialsResponse(creds *sts.Credentials) credentialsResponse {
	return credentialsResponse{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		Expiration:      creds.Expiration,
		AssumedRoleARN:  creds.AssumedRoleARN,
		RoleSessionName: creds.RoleSessionName,
	}
}

// writeAssumeRoleError keeps the character of the minting errors: denial
// and unknown role both render as AccessDenied so a probe cannot map the
// role namespace.
func writeAssumeRoleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sts.ErrAssumeRoleDenied), errors.Is(err, sts.ErrRoleNotFound):
		writeAPIError(w, autherr.APIError{
			Code:           "AccessDenied",
			Message:        "Not authorized to perform sts:AssumeRole.",
			HTTPStatusCode: http.StatusForbidden,
		})
	default:
		logger.Ctx(r.Context()).Error().Err(err).Msg("credential minting failed")
		writeAPIError(w, autherr.ErrStoreUnavailable.APIError())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Ctx(nil).Error().Err(err).Msg("response encoding failed")
	}
}

func writeAPIError(w http.ResponseWriter, apiErr autherr.APIError) {
	writeJSON(w, apiErr.HTTPStatusCode, apiErr)
}
