// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package sts mints temporary credentials: assumed-role credentials gated
// by the role's trust policy, and plain session credentials for a caller's
// own identity. It is the producer of the temporary-credential records the
// request verifier later consumes.
package sts

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/keelworks/authgate/pkg/identity"
	"github.com/keelworks/authgate/pkg/logger"
	"github.com/keelworks/authgate/pkg/token"
	"github.com/keelworks/authgate/pkg/trust"
)

var (
	ErrRoleNotFound     = errors.New("role not found")
	ErrAssumeRoleDenied = errors.New("assume role denied")
	ErrNoSigningKey     = errors.New("no primary signing key configured")
)

// Role is a role record as the service needs it: identity, trust policy,
// and the permission policies a session inherits.
type Role struct {
	UUID        string            `json:"uuid"`
	ARN         string            `json:"arn"`
	TrustPolicy json.RawMessage   `json:"trustPolicy"`
	Policies    []json.RawMessage `json:"policies,omitempty"`
}

// RoleStore resolves roles by ARN.
type RoleStore interface {
	GetRole(ctx context.Context, arn string) (*Role, error)
}

// Config bounds session lifetimes. Requested durations are clamped into
// [MinSessionDuration, MaxSessionDuration]; an unspecified duration gets
// DefaultSessionDuration.
type Config struct {
	DefaultSessionDuration time.Duration `mapstructure:"default_session_duration"`
	MaxSessionDuration     time.Duration `mapstructure:"max_session_duration"`
	MinSessionDuration     time.Duration `mapstructure:"min_session_duration"`
}

// DefaultConfig returns the stock session-duration bounds.
func DefaultConfig() Config {
	return Config{
		DefaultSessionDuration: 1 * time.Hour,
		MaxSessionDuration:     12 * time.Hour,
		MinSessionDuration:     15 * time.Minute,
	}
}

// Service issues temporary credentials against the identity store.
type Service struct {
	config Config
	roles  RoleStore
	creds  identity.Writer
	keys   func() *token.KeyStore
	now    func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source used for expirations.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates the credential-minting service. keys supplies the
// current signing-key snapshot; new tokens are always signed with its
// primary key.
func NewService(config Config, roles RoleStore, creds identity.Writer, keys func() *token.KeyStore, opts ...ServiceOption) *Service {
	s := &Service{
		config: config,
		roles:  roles,
		creds:  creds,
		keys:   keys,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AssumeRoleInput contains the parameters for AssumeRole.
type AssumeRoleInput struct {
	RoleARN         string
	RoleSessionName string
	DurationSeconds int64
}

// GetSessionTokenInput contains the parameters for GetSessionToken.
type GetSessionTokenInput struct {
	DurationSeconds int64
}

// Credentials is a freshly minted temporary credential set, as handed back
// to the caller. The same data, minus the secret layout, is persisted as
// the reverse-index record.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
	AssumedRoleARN  string
	RoleSessionName string
}

// AssumeRole mints assumed-role credentials for caller, provided the
// role's trust policy allows it. Denial and role lookup failure are
// indistinguishable to the caller beyond the error value; no partial
// credential is ever returned.
func (s *Service) AssumeRole(ctx context.Context, caller identity.Caller, input AssumeRoleInput) (*Credentials, error) {
	role, err := s.roles.GetRole(ctx, input.RoleARN)
	if err != nil {
		return nil, err
	}

	if !trust.EvaluateAction(role.TrustPolicy, caller, trust.ActionAssumeRole) {
		logger.Ctx(ctx).Debug().
			Str("caller", caller.Login).
			Str("role", role.ARN).
			Msg("trust policy denied role assumption")
		return nil, ErrAssumeRoleDenied
	}

	expiration := s.now().Add(s.sessionDuration(input.DurationSeconds))
	assumed := &identity.AssumedRole{
		RoleUUID: role.UUID,
		ARN:      role.ARN,
		Policies: role.Policies,
	}

	return s.mint(ctx, mintRequest{
		prefix:      identity.PrefixAssumedRole,
		owner:       caller.UUID,
		expiration:  expiration,
		sessionName: input.RoleSessionName,
		roleARN:     role.ARN,
		assumedRole: assumed,
		policies:    role.Policies,
	})
}

// GetSessionToken mints session credentials bound to the caller's own
// identity, with no role attached.
func (s *Service) GetSessionToken(ctx context.Context, caller identity.Caller, input GetSessionTokenInput) (*Credentials, error) {
	expiration := s.now().Add(s.sessionDuration(input.DurationSeconds))
	return s.mint(ctx, mintRequest{
		prefix:     identity.PrefixSessionToken,
		owner:      caller.UUID,
		expiration: expiration,
	})
}

type mintRequest struct {
	prefix      string
	owner       string
	expiration  time.Time
	sessionName string
	roleARN     string
	assumedRole *identity.AssumedRole
	policies    []json.RawMessage
}

func (s *Service) mint(ctx context.Context, req mintRequest) (*Credentials, error) {
	signing, ok := s.keys().Primary()
	if !ok {
		return nil, ErrNoSigningKey
	}

	sessionToken, err := token.Issue(token.Claims{
		PrincipalUUID: req.owner,
		RoleARN:       req.roleARN,
		SessionName:   req.sessionName,
		ExpiresAt:     req.expiration,
		Policies:      req.policies,
	}, signing)
	if err != nil {
		return nil, err
	}

	accessKeyID := identity.GenerateTemporaryKeyID(req.prefix)
	secret := identity.GenerateSecret()

	record := &identity.TemporaryCredential{
		AccessKeyID:   accessKeyID,
		OwnerUUID:     req.owner,
		Secret:        secret,
		Expiration:    req.expiration,
		SessionToken:  sessionToken,
		PrincipalUUID: req.owner,
		AssumedRole:   req.assumedRole,
	}
	if err := s.creds.PutTemporaryCredential(ctx, record); err != nil {
		return nil, err
	}

	return &Credentials{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secret,
		SessionToken:    sessionToken,
		Expiration:      req.expiration,
		AssumedRoleARN:  req.roleARN,
		RoleSessionName: req.sessionName,
	}, nil
}

// sessionDuration clamps a requested duration into the configured bounds.
// Zero or negative means "use the default".
func (s *Service) sessionDuration(durationSeconds int64) time.Duration {
	duration := s.config.DefaultSessionDuration
	if durationSeconds > 0 {
		duration = time.Duration(durationSeconds) * time.Second
		if duration < s.config.MinSessionDuration {
			duration = s.config.MinSessionDuration
		}
		if duration > s.config.MaxSessionDuration {
			duration = s.config.MaxSessionDuration
		}
	}
	return duration
}
