// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore reads the shared identity store populated by the upstream
// change-stream pipeline. The reverse index lives at ak:<id>; principal
// records live at user:<uuid>.
//
// Records are JSON. A permanent key's index value is the bare owner UUID
// (a plain string, as the pipeline writes it); a temporary key's value is
// the full credential record. The shape is resolved here, once, into the
// KeyResolution union.
type RedisStore struct {
	client *redis.Client
	config RedisStoreConfig
}

// RedisStoreConfig configures the Redis-backed identity store.
type RedisStoreConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`

	// Key prefixes, overridable for namespaced deployments.
	AccessKeyPrefix string `mapstructure:"access_key_prefix"`
	PrincipalPrefix string `mapstructure:"principal_prefix"`
}

// DefaultRedisStoreConfig returns sensible defaults.
func DefaultRedisStoreConfig() RedisStoreConfig {
	return RedisStoreConfig{
		Addr:            "localhost:6379",
		PoolSize:        10,
		AccessKeyPrefix: "ak:",
		PrincipalPrefix: "user:",
	}
}

// NewRedisStore connects to Redis with the given config.
func NewRedisStore(config RedisStoreConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})
	return NewRedisStoreWithClient(client, config)
}

// NewRedisStoreWithClient wraps an existing client (used by tests).
func NewRedisStoreWithClient(client *redis.Client, config RedisStoreConfig) *RedisStore {
	if config.AccessKeyPrefix == "" {
		config.AccessKeyPrefix = "ak:"
	}
	if config.PrincipalPrefix == "" {
		config.PrincipalPrefix = "user:"
	}
	return &RedisStore{client: client, config: config}
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) GetByAccessKey(ctx context.Context, accessKeyID string) (*KeyResolution, error) {
	data, err := s.client.Get(ctx, s.config.AccessKeyPrefix+accessKeyID).Bytes()
	if err == redis.Nil {
		return nil, ErrAccessKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read access key index: %w", err)
	}
	return decodeIndexValue(accessKeyID, data)
}

// decodeIndexValue resolves the dynamic shape of the reverse-index value:
// a JSON string holding the owner UUID, or a temporary-credential object.
func decodeIndexValue(accessKeyID string, data []byte) (*KeyResolution, error) {
	var owner string
	if err := json.Unmarshal(data, &owner); err == nil {
		return &KeyResolution{OwnerUUID: owner}, nil
	}

	var cred TemporaryCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("decode access key record %s: %w", accessKeyID, err)
	}
	if cred.AccessKeyID == "" {
		cred.AccessKeyID = accessKeyID
	}
	return &KeyResolution{Temporary: &cred}, nil
}

func (s *RedisStore) GetPrincipal(ctx context.Context, uuid string) (*Principal, error) {
	data, err := s.client.Get(ctx, s.config.PrincipalPrefix+uuid).Bytes()
	if err == redis.Nil {
		return nil, ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read principal: %w", err)
	}

	var p Principal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode principal %s: %w", uuid, err)
	}
	return &p, nil
}

func (s *RedisStore) PutPrincipal(ctx context.Context, p *Principal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.config.PrincipalPrefix+p.UUID, data, 0)
	for accessKeyID := range p.AccessKeys {
		owner, err := json.Marshal(p.UUID)
		if err != nil {
			return err
		}
		pipe.Set(ctx, s.config.AccessKeyPrefix+accessKeyID, owner, 0)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) PutTemporaryCredential(ctx context.Context, cred *TemporaryCredential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}

	// Expire the index entry alongside the credential so vended keys do
	// not accumulate.
	ttl := time.Until(cred.Expiration)
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.client.Set(ctx, s.config.AccessKeyPrefix+cred.AccessKeyID, data, ttl).Err()
}

func (s *RedisStore) DeleteAccessKey(ctx context.Context, accessKeyID string) error {
	return s.client.Del(ctx, s.config.AccessKeyPrefix+accessKeyID).Err()
}
