// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	lverrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// Key layout inside LevelDB. Records are JSON, matching the shape the
// upstream normalization pipeline emits.
const (
	levelDBKeyPrefix       = "ak:" // accessKeyId -> KeyResolution
	levelDBPrincipalPrefix = "p:"  // uuid -> Principal
)

// LevelDBStore is a persistent local identity cache backed by LevelDB.
// It survives restarts without a round trip to the upstream directory.
type LevelDBStore struct {
	db        *leveldb.DB
	writeOpts *opt.WriteOptions
}

// NewLevelDBStore opens (or creates) the identity cache at dir, recovering
// from a corrupted manifest when possible.
func NewLevelDBStore(dir string, opts *opt.Options) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(dir, opts)
	if lverrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(dir, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("open identity cache %s: %w", dir, err)
	}
	return &LevelDBStore{
		db:        db,
		writeOpts: &opt.WriteOptions{Sync: false},
	}, nil
}

// Close closes the underlying database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

func (s *LevelDBStore) GetByAccessKey(ctx context.Context, accessKeyID string) (*KeyResolution, error) {
	data, err := s.db.Get([]byte(levelDBKeyPrefix+accessKeyID), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrAccessKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read access key index: %w", err)
	}

	var res KeyResolution
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode access key record %s: %w", accessKeyID, err)
	}
	return &res, nil
}

func (s *LevelDBStore) GetPrincipal(ctx context.Context, uuid string) (*Principal, error) {
	data, err := s.db.Get([]byte(levelDBPrincipalPrefix+uuid), nil)
	if err == leveldb.ErrNotFound {
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

func (s *LevelDBStore) PutPrincipal(ctx context.Context, p *Principal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte(levelDBPrincipalPrefix+p.UUID), data)
	for accessKeyID := range p.AccessKeys {
		idx, err := json.Marshal(KeyResolution{OwnerUUID: p.UUID})
		if err != nil {
			return err
		}
		batch.Put([]byte(levelDBKeyPrefix+accessKeyID), idx)
	}
	return s.db.Write(batch, s.writeOpts)
}

func (s *LevelDBStore) PutTemporaryCredential(ctx context.Context, cred *TemporaryCredential) error {
	data, err := json.Marshal(KeyResolution{Temporary: cred})
	if err != nil {
		return err
	}
	return s.db.Put([]byte(levelDBKeyPrefix+cred.AccessKeyID), data, s.writeOpts)
}

func (s *LevelDBStore) DeleteAccessKey(ctx context.Context, accessKeyID string) error {
	return s.db.Delete([]byte(levelDBKeyPrefix+accessKeyID), s.writeOpts)
}
