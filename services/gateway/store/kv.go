// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrAlreadyExists is returned by SetOnce when the key is already
// present, including when a concurrent writer won the commit race.
var ErrAlreadyExists = errors.New("key already exists")

// KV is a thin TTL'd key-value facade over the managed database. All
// gateway record types (nonces, bans, strikes) are built on it.
//
// # Thread Safety
//
// Safe for concurrent use.
type KV struct {
	db *DB
}

// NewKV wraps an open database.
func NewKV(db *DB) *KV {
	return &KV{db: db}
}

// Get returns the value for key and whether it exists. Expired entries
// read as absent.
func (k *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := k.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return out, true, nil
}

// GetJSON unmarshals the value for key into dst, returning whether the
// key exists.
func (k *KV) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := k.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Put writes key with an optional TTL (0 means no expiry).
func (k *KV) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := k.db.WithTxn(ctx, func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// PutJSON marshals value and writes it under key with an optional TTL.
func (k *KV) PutJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return k.Put(ctx, key, raw, ttl)
}

// SetOnce atomically creates key with a TTL. The existence check and
// the write share one serializable transaction, so two concurrent
// callers cannot both succeed: the loser sees ErrAlreadyExists whether
// it lost to a committed entry or to the commit race itself.
func (k *KV) SetOnce(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := k.db.WithTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrAlreadyExists
	}
	if err != nil && !errors.Is(err, ErrAlreadyExists) {
		return fmt.Errorf("set-once %s: %w", key, err)
	}
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (k *KV) Delete(ctx context.Context, key string) error {
	err := k.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
