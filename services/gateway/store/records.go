// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opsonline/chattia-gateway/services/gateway/datatypes"
)

// =============================================================================
// Nonce Store
// =============================================================================

// Nonce purposes. Minting and use are tracked under separate keys so a
// minted signature can still be spent exactly once.
const (
	NonceMint = "mint"
	NonceUse  = "use"
)

// ErrReplay is returned when a nonce/timestamp pair has been seen
// before for the same purpose.
var ErrReplay = errors.New("nonce already consumed")

// NonceStore records consumed nonce/timestamp pairs with a TTL just
// past the signature window, so replay keys expire themselves once the
// signature they guard can no longer verify anyway.
type NonceStore struct {
	kv  *KV
	ttl time.Duration
}

// NewNonceStore creates a nonce store. signatureTTL is the configured
// signature validity window; records are kept slightly longer.
func NewNonceStore(kv *KV, signatureTTL time.Duration) *NonceStore {
	return &NonceStore{kv: kv, ttl: signatureTTL + time.Minute}
}

// Consume atomically records the pair for the given purpose. Returns
// ErrReplay when the pair was already consumed, including when a
// concurrent request raced this one.
func (n *NonceStore) Consume(ctx context.Context, purpose, nonce string, ts int64) error {
	key := fmt.Sprintf("%s:%s:%d", purpose, nonce, ts)
	err := n.kv.SetOnce(ctx, key, []byte("1"), n.ttl)
	if errors.Is(err, ErrAlreadyExists) {
		return ErrReplay
	}
	return err
}

// =============================================================================
// Ban Registry
// =============================================================================

// BanRegistry persists honeypot IP bans under honeypot:block:<ip>.
// Expiry is enforced twice: by the record's ExpiresAt and by Badger's
// TTL.
type BanRegistry struct {
	kv *KV
}

// NewBanRegistry creates a ban registry.
func NewBanRegistry(kv *KV) *BanRegistry {
	return &BanRegistry{kv: kv}
}

func banKey(ip string) string { return "honeypot:block:" + ip }

// Ban records an IP ban for the given duration.
func (b *BanRegistry) Ban(ctx context.Context, ip string, rec datatypes.BanRecord, ttl time.Duration) error {
	return b.kv.PutJSON(ctx, banKey(ip), rec, ttl)
}

// Get returns the active ban for ip, if any. Records past their
// ExpiresAt are treated as absent even if Badger has not expired them
// yet.
func (b *BanRegistry) Get(ctx context.Context, ip string) (*datatypes.BanRecord, bool, error) {
	var rec datatypes.BanRecord
	ok, err := b.kv.GetJSON(ctx, banKey(ip), &rec)
	if err != nil || !ok {
		return nil, false, err
	}
	if rec.ExpiresAt > 0 && rec.ExpiresAt <= time.Now().Unix() {
		return nil, false, nil
	}
	return &rec, true, nil
}

// =============================================================================
// Strike Store
// =============================================================================

// defaultStrikeTTL bounds how long a session's policy strikes persist
// when no ban TTL is configured. A session that goes quiet for a day
// starts clean.
const defaultStrikeTTL = 24 * time.Hour

// StrikeStore persists per-session policy strike counters under
// policy:strikes:<session>, so clients cannot reset the warn→terminate
// ladder by trimming their transcript. Strikes live as long as a
// honeypot ban does.
type StrikeStore struct {
	kv  *KV
	ttl time.Duration
}

// NewStrikeStore creates a strike store. ttl is normally the configured
// honeypot ban TTL; zero or negative falls back to a day.
func NewStrikeStore(kv *KV, ttl time.Duration) *StrikeStore {
	if ttl <= 0 {
		ttl = defaultStrikeTTL
	}
	return &StrikeStore{kv: kv, ttl: ttl}
}

func strikeKey(session string) string { return "policy:strikes:" + session }

// Get returns the stored strike count for session (0 when absent or
// when session is empty).
func (s *StrikeStore) Get(ctx context.Context, session string) (int, error) {
	if session == "" {
		return 0, nil
	}
	raw, ok, err := s.kv.Get(ctx, strikeKey(session))
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Increment bumps the stored count to at least floor+1 and returns the
// new value. floor lets transcript-derived strikes pull the persisted
// counter forward when the client's history shows more than we stored.
// Empty sessions are not persisted; floor+1 is returned as-is.
func (s *StrikeStore) Increment(ctx context.Context, session string, floor int) (int, error) {
	if session == "" {
		return floor + 1, nil
	}
	current, err := s.Get(ctx, session)
	if err != nil {
		return 0, err
	}
	if current < floor {
		current = floor
	}
	next := current + 1
	if err := s.kv.Put(ctx, strikeKey(session), []byte(strconv.Itoa(next)), s.ttl); err != nil {
		return 0, err
	}
	return next, nil
}
