// Package idempotency deduplicates order placements that carry the same
// client-supplied key.
//
// A key moves from absent to pending when a placement starts, and from pending
// to the id of the committed order when it succeeds. A failed placement
// releases the key so the client can retry. Pending claims expire on their own
// short TTL so a claim left behind by a crashed placement does not block the
// key for the lifetime of a completed one.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

var (
	// ErrInFlight is returned by Begin when another placement holds the key.
	ErrInFlight = errors.New("idempotency key in flight")
	// ErrKeyReused is returned by Begin when the key was used for a
	// different request.
	ErrKeyReused = errors.New("idempotency key reused with a different request")
	// ErrClaimLost is returned by Complete when the claim expired and the key
	// is no longer owned by the caller.
	ErrClaimLost = errors.New("idempotency claim lost")
)

// Claim is the outcome of a successful Begin.
type Claim struct {
	// OrderID is set when a placement with this key already completed.
	OrderID string
	// Token identifies the caller's ownership of a pending key. It is passed
	// back to Complete and Release.
	Token string
}

// Store records placement keys.
type Store interface {
	// Begin claims key for the request identified by fingerprint. It returns
	// the completed order id, or a token when the caller now owns the key.
	// It fails with ErrInFlight or ErrKeyReused.
	Begin(ctx context.Context, key, fingerprint string) (Claim, error)
	// Complete records the order placed under a claim taken by Begin.
	Complete(ctx context.Context, key, token, orderID string) error
	// Release drops a claim taken by Begin. Keys claimed by someone else
	// are left alone.
	Release(ctx context.Context, key, token string) error
}

type state int

const (
	statePending state = iota
	stateDone
)

type entry struct {
	state       state
	fingerprint string
	// token for pending entries, order id for done ones.
	value   string
	expires time.Time
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu         sync.Mutex
	pendingTTL time.Duration
	ttl        time.Duration
	entries    map[string]entry
	now        func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a MemoryStore. Pending claims expire after
// pendingTTL and completed keys after ttl.
func NewMemoryStore(pendingTTL, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		pendingTTL: pendingTTL,
		ttl:        ttl,
		entries:    make(map[string]entry),
		now:        time.Now,
	}
}

func (s *MemoryStore) Begin(_ context.Context, key, fingerprint string) (Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		switch {
		case e.fingerprint != fingerprint:
			return Claim{}, ErrKeyReused
		case e.state == statePending:
			return Claim{}, ErrInFlight
		default:
			return Claim{OrderID: e.value}, nil
		}
	}

	token := uuid.NewString()
	s.entries[key] = entry{
		state:       statePending,
		fingerprint: fingerprint,
		value:       token,
		expires:     now.Add(s.pendingTTL),
	}
	s.evict(now)
	return Claim{Token: token}, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, token, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || e.state != statePending || e.value != token || !now.Before(e.expires) {
		return ErrClaimLost
	}
	s.entries[key] = entry{
		state:       stateDone,
		fingerprint: e.fingerprint,
		value:       orderID,
		expires:     now.Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && e.state == statePending && e.value == token {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) evict(now time.Time) {
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
		}
	}
}
