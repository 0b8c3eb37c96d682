// Package locks implements short-lived distributed per-account locks with
// deadlock-free paired acquisition over the key/value store.
package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openpaisa/paisad/internal/storage/kvstore"
)

// ErrBusy is returned when one of the two account locks is held by another
// acquirer. Callers map this to a 409-class response.
var ErrBusy = errors.New("locks: account pair is busy")

// Handle identifies one successful paired acquisition. Release needs the
// token so an acquirer never deletes a lock it does not own.
type Handle struct {
	keys  [2]string
	token string
}

// PairLock acquires and releases paired account locks.
type PairLock struct {
	kv  kvstore.Store
	ttl time.Duration
}

// New creates a PairLock. The TTL bounds orphan time if a holder crashes and
// must be sized generously above end-to-end transfer latency.
func New(kv kvstore.Store, ttl time.Duration) *PairLock {
	return &PairLock{kv: kv, ttl: ttl}
}

func lockKey(accountID string) string {
	return "lock:account:" + accountID
}

// AcquirePair locks both accounts in lexicographic order so two concurrent
// transfers over the same unordered pair always contend on the first key,
// never deadlock on AB/BA. A held lock yields ErrBusy; a store outage fails
// the call, never fail-open.
func (l *PairLock) AcquirePair(ctx context.Context, accountA, accountB string) (*Handle, error) {
	first, second := accountA, accountB
	if second < first {
		first, second = second, first
	}

	token := uuid.NewString()
	firstKey, secondKey := lockKey(first), lockKey(second)

	ok, err := l.kv.SetNX(ctx, firstKey, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("locks: acquire %s: %w", firstKey, err)
	}
	if !ok {
		return nil, ErrBusy
	}

	ok, err = l.kv.SetNX(ctx, secondKey, token, l.ttl)
	if err != nil || !ok {
		// Back out the first lock; the token guard makes this safe even
		// if the TTL already expired and someone else holds the key.
		if _, relErr := l.kv.CompareAndDelete(ctx, firstKey, token); relErr != nil && err == nil {
			err = relErr
		}
		if err != nil {
			return nil, fmt.Errorf("locks: acquire %s: %w", secondKey, err)
		}
		return nil, ErrBusy
	}

	return &Handle{keys: [2]string{firstKey, secondKey}, token: token}, nil
}

// Release drops both locks in reverse acquisition order. Releasing an
// expired or re-acquired lock is a no-op thanks to the token compare.
func (l *PairLock) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	var firstErr error
	for i := len(h.keys) - 1; i >= 0; i-- {
		if _, err := l.kv.CompareAndDelete(ctx, h.keys[i], h.token); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("locks: release %s: %w", h.keys[i], err)
		}
	}
	return firstErr
}
