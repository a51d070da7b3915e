/*
locks.go - Per-pair serialization

PURPOSE:
  Every mutation of a (client, store) balance must be serialized for that
  pair, while operations on different pairs proceed concurrently. PairLocks
  keeps one token channel per pair key; acquisition is bounded by a timeout
  so a stuck caller surfaces ErrBusy instead of queueing forever. Retries of
  the identical call are safe because movements carry idempotency keys.

  Locks are never held across external I/O - the engine acquires, performs
  the storage transaction, and releases.
*/
package ledger

import (
	"context"
	"sync"
	"time"
)

// DefaultLockTimeout bounds how long an operation waits for its pair.
const DefaultLockTimeout = 2 * time.Second

// PairLocks provides a keyed mutex per (client, store, program) pair.
type PairLocks struct {
	mu      sync.Mutex
	locks   map[PairKey]chan struct{}
	Timeout time.Duration
}

func NewPairLocks() *PairLocks {
	return &PairLocks{
		locks:   make(map[PairKey]chan struct{}),
		Timeout: DefaultLockTimeout,
	}
}

func (pl *PairLocks) lockFor(pair PairKey) chan struct{} {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	ch, ok := pl.locks[pair]
	if !ok {
		ch = make(chan struct{}, 1)
		pl.locks[pair] = ch
	}
	return ch
}

// Acquire takes the pair's lock, waiting at most the configured timeout.
// On success it returns a release function; otherwise ErrBusy.
func (pl *PairLocks) Acquire(ctx context.Context, pair PairKey) (func(), error) {
	ch := pl.lockFor(pair)

	timer := time.NewTimer(pl.Timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, ErrBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
