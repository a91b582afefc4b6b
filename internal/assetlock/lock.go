// Package assetlock provides the short-lived lease lock held around a
// per-asset matching pass. Acquisition never blocks: a pass that loses the
// race is simply skipped and retried on the next tick. Leases expire on
// their own, so a holder that dies cannot wedge an asset.
package assetlock

import (
	"sync"
	"time"

	"levx/internal/types"
)

type lease struct {
	gen     uint64
	expires time.Time
}

type Locker struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	held map[types.Asset]lease
	gen  uint64
}

func New(ttl time.Duration) *Locker {
	return &Locker{
		ttl:  ttl,
		now:  time.Now,
		held: make(map[types.Asset]lease),
	}
}

// TryAcquire takes the asset's lease if it is free or expired. The returned
// release func is best-effort and only clears the caller's own lease, so a
// release racing an expiry takeover is harmless.
func (l *Locker) TryAcquire(asset types.Asset) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, exists := l.held[asset]; exists && cur.expires.After(now) {
		return nil, false
	}
	l.gen++
	gen := l.gen
	l.held[asset] = lease{gen: gen, expires: now.Add(l.ttl)}
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, exists := l.held[asset]; exists && cur.gen == gen {
			delete(l.held, asset)
		}
	}, true
}
