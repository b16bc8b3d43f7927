package connstate

import (
	"sync"
	"time"
)

// interestTTL is the fixed lifetime of a recent-interest entry (§4.8).
const interestTTL = 5 * time.Minute

// cleanupThreshold is the minimum map size before a lazy sweep runs.
const cleanupThreshold = 25

type interestKey struct {
	tenant   string
	clientID string
}

// InterestMap records, per outward-gateway connection, which (tenant,
// client) pairs have recently been proxied through that peer. Cleanup is
// lazy: it only runs opportunistically from MarkInterest/Contains once the
// map holds at least cleanupThreshold entries and at least interestTTL has
// passed since the last sweep.
type InterestMap struct {
	mu            sync.Mutex
	entries       map[interestKey]time.Time
	lastCleanedAt time.Time
}

// NewInterestMap returns an empty recent-interest map.
func NewInterestMap() *InterestMap {
	return &InterestMap{entries: make(map[interestKey]time.Time)}
}

// MarkInterest records that this peer has proxied (tenant, clientID),
// refreshing its TTL if already present.
func (m *InterestMap) MarkInterest(tenant, clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[interestKey{tenant, clientID}] = time.Now()
	m.maybeCleanupLocked()
}

// Contains reports whether (tenant, clientID) was marked within the last
// 5 minutes.
func (m *InterestMap) Contains(tenant, clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	seenAt, ok := m.entries[interestKey{tenant, clientID}]
	if !ok {
		return false
	}
	if time.Since(seenAt) > interestTTL {
		delete(m.entries, interestKey{tenant, clientID})
		return false
	}
	m.maybeCleanupLocked()
	return true
}

// ContainsTenant reports whether any unexpired entry exists for tenant,
// regardless of clientID — used for tenant-wide list pushes (§4.5.9), where
// a single interested client is enough to justify refreshing the whole
// tenant's list over this peer.
func (m *InterestMap) ContainsTenant(tenant string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for k, seenAt := range m.entries {
		if k.tenant == tenant && now.Sub(seenAt) <= interestTTL {
			return true
		}
	}
	return false
}

// maybeCleanupLocked sweeps expired entries when the map is large enough
// and at least one TTL has elapsed since the prior sweep. Caller holds mu.
func (m *InterestMap) maybeCleanupLocked() {
	if len(m.entries) < cleanupThreshold {
		return
	}
	if time.Since(m.lastCleanedAt) < interestTTL {
		return
	}
	now := time.Now()
	for k, seenAt := range m.entries {
		if now.Sub(seenAt) > interestTTL {
			delete(m.entries, k)
		}
	}
	m.lastCleanedAt = now
}

// Len reports the current entry count, including possibly-expired ones not
// yet swept. Intended for tests and metrics, not correctness checks.
func (m *InterestMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
