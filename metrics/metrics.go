// Package metrics aggregates throttle decisions for reporting.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KanavDutta/windowfence/pkg/windowfence"
)

// topIdentities is how many identities a Snapshot lists.
const topIdentities = 10

// Metrics counts admitted and denied decisions, overall and per identity.
type Metrics struct {
	total   atomic.Int64
	allowed atomic.Int64
	denied  atomic.Int64

	mu         sync.RWMutex
	identities map[string]*IdentityStats
	clock      windowfence.Clock
	startTime  time.Time
}

// IdentityStats tracks decisions for one identity.
type IdentityStats struct {
	Identity       string    `json:"identity"`
	Total          int64     `json:"total"`
	Allowed        int64     `json:"allowed"`
	Denied         int64     `json:"denied"`
	FirstSeenAt    time.Time `json:"first_seen_at"`
	LastDecisionAt time.Time `json:"last_decision_at"`
}

// New creates a Metrics recorder timed by clock (the system clock if nil).
func New(clock windowfence.Clock) *Metrics {
	if clock == nil {
		clock = windowfence.SystemClock{}
	}
	return &Metrics{
		identities: make(map[string]*IdentityStats),
		clock:      clock,
		startTime:  clock.Now(),
	}
}

// RecordDecision records one throttle decision for identity.
func (m *Metrics) RecordDecision(identity string, allowed bool) {
	m.total.Add(1)
	if allowed {
		m.allowed.Add(1)
	} else {
		m.denied.Add(1)
	}

	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.identities[identity]
	if !ok {
		stats = &IdentityStats{Identity: identity, FirstSeenAt: now}
		m.identities[identity] = stats
	}
	stats.Total++
	if allowed {
		stats.Allowed++
	} else {
		stats.Denied++
	}
	stats.LastDecisionAt = now
}

// Forget drops the per-identity stats of identity. Totals are kept.
func (m *Metrics) Forget(identity string) {
	m.mu.Lock()
	delete(m.identities, identity)
	m.mu.Unlock()
}

// Snapshot is a point-in-time view of the recorded decisions.
type Snapshot struct {
	Total            int64            `json:"total_requests"`
	Allowed          int64            `json:"allowed_requests"`
	Denied           int64            `json:"denied_requests"`
	DenyRate         float64          `json:"deny_rate"`
	UniqueIdentities int              `json:"unique_identities"`
	TopIdentities    []*IdentityStats `json:"top_identities"`
	UptimeSeconds    int64            `json:"uptime_seconds"`
	StartTime        time.Time        `json:"start_time"`
}

// Snapshot returns current totals and the busiest identities.
func (m *Metrics) Snapshot() *Snapshot {
	m.mu.RLock()
	top := make([]*IdentityStats, 0, len(m.identities))
	for _, stats := range m.identities {
		cp := *stats
		top = append(top, &cp)
	}
	unique := len(m.identities)
	m.mu.RUnlock()

	sort.Slice(top, func(i, j int) bool {
		if top[i].Total != top[j].Total {
			return top[i].Total > top[j].Total
		}
		return top[i].Identity < top[j].Identity
	})
	if len(top) > topIdentities {
		top = top[:topIdentities]
	}

	snap := &Snapshot{
		Total:            m.total.Load(),
		Allowed:          m.allowed.Load(),
		Denied:           m.denied.Load(),
		UniqueIdentities: unique,
		TopIdentities:    top,
		UptimeSeconds:    int64(m.clock.Now().Sub(m.startTime).Seconds()),
		StartTime:        m.startTime,
	}
	if snap.Total > 0 {
		snap.DenyRate = float64(snap.Denied) / float64(snap.Total)
	}
	return snap
}
