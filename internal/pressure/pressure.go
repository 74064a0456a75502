// Package pressure tracks 429 responses per key, on two dimensions at once
// (the adapter the request was for and the proxy or "direct" transport it
// went through), and turns them into pacing decisions: delays between
// spawns, batch sizes, pause/resume gating, and proxy health.
//
// Counts decay linearly over a sliding window and are recomputed on read,
// so there is no background goroutine to manage.
package pressure

import (
	"math/rand"
	"sync"
	"time"

	"citescout/internal/config"
	"citescout/internal/logging"
)

// Store holds 429 observations per key. LocalStore is the in-process
// implementation; the interface leaves room for sharing counts between
// concurrent runs through an external store.
type Store interface {
	Record(key string, at time.Time)
	Observation(key string) (count float64, last time.Time)
	Keys() []string
	ResetKeys(keys []string)
}

// LocalStore is the in-memory Store.
type LocalStore struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	count float64
	last  time.Time
}

// NewLocalStore creates an empty store.
func NewLocalStore() *LocalStore {
	return &LocalStore{entries: make(map[string]*entry)}
}

func (s *LocalStore) Record(key string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	e.count++
	e.last = at
}

func (s *LocalStore) Observation(key string) (float64, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return 0, time.Time{}
	}
	return e.count, e.last
}

func (s *LocalStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

func (s *LocalStore) ResetKeys(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
	}
}

// degradedProxyCount is the decayed 429 count at which a proxy is
// considered unhealthy.
const degradedProxyCount = 5

// Manager converts 429 observations into pacing decisions.
type Manager struct {
	cfg   config.PressureConfig
	store Store

	mu     sync.Mutex
	paused bool

	// now is swappable in tests.
	now func() time.Time
}

// NewManager creates a Manager over the given store. A nil store gets a
// fresh LocalStore.
func NewManager(cfg config.PressureConfig, store Store) *Manager {
	if store == nil {
		store = NewLocalStore()
	}
	return &Manager{cfg: cfg, store: store, now: time.Now}
}

// Signal429 records a rate-limit response on both the adapter and the
// transport dimension, so both per-adapter and per-proxy pressure stay
// observable. Implements httpclient.PressureSignaler.
func (m *Manager) Signal429(adapter, proxy string) {
	at := m.now()
	if adapter != "" {
		m.store.Record(adapter, at)
	}
	if proxy != "" {
		m.store.Record(proxy, at)
	}
	logging.Pressure("429 recorded for %s via %s (global pressure %.2f)",
		adapter, proxy, m.GlobalPressure())
}

// decayedCount returns the 429 count for key after linear decay:
// count * max(0, 1 - elapsed/window).
func (m *Manager) decayedCount(key string) float64 {
	count, last := m.store.Observation(key)
	if count == 0 {
		return 0
	}
	elapsed := m.now().Sub(last)
	factor := 1 - float64(elapsed)/float64(m.cfg.Window)
	if factor <= 0 {
		return 0
	}
	return count * factor
}

// KeyPressure returns the pressure for one key in [0, 1].
func (m *Manager) KeyPressure(key string) float64 {
	p := m.decayedCount(key) / float64(m.cfg.CriticalCount)
	if p > 1 {
		p = 1
	}
	return p
}

// GlobalPressure is the mean pressure across all observed keys, in [0, 1].
func (m *Manager) GlobalPressure() float64 {
	keys := m.store.Keys()
	if len(keys) == 0 {
		return 0
	}
	sum := 0.0
	for _, k := range keys {
		sum += m.KeyPressure(k)
	}
	return sum / float64(len(keys))
}

// RecommendedDelay maps global pressure linearly onto [MinDelay, MaxDelay].
func (m *Manager) RecommendedDelay() time.Duration {
	p := m.GlobalPressure()
	span := float64(m.cfg.MaxDelay - m.cfg.MinDelay)
	return m.cfg.MinDelay + time.Duration(p*span)
}

// ShouldPauseSpawning reports whether new query workers should be held
// back. Pausing engages above PauseAbove and only releases below
// ResumeBelow, so pressure hovering near the threshold cannot flap.
func (m *Manager) ShouldPauseSpawning() bool {
	p := m.GlobalPressure()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused {
		if p < m.cfg.ResumeBelow {
			m.paused = false
			logging.Pressure("Resuming spawning (pressure %.2f < %.2f)", p, m.cfg.ResumeBelow)
		}
	} else if p > m.cfg.PauseAbove {
		m.paused = true
		logging.Pressure("Pausing spawning (pressure %.2f > %.2f)", p, m.cfg.PauseAbove)
	}
	return m.paused
}

// CanResumeSpawning is the inverse of ShouldPauseSpawning, for callers
// polling while paused.
func (m *Manager) CanResumeSpawning() bool {
	return !m.ShouldPauseSpawning()
}

// AdaptiveBatchSize shrinks the fan-out as pressure rises.
func (m *Manager) AdaptiveBatchSize() int {
	p := m.GlobalPressure()
	switch {
	case p > 0.8:
		return 5
	case p > 0.6:
		return 10
	case p > 0.3:
		return 15
	default:
		return 25
	}
}

// BestKey returns the candidate with the lowest pressure. Ties keep the
// earlier candidate, so callers can order by preference.
func (m *Manager) BestKey(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	best := candidates[0]
	bestP := m.KeyPressure(best)
	for _, k := range candidates[1:] {
		if p := m.KeyPressure(k); p < bestP {
			best, bestP = k, p
		}
	}
	return best
}

// HealthyProxy returns the least-pressured proxy whose recent 429 count is
// below the degraded threshold. When the whole pool is degraded the pool's
// counts are reset (adapter counts are untouched) and a random proxy is
// returned, since stalling forever on a cooling pool would be worse than
// probing it.
func (m *Manager) HealthyProxy(proxies []string) string {
	if len(proxies) == 0 {
		return ""
	}
	best := ""
	bestCount := float64(degradedProxyCount)
	for _, p := range proxies {
		if c := m.decayedCount(p); c < bestCount {
			best, bestCount = p, c
		}
	}
	if best == "" {
		logging.Pressure("All %d proxies degraded, resetting pool counts", len(proxies))
		m.store.ResetKeys(proxies)
		best = proxies[rand.Intn(len(proxies))]
	}
	return best
}
