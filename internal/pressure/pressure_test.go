package pressure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"citescout/internal/config"
)

func testPressureConfig() config.PressureConfig {
	return config.PressureConfig{
		Window:        60 * time.Second,
		CriticalCount: 25,
		MinDelay:      100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		PauseAbove:    0.8,
		ResumeBelow:   0.5,
	}
}

// newTestManager returns a manager with a controllable clock.
func newTestManager() (*Manager, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(testPressureConfig(), nil)
	m.now = func() time.Time { return now }
	return m, &now
}

func signalN(m *Manager, key string, n int) {
	for i := 0; i < n; i++ {
		m.Signal429(key, "")
	}
}

func TestSignal429RecordsBothDimensions(t *testing.T) {
	m, _ := newTestManager()
	m.Signal429("crossref", "p1")
	assert.Greater(t, m.KeyPressure("crossref"), 0.0, "adapter dimension recorded")
	assert.Greater(t, m.KeyPressure("p1"), 0.0, "proxy dimension recorded")

	m.Signal429("serp", "")
	assert.Greater(t, m.KeyPressure("serp"), 0.0)
	assert.Len(t, m.store.Keys(), 3, "empty dimension is not recorded")
}

func TestPressureRisesWithSignals(t *testing.T) {
	m, _ := newTestManager()
	assert.Equal(t, 0.0, m.GlobalPressure())

	signalN(m, "direct", 5)
	assert.InDelta(t, 0.2, m.GlobalPressure(), 0.001)

	signalN(m, "direct", 20)
	assert.Equal(t, 1.0, m.GlobalPressure(), "pressure is capped at 1")
}

func TestLinearDecay(t *testing.T) {
	m, now := newTestManager()
	signalN(m, "direct", 10)
	assert.InDelta(t, 0.4, m.GlobalPressure(), 0.001)

	*now = now.Add(30 * time.Second)
	assert.InDelta(t, 0.2, m.GlobalPressure(), 0.001, "half the window halves the count")

	*now = now.Add(31 * time.Second)
	assert.Equal(t, 0.0, m.GlobalPressure(), "past the window the count is gone")
}

func TestRecommendedDelay(t *testing.T) {
	m, _ := newTestManager()
	assert.Equal(t, 100*time.Millisecond, m.RecommendedDelay())

	signalN(m, "direct", 25)
	assert.Equal(t, 5*time.Second, m.RecommendedDelay())

	m2, _ := newTestManager()
	signalN(m2, "direct", 12) // pressure 0.48
	d := m2.RecommendedDelay()
	assert.Greater(t, d, 2*time.Second)
	assert.Less(t, d, 3*time.Second)
}

func TestPauseResumeHysteresis(t *testing.T) {
	m, now := newTestManager()

	// 0.8 exactly does not pause: the threshold is strict.
	signalN(m, "direct", 20)
	assert.False(t, m.ShouldPauseSpawning())

	// Over the threshold pauses.
	signalN(m, "direct", 2) // 22/25 = 0.88
	assert.True(t, m.ShouldPauseSpawning())

	// Decay to between the thresholds: still paused.
	*now = now.Add(18 * time.Second) // 22*0.7 = 15.4 -> 0.616
	assert.True(t, m.ShouldPauseSpawning(), "paused until pressure drops below resume threshold")
	assert.False(t, m.CanResumeSpawning())

	// Below the resume threshold: released.
	*now = now.Add(15 * time.Second) // 22*0.45 = 9.9 -> 0.396
	assert.False(t, m.ShouldPauseSpawning())
	assert.True(t, m.CanResumeSpawning())
}

func TestAdaptiveBatchSize(t *testing.T) {
	cases := []struct {
		signals int
		want    int
	}{
		{0, 25},
		{7, 25},  // 0.28
		{10, 15}, // 0.40
		{17, 10}, // 0.68
		{22, 5},  // 0.88
	}
	for _, tc := range cases {
		m, _ := newTestManager()
		signalN(m, "direct", tc.signals)
		assert.Equal(t, tc.want, m.AdaptiveBatchSize(), "signals=%d", tc.signals)
	}
}

func TestGlobalPressureIsMeanOverKeys(t *testing.T) {
	m, _ := newTestManager()
	signalN(m, "proxy-a", 5)  // 0.2
	signalN(m, "proxy-b", 20) // 0.8
	assert.InDelta(t, 0.5, m.GlobalPressure(), 0.001)
}

func TestBestKey(t *testing.T) {
	m, _ := newTestManager()
	assert.Equal(t, "", m.BestKey(nil))

	signalN(m, "a", 10)
	signalN(m, "b", 2)
	signalN(m, "c", 5)
	assert.Equal(t, "b", m.BestKey([]string{"a", "b", "c"}))

	// Ties keep preference order.
	assert.Equal(t, "d", m.BestKey([]string{"d", "e"}))
}

func TestHealthyProxy(t *testing.T) {
	m, _ := newTestManager()
	proxies := []string{"p1", "p2"}

	assert.Contains(t, proxies, m.HealthyProxy(proxies))

	signalN(m, "p1", 5)
	assert.Equal(t, "p2", m.HealthyProxy(proxies), "p1 is degraded at 5 recent 429s")

	// Whole pool degraded: the pool's counts reset and a proxy is still
	// returned, while counts outside the pool survive.
	signalN(m, "crossref", 3)
	signalN(m, "p2", 7)
	got := m.HealthyProxy(proxies)
	assert.Contains(t, proxies, got)
	assert.Equal(t, 0.0, m.KeyPressure("p1"))
	assert.Equal(t, 0.0, m.KeyPressure("p2"))
	assert.Greater(t, m.KeyPressure("crossref"), 0.0, "pool reset leaves adapter counts alone")
}

func TestLocalStore(t *testing.T) {
	s := NewLocalStore()
	count, last := s.Observation("x")
	assert.Zero(t, count)
	assert.True(t, last.IsZero())

	at := time.Now()
	s.Record("x", at)
	s.Record("x", at.Add(time.Second))
	count, last = s.Observation("x")
	assert.Equal(t, 2.0, count)
	assert.Equal(t, at.Add(time.Second), last)
	assert.ElementsMatch(t, []string{"x"}, s.Keys())

	s.Record("y", at)
	s.ResetKeys([]string{"x"})
	count, _ = s.Observation("x")
	assert.Zero(t, count)
	count, _ = s.Observation("y")
	assert.Equal(t, 1.0, count, "reset only touches the named keys")
}
