package rate

import (
	"sync"
	"time"
)

// Config defines the observation window and the alert threshold.
type Config struct {
	Window    time.Duration
	Threshold int // events within Window that trip the alert; 0 disables
	Buckets   int // window resolution, default 12
}

// Meter counts events over a sliding window split into fixed buckets.
type Meter struct {
	mu        sync.Mutex
	counts    []int
	stamps    []int64 // bucket start (unix ns) each count belongs to
	width     time.Duration
	threshold int
	now       func() time.Time
}

// New creates a new meter.
func New(cfg Config) *Meter {
	return newMeter(cfg, time.Now)
}

func newMeter(cfg Config, now func() time.Time) *Meter {
	if cfg.Buckets <= 0 {
		cfg.Buckets = 12
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	width := cfg.Window / time.Duration(cfg.Buckets)
	if width <= 0 {
		width = time.Nanosecond
	}
	return &Meter{
		counts:    make([]int, cfg.Buckets),
		stamps:    make([]int64, cfg.Buckets),
		width:     width,
		threshold: cfg.Threshold,
		now:       now,
	}
}

func (m *Meter) slot(t time.Time) (int, int64) {
	start := t.UnixNano() / int64(m.width)
	return int(start % int64(len(m.counts))), start
}

// Mark records one event and reports whether the window total has reached
// the threshold.
func (m *Meter) Mark() (total int, exceeded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, start := m.slot(m.now())
	if m.stamps[i] != start {
		m.stamps[i] = start
		m.counts[i] = 0
	}
	m.counts[i]++
	total = m.totalLocked(start)
	return total, m.threshold > 0 && total >= m.threshold
}

// Count is the number of events inside the window.
func (m *Meter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, start := m.slot(m.now())
	return m.totalLocked(start)
}

// Exceeded reports whether the current window total is at or above the threshold.
func (m *Meter) Exceeded() bool {
	return m.threshold > 0 && m.Count() >= m.threshold
}

func (m *Meter) totalLocked(current int64) int {
	oldest := current - int64(len(m.counts)) + 1
	total := 0
	for i, c := range m.counts {
		if m.stamps[i] >= oldest && m.stamps[i] <= current {
			total += c
		}
	}
	return total
}

// Manager holds per-key meters.
type Manager struct {
	mu       sync.RWMutex
	meters   map[string]*Meter
	defaults Config
	now      func() time.Time
}

func NewManager(defaults Config) *Manager {
	return &Manager{
		meters:   make(map[string]*Meter),
		defaults: defaults,
		now:      time.Now,
	}
}

func (m *Manager) GetMeter(key string) *Meter {
	m.mu.RLock()
	if met, ok := m.meters[key]; ok {
		m.mu.RUnlock()
		return met
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if met, ok := m.meters[key]; ok {
		return met
	}
	met := newMeter(m.defaults, m.now)
	m.meters[key] = met
	return met
}

// Mark records an event for key.
func (m *Manager) Mark(key string) (int, bool) {
	return m.GetMeter(key).Mark()
}
