// Package memmon samples system memory and recommends chunk sizes.
//
// Recommendations are advisory: the pipeline degrades to smaller chunks
// under pressure but never fails because memory ran low.
package memmon

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
)

// Stats is one memory sample.
type Stats struct {
	UsedBytes      uint64
	AvailableBytes uint64
	TotalBytes     uint64
}

// Headroom is the fraction of total memory still available.
func (s Stats) Headroom() float64 {
	if s.TotalBytes == 0 {
		return 1
	}
	return float64(s.AvailableBytes) / float64(s.TotalBytes)
}

// Config bounds the chunk-size policy.
type Config struct {
	MinChunk      int
	MaxChunk      int
	InitialChunk  int
	HeadroomRatio float64
	GrowFactor    float64
}

func (c Config) withDefaults() Config {
	if c.MinChunk <= 0 {
		c.MinChunk = 1
	}
	if c.MaxChunk <= 0 {
		c.MaxChunk = 25000
	}
	if c.MaxChunk < c.MinChunk {
		c.MaxChunk = c.MinChunk
	}
	if c.InitialChunk <= 0 {
		c.InitialChunk = c.MaxChunk
	}
	if c.InitialChunk < c.MinChunk {
		c.InitialChunk = c.MinChunk
	}
	if c.InitialChunk > c.MaxChunk {
		c.InitialChunk = c.MaxChunk
	}
	if c.HeadroomRatio <= 0 || c.HeadroomRatio >= 1 {
		c.HeadroomRatio = 0.2
	}
	if c.GrowFactor <= 1 {
		c.GrowFactor = 1.5
	}
	return c
}

// Monitor tracks consecutive samples to drive grow/shrink decisions.
type Monitor struct {
	cfg    Config
	sample func() (Stats, error)

	mu          sync.Mutex
	ampleStreak int
	latest      Stats
	hasLatest   bool
}

// New builds a monitor sampling real system memory.
func New(cfg Config) *Monitor {
	return NewWithSampler(cfg, func() (Stats, error) {
		vm, err := mem.VirtualMemory()
		if err != nil {
			return Stats{}, err
		}
		return Stats{
			UsedBytes:      vm.Used,
			AvailableBytes: vm.Available,
			TotalBytes:     vm.Total,
		}, nil
	})
}

// NewWithSampler injects the sampling function; used by tests.
func NewWithSampler(cfg Config, sample func() (Stats, error)) *Monitor {
	return &Monitor{cfg: cfg.withDefaults(), sample: sample}
}

// Config returns the bounded policy in effect.
func (m *Monitor) Config() Config { return m.cfg }

// Sample takes a fresh memory reading. A sampling failure returns the
// zero Stats (full headroom) so the pipeline keeps going.
func (m *Monitor) Sample() (Stats, error) {
	s, err := m.sample()
	if err != nil {
		return Stats{}, err
	}
	m.mu.Lock()
	m.latest = s
	m.hasLatest = true
	m.mu.Unlock()
	return s, nil
}

// Latest returns the most recent sample taken by Sample or Watch.
func (m *Monitor) Latest() (Stats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, m.hasLatest
}

// Watch samples on a background cadence until the context ends. It only
// ever influences the next chunk-size decision, never in-flight work.
func (m *Monitor) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

// Recommend applies the policy: headroom below the configured ratio
// halves the next chunk down to the minimum; ample headroom across two
// consecutive samples grows it by the bounded factor up to the maximum.
// The warn result is set when pressure persists with the chunk already at
// the minimum, which callers surface as a non-fatal warning.
func (m *Monitor) Recommend(prev int, s Stats) (next int, warn bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev < m.cfg.MinChunk {
		prev = m.cfg.MinChunk
	}
	if prev > m.cfg.MaxChunk {
		prev = m.cfg.MaxChunk
	}

	if s.Headroom() < m.cfg.HeadroomRatio {
		m.ampleStreak = 0
		if prev == m.cfg.MinChunk {
			return m.cfg.MinChunk, true
		}
		next = prev / 2
		if next < m.cfg.MinChunk {
			next = m.cfg.MinChunk
		}
		return next, false
	}

	m.ampleStreak++
	if m.ampleStreak < 2 {
		return prev, false
	}
	next = int(float64(prev) * m.cfg.GrowFactor)
	if next <= prev {
		next = prev + 1
	}
	if next > m.cfg.MaxChunk {
		next = m.cfg.MaxChunk
	}
	return next, false
}
