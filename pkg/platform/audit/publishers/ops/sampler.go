package ops

import (
	"math/rand/v2"
	"sync"

	audit "anyzine/pkg/platform/audit"
)

// Sampler keeps a configurable fraction of events per action. Fallback events
// can fire on every request during an outage, so they are the usual target.
type Sampler struct {
	mu           sync.RWMutex
	defaultRate  float64
	rateByAction map[audit.Action]float64
	random       func() float64
}

// NewSampler keeps every event unless a lower rate is configured.
func NewSampler() *Sampler {
	return &Sampler{
		defaultRate:  1,
		rateByAction: make(map[audit.Action]float64),
		random:       rand.Float64, //nolint:gosec // sampling doesn't need crypto rand
	}
}

// SetRate sets the kept fraction for one action, clamped to [0, 1].
func (s *Sampler) SetRate(action audit.Action, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateByAction[action] = clamp(rate)
}

// Keep reports whether event should be forwarded.
func (s *Sampler) Keep(action audit.Action) bool {
	s.mu.RLock()
	rate, ok := s.rateByAction[action]
	if !ok {
		rate = s.defaultRate
	}
	s.mu.RUnlock()

	switch {
	case rate >= 1:
		return true
	case rate <= 0:
		return false
	}
	return s.random() < rate
}

func clamp(rate float64) float64 {
	return min(1, max(0, rate))
}
