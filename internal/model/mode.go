package model

import "sync"

// Mode is the behaviour of mode-dependent layers such as dropout.
type Mode int32

const (
	Eval Mode = iota
	Train
)

func (m Mode) String() string {
	if m == Train {
		return "train"
	}
	return "eval"
}

// ModeSwitch holds a model's mode and hands out inference-mode leases.
// Overlapping leases share one eval window; the mode in force before the
// first lease is restored when the last one is released.
type ModeSwitch struct {
	mu     sync.Mutex
	mode   Mode
	prior  Mode
	leases int
}

// Mode reports the mode currently in force.
func (s *ModeSwitch) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode changes the mode. While a lease is held the change is deferred
// until the lease window closes.
func (s *ModeSwitch) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leases > 0 {
		s.prior = m
		return
	}
	s.mode = m
}

// AcquireInferenceMode switches to Eval and returns an idempotent release.
func (s *ModeSwitch) AcquireInferenceMode() (release func()) {
	s.mu.Lock()
	if s.leases == 0 {
		s.prior = s.mode
		s.mode = Eval
	}
	s.leases++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.leases--
			if s.leases == 0 {
				s.mode = s.prior
			}
		})
	}
}
