package ensemble

import (
	"math"
	"sync"
	"time"
)

// Clock abstracts time for the stabilizer so hysteresis is testable without
// real time passing.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall-clock implementation.
func SystemClock() Clock { return systemClock{} }

const (
	defaultCooldown        = 2 * time.Second
	defaultChangeThreshold = 0.05
	historySize            = 5
	meanWindow             = 3
)

// Stabilizer applies temporal hysteresis to ensemble output. A fresh result
// only supersedes the previous accepted one once the cooldown has elapsed,
// or when it moved enough (long-probability or confidence delta above the
// change threshold) or changed recommendation tier. Anything else returns
// the mean of the recent accepted history instead of the raw recomputation,
// which keeps noisy per-tick inputs from flapping downstream actions.
type Stabilizer struct {
	mu              sync.Mutex
	clock           Clock
	cooldown        time.Duration
	changeThreshold float64

	history        []Prediction // accepted results, newest last, bounded ring
	lastAcceptedAt time.Time
}

// NewStabilizer builds a stabilizer with the given clock; zero cooldown or
// threshold select the defaults.
func NewStabilizer(clock Clock, cooldown time.Duration, changeThreshold float64) *Stabilizer {
	if clock == nil {
		clock = SystemClock()
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if changeThreshold <= 0 {
		changeThreshold = defaultChangeThreshold
	}
	return &Stabilizer{
		clock:           clock,
		cooldown:        cooldown,
		changeThreshold: changeThreshold,
	}
}

// Apply decides whether the fresh prediction is accepted or replaced by the
// stabilized fallback.
func (s *Stabilizer) Apply(fresh Prediction) Prediction {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	if len(s.history) == 0 {
		s.accept(fresh, now)
		return fresh
	}

	last := s.history[len(s.history)-1]
	cooledDown := now.Sub(s.lastAcceptedAt) >= s.cooldown
	moved := math.Abs(fresh.LongProb-last.LongProb) > s.changeThreshold ||
		math.Abs(fresh.Confidence-last.Confidence) > s.changeThreshold
	tierChanged := fresh.Recommendation != last.Recommendation

	if cooledDown || moved || tierChanged {
		s.accept(fresh, now)
		return fresh
	}

	return s.stabilized()
}

func (s *Stabilizer) accept(p Prediction, now time.Time) {
	s.history = append(s.history, p)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.lastAcceptedAt = now
}

// stabilized returns the mean of the last accepted results.
func (s *Stabilizer) stabilized() Prediction {
	n := meanWindow
	if n > len(s.history) {
		n = len(s.history)
	}
	recent := s.history[len(s.history)-n:]

	var out Prediction
	for _, p := range recent {
		out.LongProb += p.LongProb
		out.ShortProb += p.ShortProb
		out.Confidence += p.Confidence
		out.Strength += p.Strength
	}
	fn := float64(n)
	out.LongProb /= fn
	out.ShortProb /= fn
	out.Confidence /= fn
	out.Strength /= fn

	// Direction follows the last accepted result: the fallback exists to
	// hold the line, not to flip it on an averaged coin toss.
	out.Direction = s.history[len(s.history)-1].Direction
	out.Recommendation = tier(out.Confidence, out.Strength)
	out.Contributions = s.history[len(s.history)-1].Contributions
	out.Stabilized = true
	return out
}

// Reset clears accepted history (instrument reset path).
func (s *Stabilizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.lastAcceptedAt = time.Time{}
}
