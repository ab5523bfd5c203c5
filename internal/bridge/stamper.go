package bridge

import (
	"sync"
	"time"
)

const stampResolution = 1e-6

// Stamper hands out strictly increasing float-second timestamps even when the
// wall clock stalls or steps backwards.
type Stamper struct {
	mu   sync.Mutex
	now  func() time.Time
	last float64
}

func NewStamper(now func() time.Time) *Stamper {
	if now == nil {
		now = time.Now
	}
	return &Stamper{now: now}
}

func (s *Stamper) Next() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := float64(s.now().UnixMicro()) / 1e6
	if next <= s.last {
		next = s.last + stampResolution
	}
	s.last = next
	return next
}
