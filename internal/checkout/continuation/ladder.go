package continuation

import (
	"sync"
	"time"

	"github.com/smallbiznis/payflow/internal/clock"
)

// Rung is one delayed attempt at the same goal.
type Rung struct {
	Delay  time.Duration
	Action func()
}

// DefaultSubmitOffsets is the backup submit schedule: the injected script
// normally wins, these fire in case it never ran.
func DefaultSubmitOffsets() []time.Duration {
	return []time.Duration{1 * time.Second, 5 * time.Second, 8 * time.Second}
}

// Ladder schedules an ordered set of rungs against a clock and cancels the
// ones still pending on Stop. Evaluating against clock.Clock keeps the policy
// testable without real timers.
type Ladder struct {
	mu     sync.Mutex
	timers []clock.Timer
}

func StartLadder(clk clock.Clock, rungs []Rung) *Ladder {
	l := &Ladder{}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rung := range rungs {
		l.timers = append(l.timers, clk.AfterFunc(rung.Delay, rung.Action))
	}
	return l
}

func (l *Ladder) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.timers {
		t.Stop()
	}
	l.timers = nil
}
