package fgconsensustest

import (
	"sync"

	"github.com/yeeco/finality-grandpa/fg/fgconsensus"
)

// ManualTimer is a [fgconsensus.Timer] that elapses
// only when the test calls Fire.
type ManualTimer struct {
	elapsed chan struct{}
	once    sync.Once
}

func NewManualTimer() *ManualTimer {
	return &ManualTimer{elapsed: make(chan struct{})}
}

// Fire marks the timer as elapsed.
// It is safe to call Fire multiple times.
func (t *ManualTimer) Fire() {
	t.once.Do(func() {
		close(t.elapsed)
	})
}

func (t *ManualTimer) Elapsed() <-chan struct{} {
	return t.elapsed
}

// ManualEnvironment is an [fgconsensus.Environment]
// whose commit timers never elapse on their own.
//
// Every timer it hands out is also sent on the Timers channel,
// so tests can observe timer creation and fire timers on demand.
type ManualEnvironment struct {
	// Buffered generously so that RoundCommitTimer never blocks
	// within a reasonably sized test.
	Timers chan *ManualTimer
}

func NewManualEnvironment() *ManualEnvironment {
	return &ManualEnvironment{
		Timers: make(chan *ManualTimer, 64),
	}
}

func (e *ManualEnvironment) RoundCommitTimer() fgconsensus.Timer {
	t := NewManualTimer()
	e.Timers <- t
	return t
}
