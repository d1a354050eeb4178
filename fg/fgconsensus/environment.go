package fgconsensus

import "time"

// Timer is a one-shot timer supplied by the [Environment].
// The Elapsed channel is closed when the timer fires;
// it never fires more than once.
type Timer interface {
	Elapsed() <-chan struct{}
}

// Environment supplies the external capabilities a backgrounded round needs.
// Duration and semantics of the commit timer are owned by the environment;
// the past-round subsystem only uses it as an
// "is it time to decide whether to commit" gate.
type Environment interface {
	RoundCommitTimer() Timer
}

// WallTimer is a [Timer] backed by the wall clock.
type WallTimer struct {
	elapsed chan struct{}
}

// NewWallTimer returns a WallTimer that fires once after d.
func NewWallTimer(d time.Duration) *WallTimer {
	t := &WallTimer{elapsed: make(chan struct{})}
	time.AfterFunc(d, func() {
		close(t.elapsed)
	})
	return t
}

func (t *WallTimer) Elapsed() <-chan struct{} {
	return t.elapsed
}

// WallEnvironment is a minimal [Environment] producing wall-clock
// commit timers of a fixed duration.
type WallEnvironment struct {
	// How long a backgrounded round waits before deciding whether to commit.
	CommitDelay time.Duration
}

func (e WallEnvironment) RoundCommitTimer() Timer {
	return NewWallTimer(e.CommitDelay)
}
