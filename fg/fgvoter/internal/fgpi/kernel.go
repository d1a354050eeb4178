package fgpi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yeeco/finality-grandpa/fg/fgconsensus"
	"github.com/yeeco/finality-grandpa/gwatchdog"
	"github.com/yeeco/finality-grandpa/internal/glog"
)

// RoundFailedError is the terminal stream error recorded when a single
// background round's internal state is corrupted.
// A corrupted round is treated as too dangerous to silently isolate,
// so it halts the entire past-round commit stream.
type RoundFailedError struct {
	RoundNumber uint64
	Err         error
}

func (e RoundFailedError) Error() string {
	return fmt.Sprintf("background round %d failed: %v", e.RoundNumber, e.Err)
}

func (e RoundFailedError) Unwrap() error {
	return e.Err
}

// roundHandle is the kernel-side view of one active background round:
// the sending half of its commit-routing queue
// and its conflated watermark-update channel.
// Both entries live and die together with the round's registry entry.
type roundHandle struct {
	queueIn chan<- fgconsensus.Commit
	updates chan uint64
}

// offerFinalized hands height to the round's update channel,
// replacing any stale queued value.
// The watermark is monotonic, so conflating to the latest (largest)
// broadcast value loses nothing.
func (h *roundHandle) offerFinalized(height uint64) {
	for {
		select {
		case h.updates <- height:
			return
		default:
		}

		// Channel full: discard the stale value and retry.
		// The round goroutine may race us on the receive,
		// in which case the next send attempt succeeds.
		select {
		case <-h.updates:
		default:
		}
	}
}

// Kernel owns the dynamic set of background rounds and the commit-routing
// registry. All registry state is confined to the kernel's main loop
// goroutine; external callers communicate over the request channels.
type Kernel struct {
	log *slog.Logger

	env fgconsensus.Environment

	pushRequests   <-chan PushRequest
	updateRequests <-chan UpdateFinalizedRequest
	routeRequests  <-chan RouteCommitRequest

	commitsOut chan<- RoundCommit

	// Fan-in from every background round goroutine.
	events chan roundEvent

	// Derived context governing round and queue goroutines,
	// so a fatal round error can tear all of them down
	// without the root context being canceled.
	roundsCtx    context.Context
	cancelRounds context.CancelCauseFunc
	roundsWG     sync.WaitGroup

	// Terminal stream error; must only be read after done is closed.
	err error

	done chan struct{}
}

// KernelConfig is the configuration for [NewKernel].
// All channel fields are required.
type KernelConfig struct {
	Environment fgconsensus.Environment

	PushRequests   <-chan PushRequest
	UpdateRequests <-chan UpdateFinalizedRequest
	RouteRequests  <-chan RouteCommitRequest

	CommitsOut chan<- RoundCommit

	Watchdog *gwatchdog.Watchdog

	// Monitor overrides the kernel's watchdog monitor settings.
	// The zero value selects the default configuration.
	Monitor gwatchdog.MonitorConfig
}

// kState is the kernel's mutable main-loop state.
type kState struct {
	// Active rounds, keyed by round number.
	// A round number has an entry here iff its background goroutine
	// is still running; entries are created in addRound and removed
	// atomically with the routing queue in handleEvent.
	Rounds map[uint64]*roundHandle

	// Largest height ever broadcast, used so that conflated update
	// channels are always replaced with a value at least as large
	// as anything they previously held.
	MaxFinalized uint64

	// Commits produced by rounds but not yet accepted by the consumer.
	// Holding them here keeps the main loop responsive to requests
	// and watchdog signals while the consumer is slow.
	PendingCommits []RoundCommit
}

// NewKernel returns a running kernel whose main loop is associated with ctx.
// Cancel the context and call [*Kernel.Wait] to stop it.
func NewKernel(ctx context.Context, log *slog.Logger, cfg KernelConfig) *Kernel {
	roundsCtx, cancelRounds := context.WithCancelCause(ctx)

	k := &Kernel{
		log: log,

		env: cfg.Environment,

		pushRequests:   cfg.PushRequests,
		updateRequests: cfg.UpdateRequests,
		routeRequests:  cfg.RouteRequests,

		commitsOut: cfg.CommitsOut,

		events: make(chan roundEvent),

		roundsCtx:    roundsCtx,
		cancelRounds: cancelRounds,

		done: make(chan struct{}),
	}

	initState := &kState{
		Rounds: make(map[uint64]*roundHandle),
	}

	mCfg := cfg.Monitor
	if mCfg == (gwatchdog.MonitorConfig{}) {
		mCfg = gwatchdog.MonitorConfig{
			Name:     "PastRounds kernel",
			Interval: 10 * time.Second, Jitter: time.Second,
			ResponseTimeout: time.Second,
		}
	}

	go k.mainLoop(ctx, initState, cfg.Watchdog, mCfg)

	return k
}

// Wait blocks until the kernel's main loop and every background round
// goroutine have finished.
func (k *Kernel) Wait() {
	<-k.done
}

// Done returns a channel closed when the kernel has stopped,
// whether by context cancellation or a fatal round error.
func (k *Kernel) Done() <-chan struct{} {
	return k.done
}

// Err returns the terminal stream error, if any.
// Only valid after the channel returned by Done is closed.
func (k *Kernel) Err() error {
	select {
	case <-k.done:
		return k.err
	default:
		panic(fmt.Errorf("BUG: (*Kernel).Err called before kernel finished"))
	}
}

func (k *Kernel) mainLoop(
	ctx context.Context,
	s *kState,
	wd *gwatchdog.Watchdog,
	mCfg gwatchdog.MonitorConfig,
) {
	defer close(k.done)
	defer k.roundsWG.Wait()
	defer close(k.commitsOut)
	defer k.cancelRounds(nil)

	var wSig <-chan gwatchdog.Signal
	if wd != nil {
		wSig = wd.Monitor(ctx, mCfg)
	}

	for {
		// The output send is only a select case while a commit is pending;
		// a nil channel removes the case.
		// The loop must never block solely on the consumer,
		// or watchdog signals and requests would starve.
		var outCh chan<- RoundCommit
		var nextCommit RoundCommit
		if len(s.PendingCommits) > 0 {
			outCh = k.commitsOut
			nextCommit = s.PendingCommits[0]
		}

		select {
		case <-ctx.Done():
			k.log.Info(
				"Past-rounds kernel stopping",
				"cause", context.Cause(ctx),
				"active_rounds", len(s.Rounds),
				"undelivered_commits", len(s.PendingCommits),
			)
			return

		case sig := <-wSig:
			close(sig.Alive)

		case req := <-k.pushRequests:
			k.addRound(s, req)

		case req := <-k.updateRequests:
			k.broadcastFinalized(s, req)

		case req := <-k.routeRequests:
			k.routeCommit(s, req)

		case ev := <-k.events:
			if !k.handleEvent(s, ev) {
				return
			}

		case outCh <- nextCommit:
			s.PendingCommits = s.PendingCommits[1:]
		}
	}
}

// addRound registers a freshly superseded round and starts its
// background goroutines.
//
// The round's finalized watermark intentionally starts at zero rather than
// inheriting the globally known finalized height at push time;
// the round catches up on the next finalized-height broadcast.
func (k *Kernel) addRound(s *kState, req PushRequest) {
	n := req.Round.RoundNumber()

	if _, exists := s.Rounds[n]; exists {
		// The driver assigns unique numbers to live rounds;
		// a duplicate is a driver bug, but not worth corrupting
		// the existing round's state over.
		k.log.Warn("Ignoring duplicate background round push", "round", n)
		req.Resp <- struct{}{}
		return
	}

	queueIn := make(chan fgconsensus.Commit, 1)
	queueOut := make(chan fgconsensus.Commit)
	h := &roundHandle{
		queueIn: queueIn,
		updates: make(chan uint64, 1),
	}
	s.Rounds[n] = h

	log := glog.RN(k.log, n)

	br := &backgroundRound{
		log: log,

		inner: req.Round,

		committer: newRoundCommitter(
			log.With("r_sys", "committer"),
			k.env.RoundCommitTimer(),
			queueOut,
		),

		updates: h.updates,
		events:  k.events,
	}

	k.roundsWG.Add(2)
	go func() {
		defer k.roundsWG.Done()
		runCommitQueue(k.roundsCtx, queueIn, queueOut)
	}()
	go func() {
		defer k.roundsWG.Done()
		br.run(k.roundsCtx)
	}()

	k.log.Debug("Backgrounded superseded round", "round", n)

	req.Resp <- struct{}{}
}

// broadcastFinalized hands the new finalized height to every active round.
// Per-round application is asynchronous, but the conflated channels
// always end up holding the largest height ever broadcast,
// so repeated or non-increasing updates behave like a single maximal one.
func (k *Kernel) broadcastFinalized(s *kState, req UpdateFinalizedRequest) {
	if req.Height > s.MaxFinalized {
		s.MaxFinalized = req.Height
	}

	for _, h := range s.Rounds {
		h.offerFinalized(s.MaxFinalized)
	}

	req.Resp <- struct{}{}
}

// routeCommit places the commit on the target round's unbounded queue,
// or returns it to the caller if the round is unknown or already pruned.
func (k *Kernel) routeCommit(s *kState, req RouteCommitRequest) {
	h, ok := s.Rounds[req.RoundNumber]
	if !ok {
		req.Resp <- RouteCommitResponse{Commit: req.Commit}
		return
	}

	// The queue goroutine is always receptive,
	// so this send only waits for it to be scheduled.
	select {
	case h.queueIn <- req.Commit:
		req.Resp <- RouteCommitResponse{Handled: true}
	case <-k.roundsCtx.Done():
		req.Resp <- RouteCommitResponse{Commit: req.Commit}
	}
}

// handleEvent processes one background round outcome.
// It reports false when the kernel must stop, on a fatal round error.
func (k *Kernel) handleEvent(s *kState, ev roundEvent) bool {
	switch ev.Kind {
	case roundIrrelevant:
		h, ok := s.Rounds[ev.RoundNumber]
		if !ok {
			panic(fmt.Errorf(
				"BUG: irrelevant event for round %d with no registry entry",
				ev.RoundNumber,
			))
		}

		// Remove the routing entry and the round together,
		// so any later route for this number degrades to unhandled.
		close(h.queueIn)
		delete(s.Rounds, ev.RoundNumber)

		k.log.Debug("Dropped irrelevant background round", "round", ev.RoundNumber)
		return true

	case roundCommitted:
		k.log.Debug(
			"Committing",
			"round", ev.RoundNumber,
			"target_number", ev.Commit.Target.Number,
			"target_hash", glog.Hex(ev.Commit.Target.Hash),
		)

		s.PendingCommits = append(s.PendingCommits, RoundCommit{
			RoundNumber: ev.RoundNumber,
			Commit:      ev.Commit,
		})
		return true

	case roundFailed:
		k.err = RoundFailedError{RoundNumber: ev.RoundNumber, Err: ev.Err}
		k.log.Error(
			"Background round failed; halting past-round commit stream",
			"round", ev.RoundNumber,
			"err", ev.Err,
		)
		k.cancelRounds(k.err)
		return false

	default:
		panic(fmt.Errorf("BUG: received unknown roundEvent kind %d", ev.Kind))
	}
}
