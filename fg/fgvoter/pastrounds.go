// Package fgvoter contains the voter-side subsystems of the finality gadget.
//
// Rounds that are no longer the current best round are run in the background:
// they may still owe the network a commit message,
// and they must keep accepting late commits so that this process
// does not produce commits conflicting with peers still on that round.
// [PastRounds] manages those rounds and produces their commit messages,
// dropping each round once it becomes provably irrelevant.
package fgvoter

import (
	"context"
	"log/slog"

	"github.com/yeeco/finality-grandpa/fg/fgconsensus"
	"github.com/yeeco/finality-grandpa/fg/fgvoter/internal/fgpi"
	"github.com/yeeco/finality-grandpa/gwatchdog"
)

// RoundCommit is an alias into the internal package:
// one (round number, commit) pair of the combined output stream.
type RoundCommit = fgpi.RoundCommit

// RoundFailedError is an alias into the internal package:
// the terminal stream error produced when a background round's
// internal state is corrupted.
type RoundFailedError = fgpi.RoundFailedError

// PastRounds drives every superseded voting round in the background,
// multiplexing their commit messages into a single output stream.
//
// Drive it by:
//   - pushing each superseded round via [*PastRounds.Push]
//   - informing it of new finalized block heights via [*PastRounds.UpdateFinalized]
//   - routing validated commits observed on the network via [*PastRounds.RouteCommit]
//   - consuming the [*PastRounds.Commits] stream
//
// Most of the heavy logic lives in the internal kernel;
// PastRounds methods are safe to call concurrently.
type PastRounds struct {
	log *slog.Logger

	k *fgpi.Kernel

	pushRequests   chan<- fgpi.PushRequest
	updateRequests chan<- fgpi.UpdateFinalizedRequest
	routeRequests  chan<- fgpi.RouteCommitRequest

	commits <-chan RoundCommit
}

// Config holds the configuration required to start a [PastRounds].
type Config struct {
	// Supplies each backgrounded round's one-shot commit timer.
	Environment fgconsensus.Environment

	// Monitors the kernel main loop.
	// May be nil to disable liveness monitoring.
	Watchdog *gwatchdog.Watchdog

	// Buffer size for the combined commit output channel.
	// Zero is valid and applies full backpressure to round output.
	CommitBufferSize int
}

// New returns a new PastRounds based on the given Config.
//
// The PastRounds runs background goroutines associated with ctx.
// It can be stopped by canceling the context and calling its Wait method.
func New(ctx context.Context, log *slog.Logger, cfg Config) *PastRounds {
	// Unbuffered: every request is synchronous with its response.
	pushRequests := make(chan fgpi.PushRequest)
	updateRequests := make(chan fgpi.UpdateFinalizedRequest)
	routeRequests := make(chan fgpi.RouteCommitRequest)

	commits := make(chan fgpi.RoundCommit, cfg.CommitBufferSize)

	k := fgpi.NewKernel(ctx, log.With("p_sys", "kernel"), fgpi.KernelConfig{
		Environment: cfg.Environment,

		PushRequests:   pushRequests,
		UpdateRequests: updateRequests,
		RouteRequests:  routeRequests,

		CommitsOut: commits,

		Watchdog: cfg.Watchdog,
	})

	return &PastRounds{
		log: log,

		k: k,

		pushRequests:   pushRequests,
		updateRequests: updateRequests,
		routeRequests:  routeRequests,

		commits: commits,
	}
}

// Commits returns the combined output stream of commit messages
// produced by background rounds.
// Round numbers are not guaranteed to arrive in increasing order.
//
// The channel is closed when the PastRounds stops,
// whether by context cancellation or a fatal round error;
// after the close, consult [*PastRounds.Err].
func (p *PastRounds) Commits() <-chan RoundCommit {
	return p.commits
}

// Push transfers ownership of a superseded voting round to p,
// wrapping it in a background round whose finalized watermark starts at zero.
// The round catches up to the globally known finalized height
// on the next UpdateFinalized call.
//
// Push reports false if ctx was canceled or p already stopped
// before the round was registered.
func (p *PastRounds) Push(ctx context.Context, round fgconsensus.VotingRound) bool {
	req := fgpi.PushRequest{
		Round: round,
		Resp:  make(chan struct{}, 1),
	}

	select {
	case <-ctx.Done():
		p.log.Info("Context canceled while pushing background round", "cause", context.Cause(ctx))
		return false
	case <-p.k.Done():
		p.log.Warn("Ignoring round pushed after past-rounds stream stopped", "round", round.RoundNumber())
		return false
	case p.pushRequests <- req:
	}

	// The kernel always responds once it has accepted the request.
	<-req.Resp
	return true
}

// UpdateFinalized broadcasts a newly finalized block height to every
// active background round, leading to irrelevant rounds being pruned.
// The per-round watermark only ever increases,
// so stale or repeated heights are harmless.
//
// UpdateFinalized reports false if ctx was canceled or p already stopped
// before the broadcast was handed to every round.
func (p *PastRounds) UpdateFinalized(ctx context.Context, height uint64) bool {
	req := fgpi.UpdateFinalizedRequest{
		Height: height,
		Resp:   make(chan struct{}, 1),
	}

	select {
	case <-ctx.Done():
		p.log.Info("Context canceled while broadcasting finalized height", "cause", context.Cause(ctx))
		return false
	case <-p.k.Done():
		return false
	case p.updateRequests <- req:
	}

	<-req.Resp
	return true
}

// RouteCommit hands an externally observed commit to the background round
// with the given number, for asynchronous import.
//
// If the commit was accepted for processing, handled reports true.
// Handled means the commit was queued to a round that was live at the
// moment of routing; a round whose commit obligation is already discharged
// leaves queued commits unread until it is pruned,
// so handled does not guarantee the round will act on the commit.
// Otherwise the commit is returned unchanged: the round is unknown,
// already pruned, or the subsystem has stopped,
// and fallback handling is the caller's decision
// (for example, re-checking the commit against global finality).
func (p *PastRounds) RouteCommit(
	ctx context.Context,
	roundNumber uint64,
	commit fgconsensus.Commit,
) (unhandled fgconsensus.Commit, handled bool) {
	req := fgpi.RouteCommitRequest{
		RoundNumber: roundNumber,
		Commit:      commit,
		Resp:        make(chan fgpi.RouteCommitResponse, 1),
	}

	select {
	case <-ctx.Done():
		p.log.Info("Context canceled while routing commit", "cause", context.Cause(ctx))
		return commit, false
	case <-p.k.Done():
		return commit, false
	case p.routeRequests <- req:
	}

	resp := <-req.Resp
	if !resp.Handled {
		return resp.Commit, false
	}
	return fgconsensus.Commit{}, true
}

// Wait blocks until p's background goroutines have all completed.
// To begin shutdown, cancel the context passed to [New].
func (p *PastRounds) Wait() {
	p.k.Wait()
}

// Err returns the terminal stream error, if any.
// It must only be called after the Commits channel is closed
// or Wait has returned.
// A nil error means the stream ended by context cancellation.
func (p *PastRounds) Err() error {
	return p.k.Err()
}
