package fgpi

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yeeco/finality-grandpa/fg/fgconsensus"
	"github.com/yeeco/finality-grandpa/internal/gchan"
)

// roundEventKind tags the outcome a background round reports
// to the kernel through the shared event channel.
type roundEventKind uint8

const (
	_ roundEventKind = iota // Zero value reserved.

	// The round produced a commit message but must keep being driven.
	roundCommitted

	// The round has become irrelevant and its registry entry can be dropped.
	roundIrrelevant

	// The round's internal state is corrupted; fatal to the whole stream.
	roundFailed
)

// roundEvent is the tagged outcome variant flowing from a background
// round goroutine to the kernel.
type roundEvent struct {
	RoundNumber uint64
	Kind        roundEventKind

	// Set when Kind is roundCommitted.
	Commit fgconsensus.Commit

	// Set when Kind is roundFailed.
	Err error
}

// backgroundRound drives one superseded voting round until it is
// provably irrelevant.
// Each backgroundRound is owned by exactly one goroutine running
// [*backgroundRound.run]; nothing here is safe for concurrent use.
type backgroundRound struct {
	log *slog.Logger

	inner fgconsensus.VotingRound

	// Highest globally-finalized height this round has been told about.
	// Only ever increases.
	finalizedNumber uint64

	// Present until the round has no further commit obligation.
	// Once nil, never reconstructed.
	committer *roundCommitter

	// Conflated watermark updates broadcast by the kernel.
	updates <-chan uint64

	events chan<- roundEvent
}

// isDone reports that the round is fully irrelevant:
// the committer has no remaining obligation, and the round either
// has no estimate or its estimate is at or below the finalized watermark.
//
// A round with no estimate only arises when the driver skipped forward
// past it; such a round may never complete, so it is not kept alive.
func (r *backgroundRound) isDone() bool {
	if r.committer != nil {
		return false
	}

	est := r.inner.RoundState().Estimate
	return est == nil || est.Number <= r.finalizedNumber
}

// run is the background round's main loop.
// It suspends on the round's internal readiness signal,
// the inbound commit queue, the commit timer, and watermark updates,
// and reports outcomes to the kernel through the shared event channel.
// The loop exits on context cancellation, on a fatal round error,
// or when the round becomes irrelevant.
func (r *backgroundRound) run(ctx context.Context) {
	n := r.inner.RoundNumber()

	for {
		// Channels for the committer-owned suspension points are nil
		// once the committer is gone, removing them from the select.
		var commitCh <-chan fgconsensus.Commit
		var timerCh <-chan struct{}
		if r.committer != nil {
			commitCh = r.committer.commits
			timerCh = r.committer.timerElapsed()
		}

		select {
		case <-ctx.Done():
			r.log.Debug("Background round stopping", "cause", context.Cause(ctx))
			return

		case <-r.inner.Ready():
			if err := r.inner.Advance(ctx); err != nil {
				r.fail(ctx, n, fmt.Errorf("failed to advance round %d: %w", n, err))
				return
			}

		case commit := <-commitCh:
			accepted, err := r.committer.importCommit(ctx, r.inner, commit)
			if err != nil {
				r.fail(ctx, n, fmt.Errorf("round %d: %w", n, err))
				return
			}
			if !accepted {
				r.log.Debug(
					"Ignoring commit that carried no new information",
					"target_number", commit.Target.Number,
				)
			}

		case <-timerCh:
			r.committer.timerFired = true

		case h := <-r.updates:
			if h > r.finalizedNumber {
				r.finalizedNumber = h
			}
		}

		if r.committer != nil {
			emit, done, err := r.committer.step(ctx, r.inner)
			if err != nil {
				r.fail(ctx, n, fmt.Errorf("round %d: %w", n, err))
				return
			}
			if done {
				r.committer = nil
			}
			if emit != nil {
				ev := roundEvent{
					RoundNumber: n,
					Kind:        roundCommitted,
					Commit:      *emit,
				}
				if !gchan.SendC(ctx, r.log, r.events, ev, "reporting round commit") {
					return
				}
			}
		}

		if r.isDone() {
			ev := roundEvent{
				RoundNumber: n,
				Kind:        roundIrrelevant,
			}
			// Best effort; context cancellation also tears the round down.
			gchan.SendC(ctx, r.log, r.events, ev, "reporting round irrelevant")
			return
		}
	}
}

func (r *backgroundRound) fail(ctx context.Context, n uint64, err error) {
	ev := roundEvent{
		RoundNumber: n,
		Kind:        roundFailed,
		Err:         err,
	}
	gchan.SendC(ctx, r.log, r.events, ev, "reporting round failure")
}
