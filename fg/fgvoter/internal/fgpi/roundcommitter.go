package fgpi

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yeeco/finality-grandpa/fg/fgconsensus"
)

// roundCommitter decides whether and when a background round
// owes the network a commit message.
// It owns the round's one-shot commit timer and the receiving half of the
// round's commit-routing queue, and caches the most recently imported
// externally observed commit. Only the latest import matters.
type roundCommitter struct {
	log *slog.Logger

	timer      fgconsensus.Timer
	timerFired bool

	commits <-chan fgconsensus.Commit

	lastCommit *fgconsensus.Commit
}

func newRoundCommitter(
	log *slog.Logger,
	timer fgconsensus.Timer,
	commits <-chan fgconsensus.Commit,
) *roundCommitter {
	return &roundCommitter{
		log: log,

		timer:   timer,
		commits: commits,
	}
}

// timerElapsed returns the timer channel to select on,
// or nil once the timer has fired.
// The fired state is latched; the timer never blocks a second time.
func (c *roundCommitter) timerElapsed() <-chan struct{} {
	if c.timerFired {
		return nil
	}
	return c.timer.Elapsed()
}

// importCommit validates one externally observed commit against vr
// and caches it if it carried new information.
//
// Commits targeting a block strictly below the round's own finalized number
// are rejected without error, as are commits the round reports as redundant.
// Only errors from the round's own validation propagate.
func (c *roundCommitter) importCommit(
	ctx context.Context,
	vr fgconsensus.VotingRound,
	commit fgconsensus.Commit,
) (accepted bool, err error) {
	var finalizedNumber uint64
	if f := vr.RoundState().Finalized; f != nil {
		finalizedNumber = f.Number
	}

	if commit.Target.Number < finalizedNumber {
		return false, nil
	}

	res, err := vr.CheckCommit(ctx, commit)
	if err != nil {
		return false, fmt.Errorf("failed to validate imported commit: %w", err)
	}
	if res != fgconsensus.CommitCheckApplied {
		return false, nil
	}

	c.lastCommit = &commit
	return true, nil
}

// step runs one committer cycle:
// drain every queued inbound commit, then,
// if the commit timer has fired, decide whether to emit a commit.
//
// A non-nil emit is a commit the round owes the network;
// the committer stays alive afterwards,
// since the round may owe further commits to lagging peers.
// done reports that the committer has no further obligation
// and must be discarded permanently.
func (c *roundCommitter) step(
	ctx context.Context,
	vr fgconsensus.VotingRound,
) (emit *fgconsensus.Commit, done bool, err error) {
DRAIN:
	for {
		select {
		case commit := <-c.commits:
			accepted, err := c.importCommit(ctx, vr, commit)
			if err != nil {
				return nil, false, err
			}
			if !accepted {
				// Individual bad or stale commits come from untrusted peers
				// and must not disrupt the round.
				c.log.Debug(
					"Ignoring commit that carried no new information",
					"target_number", commit.Target.Number,
				)
			}
		default:
			break DRAIN
		}
	}

	if !c.timerFired {
		// Not yet time to decide.
		return nil, false, nil
	}

	last := c.lastCommit
	c.lastCommit = nil

	finalized := vr.RoundState().Finalized

	switch {
	case last == nil && finalized != nil:
		// Nobody else committed for this round and we finalized a block,
		// so the network is owed our own finalizing commit.
		return c.finalizingCommit(vr)
	case last != nil && finalized != nil && last.Target.Number < finalized.Number:
		// The last observed commit is behind our own finalized block;
		// re-emit our finalizing commit to help lagging peers catch up.
		return c.finalizingCommit(vr)
	default:
		// Either the round never finalized,
		// or a peer's commit already covers our finalized block.
		// Nothing further is owed.
		return nil, true, nil
	}
}

func (c *roundCommitter) finalizingCommit(
	vr fgconsensus.VotingRound,
) (*fgconsensus.Commit, bool, error) {
	commit, ok := vr.FinalizingCommit()
	if !ok {
		// Finalized with no retrievable commit: nothing to emit, obligation over.
		return nil, true, nil
	}
	return &commit, false, nil
}
