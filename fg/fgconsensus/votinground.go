package fgconsensus

import "context"

// RoundState is a snapshot of a voting round's progress.
// Nil pointers mean the round has not yet reached that state.
type RoundState struct {
	// The round's current best candidate block for finality,
	// per its internal vote-counting algorithm.
	Estimate *BlockTarget

	// The block the round's own logic has determined is safely finalized,
	// independent of global process state.
	Finalized *BlockTarget
}

// CommitCheckResult is the outcome of [VotingRound.CheckCommit]
// for a structurally valid commit.
type CommitCheckResult uint8

const (
	_ CommitCheckResult = iota // Zero value reserved.

	// The commit carried new information and changed round state.
	CommitCheckApplied

	// The commit was valid but carried nothing new for this round.
	CommitCheckRedundant
)

// VotingRound is the single-round voting state machine
// driven in the background by the past-round subsystem.
//
// Implementations are not required to be safe for concurrent use;
// each backgrounded round is owned exclusively by one goroutine.
type VotingRound interface {
	// RoundNumber returns the round's identity,
	// monotonically assigned by the driver and unique among live rounds.
	RoundNumber() uint64

	// RoundState returns a snapshot of the round's estimate and
	// finalized block, if any.
	RoundState() RoundState

	// Ready signals that the round has internal progress to process.
	// The owner must call Advance after receiving from this channel.
	// A backgrounded round never finishes on its own;
	// it is only abandoned once irrelevant.
	Ready() <-chan struct{}

	// Advance drives the round's internal voting progress.
	// An error indicates corrupted or inconsistent vote state
	// and is fatal to the round.
	Advance(ctx context.Context) error

	// CheckCommit validates an externally observed commit against the
	// round's internal state and imports it if it carries new information.
	// An error indicates a malformed commit or inconsistent round state.
	CheckCommit(ctx context.Context, c Commit) (CommitCheckResult, error)

	// FinalizingCommit returns the round's own best finalizing commit,
	// if the round has finalized a block.
	FinalizingCommit() (Commit, bool)
}
