package fgpi

import (
	"github.com/yeeco/finality-grandpa/fg/fgconsensus"
)

// PushRequest asks the kernel to take ownership of a superseded voting round
// and drive it in the background.
type PushRequest struct {
	Round fgconsensus.VotingRound

	// Receives a single value once the round is registered
	// and its background goroutines are started.
	Resp chan struct{}
}

// UpdateFinalizedRequest broadcasts a new globally-finalized block height
// to every active background round.
type UpdateFinalizedRequest struct {
	Height uint64

	// Receives a single value once the height has been handed to
	// every active round's update channel.
	Resp chan struct{}
}

// RouteCommitRequest asks the kernel to route an externally observed commit
// to the background round with the given number.
type RouteCommitRequest struct {
	RoundNumber uint64
	Commit      fgconsensus.Commit

	Resp chan RouteCommitResponse
}

// RouteCommitResponse reports whether the commit was accepted for
// asynchronous processing.
// If Handled is false, Commit is the caller's commit returned unchanged,
// and fallback handling is the caller's decision.
type RouteCommitResponse struct {
	Commit  fgconsensus.Commit
	Handled bool
}

// RoundCommit is one value of the combined output stream:
// a commit message produced by the background round with the given number.
type RoundCommit struct {
	RoundNumber uint64
	Commit      fgconsensus.Commit
}
