package fgconsensustest

import (
	"context"
	"sync"

	"github.com/yeeco/finality-grandpa/fg/fgconsensus"
)

// VotingRoundFake is a scriptable [fgconsensus.VotingRound].
//
// All mutators and accessors are safe for concurrent use,
// since the background round goroutine calls the interface methods
// while the test drives the fake from its own goroutine.
type VotingRoundFake struct {
	number uint64

	ready chan struct{}

	mu              sync.Mutex
	state           fgconsensus.RoundState
	finalizing      *fgconsensus.Commit
	advanceErr      error
	checkResult     fgconsensus.CommitCheckResult
	checkErr        error
	advanceCount    int
	importedCommits []fgconsensus.Commit
}

func NewVotingRoundFake(number uint64) *VotingRoundFake {
	return &VotingRoundFake{
		number: number,
		ready:  make(chan struct{}, 1),

		checkResult: fgconsensus.CommitCheckApplied,
	}
}

func (f *VotingRoundFake) RoundNumber() uint64 {
	return f.number
}

func (f *VotingRoundFake) RoundState() fgconsensus.RoundState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *VotingRoundFake) Ready() <-chan struct{} {
	return f.ready
}

func (f *VotingRoundFake) Advance(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advanceCount++
	return f.advanceErr
}

func (f *VotingRoundFake) CheckCommit(_ context.Context, c fgconsensus.Commit) (fgconsensus.CommitCheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkErr != nil {
		return 0, f.checkErr
	}
	if f.checkResult == fgconsensus.CommitCheckApplied {
		f.importedCommits = append(f.importedCommits, c)
	}
	return f.checkResult, nil
}

func (f *VotingRoundFake) FinalizingCommit() (fgconsensus.Commit, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finalizing == nil {
		return fgconsensus.Commit{}, false
	}
	return *f.finalizing, true
}

// SignalReady queues one readiness signal for the round.
// The signal is dropped if one is already pending.
func (f *VotingRoundFake) SignalReady() {
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

// SetEstimate sets the round's current estimate.
func (f *VotingRoundFake) SetEstimate(t *fgconsensus.BlockTarget) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Estimate = t
}

// SetFinalized sets the round's finalized target.
func (f *VotingRoundFake) SetFinalized(t *fgconsensus.BlockTarget) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Finalized = t
}

// SetFinalizingCommit sets the commit the round would broadcast
// for its finalized target.
func (f *VotingRoundFake) SetFinalizingCommit(c fgconsensus.Commit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalizing = &c
}

// SetAdvanceError makes all subsequent Advance calls return err.
func (f *VotingRoundFake) SetAdvanceError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advanceErr = err
}

// SetCheckCommitResult overrides the outcome of subsequent CheckCommit calls.
// A non-nil err takes precedence over res.
func (f *VotingRoundFake) SetCheckCommitResult(res fgconsensus.CommitCheckResult, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkResult = res
	f.checkErr = err
}

// AdvanceCount reports how many times Advance has been called.
func (f *VotingRoundFake) AdvanceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.advanceCount
}

// ImportedCommits returns the commits that CheckCommit applied,
// in import order.
func (f *VotingRoundFake) ImportedCommits() []fgconsensus.Commit {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fgconsensus.Commit, len(f.importedCommits))
	copy(out, f.importedCommits)
	return out
}
