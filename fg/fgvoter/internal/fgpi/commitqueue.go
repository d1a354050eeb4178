package fgpi

import (
	"context"

	"github.com/yeeco/finality-grandpa/fg/fgconsensus"
)

// runCommitQueue shuttles commits from in to out with an unbounded
// intermediate buffer, so that routing a commit to a round never blocks
// the kernel and no queued late commit is dropped while the round lives.
//
// The queue stops when ctx is canceled or when in is closed;
// the kernel closes in exactly when it prunes the round's registry entry.
func runCommitQueue(
	ctx context.Context,
	in <-chan fgconsensus.Commit,
	out chan<- fgconsensus.Commit,
) {
	var buf []fgconsensus.Commit

	for {
		// Only offer the out send when there is something buffered;
		// a nil channel removes the case from the select.
		var outCh chan<- fgconsensus.Commit
		var next fgconsensus.Commit
		if len(buf) > 0 {
			outCh = out
			next = buf[0]
		}

		select {
		case <-ctx.Done():
			return
		case commit, ok := <-in:
			if !ok {
				// Round pruned; anything left buffered is for a dead round.
				return
			}
			buf = append(buf, commit)
		case outCh <- next:
			buf = buf[1:]
		}
	}
}
