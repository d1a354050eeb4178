package fgconsensus

import (
	"github.com/bits-and-blooms/bitset"
)

// BlockTarget identifies a block by hash and number.
type BlockTarget struct {
	Hash   string
	Number uint64
}

// SignedPrecommit is one voter's precommit supporting a commit message.
type SignedPrecommit struct {
	Target BlockTarget

	VoterID   string
	Signature []byte
}

// Commit is the network-level message asserting that a block is finalized,
// carrying the supporting precommit votes.
//
// The past-round subsystem treats commits as opaque payload,
// except for Target.Number which is used in watermark comparisons.
type Commit struct {
	Target BlockTarget

	Precommits []SignedPrecommit
}

// VoterBitSet reports which of the given voters contributed a precommit to c.
// Bit i is set iff voterIDs[i] appears among c's precommits.
//
// Consumers use this when deciding whether a commit carries enough
// participation to be worth rebroadcasting;
// fixtures use it to assert which voters signed.
func (c Commit) VoterBitSet(voterIDs []string) *bitset.BitSet {
	bs := bitset.New(uint(len(voterIDs)))

	idx := make(map[string]uint, len(voterIDs))
	for i, id := range voterIDs {
		idx[id] = uint(i)
	}

	for _, p := range c.Precommits {
		if i, ok := idx[p.VoterID]; ok {
			bs.Set(i)
		}
	}

	return bs
}
