// Package fgconsensustest provides reusable test fixtures
// for the finality gadget's consensus types and collaborator contracts.
package fgconsensustest

import (
	"crypto/ed25519"
	"fmt"

	petname "github.com/dustinkirkland/golang-petname"
	"golang.org/x/crypto/blake2b"

	"github.com/yeeco/finality-grandpa/fg/fgconsensus"
)

// PrivVoter is the private view of one voter in a [Fixture],
// so that tests can produce valid precommit signatures.
type PrivVoter struct {
	ID  string
	Key ed25519.PrivateKey
}

// Fixture is a set of test voters with deterministic ed25519 keys.
//
// Deterministic keys mean that logs involving keys do not change
// across runs of the same test, simplifying debugging.
type Fixture struct {
	Voters []PrivVoter
}

// NewFixture returns a Fixture with n deterministic voters.
// Voter IDs are human-readable pet names,
// suffixed with the voter index to guarantee uniqueness.
func NewFixture(n int) *Fixture {
	voters := make([]PrivVoter, n)
	for i := range voters {
		seed := blake2b.Sum256(fmt.Appendf(nil, "fg-voter-seed-%d", i))
		voters[i] = PrivVoter{
			ID:  fmt.Sprintf("%s-%d", petname.Generate(2, "-"), i),
			Key: ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize]),
		}
	}
	return &Fixture{Voters: voters}
}

// VoterIDs returns the IDs of every voter, in fixture order.
func (f *Fixture) VoterIDs() []string {
	ids := make([]string, len(f.Voters))
	for i, v := range f.Voters {
		ids[i] = v.ID
	}
	return ids
}

// BlockTarget derives a block identity from a human-readable name.
// The hash is the blake2b sum of the name,
// so equal names always produce equal targets.
func (f *Fixture) BlockTarget(name string, number uint64) fgconsensus.BlockTarget {
	h := blake2b.Sum256([]byte(name))
	return fgconsensus.BlockTarget{
		Hash:   string(h[:]),
		Number: number,
	}
}

// PrecommitSignBytes returns the canonical signing content
// for a precommit on the given target.
func PrecommitSignBytes(t fgconsensus.BlockTarget) []byte {
	return fmt.Appendf(nil, "PRECOMMIT:%d:%x", t.Number, t.Hash)
}

// SignedCommit returns a commit for target carrying precommits
// signed by the voters at the given fixture indices.
func (f *Fixture) SignedCommit(target fgconsensus.BlockTarget, voterIdxs ...int) fgconsensus.Commit {
	c := fgconsensus.Commit{
		Target:     target,
		Precommits: make([]fgconsensus.SignedPrecommit, 0, len(voterIdxs)),
	}

	signContent := PrecommitSignBytes(target)
	for _, i := range voterIdxs {
		v := f.Voters[i]
		c.Precommits = append(c.Precommits, fgconsensus.SignedPrecommit{
			Target:    target,
			VoterID:   v.ID,
			Signature: ed25519.Sign(v.Key, signContent),
		})
	}

	return c
}

// VerifyPrecommit reports whether p carries a valid signature
// from a voter known to the fixture.
func (f *Fixture) VerifyPrecommit(p fgconsensus.SignedPrecommit) bool {
	for _, v := range f.Voters {
		if v.ID != p.VoterID {
			continue
		}
		pub := v.Key.Public().(ed25519.PublicKey)
		return ed25519.Verify(pub, PrecommitSignBytes(p.Target), p.Signature)
	}
	return false
}
