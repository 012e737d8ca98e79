package pool

import (
	"fmt"
	"math/big"

	"github.com/MonteCarloClub/plutonium/blockchain"
	"github.com/MonteCarloClub/plutonium/wire"
)

// Action is what the miner should do with a block announced by the pool.
type Action int

const (
	// ActionPause stops mining until the next announcement.
	ActionPause Action = iota

	// ActionMine mines on top of the announced block.
	ActionMine
)

// String returns the Action as a human-readable name.
func (a Action) String() string {
	switch a {
	case ActionPause:
		return "pause"
	case ActionMine:
		return "mine"
	}
	return fmt.Sprintf("Unknown Action (%d)", int(a))
}

// Decision is the outcome of ForkChoice.
type Decision struct {
	Action Action

	// Reason describes how the announced block relates to the chain.
	Reason string

	// Target is the target of the block to mine.  It is only set for
	// ActionMine.
	Target *big.Int
}

func pause(reason string) *Decision {
	return &Decision{Action: ActionPause, Reason: reason}
}

// ForkChoice decides whether the block the pool wants mined on, previous, is
// safe to extend given the local view of the chain.  The decision only
// depends on the chain state and previous, so the same inputs always yield
// the same decision.  Errors are only returned when the chain cannot compute
// the next target; a rejected block is a pause decision.
func ForkChoice(chain blockchain.Chain, previous *wire.MsgBlock) (*Decision, error) {
	head := chain.Head()
	if head == nil {
		return pause("the chain has no head block"), nil
	}
	headHash := chain.HeadHash()
	prevHash := previous.BlockHash()

	mine := func(base, next *wire.MsgBlock, reason string) (*Decision, error) {
		target, err := chain.NextTarget(base, next)
		if err != nil {
			return nil, err
		}
		return &Decision{Action: ActionMine, Reason: reason, Target: target}, nil
	}

	switch {
	// Same head.
	case prevHash == headHash:
		return mine(head, nil, "on the chain head")

	// The pool is one block ahead.
	case previous.Header.PrevBlock == headHash:
		if !chain.IsImmediateSuccessor(previous, head) {
			return pause(fmt.Sprintf("%v is announced as successor of "+
				"head %v but is not an immediate successor", prevHash,
				headHash)), nil
		}
		return mine(head, previous, "one block ahead of the chain head")

	// The pool does not know the head yet.
	case head.Header.PrevBlock == prevHash:
		return pause("the pool is one block behind"), nil
	}

	// The pool is on a fork of length one next to the head.
	alt := chain.BlockByHash(&previous.Header.PrevBlock, false)
	if alt != nil && chain.Height() == previous.Header.Height {
		if !chain.IsImmediateSuccessor(previous, alt) {
			return pause(fmt.Sprintf("%v is announced as successor of "+
				"%v but is not an immediate successor", prevHash,
				previous.Header.PrevBlock)), nil
		}
		return mine(alt, previous, "on a fork of length one")
	}

	if chain.BlockByHash(&previous.Header.PrevBlock, true) != nil {
		return pause(fmt.Sprintf("%v is on a known fork", prevHash)), nil
	}
	return pause(fmt.Sprintf("%v is unknown and not a successor of the "+
		"head", prevHash)), nil
}
