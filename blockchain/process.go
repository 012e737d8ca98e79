package blockchain

import (
	"fmt"

	"github.com/MonteCarloClub/plutonium/wire"
)

// BehaviorFlags is a bitmask defining tweaks to the normal behavior when
// performing chain processing and consensus rules checks.
type BehaviorFlags uint32

const (
	// BFNone is a convenience value to specifically indicate no flags.
	BFNone BehaviorFlags = 0

	// BFCheckpoint allows an empty chain to adopt the processed block as
	// its checkpoint instead of rejecting it as an orphan.
	BFCheckpoint BehaviorFlags = 1 << iota
)

// ProcessBlock is the main workhorse for handling insertion of new blocks
// into the block chain.  It includes functionality such as rejecting
// duplicate blocks, ensuring blocks follow all rules, and insertion into the
// block chain along with best chain selection and reorganization.
//
// The first return value indicates whether or not the block is on the main
// chain after processing.
//
// This function is safe for concurrent access.
func (b *BlockChain) ProcessBlock(block *wire.MsgBlock, flags BehaviorFlags) (bool, error) {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	blockHash := block.BlockHash()
	log.Tracef("Processing block %v", blockHash)

	// The block must not already exist in the index.
	if _, exists := b.index[blockHash]; exists {
		str := fmt.Sprintf("already have block %v", blockHash)
		return false, ruleError(ErrDuplicateBlock, str)
	}

	if b.bestChain.Tip() == nil {
		if flags&BFCheckpoint != BFCheckpoint {
			return false, ruleError(ErrNoChainHead, "chain has no head block")
		}
		if err := b.setCheckpoint(block); err != nil {
			return false, err
		}
		return true, nil
	}

	parent := b.index[block.Header.PrevBlock]
	if parent == nil {
		str := fmt.Sprintf("previous block %v of block %v is unknown",
			block.Header.PrevBlock, blockHash)
		return false, ruleError(ErrOrphanBlock, str)
	}

	if err := b.checkSuccessor(block, parent.block); err != nil {
		return false, err
	}

	difficulty, err := compactDifficulty(b.chainParams, block.Header.Bits)
	if err != nil {
		return false, err
	}
	node := newBlockNode(block, parent, difficulty)
	b.index[blockHash] = node

	tip := b.bestChain.Tip()
	switch {
	case parent == tip:
		b.bestChain.SetTip(node)
		log.Debugf("Extended main chain to block %v (height %d)", blockHash,
			node.height)

	case node.workSum.Cmp(tip.workSum) > 0:
		b.bestChain.SetTip(node)
		log.Infof("Reorganized main chain from %v to %v (height %d)",
			tip.hash, blockHash, node.height)

	default:
		log.Debugf("Added block %v (height %d) to a side chain",
			blockHash, node.height)
		return false, nil
	}

	b.pruneBlocks()
	return true, nil
}

// pruneBlocks forgets blocks more than maxBlocks below the tip.
//
// This function MUST be called with the chain lock held (for writes).
func (b *BlockChain) pruneBlocks() {
	tip := b.bestChain.Tip()
	if tip.height <= b.maxBlocks {
		return
	}
	minHeight := tip.height - b.maxBlocks

	b.bestChain.mtx.Lock()
	b.bestChain.prune(minHeight)
	b.bestChain.mtx.Unlock()

	for hash, node := range b.index {
		if node.height < minHeight {
			delete(b.index, hash)
		}
	}
}
