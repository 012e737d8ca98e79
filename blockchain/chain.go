package blockchain

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/MonteCarloClub/plutonium/chaincfg"
	"github.com/MonteCarloClub/plutonium/chaincfg/chainhash"
	"github.com/MonteCarloClub/plutonium/wire"
)

// Chain is the view of the nimiq block chain the miner and the pool
// protocol depend on.
type Chain interface {
	// Head returns the block at the tip of the main chain, or nil when
	// the chain knows no blocks yet.
	Head() *wire.MsgBlock

	// HeadHash returns the hash of the tip of the main chain.
	HeadHash() chainhash.Hash

	// Height returns the height of the tip of the main chain.
	Height() uint32

	// BlockByHash returns a known block.  Blocks on side chains are only
	// returned when includeForks is set.
	BlockByHash(hash *chainhash.Hash, includeForks bool) *wire.MsgBlock

	// IsImmediateSuccessor reports whether block may directly follow
	// prev.
	IsImmediateSuccessor(block, prev *wire.MsgBlock) bool

	// NextTarget returns the target of the block following head.  When
	// next is given, it is treated as already appended to head and the
	// target of the block following next is returned.
	NextTarget(head, next *wire.MsgBlock) (*big.Int, error)

	// NextInterlink returns the interlink of a block following prev that
	// is mined against target.
	NextInterlink(prev *wire.MsgBlock, target *big.Int) (*wire.BlockInterlink, error)
}

// Config is a descriptor which specifies the nano chain instance
// configuration.
type Config struct {
	// ChainParams identifies which chain parameters the chain is
	// associated with.
	//
	// This field is required.
	ChainParams *chaincfg.Params

	// Checkpoint is the block the chain starts from.  It may be nil, in
	// which case the first processed block becomes the checkpoint.
	Checkpoint *wire.MsgBlock

	// PowHash computes the proof of work of a header.  It may be nil.
	PowHash PowHashFunc

	// MaxBlocks bounds how many blocks below the tip are kept in memory.
	// Zero keeps twice the difficulty window.
	MaxBlocks uint32
}

// BlockChain provides functions for working with the nimiq block chain as a
// nano client sees it: light blocks announced by a pool, starting at a
// trusted checkpoint.  It includes functionality such as rejecting duplicate
// blocks, ensuring blocks are proper successors, tracking side chains and
// best chain selection with reorganization.
type BlockChain struct {
	// The following fields are set when the instance is created and can't
	// be changed afterwards, so there is no need to protect them with a
	// separate mutex.
	chainParams *chaincfg.Params
	powHash     PowHashFunc
	maxBlocks   uint32

	// chainLock protects concurrent access to the index and the best
	// chain view.
	chainLock sync.RWMutex

	// index houses every kept block, main chain and side chains alike.
	index map[chainhash.Hash]*blockNode

	// bestChain tracks the current active chain by making use of an
	// efficient chain view into the block index.
	bestChain *chainView
}

// New returns a BlockChain instance using the provided configuration
// details.
func New(config *Config) (*BlockChain, error) {
	if config.ChainParams == nil {
		return nil, fmt.Errorf("blockchain.New chain parameters nil")
	}

	maxBlocks := config.MaxBlocks
	if maxBlocks == 0 {
		maxBlocks = 2 * config.ChainParams.DifficultyBlockWindow
	}

	b := &BlockChain{
		chainParams: config.ChainParams,
		powHash:     config.PowHash,
		maxBlocks:   maxBlocks,
		index:       make(map[chainhash.Hash]*blockNode),
		bestChain:   newChainView(nil),
	}

	if config.Checkpoint != nil {
		if err := b.setCheckpoint(config.Checkpoint); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// setCheckpoint seeds an empty chain with block.
//
// This function MUST be called with the chain lock held (for writes).
func (b *BlockChain) setCheckpoint(block *wire.MsgBlock) error {
	difficulty, err := compactDifficulty(b.chainParams, block.Header.Bits)
	if err != nil {
		return err
	}
	node := newBlockNode(block, nil, difficulty)
	b.index[node.hash] = node
	b.bestChain.SetTip(node)

	log.Infof("Chain checkpoint set to block %v (height %d)", node.hash,
		node.height)
	return nil
}

// Head returns the block at the tip of the main chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) Head() *wire.MsgBlock {
	tip := b.bestChain.Tip()
	if tip == nil {
		return nil
	}
	return tip.block
}

// HeadHash returns the hash of the tip of the main chain.  The zero hash is
// returned for an empty chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) HeadHash() chainhash.Hash {
	tip := b.bestChain.Tip()
	if tip == nil {
		return chainhash.Hash{}
	}
	return tip.hash
}

// Height returns the height of the tip of the main chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) Height() uint32 {
	tip := b.bestChain.Tip()
	if tip == nil {
		return 0
	}
	return tip.height
}

// BlockByHash returns the block with the given hash.  Side chain blocks are
// only returned when includeForks is set.  Nil is returned for unknown
// blocks.
//
// This function is safe for concurrent access.
func (b *BlockChain) BlockByHash(hash *chainhash.Hash, includeForks bool) *wire.MsgBlock {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()

	node := b.index[*hash]
	if node == nil {
		return nil
	}
	if !includeForks && !b.bestChain.Contains(node) {
		return nil
	}
	return node.block
}

// IsImmediateSuccessor reports whether block may directly follow prev.  The
// header has to link to prev and its interlink has to match the interlink
// hash it commits to.  When the chain can compute proofs of work, the
// interlink is also checked against the one derived from prev.
//
// This function is safe for concurrent access.
func (b *BlockChain) IsImmediateSuccessor(block, prev *wire.MsgBlock) bool {
	return b.checkSuccessor(block, prev) == nil
}

// checkSuccessor returns a RuleError describing why block cannot follow
// prev, or nil.
func (b *BlockChain) checkSuccessor(block, prev *wire.MsgBlock) error {
	if !block.Header.IsImmediateSuccessorOf(&prev.Header) {
		str := fmt.Sprintf("block %v is not an immediate successor of %v",
			block.BlockHash(), prev.BlockHash())
		return ruleError(ErrNotSuccessor, str)
	}

	interlinkHash := block.Interlink.Hash(&b.chainParams.GenesisHash)
	if interlinkHash != block.Header.InterlinkHash {
		str := fmt.Sprintf("block %v commits to interlink %v, carries %v",
			block.BlockHash(), block.Header.InterlinkHash, interlinkHash)
		return ruleError(ErrBadInterlink, str)
	}

	if b.powHash != nil {
		target := CompactToBig(block.Header.Bits)
		want := calcNextInterlink(b.chainParams, b.powHash, prev, target)
		if !want.IsEqual(&block.Interlink) {
			str := fmt.Sprintf("block %v has an interlink that does "+
				"not follow from %v", block.BlockHash(), prev.BlockHash())
			return ruleError(ErrBadInterlink, str)
		}
	}

	return nil
}

// NextTarget returns the target of the block following head, or following
// next when it is given and treated as the successor of head.
//
// The retarget needs the block DifficultyBlockWindow blocks back.  When that
// block is older than anything kept, the target of the newest block is
// carried forward unchanged.
//
// This function is safe for concurrent access.
func (b *BlockChain) NextTarget(head, next *wire.MsgBlock) (*big.Int, error) {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()

	if head == nil {
		tip := b.bestChain.Tip()
		if tip == nil {
			return nil, ruleError(ErrNoChainHead, "chain has no head block")
		}
		head = tip.block
	}

	headHash := head.BlockHash()
	headNode := b.index[headHash]
	if headNode == nil {
		str := fmt.Sprintf("block %v is not known", headHash)
		return nil, ruleError(ErrOrphanBlock, str)
	}

	newest := &blockHeaderInfo{
		height:    headNode.height,
		timestamp: headNode.block.Header.Timestamp,
		workSum:   headNode.workSum,
	}
	if next != nil {
		difficulty, err := compactDifficulty(b.chainParams, next.Header.Bits)
		if err != nil {
			return nil, err
		}
		newest = &blockHeaderInfo{
			height:    next.Header.Height,
			timestamp: next.Header.Timestamp,
			workSum:   new(big.Float).Add(headNode.workSum, difficulty),
		}
	}

	tailHeight := uint32(1)
	if newest.height > b.chainParams.DifficultyBlockWindow {
		tailHeight = newest.height - b.chainParams.DifficultyBlockWindow
	}
	tailNode := headNode.Ancestor(tailHeight)
	if tailNode == nil {
		bits := head.Header.Bits
		if next != nil {
			bits = next.Header.Bits
		}
		log.Debugf("Retarget window reaches below height %d, keeping "+
			"target %08x", tailHeight, bits)
		return CompactToBig(bits), nil
	}

	tail := &blockHeaderInfo{
		height:    tailNode.height,
		timestamp: tailNode.block.Header.Timestamp,
		workSum:   tailNode.workSum,
	}
	deltaWork := new(big.Float).SetPrec(floatPrec).Sub(newest.workSum, tail.workSum)
	return calcNextTarget(b.chainParams, newest, tail, deltaWork), nil
}

// NextInterlink returns the interlink of a block following prev that is mined
// against target.
//
// This function is safe for concurrent access.
func (b *BlockChain) NextInterlink(prev *wire.MsgBlock, target *big.Int) (*wire.BlockInterlink, error) {
	if target.Sign() <= 0 {
		return nil, ruleError(ErrBadBits, "target must be positive")
	}
	return calcNextInterlink(b.chainParams, b.powHash, prev, target), nil
}
