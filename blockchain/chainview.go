package blockchain

import (
	"math/big"
	"sync"

	"github.com/MonteCarloClub/plutonium/chaincfg/chainhash"
	"github.com/MonteCarloClub/plutonium/wire"
)

// blockNode represents a block within the block chain.  The nano chain keeps
// the whole light block around since the pool protocol needs the interlink
// of the head to build the next one.
type blockNode struct {
	// parent is the parent block for this node.  It is nil for the oldest
	// node still kept in memory.
	parent *blockNode

	// hash is the Blake2b hash of the block header.
	hash chainhash.Hash

	// block is the light block the node was created from.
	block *wire.MsgBlock

	// height is the position in the block chain.
	height uint32

	// workSum is the total amount of difficulty in the chain up to and
	// including this node, relative to the oldest kept node.
	workSum *big.Float
}

// newBlockNode returns a new block node for the given block and parent node.
// The work sum is calculated based on the parent, or started from the block's
// own difficulty when there is no parent.
func newBlockNode(block *wire.MsgBlock, parent *blockNode, difficulty *big.Float) *blockNode {
	node := &blockNode{
		parent:  parent,
		hash:    block.BlockHash(),
		block:   block,
		height:  block.Header.Height,
		workSum: new(big.Float).Set(difficulty),
	}
	if parent != nil {
		node.workSum.Add(node.workSum, parent.workSum)
	}
	return node
}

// Ancestor returns the ancestor block node at the provided height by following
// the chain backwards from this node.  The returned block will be nil when a
// height is requested that is after the height of the passed node or is
// older than the oldest kept node.
func (node *blockNode) Ancestor(height uint32) *blockNode {
	if height > node.height {
		return nil
	}

	n := node
	for ; n != nil && n.height != height; n = n.parent {
		// Intentionally left blank
	}

	return n
}

// chainView provides a flat view of a specific branch of the block chain from
// its tip back to the oldest node the nano chain still keeps and provides
// various convenience functions for comparing chains.
//
// For example, assume a block chain with a side chain as depicted below:
//   checkpoint -> 1 -> 2 -> 3 -> 4  -> 5 ->  6  -> 7  -> 8
//                              \-> 4a -> 5a -> 6a
//
// The chain view for the branch ending in 6a consists of:
//   checkpoint -> 1 -> 2 -> 3 -> 4a -> 5a -> 6a
type chainView struct {
	mtx   sync.Mutex
	base  uint32
	nodes []*blockNode
}

// newChainView returns a new chain view for the given tip block node.
// Passing nil as the tip will result in a chain view that is not initialized.
func newChainView(tip *blockNode) *chainView {
	var c chainView
	c.setTip(tip)
	return &c
}

// tip returns the current tip block node for the chain view.  It will return
// nil if there is no tip.
//
// This function MUST be called with the view mutex locked (for reads).
func (c *chainView) tip() *blockNode {
	if len(c.nodes) == 0 {
		return nil
	}

	return c.nodes[len(c.nodes)-1]
}

// Tip returns the current tip block node for the chain view.  It will return
// nil if there is no tip.
//
// This function is safe for concurrent access.
func (c *chainView) Tip() *blockNode {
	c.mtx.Lock()
	tip := c.tip()
	c.mtx.Unlock()
	return tip
}

// setTip sets the chain view to use the provided block node as the current
// tip and ensures the view is consistent by populating it with the nodes
// obtained by walking backwards until the branch joins the current view or
// runs out of ancestors.
//
// This function MUST be called with the view mutex locked (for writes).
func (c *chainView) setTip(node *blockNode) {
	if node == nil {
		c.nodes = nil
		c.base = 0
		return
	}

	var path []*blockNode
	n := node
	for ; n != nil && c.nodeByHeight(n.height) != n; n = n.parent {
		path = append(path, n)
	}

	if n == nil {
		// The branch does not join the view, rebuild it entirely.
		c.nodes = c.nodes[:0]
		c.base = path[len(path)-1].height
	} else {
		c.nodes = c.nodes[:n.height-c.base+1]
	}
	for i := len(path) - 1; i >= 0; i-- {
		c.nodes = append(c.nodes, path[i])
	}
}

// SetTip sets the chain view to use the provided block node as the current
// tip.
//
// This function is safe for concurrent access.
func (c *chainView) SetTip(node *blockNode) {
	c.mtx.Lock()
	c.setTip(node)
	c.mtx.Unlock()
}

// nodeByHeight returns the block node at the specified height.  Nil will be
// returned if the height does not exist.  This only differs from the exported
// version in that it is up to the caller to ensure the lock is held.
//
// This function MUST be called with the view mutex locked (for reads).
func (c *chainView) nodeByHeight(height uint32) *blockNode {
	if height < c.base || height >= c.base+uint32(len(c.nodes)) {
		return nil
	}

	return c.nodes[height-c.base]
}

// NodeByHeight returns the block node at the specified height.  Nil will be
// returned if the height does not exist.
//
// This function is safe for concurrent access.
func (c *chainView) NodeByHeight(height uint32) *blockNode {
	c.mtx.Lock()
	node := c.nodeByHeight(height)
	c.mtx.Unlock()
	return node
}

// contains returns whether or not the chain view contains the passed block
// node.
//
// This function MUST be called with the view mutex locked (for reads).
func (c *chainView) contains(node *blockNode) bool {
	return c.nodeByHeight(node.height) == node
}

// Contains returns whether or not the chain view contains the passed block
// node.
//
// This function is safe for concurrent access.
func (c *chainView) Contains(node *blockNode) bool {
	c.mtx.Lock()
	contains := c.contains(node)
	c.mtx.Unlock()
	return contains
}

// prune forgets every node below height.
//
// This function MUST be called with the view mutex locked (for writes).
func (c *chainView) prune(height uint32) {
	if height <= c.base {
		return
	}
	drop := height - c.base
	if drop >= uint32(len(c.nodes)) {
		return
	}
	c.nodes = append([]*blockNode(nil), c.nodes[drop:]...)
	c.base = height
	c.nodes[0].parent = nil
}
