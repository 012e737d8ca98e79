package pool

import (
	"math/big"
	"testing"

	"github.com/MonteCarloClub/plutonium/blockchain"
	"github.com/MonteCarloClub/plutonium/chaincfg"
	"github.com/MonteCarloClub/plutonium/chaincfg/chainhash"
	"github.com/MonteCarloClub/plutonium/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParams = &chaincfg.MainNetParams

// testBits is the compact form of 2^230.
var testBits = blockchain.BigToCompact(new(big.Int).Lsh(big.NewInt(1), 230))

func checkpointBlock() *wire.MsgBlock {
	return &wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:   wire.BlockVersion,
			Bits:      testBits,
			Height:    1000,
			Timestamp: 1600000000,
		},
	}
}

func newTestChain(t *testing.T, checkpoint *wire.MsgBlock) *blockchain.BlockChain {
	chain, err := blockchain.New(&blockchain.Config{
		ChainParams: testParams,
		Checkpoint:  checkpoint,
	})
	require.NoError(t, err)
	return chain
}

// successor builds a valid light block following prev.
func successor(t *testing.T, chain blockchain.Chain, prev *wire.MsgBlock, salt byte) *wire.MsgBlock {
	interlink, err := chain.NextInterlink(prev, blockchain.CompactToBig(prev.Header.Bits))
	require.NoError(t, err)

	block := &wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:   wire.BlockVersion,
			PrevBlock: prev.BlockHash(),
			BodyHash:  chainhash.Hash{salt},
			Bits:      prev.Header.Bits,
			Height:    prev.Header.Height + 1,
			Timestamp: prev.Header.Timestamp + 60,
		},
		Interlink: *interlink,
	}
	block.Header.InterlinkHash = block.Interlink.Hash(&testParams.GenesisHash)
	return block
}

func processBlock(t *testing.T, chain *blockchain.BlockChain, block *wire.MsgBlock) {
	_, err := chain.ProcessBlock(block, blockchain.BFNone)
	require.NoError(t, err)
}

func assertMine(t *testing.T, d *Decision, err error, bits uint32) {
	t.Helper()
	require.NoError(t, err)
	require.Equal(t, ActionMine, d.Action, d.Reason)
	assert.Equal(t, bits, blockchain.BigToCompact(d.Target))
}

func assertPause(t *testing.T, d *Decision, err error) {
	t.Helper()
	require.NoError(t, err)
	assert.Equal(t, ActionPause, d.Action, d.Reason)
	assert.Nil(t, d.Target)
	assert.NotEmpty(t, d.Reason)
}

func TestForkChoiceSameHead(t *testing.T) {
	checkpoint := checkpointBlock()
	chain := newTestChain(t, checkpoint)

	d, err := ForkChoice(chain, checkpoint.Copy())
	assertMine(t, d, err, testBits)
}

func TestForkChoiceOneAhead(t *testing.T) {
	checkpoint := checkpointBlock()
	chain := newTestChain(t, checkpoint)

	previous := successor(t, chain, checkpoint, 1)
	d, err := ForkChoice(chain, previous)
	assertMine(t, d, err, testBits)
}

func TestForkChoiceOneAheadNotSuccessor(t *testing.T) {
	checkpoint := checkpointBlock()
	chain := newTestChain(t, checkpoint)

	// Links to the head but skips a height.
	previous := successor(t, chain, checkpoint, 1)
	previous.Header.Height++
	previous.Header.InterlinkHash = previous.Interlink.Hash(&testParams.GenesisHash)

	d, err := ForkChoice(chain, previous)
	assertPause(t, d, err)
}

func TestForkChoicePoolBehind(t *testing.T) {
	checkpoint := checkpointBlock()
	chain := newTestChain(t, checkpoint)
	processBlock(t, chain, successor(t, chain, checkpoint, 1))

	d, err := ForkChoice(chain, checkpoint)
	assertPause(t, d, err)
	assert.Contains(t, d.Reason, "behind")
}

func TestForkChoiceShortFork(t *testing.T) {
	checkpoint := checkpointBlock()
	chain := newTestChain(t, checkpoint)
	processBlock(t, chain, successor(t, chain, checkpoint, 1))

	sibling := successor(t, chain, checkpoint, 2)
	d, err := ForkChoice(chain, sibling)
	assertMine(t, d, err, testBits)
}

func TestForkChoiceShortForkNotSuccessor(t *testing.T) {
	checkpoint := checkpointBlock()
	chain := newTestChain(t, checkpoint)
	processBlock(t, chain, successor(t, chain, checkpoint, 1))

	// Same height as the head, but older than its parent.
	sibling := successor(t, chain, checkpoint, 2)
	sibling.Header.Timestamp = checkpoint.Header.Timestamp - 1

	d, err := ForkChoice(chain, sibling)
	assertPause(t, d, err)
	assert.Contains(t, d.Reason, "not an immediate successor")
}

func TestForkChoiceKnownFork(t *testing.T) {
	checkpoint := checkpointBlock()
	chain := newTestChain(t, checkpoint)
	b1 := successor(t, chain, checkpoint, 1)
	processBlock(t, chain, b1)
	processBlock(t, chain, successor(t, chain, b1, 1))

	side := successor(t, chain, checkpoint, 2)
	isMainChain, err := chain.ProcessBlock(side, blockchain.BFNone)
	require.NoError(t, err)
	require.False(t, isMainChain)

	d, err := ForkChoice(chain, successor(t, chain, side, 2))
	assertPause(t, d, err)
	assert.Contains(t, d.Reason, "known fork")
}

func TestForkChoiceUnknown(t *testing.T) {
	checkpoint := checkpointBlock()
	chain := newTestChain(t, checkpoint)

	unknown := successor(t, chain, checkpoint, 1)
	unknown.Header.PrevBlock = chainhash.Hash{0xff}

	d, err := ForkChoice(chain, unknown)
	assertPause(t, d, err)
	assert.Contains(t, d.Reason, "unknown")
}

func TestForkChoiceEmptyChain(t *testing.T) {
	chain := newTestChain(t, nil)

	d, err := ForkChoice(chain, checkpointBlock())
	assertPause(t, d, err)
}

func TestForkChoiceDeterministic(t *testing.T) {
	checkpoint := checkpointBlock()
	chain := newTestChain(t, checkpoint)
	processBlock(t, chain, successor(t, chain, checkpoint, 1))

	for _, previous := range []*wire.MsgBlock{
		checkpoint,
		successor(t, chain, checkpoint, 2),
		successor(t, chain, chain.Head(), 3),
	} {
		first, err := ForkChoice(chain, previous)
		require.NoError(t, err)
		second, err := ForkChoice(chain, previous)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestActionStringer(t *testing.T) {
	assert.Equal(t, "pause", ActionPause.String())
	assert.Equal(t, "mine", ActionMine.String())
	assert.Equal(t, "Unknown Action (7)", Action(7).String())
}
