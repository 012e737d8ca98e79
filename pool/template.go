package pool

import (
	"math/big"
	"time"

	"github.com/MonteCarloClub/plutonium/blockchain"
	"github.com/MonteCarloClub/plutonium/chaincfg/chainhash"
	"github.com/MonteCarloClub/plutonium/wire"
)

// Template holds what the pool announced for the next block together with
// the target and interlink derived from the local chain.
type Template struct {
	Previous     *wire.MsgBlock
	BodyHash     chainhash.Hash
	AccountsHash chainhash.Hash
	Target       *big.Int
	Interlink    *wire.BlockInterlink
}

// NewTemplate returns the template for a block following previous mined
// against target.
func NewTemplate(chain blockchain.Chain, previous *wire.MsgBlock, bodyHash,
	accountsHash *chainhash.Hash, target *big.Int) (*Template, error) {

	interlink, err := chain.NextInterlink(previous, target)
	if err != nil {
		return nil, err
	}
	return &Template{
		Previous:     previous,
		BodyHash:     *bodyHash,
		AccountsHash: *accountsHash,
		Target:       target,
		Interlink:    interlink,
	}, nil
}

// Timestamp returns the timestamp of the next block: the network time, but
// at least one second after both the chain head and the previous block.
func (t *Template) Timestamp(now time.Time, head *wire.MsgBlock) uint32 {
	timestamp := uint32(now.Unix())
	if head != nil && head.Header.Timestamp+1 > timestamp {
		timestamp = head.Header.Timestamp + 1
	}
	if t.Previous.Header.Timestamp+1 > timestamp {
		timestamp = t.Previous.Header.Timestamp + 1
	}
	return timestamp
}

// NextBlock returns the light block to mine, with a zero nonce.
func (t *Template) NextBlock(genesis *chainhash.Hash, timestamp uint32) *wire.MsgBlock {
	block := &wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:       wire.BlockVersion,
			PrevBlock:     t.Previous.BlockHash(),
			InterlinkHash: t.Interlink.Hash(genesis),
			BodyHash:      t.BodyHash,
			AccountsHash:  t.AccountsHash,
			Bits:          blockchain.BigToCompact(t.Target),
			Height:        t.Previous.Header.Height + 1,
			Timestamp:     timestamp,
		},
	}
	block.Interlink.Hashes = append(block.Interlink.Hashes, t.Interlink.Hashes...)
	return block
}
