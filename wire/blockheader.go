package wire

import (
	"bytes"
	"io"

	"github.com/MonteCarloClub/plutonium/chaincfg/chainhash"
)

// BlockHeader defines information about a block and is used in the nimiq
// light block and share messages.
type BlockHeader struct {
	// Version of the block.
	Version uint16

	// Hash of the previous block header in the block chain.
	PrevBlock chainhash.Hash

	// Merkle root of the block interlink.
	InterlinkHash chainhash.Hash

	// Hash of the block body.
	BodyHash chainhash.Hash

	// Root of the accounts tree after the block is applied.
	AccountsHash chainhash.Hash

	// Difficulty target for the block in compact form.
	Bits uint32

	// Height of the block in the chain.  The genesis block has height 1.
	Height uint32

	// Time the block was created in seconds since the unix epoch.
	Timestamp uint32

	// Nonce used to generate the block.
	Nonce uint32
}

// BlockHash computes the block identifier hash for the given block header.
func (h *BlockHeader) BlockHash() chainhash.Hash {
	buf := bytes.NewBuffer(make([]byte, 0, MaxBlockHeaderPayload))
	_ = writeBlockHeader(buf, h)

	return chainhash.HashH(buf.Bytes())
}

// IsImmediateSuccessorOf reports whether h may directly follow prev: one
// height above it, not older than it, and linking to its hash.
func (h *BlockHeader) IsImmediateSuccessorOf(prev *BlockHeader) bool {
	if h.Height != prev.Height+1 {
		return false
	}
	if h.Timestamp < prev.Timestamp {
		return false
	}
	prevHash := prev.BlockHash()
	return h.PrevBlock.IsEqual(&prevHash)
}

// Serialize encodes the receiver to w using the nimiq wire format.
func (h *BlockHeader) Serialize(w io.Writer) error {
	return writeBlockHeader(w, h)
}

// Deserialize decodes a block header from r into the receiver.
func (h *BlockHeader) Deserialize(r io.Reader) error {
	return readBlockHeader(r, h)
}

// Bytes returns the serialized header.
func (h *BlockHeader) Bytes() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, MaxBlockHeaderPayload))
	_ = writeBlockHeader(buf, h)
	return buf.Bytes()
}

// readBlockHeader reads a nimiq block header from r.
func readBlockHeader(r io.Reader, bh *BlockHeader) error {
	return readElements(r, &bh.Version, &bh.PrevBlock, &bh.InterlinkHash,
		&bh.BodyHash, &bh.AccountsHash, &bh.Bits, &bh.Height,
		&bh.Timestamp, &bh.Nonce)
}

// writeBlockHeader writes a nimiq block header to w.
func writeBlockHeader(w io.Writer, bh *BlockHeader) error {
	return writeElements(w, bh.Version, &bh.PrevBlock, &bh.InterlinkHash,
		&bh.BodyHash, &bh.AccountsHash, bh.Bits, bh.Height,
		bh.Timestamp, bh.Nonce)
}
