package wire

const (
	// BlockVersion is the current header version produced by the miner.
	BlockVersion uint16 = 1

	// MaxBlockHeaderPayload is the number of bytes a block header
	// serializes to.  Version 2 bytes + PrevBlock, InterlinkHash, BodyHash
	// and AccountsHash 32 bytes each + Bits, Height, Timestamp and Nonce
	// 4 bytes each.
	MaxBlockHeaderPayload = 2 + 4*32 + 4*4

	// MaxInterlinkHashes is the largest number of entries an interlink
	// may carry, bounded by its one byte count prefix.
	MaxInterlinkHashes = 255
)
