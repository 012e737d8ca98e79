package wire

import (
	"github.com/MonteCarloClub/plutonium/chaincfg/chainhash"
)

// merkleRoot computes the nimiq merkle root over leaves which are already
// hashes.  An empty list hashes to the hash of no data, a single leaf is its
// own root and longer lists are split with the extra leaf on the left.
func merkleRoot(leaves []chainhash.Hash) chainhash.Hash {
	switch len(leaves) {
	case 0:
		return chainhash.HashH(nil)
	case 1:
		return leaves[0]
	}

	mid := (len(leaves) + 1) / 2
	left := merkleRoot(leaves[:mid])
	right := merkleRoot(leaves[mid:])

	var buf [chainhash.HashSize * 2]byte
	copy(buf[:chainhash.HashSize], left[:])
	copy(buf[chainhash.HashSize:], right[:])
	return chainhash.HashH(buf[:])
}
