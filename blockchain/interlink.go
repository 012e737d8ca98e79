package blockchain

import (
	"math/big"

	"github.com/MonteCarloClub/plutonium/chaincfg"
	"github.com/MonteCarloClub/plutonium/chaincfg/chainhash"
	"github.com/MonteCarloClub/plutonium/wire"
)

// PowHashFunc computes the proof of work hash of a serialized block header.
// For nimiq this is Argon2d, which is only computed on the GPU by the miner;
// a chain without one assumes every block just met its own target.
type PowHashFunc func(header []byte) chainhash.Hash

// targetHeight returns ceil(log2(target)).
func targetHeight(target *big.Int) int {
	if target.Sign() <= 0 {
		return 0
	}
	return new(big.Int).Sub(target, bigOne).BitLen()
}

// targetDepth returns how many times harder than the easiest possible target
// the given target is, in powers of two.
func targetDepth(params *chaincfg.Params, target *big.Int) int {
	return targetHeight(params.BlockTargetMax) - targetHeight(target)
}

// calcNextInterlink returns the interlink of the block following prev when
// mined against nextTarget.  prev is pushed once for every power of two its
// proof of work exceeds the next target by, and the remaining entries of its
// own interlink are shifted to match the change of target depth.
func calcNextInterlink(params *chaincfg.Params, powHash PowHashFunc,
	prev *wire.MsgBlock, nextTarget *big.Int) *wire.BlockInterlink {

	prevTarget := CompactToBig(prev.Header.Bits)
	prevTargetDepth := targetDepth(params, prevTarget)
	nextTargetDepth := targetDepth(params, nextTarget)

	powDepth := prevTargetDepth
	if powHash != nil {
		pow := powHash(prev.Header.Bytes())
		powDepth = targetDepth(params, HashToBig(&pow))
	}
	depth := powDepth - nextTargetDepth

	// A block that is not hard enough under an unchanged target leaves the
	// interlink untouched.  The genesis block is the exception since its
	// successor has to reference it.
	if depth < 0 && prevTarget.Cmp(nextTarget) == 0 && prev.Header.Height != 1 {
		return wire.NewBlockInterlink(append([]chainhash.Hash(nil),
			prev.Interlink.Hashes...))
	}

	hashes := make([]chainhash.Hash, 0, len(prev.Interlink.Hashes)+1)
	hash := prev.BlockHash()
	for i := 0; i <= depth; i++ {
		hashes = append(hashes, hash)
	}

	targetOffset := nextTargetDepth - prevTargetDepth
	start := depth + targetOffset + 1
	if start < 0 {
		start = 0
	}
	for i := start; i < len(prev.Interlink.Hashes); i++ {
		hashes = append(hashes, prev.Interlink.Hashes[i])
	}
	if len(hashes) > wire.MaxInterlinkHashes {
		hashes = hashes[:wire.MaxInterlinkHashes]
	}

	return wire.NewBlockInterlink(hashes)
}
