package blockchain

import (
	"math/big"

	"github.com/MonteCarloClub/plutonium/chaincfg"
	"github.com/MonteCarloClub/plutonium/chaincfg/chainhash"
	btcchain "github.com/btcsuite/btcd/blockchain"
)

// floatPrec is the precision used for difficulty arithmetic.  Targets are at
// most 240 bits wide so this keeps every intermediate value exact enough for
// the result to survive the compact rounding unchanged.
const floatPrec = 512

var bigOne = big.NewInt(1)

// CompactToBig converts a compact representation of a whole number N to an
// unsigned 32-bit number.  Nimiq shares the bitcoin nBits encoding, so this
// defers to btcd.
func CompactToBig(compact uint32) *big.Int {
	return btcchain.CompactToBig(compact)
}

// BigToCompact converts a whole number N to a compact representation using
// an unsigned 32-bit number.
func BigToCompact(n *big.Int) uint32 {
	return btcchain.BigToCompact(n)
}

// HashToBig converts a hash into a big.Int that can be used to perform math
// comparisons.  Nimiq reads hashes as big endian numbers.
func HashToBig(hash *chainhash.Hash) *big.Int {
	return new(big.Int).SetBytes(hash[:])
}

// TargetToDifficulty returns BlockTargetMax / target.
func TargetToDifficulty(params *chaincfg.Params, target *big.Int) *big.Float {
	max := new(big.Float).SetPrec(floatPrec).SetInt(params.BlockTargetMax)
	t := new(big.Float).SetPrec(floatPrec).SetInt(target)
	return max.Quo(max, t)
}

// DifficultyToTarget returns BlockTargetMax / difficulty.
func DifficultyToTarget(params *chaincfg.Params, difficulty *big.Float) *big.Float {
	max := new(big.Float).SetPrec(floatPrec).SetInt(params.BlockTargetMax)
	return max.Quo(max, difficulty)
}

// compactDifficulty returns the difficulty encoded by the given nBits or a
// RuleError when the bits do not describe a positive target.
func compactDifficulty(params *chaincfg.Params, bits uint32) (*big.Float, error) {
	target := CompactToBig(bits)
	if target.Sign() <= 0 {
		return nil, ruleError(ErrBadBits, "block target must be positive")
	}
	return TargetToDifficulty(params, target), nil
}

// calcNextTarget computes the target for the block following head given the
// block DifficultyBlockWindow blocks before it.  deltaWork is the difficulty
// accumulated between both blocks.
//
// The window is assumed to have been filled at the target block time with
// difficulty 1 before the genesis block, so young chains retarget smoothly.
func calcNextTarget(params *chaincfg.Params, head, tail *blockHeaderInfo, deltaWork *big.Float) *big.Int {
	window := params.DifficultyBlockWindow
	blockTime := int64(params.TargetTimePerBlock.Seconds())

	actualTime := int64(head.timestamp) - int64(tail.timestamp)
	delta := new(big.Float).SetPrec(floatPrec).Set(deltaWork)
	if head.height <= window {
		missing := int64(window - head.height + 1)
		actualTime += missing * blockTime
		delta.Add(delta, new(big.Float).SetInt64(missing))
	}

	expectedTime := int64(window) * blockTime
	adjustment := new(big.Float).SetPrec(floatPrec).Quo(
		new(big.Float).SetInt64(actualTime),
		new(big.Float).SetInt64(expectedTime))

	minAdjustment := new(big.Float).SetPrec(floatPrec).Quo(
		big.NewFloat(1), new(big.Float).SetInt64(params.MaxAdjustmentFactor))
	maxAdjustment := new(big.Float).SetInt64(params.MaxAdjustmentFactor)
	if adjustment.Cmp(minAdjustment) < 0 {
		adjustment = minAdjustment
	}
	if adjustment.Cmp(maxAdjustment) > 0 {
		adjustment = maxAdjustment
	}

	averageDifficulty := delta.Quo(delta, new(big.Float).SetInt64(int64(window)))
	nextTarget := DifficultyToTarget(params, averageDifficulty)
	nextTarget.Mul(nextTarget, adjustment)

	target, _ := nextTarget.Int(nil)
	if target.Cmp(params.BlockTargetMax) > 0 {
		target.Set(params.BlockTargetMax)
	}
	if target.Cmp(bigOne) < 0 {
		target.Set(bigOne)
	}

	// Reduce the precision to what the header can carry.
	return CompactToBig(BigToCompact(target))
}

// blockHeaderInfo is the part of a block the retarget needs.
type blockHeaderInfo struct {
	height    uint32
	timestamp uint32
	workSum   *big.Float
}
