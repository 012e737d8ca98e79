package chaincfg

import (
	"math/big"
	"time"

	"github.com/MonteCarloClub/plutonium/chaincfg/chainhash"
)

var (
	// bigOne is 1 represented as a big.Int.  It is defined here to avoid
	// the overhead of creating it multiple times.
	bigOne = big.NewInt(1)

	// blockTargetMax is the highest proof of work value a nimiq block can
	// have.  It is the value 2^240.
	blockTargetMax = new(big.Int).Lsh(bigOne, 240)
)

// Params defines a nimiq network by its parameters.  These parameters may be
// used by applications to differentiate networks as well as addresses and
// keys for one network from those intended for use on another network.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// GenesisHash is the hash of the genesis block.  Pools use it to check
	// that the miner is on the same network.
	GenesisHash chainhash.Hash

	// DefaultPoolHost is the pool used when none is configured.
	DefaultPoolHost string

	// BlockTargetMax is the highest allowed proof of work value for a
	// block as a uint256.  It corresponds to difficulty 1.
	BlockTargetMax *big.Int

	// TargetTimePerBlock is the desired amount of time to generate each
	// block.
	TargetTimePerBlock time.Duration

	// DifficultyBlockWindow is the number of blocks the retargeting
	// algorithm averages over.
	DifficultyBlockWindow uint32

	// MaxAdjustmentFactor bounds the retarget adjustment in both
	// directions.
	MaxAdjustmentFactor int64
}

// MainNetParams defines the network parameters for the main nimiq network.
var MainNetParams = Params{
	Name:                  "mainnet",
	GenesisHash:           newHashFromStr("264aaf8a4f9828a76c550635da078eb466306a189fcc03710bee9f649c869d12"),
	DefaultPoolHost:       "pool.nimiq.watch:8443",
	BlockTargetMax:        blockTargetMax,
	TargetTimePerBlock:    time.Minute,
	DifficultyBlockWindow: 120,
	MaxAdjustmentFactor:   2,
}

// CustomNetParams returns parameters sharing the main network policy but
// using another genesis hash, for private or test pools.
func CustomNetParams(genesis chainhash.Hash) *Params {
	params := MainNetParams
	params.Name = "custom"
	params.GenesisHash = genesis
	params.DefaultPoolHost = ""
	return &params
}

// newHashFromStr converts the passed hex string into a chainhash.Hash and
// will panic if there is an error.  This must only be called with hard-coded,
// and therefore known good, hashes.
func newHashFromStr(hexStr string) chainhash.Hash {
	hash, err := chainhash.NewHashFromStr(hexStr)
	if err != nil {
		panic(err)
	}
	return *hash
}
