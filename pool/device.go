package pool

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// desiredSharesPerSecond is the share rate the start difficulty aims for.
const desiredSharesPerSecond = 5

// DeviceID derives a device identifier that stays the same across restarts
// of the miner on one host for one address.
func DeviceID(hostname, address string) uint32 {
	sum := blake2b.Sum256([]byte(hostname + address))
	return binary.LittleEndian.Uint32(sum[:4])
}

// StartDifficulty returns the share difficulty to ask the pool for, given the
// expected hash rate in kH/s.
func StartDifficulty(hashrate uint32) uint32 {
	return uint32(uint64(hashrate) * 1000 * desiredSharesPerSecond / (1 << 16))
}
