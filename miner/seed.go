package miner

import (
	"encoding/binary"
	"fmt"

	"github.com/MonteCarloClub/plutonium/wire"
)

// Argon2d parameters of the nimiq proof of work.
const (
	argon2BlockSize  = 1024
	argon2MemoryCost = 512
	argon2Lanes      = 1
	argon2HashLength = 32
	argon2Iterations = 1
	argon2Version    = 0x13
	argon2Type       = 0 // argon2d
	argon2Salt       = "nimiqrocks!"
)

// SeedSize is the size of the buffer the init_memory kernel reads its input
// from.
const SeedSize = 256

// Seed buffer layout.
const (
	seedHeaderOffset  = 28
	seedSaltLenOffset = 174
	seedSaltOffset    = 178
)

// SizeError describes a buffer whose length does not match what the device
// code expects.
type SizeError struct {
	What     string
	Expected int
	Actual   int
}

// Error satisfies the error interface.
func (e *SizeError) Error() string {
	return fmt.Sprintf("invalid %s size: got %d bytes, expected %d", e.What,
		e.Actual, e.Expected)
}

// seedPrefix holds the template independent part of every seed.
var seedPrefix = func() [SeedSize]byte {
	var seed [SeedSize]byte
	binary.LittleEndian.PutUint32(seed[0:4], argon2Lanes)
	binary.LittleEndian.PutUint32(seed[4:8], argon2HashLength)
	binary.LittleEndian.PutUint32(seed[8:12], argon2MemoryCost)
	binary.LittleEndian.PutUint32(seed[12:16], argon2Iterations)
	binary.LittleEndian.PutUint32(seed[16:20], argon2Version)
	binary.LittleEndian.PutUint32(seed[20:24], argon2Type)
	binary.LittleEndian.PutUint32(seed[24:28], wire.MaxBlockHeaderPayload)
	binary.LittleEndian.PutUint32(seed[seedSaltLenOffset:seedSaltOffset],
		uint32(len(argon2Salt)))
	copy(seed[seedSaltOffset:], argon2Salt)
	return seed
}()

// newSeed returns the seed buffer for a serialized block header.
func newSeed(header []byte) ([SeedSize]byte, error) {
	seed := seedPrefix
	if len(header) != wire.MaxBlockHeaderPayload {
		return seed, &SizeError{
			What:     "block header",
			Expected: wire.MaxBlockHeaderPayload,
			Actual:   len(header),
		}
	}
	copy(seed[seedHeaderOffset:], header)
	return seed, nil
}
