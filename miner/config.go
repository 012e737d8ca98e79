package miner

import (
	"github.com/MonteCarloClub/plutonium/chaincfg/chainhash"
	"github.com/MonteCarloClub/plutonium/wire"
)

// HeadHasher returns the hash of the current chain head.  Found shares are
// only reported when the block they extend is still the head.
type HeadHasher interface {
	HeadHash() chainhash.Hash
}

// Config is a descriptor containing the GPU miner configuration.
type Config struct {
	// Devices restricts mining to the listed device indices.  Devices are
	// numbered from 0 in enumeration order across all platforms.  An empty
	// list enables every GPU found.
	Devices []uint32

	// Memory holds per-device memory budgets in megabytes, indexed like
	// Devices.  A single value applies to every device; a missing or zero
	// value selects the vendor default.
	Memory []uint32

	// KernelSources are the OpenCL sources the mining program is built
	// from, in KernelFiles order.  The built-in sources are used when it
	// is empty.
	KernelSources []string

	// Chain is consulted to discard shares for a block that is no longer
	// the chain head.
	//
	// This field is required.
	Chain HeadHasher

	// OnShare is called from a worker goroutine with every found block
	// whose predecessor is the current chain head.  It may be nil.
	OnShare func(block *wire.MsgBlock)
}

// allowedDevice reports whether the device with the passed global index may
// be used.
func (c *Config) allowedDevice(index uint32) bool {
	if len(c.Devices) == 0 {
		return true
	}
	for _, allowed := range c.Devices {
		if allowed == index {
			return true
		}
	}
	return false
}

// memoryOverride returns the configured budget in megabytes for the device
// with the passed global index, or 0 when there is none.  With an allow-list
// the budgets follow the order of Devices, otherwise the global index.
func (c *Config) memoryOverride(index uint32) uint64 {
	if len(c.Memory) == 1 {
		return uint64(c.Memory[0])
	}
	slot := int(index)
	if len(c.Devices) != 0 {
		slot = -1
		for i, allowed := range c.Devices {
			if allowed == index {
				slot = i
				break
			}
		}
	}
	if slot < 0 || slot >= len(c.Memory) {
		return 0
	}
	return uint64(c.Memory[slot])
}
