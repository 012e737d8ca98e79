package miner

import (
	"fmt"
	"strings"
)

const (
	noncesPerGroup = 32
	threadsPerLane = 32

	// maxNonce is the size of the nonce space.
	maxNonce = 1 << 32

	vendorAMD    = "Advanced Micro Devices"
	vendorNVIDIA = "NVIDIA Corporation"
)

// Family is a GPU vendor family.  The mining kernels are tuned per family.
type Family uint8

const (
	FamilyUnknown Family = iota
	FamilyAMD
	FamilyNVIDIA
)

var familyStrings = map[Family]string{
	FamilyUnknown: "unknown",
	FamilyAMD:     "AMD",
	FamilyNVIDIA:  "NVIDIA",
}

// String returns the Family as a human-readable name.
func (f Family) String() string {
	if s, ok := familyStrings[f]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Family (%d)", uint8(f))
}

// classifyVendor maps a platform vendor string to its family.
func classifyVendor(vendor string) Family {
	switch {
	case strings.HasPrefix(vendor, vendorAMD):
		return FamilyAMD
	case strings.HasPrefix(vendor, vendorNVIDIA):
		return FamilyNVIDIA
	}
	return FamilyUnknown
}

// buildOptions returns the compiler flags for the family.
func (f Family) buildOptions() string {
	if f == FamilyAMD {
		return "-Werror -DAMD"
	}
	return "-Werror"
}

// jobsPerBlock returns how many nonces a work group processes at once.
func (f Family) jobsPerBlock() int {
	if f == FamilyAMD {
		return 2
	}
	return 1
}

// Device describes a GPU as reported by the driver.
type Device struct {
	// Index is the position of the device in enumeration order across
	// all platforms.
	Index uint32

	Platform          string
	Family            Family
	Name              string
	Vendor            string
	DriverVersion     string
	DeviceVersion     string
	MaxComputeUnits   uint32
	MaxClockFrequency uint32
	MaxMemAllocSize   uint64
	GlobalMemSize     uint64
}

// defaultMemoryMB returns the memory budget used when none is configured:
// the largest single allocation on AMD and half the global memory elsewhere.
func (d *Device) defaultMemoryMB() uint64 {
	if d.Family == FamilyAMD {
		return d.MaxMemAllocSize >> 20
	}
	return (d.GlobalMemSize / 2) >> 20
}

// NoncesPerRun returns how many nonces a device hashes per kernel dispatch
// with a memory budget of memoryMB megabytes.
func NoncesPerRun(memoryMB uint64) uint32 {
	return uint32((memoryMB << 20) / (argon2BlockSize * argon2MemoryCost))
}

// geometry holds the buffer sizes and work sizes of the three kernel
// dispatches for one device.
type geometry struct {
	noncesPerRun int
	jobsPerBlock int

	sharedMemSize int
	blocksMemSize int

	initGlobal, initLocal     []int
	argon2Global, argon2Local []int
	findGlobal, findLocal     []int
}

func newGeometry(family Family, noncesPerRun uint32) geometry {
	npr := int(noncesPerRun)
	jobs := family.jobsPerBlock()

	memoryCost := argon2MemoryCost
	if family == FamilyAMD {
		memoryCost++
	}

	return geometry{
		noncesPerRun:  npr,
		jobsPerBlock:  jobs,
		sharedMemSize: threadsPerLane * 2 * 4 * jobs,
		blocksMemSize: memoryCost * argon2BlockSize * npr,
		initGlobal:    []int{npr, jobs},
		initLocal:     []int{noncesPerGroup, jobs},
		argon2Global:  []int{threadsPerLane, npr},
		argon2Local:   []int{threadsPerLane, jobs},
		findGlobal:    []int{npr},
		findLocal:     []int{noncesPerGroup},
	}
}
