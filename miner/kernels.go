package miner

import (
	_ "embed"
)

// Built-in OpenCL sources.  blake2b.cl defines the hash functions that
// argon2d.cl calls, so it is compiled first.
var (
	//go:embed kernels/blake2b.cl
	blake2bSource string

	//go:embed kernels/argon2d.cl
	argon2dSource string
)

// KernelFiles are the names of the OpenCL sources in build order.
var KernelFiles = []string{"blake2b.cl", "argon2d.cl"}

// KernelSources returns the built-in OpenCL sources in build order.
func KernelSources() []string {
	return []string{blake2bSource, argon2dSource}
}
