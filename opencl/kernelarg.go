package opencl

import (
	"encoding/binary"
	"fmt"
)

// ArgKind tells how a kernel argument is bound.
type ArgKind uint8

const (
	// ArgScalar passes a value by copy.
	ArgScalar ArgKind = iota

	// ArgBuffer passes a device buffer.
	ArgBuffer

	// ArgLocal reserves local (shared) memory of a given size with no
	// host data.
	ArgLocal

	// ArgNull binds a null buffer.
	ArgNull
)

// String returns the kind as a human-readable name.
func (k ArgKind) String() string {
	switch k {
	case ArgScalar:
		return "scalar"
	case ArgBuffer:
		return "buffer"
	case ArgLocal:
		return "local"
	case ArgNull:
		return "null"
	}
	return fmt.Sprintf("ArgKind(%d)", uint8(k))
}

// KernelArg is a kernel argument value.  Build it with one of the
// constructors below.
type KernelArg struct {
	Kind  ArgKind
	Value []byte
	Mem   Mem
	Size  int
}

// Uint32Arg returns a cl_uint scalar argument.
func Uint32Arg(v uint32) KernelArg {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return KernelArg{Kind: ArgScalar, Value: b, Size: 4}
}

// BufferArg returns a buffer argument.
func BufferArg(mem Mem) KernelArg {
	return KernelArg{Kind: ArgBuffer, Mem: mem}
}

// LocalArg returns an argument reserving size bytes of local memory.
func LocalArg(size int) KernelArg {
	return KernelArg{Kind: ArgLocal, Size: size}
}

// NullArg returns a null buffer argument.
func NullArg() KernelArg {
	return KernelArg{Kind: ArgNull}
}

// String returns a short description for logs.
func (a KernelArg) String() string {
	switch a.Kind {
	case ArgScalar:
		return fmt.Sprintf("scalar(%x)", a.Value)
	case ArgBuffer:
		return fmt.Sprintf("buffer(%#x)", uintptr(a.Mem))
	case ArgLocal:
		return fmt.Sprintf("local(%d)", a.Size)
	}
	return a.Kind.String()
}
