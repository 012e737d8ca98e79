// Package opencl is a thin synchronous binding to the parts of OpenCL the
// miner needs.  The real binding is compiled with the opencl build tag; other
// builds get a stub whose constructor reports that no GPU support is
// available.  Every call returns an *Error carrying the call name and status
// code when the driver reports anything but success.
package opencl

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Opaque handles to driver objects.
type (
	PlatformID   uintptr
	DeviceID     uintptr
	Context      uintptr
	CommandQueue uintptr
	Program      uintptr
	Kernel       uintptr
	Mem          uintptr
)

// PlatformInfo selects a platform property.
type PlatformInfo uint32

// Platform properties.
const (
	PlatformName   PlatformInfo = 0x0902
	PlatformVendor PlatformInfo = 0x0903
)

// DeviceInfo selects a device property.
type DeviceInfo uint32

// Device properties.
const (
	DeviceMaxComputeUnits   DeviceInfo = 0x1002
	DeviceMaxClockFrequency DeviceInfo = 0x100C
	DeviceMaxMemAllocSize   DeviceInfo = 0x1010
	DeviceGlobalMemSize     DeviceInfo = 0x101F
	DeviceName              DeviceInfo = 0x102B
	DeviceVendor            DeviceInfo = 0x102C
	DriverVersion           DeviceInfo = 0x102D
	DeviceVersion           DeviceInfo = 0x102F
)

// Status codes that get a name in error messages.
const (
	Success                  int32 = 0
	DeviceNotFound           int32 = -1
	OutOfResources           int32 = -5
	OutOfHostMemory          int32 = -6
	BuildProgramFailure      int32 = -11
	InvalidValue             int32 = -30
	InvalidPlatform          int32 = -32
	InvalidContext           int32 = -34
	InvalidCommandQueue      int32 = -36
	InvalidMemObject         int32 = -38
	InvalidProgram           int32 = -44
	InvalidKernelName        int32 = -46
	InvalidKernel            int32 = -48
	InvalidArgIndex          int32 = -49
	InvalidArgValue          int32 = -50
	InvalidArgSize           int32 = -51
	InvalidWorkGroupSize     int32 = -54
	InvalidGlobalOffset      int32 = -56
	InvalidBufferSize        int32 = -61
	PlatformNotFoundKHR      int32 = -1001
	MemObjectAllocationError int32 = -4
)

var statusNames = map[int32]string{
	Success:                  "CL_SUCCESS",
	DeviceNotFound:           "CL_DEVICE_NOT_FOUND",
	MemObjectAllocationError: "CL_MEM_OBJECT_ALLOCATION_FAILURE",
	OutOfResources:           "CL_OUT_OF_RESOURCES",
	OutOfHostMemory:          "CL_OUT_OF_HOST_MEMORY",
	BuildProgramFailure:      "CL_BUILD_PROGRAM_FAILURE",
	InvalidValue:             "CL_INVALID_VALUE",
	InvalidPlatform:          "CL_INVALID_PLATFORM",
	InvalidContext:           "CL_INVALID_CONTEXT",
	InvalidCommandQueue:      "CL_INVALID_COMMAND_QUEUE",
	InvalidMemObject:         "CL_INVALID_MEM_OBJECT",
	InvalidProgram:           "CL_INVALID_PROGRAM",
	InvalidKernelName:        "CL_INVALID_KERNEL_NAME",
	InvalidKernel:            "CL_INVALID_KERNEL",
	InvalidArgIndex:          "CL_INVALID_ARG_INDEX",
	InvalidArgValue:          "CL_INVALID_ARG_VALUE",
	InvalidArgSize:           "CL_INVALID_ARG_SIZE",
	InvalidWorkGroupSize:     "CL_INVALID_WORK_GROUP_SIZE",
	InvalidGlobalOffset:      "CL_INVALID_GLOBAL_OFFSET",
	InvalidBufferSize:        "CL_INVALID_BUFFER_SIZE",
	PlatformNotFoundKHR:      "CL_PLATFORM_NOT_FOUND_KHR",
}

// ErrUnavailable is returned by New when the binary was built without the
// opencl build tag.
var ErrUnavailable = errors.New("opencl support not compiled in, build " +
	"with -tags opencl")

// Error is a failed binding call.
type Error struct {
	// Call is the name of the OpenCL function that failed.
	Call string

	// Status is the status code it returned.
	Status int32

	// Log holds the compiler output when Call is clBuildProgram.
	Log string
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	name, ok := statusNames[e.Status]
	if !ok {
		name = "unknown status"
	}
	msg := fmt.Sprintf("%s failed: %s (%d)", e.Call, name, e.Status)
	if e.Log != "" {
		msg += "\n" + e.Log
	}
	return msg
}

// checkStatus returns an *Error for a status other than Success.
func checkStatus(call string, status int32) error {
	if status != Success {
		return &Error{Call: call, Status: status}
	}
	return nil
}

// noPlatforms reports whether a platform query status means that no ICD is
// installed, which is an empty platform list rather than a failure.
func noPlatforms(status int32) bool {
	return status == PlatformNotFoundKHR
}

// InfoSizeError reports a device property whose value does not have the
// width of the scalar it was read as.
type InfoSizeError struct {
	Info     DeviceInfo
	Expected int
	Actual   int
}

// Error satisfies the error interface.
func (e *InfoSizeError) Error() string {
	return fmt.Sprintf("device info %#x has %d bytes, expected %d",
		uint32(e.Info), e.Actual, e.Expected)
}

// API is the set of driver calls the miner uses.  Implementations are not
// required to be safe for concurrent use on the same object, but distinct
// contexts may be used from distinct goroutines.
type API interface {
	PlatformIDs() ([]PlatformID, error)
	PlatformInfo(platform PlatformID, param PlatformInfo) ([]byte, error)
	DeviceIDs(platform PlatformID) ([]DeviceID, error)
	DeviceInfo(device DeviceID, param DeviceInfo) ([]byte, error)

	CreateContext(device DeviceID) (Context, error)
	ReleaseContext(ctx Context) error

	CreateCommandQueue(ctx Context, device DeviceID) (CommandQueue, error)
	ReleaseCommandQueue(queue CommandQueue) error

	CreateBuffer(ctx Context, size int) (Mem, error)
	ReleaseMemObject(mem Mem) error

	CreateProgramWithSource(ctx Context, sources []string) (Program, error)
	BuildProgram(program Program, device DeviceID, options string) error
	ReleaseProgram(program Program) error

	CreateKernel(program Program, name string) (Kernel, error)
	SetKernelArg(kernel Kernel, index uint32, arg KernelArg) error
	ReleaseKernel(kernel Kernel) error

	// EnqueueWriteBuffer does not retain data after it returns, even for a
	// non-blocking write.
	EnqueueWriteBuffer(queue CommandQueue, mem Mem, blocking bool, data []byte) error
	EnqueueReadBuffer(queue CommandQueue, mem Mem, blocking bool, data []byte) error
	EnqueueNDRangeKernel(queue CommandQueue, kernel Kernel, offset, global, local []int) error
}

// PlatformString reads a platform property as a string.
func PlatformString(api API, platform PlatformID, param PlatformInfo) (string, error) {
	b, err := api.PlatformInfo(platform, param)
	if err != nil {
		return "", err
	}
	return trimNul(b), nil
}

// DeviceString reads a device property as a string.
func DeviceString(api API, device DeviceID, param DeviceInfo) (string, error) {
	b, err := api.DeviceInfo(device, param)
	if err != nil {
		return "", err
	}
	return trimNul(b), nil
}

// DeviceUint32 reads a cl_uint device property.
func DeviceUint32(api API, device DeviceID, param DeviceInfo) (uint32, error) {
	b, err := api.DeviceInfo(device, param)
	if err != nil {
		return 0, err
	}
	if len(b) != 4 {
		return 0, &InfoSizeError{Info: param, Expected: 4, Actual: len(b)}
	}
	return binary.LittleEndian.Uint32(b), nil
}

// DeviceUint64 reads a cl_ulong device property.
func DeviceUint64(api API, device DeviceID, param DeviceInfo) (uint64, error) {
	b, err := api.DeviceInfo(device, param)
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, &InfoSizeError{Info: param, Expected: 8, Actual: len(b)}
	}
	return binary.LittleEndian.Uint64(b), nil
}

// trimNul drops the terminating NUL bytes of a C string.
func trimNul(b []byte) string {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b)
}
