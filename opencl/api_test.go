package opencl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// infoAPI answers DeviceInfo and PlatformInfo from fixed maps and nothing
// else.
type infoAPI struct {
	API
	platform map[PlatformInfo][]byte
	device   map[DeviceInfo][]byte
}

func (a *infoAPI) PlatformInfo(_ PlatformID, param PlatformInfo) ([]byte, error) {
	b, ok := a.platform[param]
	if !ok {
		return nil, &Error{Call: "clGetPlatformInfo", Status: InvalidValue}
	}
	return b, nil
}

func (a *infoAPI) DeviceInfo(_ DeviceID, param DeviceInfo) ([]byte, error) {
	b, ok := a.device[param]
	if !ok {
		return nil, &Error{Call: "clGetDeviceInfo", Status: InvalidValue}
	}
	return b, nil
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Call: "clCreateBuffer", Status: InvalidBufferSize}
	assert.Equal(t, "clCreateBuffer failed: CL_INVALID_BUFFER_SIZE (-61)", err.Error())

	err = &Error{Call: "clFoo", Status: -9999}
	assert.Equal(t, "clFoo failed: unknown status (-9999)", err.Error())

	err = &Error{Call: "clBuildProgram", Status: BuildProgramFailure,
		Log: "argon2d.cl:1: error"}
	assert.Equal(t, "clBuildProgram failed: CL_BUILD_PROGRAM_FAILURE (-11)\n"+
		"argon2d.cl:1: error", err.Error())
}

func TestCheckStatus(t *testing.T) {
	assert.NoError(t, checkStatus("clFinish", Success))

	err := checkStatus("clCreateKernel", InvalidKernelName)
	var clErr *Error
	require.True(t, errors.As(err, &clErr))
	assert.Equal(t, "clCreateKernel", clErr.Call)
	assert.Equal(t, InvalidKernelName, clErr.Status)

	// A missing ICD loader yields no platforms instead of an error.
	assert.True(t, noPlatforms(-1001))
	assert.False(t, noPlatforms(Success))
	assert.False(t, noPlatforms(InvalidValue))
}

func TestInfoHelpers(t *testing.T) {
	api := &infoAPI{
		platform: map[PlatformInfo][]byte{
			PlatformName: []byte("AMD Accelerated Parallel Processing\x00"),
		},
		device: map[DeviceInfo][]byte{
			DeviceName:              []byte("gfx906\x00\x00"),
			DeviceMaxComputeUnits:   {60, 0, 0, 0},
			DeviceGlobalMemSize:     {0, 0, 0, 0, 2, 0, 0, 0},
			DeviceMaxClockFrequency: {1, 2},
		},
	}

	name, err := PlatformString(api, 0, PlatformName)
	require.NoError(t, err)
	assert.Equal(t, "AMD Accelerated Parallel Processing", name)

	dev, err := DeviceString(api, 0, DeviceName)
	require.NoError(t, err)
	assert.Equal(t, "gfx906", dev)

	units, err := DeviceUint32(api, 0, DeviceMaxComputeUnits)
	require.NoError(t, err)
	assert.Equal(t, uint32(60), units)

	mem, err := DeviceUint64(api, 0, DeviceGlobalMemSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(8<<30), mem)

	_, err = DeviceUint32(api, 0, DeviceMaxClockFrequency)
	var sizeErr *InfoSizeError
	require.True(t, errors.As(err, &sizeErr))
	assert.Equal(t, 4, sizeErr.Expected)
	assert.Equal(t, 2, sizeErr.Actual)

	_, err = DeviceUint64(api, 0, DeviceMaxComputeUnits)
	require.True(t, errors.As(err, &sizeErr))
	assert.Equal(t, 8, sizeErr.Expected)

	_, err = DeviceString(api, 0, DriverVersion)
	var clErr *Error
	require.True(t, errors.As(err, &clErr))
	assert.Equal(t, "clGetDeviceInfo", clErr.Call)
}

func TestKernelArgs(t *testing.T) {
	arg := Uint32Arg(0x01020304)
	assert.Equal(t, ArgScalar, arg.Kind)
	assert.Equal(t, []byte{4, 3, 2, 1}, arg.Value)
	assert.Equal(t, "scalar(04030201)", arg.String())

	arg = BufferArg(Mem(0x10))
	assert.Equal(t, ArgBuffer, arg.Kind)
	assert.Equal(t, Mem(0x10), arg.Mem)
	assert.Equal(t, "buffer(0x10)", arg.String())

	arg = LocalArg(512)
	assert.Equal(t, ArgLocal, arg.Kind)
	assert.Equal(t, "local(512)", arg.String())

	arg = NullArg()
	assert.Equal(t, ArgNull, arg.Kind)
	assert.Equal(t, "null", arg.String())

	assert.Equal(t, "ArgKind(9)", ArgKind(9).String())
}
