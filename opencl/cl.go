//go:build opencl
// +build opencl

package opencl

/*
#cgo linux LDFLAGS: -lOpenCL
#cgo windows LDFLAGS: -lOpenCL
#cgo darwin LDFLAGS: -framework OpenCL
#cgo CFLAGS: -DCL_TARGET_OPENCL_VERSION=120 -DCL_USE_DEPRECATED_OPENCL_1_2_APIS

#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif

#include <stdlib.h>
*/
import "C"

import (
	"unsafe"
)

// driver is the cgo backed API.  Go memory may not be retained by C past a
// call, so non-blocking writes go through C allocated copies.
type driver struct {
	staged *staging
}

// New returns the OpenCL binding.
func New() (API, error) {
	return driver{staged: newStaging(func(p unsafe.Pointer) { C.free(p) })}, nil
}

func check(call string, ret C.cl_int) error {
	return checkStatus(call, int32(ret))
}

func sizes(v []int) []C.size_t {
	if len(v) == 0 {
		return nil
	}
	out := make([]C.size_t, len(v))
	for i := range v {
		out[i] = C.size_t(v[i])
	}
	return out
}

func firstSize(v []C.size_t) *C.size_t {
	if len(v) == 0 {
		return nil
	}
	return &v[0]
}

func (driver) PlatformIDs() ([]PlatformID, error) {
	var n C.cl_uint
	ret := C.clGetPlatformIDs(0, nil, &n)
	if noPlatforms(int32(ret)) {
		return nil, nil
	}
	if err := check("clGetPlatformIDs", ret); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	platforms := make([]C.cl_platform_id, n)
	ret = C.clGetPlatformIDs(n, &platforms[0], nil)
	if err := check("clGetPlatformIDs", ret); err != nil {
		return nil, err
	}

	ids := make([]PlatformID, n)
	for i, p := range platforms {
		ids[i] = PlatformID(unsafe.Pointer(p))
	}
	return ids, nil
}

func (driver) PlatformInfo(platform PlatformID, param PlatformInfo) ([]byte, error) {
	p := C.cl_platform_id(unsafe.Pointer(platform))

	var size C.size_t
	ret := C.clGetPlatformInfo(p, C.cl_platform_info(param), 0, nil, &size)
	if err := check("clGetPlatformInfo", ret); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}

	buf := make([]byte, size)
	ret = C.clGetPlatformInfo(p, C.cl_platform_info(param), size,
		unsafe.Pointer(&buf[0]), nil)
	if err := check("clGetPlatformInfo", ret); err != nil {
		return nil, err
	}
	return buf, nil
}

func (driver) DeviceIDs(platform PlatformID) ([]DeviceID, error) {
	p := C.cl_platform_id(unsafe.Pointer(platform))

	var n C.cl_uint
	ret := C.clGetDeviceIDs(p, C.CL_DEVICE_TYPE_GPU, 0, nil, &n)
	if ret == C.CL_DEVICE_NOT_FOUND {
		return nil, nil
	}
	if err := check("clGetDeviceIDs", ret); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	devices := make([]C.cl_device_id, n)
	ret = C.clGetDeviceIDs(p, C.CL_DEVICE_TYPE_GPU, n, &devices[0], nil)
	if err := check("clGetDeviceIDs", ret); err != nil {
		return nil, err
	}

	ids := make([]DeviceID, n)
	for i, d := range devices {
		ids[i] = DeviceID(unsafe.Pointer(d))
	}
	return ids, nil
}

func (driver) DeviceInfo(device DeviceID, param DeviceInfo) ([]byte, error) {
	d := C.cl_device_id(unsafe.Pointer(device))

	var size C.size_t
	ret := C.clGetDeviceInfo(d, C.cl_device_info(param), 0, nil, &size)
	if err := check("clGetDeviceInfo", ret); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}

	buf := make([]byte, size)
	ret = C.clGetDeviceInfo(d, C.cl_device_info(param), size,
		unsafe.Pointer(&buf[0]), nil)
	if err := check("clGetDeviceInfo", ret); err != nil {
		return nil, err
	}
	return buf, nil
}

func (driver) CreateContext(device DeviceID) (Context, error) {
	d := C.cl_device_id(unsafe.Pointer(device))

	var ret C.cl_int
	ctx := C.clCreateContext(nil, 1, &d, nil, nil, &ret)
	if err := check("clCreateContext", ret); err != nil {
		return 0, err
	}
	return Context(unsafe.Pointer(ctx)), nil
}

func (driver) ReleaseContext(ctx Context) error {
	return check("clReleaseContext",
		C.clReleaseContext(C.cl_context(unsafe.Pointer(ctx))))
}

func (driver) CreateCommandQueue(ctx Context, device DeviceID) (CommandQueue, error) {
	var ret C.cl_int
	queue := C.clCreateCommandQueue(C.cl_context(unsafe.Pointer(ctx)),
		C.cl_device_id(unsafe.Pointer(device)), 0, &ret)
	if err := check("clCreateCommandQueue", ret); err != nil {
		return 0, err
	}
	return CommandQueue(unsafe.Pointer(queue)), nil
}

func (d driver) ReleaseCommandQueue(queue CommandQueue) error {
	q := C.cl_command_queue(unsafe.Pointer(queue))
	if err := check("clFinish", C.clFinish(q)); err != nil {
		return err
	}
	d.staged.settle(queue)
	return check("clReleaseCommandQueue", C.clReleaseCommandQueue(q))
}

func (driver) CreateBuffer(ctx Context, size int) (Mem, error) {
	var ret C.cl_int
	mem := C.clCreateBuffer(C.cl_context(unsafe.Pointer(ctx)),
		C.CL_MEM_READ_WRITE, C.size_t(size), nil, &ret)
	if err := check("clCreateBuffer", ret); err != nil {
		return 0, err
	}
	return Mem(unsafe.Pointer(mem)), nil
}

func (driver) ReleaseMemObject(mem Mem) error {
	return check("clReleaseMemObject",
		C.clReleaseMemObject(C.cl_mem(unsafe.Pointer(mem))))
}

func (driver) CreateProgramWithSource(ctx Context, sources []string) (Program, error) {
	if len(sources) == 0 {
		return 0, &Error{Call: "clCreateProgramWithSource", Status: InvalidValue}
	}

	strs := make([]*C.char, len(sources))
	lens := make([]C.size_t, len(sources))
	for i, src := range sources {
		strs[i] = C.CString(src)
		lens[i] = C.size_t(len(src))
	}
	defer func() {
		for _, s := range strs {
			C.free(unsafe.Pointer(s))
		}
	}()

	var ret C.cl_int
	program := C.clCreateProgramWithSource(C.cl_context(unsafe.Pointer(ctx)),
		C.cl_uint(len(sources)), &strs[0], &lens[0], &ret)
	if err := check("clCreateProgramWithSource", ret); err != nil {
		return 0, err
	}
	return Program(unsafe.Pointer(program)), nil
}

func (driver) BuildProgram(program Program, device DeviceID, options string) error {
	p := C.cl_program(unsafe.Pointer(program))
	d := C.cl_device_id(unsafe.Pointer(device))

	opts := C.CString(options)
	defer C.free(unsafe.Pointer(opts))

	ret := C.clBuildProgram(p, 1, &d, opts, nil, nil)
	if ret == C.CL_SUCCESS {
		return nil
	}

	err := &Error{Call: "clBuildProgram", Status: int32(ret)}
	var size C.size_t
	C.clGetProgramBuildInfo(p, d, C.CL_PROGRAM_BUILD_LOG, 0, nil, &size)
	if size > 0 {
		buildLog := make([]byte, size)
		C.clGetProgramBuildInfo(p, d, C.CL_PROGRAM_BUILD_LOG, size,
			unsafe.Pointer(&buildLog[0]), nil)
		err.Log = trimNul(buildLog)
	}
	return err
}

func (driver) ReleaseProgram(program Program) error {
	return check("clReleaseProgram",
		C.clReleaseProgram(C.cl_program(unsafe.Pointer(program))))
}

func (driver) CreateKernel(program Program, name string) (Kernel, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var ret C.cl_int
	kernel := C.clCreateKernel(C.cl_program(unsafe.Pointer(program)), cname, &ret)
	if err := check("clCreateKernel", ret); err != nil {
		return 0, err
	}
	return Kernel(unsafe.Pointer(kernel)), nil
}

func (driver) SetKernelArg(kernel Kernel, index uint32, arg KernelArg) error {
	k := C.cl_kernel(unsafe.Pointer(kernel))

	var ret C.cl_int
	switch arg.Kind {
	case ArgScalar:
		if len(arg.Value) == 0 {
			return &Error{Call: "clSetKernelArg", Status: InvalidArgValue}
		}
		ret = C.clSetKernelArg(k, C.cl_uint(index), C.size_t(len(arg.Value)),
			unsafe.Pointer(&arg.Value[0]))

	case ArgBuffer:
		mem := C.cl_mem(unsafe.Pointer(arg.Mem))
		ret = C.clSetKernelArg(k, C.cl_uint(index), C.size_t(unsafe.Sizeof(mem)),
			unsafe.Pointer(&mem))

	case ArgLocal:
		ret = C.clSetKernelArg(k, C.cl_uint(index), C.size_t(arg.Size), nil)

	case ArgNull:
		var mem C.cl_mem
		ret = C.clSetKernelArg(k, C.cl_uint(index), C.size_t(unsafe.Sizeof(mem)), nil)

	default:
		return &Error{Call: "clSetKernelArg", Status: InvalidArgValue}
	}
	return check("clSetKernelArg", ret)
}

func (driver) ReleaseKernel(kernel Kernel) error {
	return check("clReleaseKernel",
		C.clReleaseKernel(C.cl_kernel(unsafe.Pointer(kernel))))
}

func (d driver) EnqueueWriteBuffer(queue CommandQueue, mem Mem, blocking bool, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	q := C.cl_command_queue(unsafe.Pointer(queue))
	if !blocking {
		host := C.CBytes(data)
		ret := C.clEnqueueWriteBuffer(q, C.cl_mem(unsafe.Pointer(mem)),
			C.CL_FALSE, 0, C.size_t(len(data)), host, 0, nil, nil)
		if err := check("clEnqueueWriteBuffer", ret); err != nil {
			C.free(host)
			return err
		}
		d.staged.hold(queue, host)
		return nil
	}

	ret := C.clEnqueueWriteBuffer(q, C.cl_mem(unsafe.Pointer(mem)), C.CL_TRUE,
		0, C.size_t(len(data)), unsafe.Pointer(&data[0]), 0, nil, nil)
	if err := check("clEnqueueWriteBuffer", ret); err != nil {
		return err
	}
	d.staged.settle(queue)
	return nil
}

// EnqueueReadBuffer always blocks since the destination is Go memory.
func (d driver) EnqueueReadBuffer(queue CommandQueue, mem Mem, _ bool, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	ret := C.clEnqueueReadBuffer(C.cl_command_queue(unsafe.Pointer(queue)),
		C.cl_mem(unsafe.Pointer(mem)), C.CL_TRUE, 0,
		C.size_t(len(data)), unsafe.Pointer(&data[0]), 0, nil, nil)
	if err := check("clEnqueueReadBuffer", ret); err != nil {
		return err
	}
	d.staged.settle(queue)
	return nil
}

func (driver) EnqueueNDRangeKernel(queue CommandQueue, kernel Kernel, offset, global, local []int) error {
	if len(offset) != 0 && len(offset) != len(global) {
		return &Error{Call: "clEnqueueNDRangeKernel", Status: InvalidGlobalOffset}
	}
	if len(local) != 0 && len(local) != len(global) {
		return &Error{Call: "clEnqueueNDRangeKernel", Status: InvalidWorkGroupSize}
	}

	off, glob, loc := sizes(offset), sizes(global), sizes(local)
	ret := C.clEnqueueNDRangeKernel(C.cl_command_queue(unsafe.Pointer(queue)),
		C.cl_kernel(unsafe.Pointer(kernel)), C.cl_uint(len(global)),
		firstSize(off), firstSize(glob), firstSize(loc), 0, nil, nil)
	return check("clEnqueueNDRangeKernel", ret)
}
