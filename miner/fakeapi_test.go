package miner

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/MonteCarloClub/plutonium/chaincfg/chainhash"
	"github.com/MonteCarloClub/plutonium/opencl"
)

// fakeDevice is a GPU known to fakeAPI.
type fakeDevice struct {
	info map[opencl.DeviceInfo][]byte
}

func newFakeDevice(name string, maxAlloc, globalMem uint64) fakeDevice {
	u32 := func(v uint32) []byte {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		return b
	}
	u64 := func(v uint64) []byte {
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, v)
		return b
	}
	return fakeDevice{info: map[opencl.DeviceInfo][]byte{
		opencl.DeviceName:              []byte(name + "\x00"),
		opencl.DeviceVendor:            []byte("vendor\x00"),
		opencl.DriverVersion:           []byte("1.0\x00"),
		opencl.DeviceVersion:           []byte("\x00"),
		opencl.DeviceMaxComputeUnits:   u32(16),
		opencl.DeviceMaxClockFrequency: u32(1500),
		opencl.DeviceMaxMemAllocSize:   u64(maxAlloc),
		opencl.DeviceGlobalMemSize:     u64(globalMem),
	}}
}

type fakePlatform struct {
	name    string
	vendor  string
	devices []fakeDevice
}

type fakeDispatch struct {
	kernel string
	handle opencl.Kernel
	offset []int
	global []int
	local  []int
}

// fakeAPI is an in-memory OpenCL driver.  The find_nonce kernel writes the
// next queued result into the buffer bound to its argument 3.
type fakeAPI struct {
	mtx sync.Mutex

	platforms []fakePlatform
	failCall  string
	buildLog  string

	// results are consumed by successive find_nonce dispatches.
	results []uint32

	// onFindNonce is called after every find_nonce dispatch, without
	// the driver lock held.
	onFindNonce func()

	next        uintptr
	live        map[uintptr]string
	bufferSize  map[opencl.Mem]int
	buffers     map[opencl.Mem][]byte
	kernelNames map[opencl.Kernel]string
	args        map[opencl.Kernel]map[uint32]opencl.KernelArg
	buildOpts   []string
	sources     [][]string
	calls       []string
	dispatches  []fakeDispatch
}

func newFakeAPI(platforms ...fakePlatform) *fakeAPI {
	return &fakeAPI{
		platforms:   platforms,
		next:        0x1000,
		live:        make(map[uintptr]string),
		bufferSize:  make(map[opencl.Mem]int),
		buffers:     make(map[opencl.Mem][]byte),
		kernelNames: make(map[opencl.Kernel]string),
		args:        make(map[opencl.Kernel]map[uint32]opencl.KernelArg),
	}
}

// call records a call and returns the configured failure for it.
//
// This function MUST be called with the lock held.
func (f *fakeAPI) call(name string) error {
	f.calls = append(f.calls, name)
	if f.failCall == name {
		return &opencl.Error{Call: "cl" + name, Status: opencl.OutOfResources}
	}
	return nil
}

func (f *fakeAPI) alloc(kind string) uintptr {
	f.next++
	f.live[f.next] = kind
	return f.next
}

func (f *fakeAPI) free(call string, h uintptr, kind string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err := f.call(call); err != nil {
		return err
	}
	if f.live[h] != kind {
		return &opencl.Error{Call: "cl" + call, Status: opencl.InvalidValue}
	}
	delete(f.live, h)
	return nil
}

func (f *fakeAPI) liveCount() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.live)
}

func (f *fakeAPI) releaseCalls() []string {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	var calls []string
	for _, c := range f.calls {
		if len(c) > 7 && c[:7] == "Release" {
			calls = append(calls, c)
		}
	}
	return calls
}

func (f *fakeAPI) findDispatches() []fakeDispatch {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	var out []fakeDispatch
	for _, d := range f.dispatches {
		if d.kernel == kernelFindNonce {
			out = append(out, d)
		}
	}
	return out
}

func (f *fakeAPI) PlatformIDs() ([]opencl.PlatformID, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err := f.call("GetPlatformIDs"); err != nil {
		return nil, err
	}
	ids := make([]opencl.PlatformID, len(f.platforms))
	for i := range f.platforms {
		ids[i] = opencl.PlatformID(i + 1)
	}
	return ids, nil
}

func (f *fakeAPI) platform(id opencl.PlatformID) (*fakePlatform, error) {
	i := int(id) - 1
	if i < 0 || i >= len(f.platforms) {
		return nil, &opencl.Error{Call: "clGetPlatformInfo", Status: opencl.InvalidPlatform}
	}
	return &f.platforms[i], nil
}

func (f *fakeAPI) PlatformInfo(id opencl.PlatformID, param opencl.PlatformInfo) ([]byte, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err := f.call("GetPlatformInfo"); err != nil {
		return nil, err
	}
	p, err := f.platform(id)
	if err != nil {
		return nil, err
	}
	switch param {
	case opencl.PlatformName:
		return []byte(p.name + "\x00"), nil
	case opencl.PlatformVendor:
		return []byte(p.vendor + "\x00"), nil
	}
	return nil, &opencl.Error{Call: "clGetPlatformInfo", Status: opencl.InvalidValue}
}

func (f *fakeAPI) DeviceIDs(id opencl.PlatformID) ([]opencl.DeviceID, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err := f.call("GetDeviceIDs"); err != nil {
		return nil, err
	}
	p, err := f.platform(id)
	if err != nil {
		return nil, err
	}
	ids := make([]opencl.DeviceID, len(p.devices))
	for i := range p.devices {
		ids[i] = opencl.DeviceID(int(id)*100 + i)
	}
	return ids, nil
}

func (f *fakeAPI) DeviceInfo(id opencl.DeviceID, param opencl.DeviceInfo) ([]byte, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err := f.call("GetDeviceInfo"); err != nil {
		return nil, err
	}
	p, err := f.platform(opencl.PlatformID(int(id) / 100))
	if err != nil {
		return nil, err
	}
	b, ok := p.devices[int(id)%100].info[param]
	if !ok {
		return nil, &opencl.Error{Call: "clGetDeviceInfo", Status: opencl.InvalidValue}
	}
	return b, nil
}

func (f *fakeAPI) CreateContext(opencl.DeviceID) (opencl.Context, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err := f.call("CreateContext"); err != nil {
		return 0, err
	}
	return opencl.Context(f.alloc("context")), nil
}

func (f *fakeAPI) ReleaseContext(ctx opencl.Context) error {
	return f.free("ReleaseContext", uintptr(ctx), "context")
}

func (f *fakeAPI) CreateCommandQueue(opencl.Context, opencl.DeviceID) (opencl.CommandQueue, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err := f.call("CreateCommandQueue"); err != nil {
		return 0, err
	}
	return opencl.CommandQueue(f.alloc("queue")), nil
}

func (f *fakeAPI) ReleaseCommandQueue(q opencl.CommandQueue) error {
	return f.free("ReleaseCommandQueue", uintptr(q), "queue")
}

func (f *fakeAPI) CreateBuffer(_ opencl.Context, size int) (opencl.Mem, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err := f.call("CreateBuffer"); err != nil {
		return 0, err
	}
	mem := opencl.Mem(f.alloc("buffer"))
	f.bufferSize[mem] = size
	// Only host visible buffers are backed.
	if size <= SeedSize {
		f.buffers[mem] = make([]byte, size)
	}
	return mem, nil
}

func (f *fakeAPI) ReleaseMemObject(mem opencl.Mem) error {
	return f.free("ReleaseMemObject", uintptr(mem), "buffer")
}

func (f *fakeAPI) CreateProgramWithSource(_ opencl.Context, sources []string) (opencl.Program, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err := f.call("CreateProgramWithSource"); err != nil {
		return 0, err
	}
	if len(sources) == 0 {
		return 0, &opencl.Error{Call: "clCreateProgramWithSource", Status: opencl.InvalidValue}
	}
	f.sources = append(f.sources, sources)
	return opencl.Program(f.alloc("program")), nil
}

func (f *fakeAPI) BuildProgram(_ opencl.Program, _ opencl.DeviceID, options string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.buildOpts = append(f.buildOpts, options)
	if err := f.call("BuildProgram"); err != nil {
		err.(*opencl.Error).Status = opencl.BuildProgramFailure
		err.(*opencl.Error).Log = f.buildLog
		return err
	}
	return nil
}

func (f *fakeAPI) ReleaseProgram(p opencl.Program) error {
	return f.free("ReleaseProgram", uintptr(p), "program")
}

func (f *fakeAPI) CreateKernel(_ opencl.Program, name string) (opencl.Kernel, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err := f.call("CreateKernel"); err != nil {
		return 0, err
	}
	k := opencl.Kernel(f.alloc("kernel"))
	f.kernelNames[k] = name
	f.args[k] = make(map[uint32]opencl.KernelArg)
	return k, nil
}

func (f *fakeAPI) SetKernelArg(k opencl.Kernel, index uint32, arg opencl.KernelArg) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err := f.call("SetKernelArg"); err != nil {
		return err
	}
	args, ok := f.args[k]
	if !ok {
		return &opencl.Error{Call: "clSetKernelArg", Status: opencl.InvalidKernel}
	}
	args[index] = arg
	return nil
}

func (f *fakeAPI) ReleaseKernel(k opencl.Kernel) error {
	return f.free("ReleaseKernel", uintptr(k), "kernel")
}

func (f *fakeAPI) EnqueueWriteBuffer(_ opencl.CommandQueue, mem opencl.Mem, blocking bool, data []byte) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err := f.call(fmt.Sprintf("EnqueueWriteBuffer(%d,%v)", len(data), blocking)); err != nil {
		return err
	}
	buf, ok := f.buffers[mem]
	if !ok || len(data) > len(buf) {
		return &opencl.Error{Call: "clEnqueueWriteBuffer", Status: opencl.InvalidMemObject}
	}
	copy(buf, data)
	return nil
}

func (f *fakeAPI) EnqueueReadBuffer(_ opencl.CommandQueue, mem opencl.Mem, blocking bool, data []byte) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err := f.call("EnqueueReadBuffer"); err != nil {
		return err
	}
	buf, ok := f.buffers[mem]
	if !ok || len(data) > len(buf) {
		return &opencl.Error{Call: "clEnqueueReadBuffer", Status: opencl.InvalidMemObject}
	}
	copy(data, buf)
	return nil
}

func (f *fakeAPI) EnqueueNDRangeKernel(_ opencl.CommandQueue, k opencl.Kernel, offset, global, local []int) error {
	f.mtx.Lock()

	name := f.kernelNames[k]
	if err := f.call("EnqueueNDRangeKernel(" + name + ")"); err != nil {
		f.mtx.Unlock()
		return err
	}
	f.dispatches = append(f.dispatches, fakeDispatch{
		kernel: name,
		handle: k,
		offset: append([]int(nil), offset...),
		global: append([]int(nil), global...),
		local:  append([]int(nil), local...),
	})

	if name != kernelFindNonce {
		f.mtx.Unlock()
		return nil
	}
	if _, ok := f.args[k][0]; !ok {
		f.mtx.Unlock()
		return &opencl.Error{Call: "clEnqueueNDRangeKernel", Status: opencl.InvalidArgValue}
	}
	if len(f.results) > 0 {
		result := f.results[0]
		f.results = f.results[1:]
		buf := f.buffers[f.args[k][3].Mem]
		binary.LittleEndian.PutUint32(buf, result)
	}
	hook := f.onFindNonce
	f.mtx.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

// fakeChain is a chain head that can be moved by tests.
type fakeChain struct {
	mtx  sync.Mutex
	head chainhash.Hash
}

func (c *fakeChain) HeadHash() chainhash.Hash {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.head
}

func (c *fakeChain) setHead(hash chainhash.Hash) {
	c.mtx.Lock()
	c.head = hash
	c.mtx.Unlock()
}
