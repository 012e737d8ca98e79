package miner

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/MonteCarloClub/plutonium/opencl"
)

// Kernel entry points of the mining program.
const (
	kernelInitMemory = "init_memory"
	kernelArgon2     = "argon2"
	kernelFindNonce  = "find_nonce"
)

// ErrWorkerReleased is returned when a worker is used after its resources
// were released.
var ErrWorkerReleased = errors.New("worker already released")

// zeroNonce resets the result buffer.
var zeroNonce = []byte{0, 0, 0, 0}

// Worker owns the OpenCL resources of one GPU and runs the three kernel
// pipeline on it.  A worker is driven by one goroutine at a time; the mutex
// only orders a new template's setup after an attempt still in flight for the
// previous one.
type Worker struct {
	api      opencl.API
	device   Device
	memoryMB uint64
	geom     geometry

	mtx      sync.Mutex
	released bool

	context opencl.Context
	queue   opencl.CommandQueue
	program opencl.Program

	memBlocks opencl.Mem
	memSeed   opencl.Mem
	memNonce  opencl.Mem

	initMemory opencl.Kernel
	argon2     opencl.Kernel
	findNonce  opencl.Kernel
}

// newWorker creates every resource the pipeline needs on the device.  Any
// resource created before a failure is released again.
func newWorker(api opencl.API, id opencl.DeviceID, device Device,
	memoryMB uint64, sources []string) (*Worker, error) {

	w := &Worker{
		api:      api,
		device:   device,
		memoryMB: memoryMB,
		geom:     newGeometry(device.Family, NoncesPerRun(memoryMB)),
	}
	if err := w.create(id, sources); err != nil {
		w.release()
		return nil, err
	}
	return w, nil
}

func (w *Worker) create(id opencl.DeviceID, sources []string) error {
	var err error

	log.Tracef("Creating OpenCL context for device #%d", w.device.Index)
	if w.context, err = w.api.CreateContext(id); err != nil {
		return err
	}

	log.Tracef("Creating OpenCL buffers for device #%d", w.device.Index)
	if w.memBlocks, err = w.api.CreateBuffer(w.context, w.geom.blocksMemSize); err != nil {
		return err
	}
	if w.memSeed, err = w.api.CreateBuffer(w.context, SeedSize); err != nil {
		return err
	}
	if w.memNonce, err = w.api.CreateBuffer(w.context, len(zeroNonce)); err != nil {
		return err
	}

	log.Tracef("Building OpenCL program for device #%d", w.device.Index)
	if w.program, err = w.api.CreateProgramWithSource(w.context, sources); err != nil {
		return err
	}
	err = w.api.BuildProgram(w.program, id, w.device.Family.buildOptions())
	if err != nil {
		return err
	}

	if w.queue, err = w.api.CreateCommandQueue(w.context, id); err != nil {
		return err
	}

	memoryCost := opencl.Uint32Arg(argon2MemoryCost)
	blocks := opencl.BufferArg(w.memBlocks)

	w.initMemory, err = w.createKernel(kernelInitMemory,
		opencl.BufferArg(w.memSeed), blocks, memoryCost)
	if err != nil {
		return err
	}
	w.argon2, err = w.createKernel(kernelArgon2,
		opencl.LocalArg(w.geom.sharedMemSize), blocks, memoryCost)
	if err != nil {
		return err
	}

	// The target, argument 0, is bound by every attempt.
	if w.findNonce, err = w.api.CreateKernel(w.program, kernelFindNonce); err != nil {
		return err
	}
	return w.bindArgs(w.findNonce, 1, blocks, memoryCost,
		opencl.BufferArg(w.memNonce))
}

func (w *Worker) createKernel(name string, args ...opencl.KernelArg) (opencl.Kernel, error) {
	kernel, err := w.api.CreateKernel(w.program, name)
	if err != nil {
		return 0, err
	}
	if err := w.bindArgs(kernel, 0, args...); err != nil {
		w.api.ReleaseKernel(kernel)
		return 0, err
	}
	return kernel, nil
}

func (w *Worker) bindArgs(kernel opencl.Kernel, first uint32, args ...opencl.KernelArg) error {
	for i, arg := range args {
		if err := w.api.SetKernelArg(kernel, first+uint32(i), arg); err != nil {
			return err
		}
	}
	return nil
}

// Device returns the descriptor of the worker's GPU.
func (w *Worker) Device() Device {
	return w.device
}

// MemoryMB returns the memory budget of the worker in megabytes.
func (w *Worker) MemoryMB() uint64 {
	return w.memoryMB
}

// NoncesPerRun returns how many nonces one attempt covers.
func (w *Worker) NoncesPerRun() uint32 {
	return uint32(w.geom.noncesPerRun)
}

// setup loads a new seed and clears the result buffer.
func (w *Worker) setup(seed []byte) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	if w.released {
		return ErrWorkerReleased
	}
	if err := w.api.EnqueueWriteBuffer(w.queue, w.memSeed, false, seed); err != nil {
		return err
	}
	return w.api.EnqueueWriteBuffer(w.queue, w.memNonce, true, zeroNonce)
}

// attempt hashes NoncesPerRun nonces starting at nonce and returns a nonce
// whose hash meets the compact target, or 0 when there is none.
func (w *Worker) attempt(nonce, target uint32) (uint32, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	if w.released {
		return 0, ErrWorkerReleased
	}

	err := w.api.EnqueueNDRangeKernel(w.queue, w.initMemory,
		[]int{int(nonce), 0}, w.geom.initGlobal, w.geom.initLocal)
	if err != nil {
		return 0, err
	}
	err = w.api.EnqueueNDRangeKernel(w.queue, w.argon2, nil,
		w.geom.argon2Global, w.geom.argon2Local)
	if err != nil {
		return 0, err
	}
	err = w.api.SetKernelArg(w.findNonce, 0, opencl.Uint32Arg(target))
	if err != nil {
		return 0, err
	}
	err = w.api.EnqueueNDRangeKernel(w.queue, w.findNonce, []int{int(nonce)},
		w.geom.findGlobal, w.geom.findLocal)
	if err != nil {
		return 0, err
	}

	result := make([]byte, len(zeroNonce))
	if err := w.api.EnqueueReadBuffer(w.queue, w.memNonce, true, result); err != nil {
		return 0, err
	}
	found := binary.LittleEndian.Uint32(result)
	if found != 0 {
		err := w.api.EnqueueWriteBuffer(w.queue, w.memNonce, true, zeroNonce)
		if err != nil {
			return 0, err
		}
	}
	return found, nil
}

// Release frees every OpenCL resource of the worker.  Kernels go first and
// the context last.  A worker can only be released once.
func (w *Worker) Release() error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	if w.released {
		return ErrWorkerReleased
	}
	return w.release()
}

// release frees whatever was created and returns the first error.  Every
// resource is attempted even after a failure.
//
// This function MUST be called with the worker lock held or before the
// worker is shared.
func (w *Worker) release() error {
	w.released = true

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, k := range []opencl.Kernel{w.initMemory, w.argon2, w.findNonce} {
		if k != 0 {
			keep(w.api.ReleaseKernel(k))
		}
	}
	for _, m := range []opencl.Mem{w.memBlocks, w.memSeed, w.memNonce} {
		if m != 0 {
			keep(w.api.ReleaseMemObject(m))
		}
	}
	if w.program != 0 {
		keep(w.api.ReleaseProgram(w.program))
	}
	if w.queue != 0 {
		keep(w.api.ReleaseCommandQueue(w.queue))
	}
	if w.context != 0 {
		keep(w.api.ReleaseContext(w.context))
	}

	w.initMemory, w.argon2, w.findNonce = 0, 0, 0
	w.memBlocks, w.memSeed, w.memNonce = 0, 0, 0
	w.program, w.queue, w.context = 0, 0, 0

	if firstErr != nil {
		log.Warnf("Failed to release device #%d: %v", w.device.Index, firstErr)
	}
	return firstErr
}
