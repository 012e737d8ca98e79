package miner

import (
	"errors"
	"fmt"

	"github.com/MonteCarloClub/plutonium/opencl"
)

var (
	// ErrNoPlatforms is returned when the driver reports no OpenCL
	// platform.
	ErrNoPlatforms = errors.New("no OpenCL platforms found")

	// ErrNoDevices is returned when no GPU is left to mine on after
	// applying the device allow-list.
	ErrNoDevices = errors.New("failed to find any usable GPU devices")
)

// provision creates a worker for every allowed GPU on every platform.
func provision(api opencl.API, cfg *Config) ([]*Worker, error) {
	platforms, err := api.PlatformIDs()
	if err != nil {
		return nil, err
	}
	if len(platforms) == 0 {
		return nil, ErrNoPlatforms
	}
	log.Debugf("Found %d OpenCL platforms", len(platforms))

	sources := cfg.KernelSources
	if len(sources) == 0 {
		sources = KernelSources()
	}

	var workers []*Worker
	fail := func(err error) ([]*Worker, error) {
		for _, w := range workers {
			w.Release()
		}
		return nil, err
	}

	var index uint32
	for _, platform := range platforms {
		name, err := opencl.PlatformString(api, platform, opencl.PlatformName)
		if err != nil {
			return fail(err)
		}
		vendor, err := opencl.PlatformString(api, platform, opencl.PlatformVendor)
		if err != nil {
			return fail(err)
		}
		family := classifyVendor(vendor)
		if family == FamilyUnknown {
			log.Warnf("Unsupported platform %s (%s)", name, vendor)
		}

		devices, err := api.DeviceIDs(platform)
		if err != nil {
			return fail(err)
		}
		if len(devices) == 0 {
			log.Warnf("No GPU devices found on platform %s", name)
			continue
		}
		log.Debugf("Platform %s (%s): %d GPU devices", name, family,
			len(devices))

		for _, id := range devices {
			devIndex := index
			index++

			if !cfg.allowedDevice(devIndex) {
				log.Infof("Device #%d disabled", devIndex)
				continue
			}

			device, err := describeDevice(api, id)
			if err != nil {
				return fail(fmt.Errorf("device #%d: %w", devIndex, err))
			}
			device.Index = devIndex
			device.Platform = name
			device.Family = family

			memoryMB := cfg.memoryOverride(devIndex)
			if memoryMB == 0 {
				memoryMB = device.defaultMemoryMB()
			}
			if NoncesPerRun(memoryMB) == 0 {
				return fail(fmt.Errorf("device #%d: memory budget of %d MB "+
					"is too small", devIndex, memoryMB))
			}

			w, err := newWorker(api, id, device, memoryMB, sources)
			if err != nil {
				return fail(fmt.Errorf("device #%d: %w", devIndex, err))
			}
			workers = append(workers, w)

			log.Infof("Device #%d: %s (%s), driver %s, %s", devIndex,
				device.Name, device.Vendor, device.DriverVersion,
				device.DeviceVersion)
			log.Infof("Device #%d: %d compute units @ %d MHz, using %d MB, "+
				"%d nonces per run, %d jobs per block", devIndex,
				device.MaxComputeUnits, device.MaxClockFrequency, memoryMB,
				w.NoncesPerRun(), w.geom.jobsPerBlock)
		}
	}

	if len(workers) == 0 {
		return nil, ErrNoDevices
	}
	return workers, nil
}

// describeDevice queries the descriptor of a device.
func describeDevice(api opencl.API, id opencl.DeviceID) (Device, error) {
	var (
		d   Device
		err error
	)
	if d.Name, err = opencl.DeviceString(api, id, opencl.DeviceName); err != nil {
		return d, err
	}
	if d.Vendor, err = opencl.DeviceString(api, id, opencl.DeviceVendor); err != nil {
		return d, err
	}
	if d.DriverVersion, err = opencl.DeviceString(api, id, opencl.DriverVersion); err != nil {
		return d, err
	}
	if d.DeviceVersion, err = opencl.DeviceString(api, id, opencl.DeviceVersion); err != nil {
		return d, err
	}
	d.MaxComputeUnits, err = opencl.DeviceUint32(api, id, opencl.DeviceMaxComputeUnits)
	if err != nil {
		return d, err
	}
	d.MaxClockFrequency, err = opencl.DeviceUint32(api, id, opencl.DeviceMaxClockFrequency)
	if err != nil {
		return d, err
	}
	d.MaxMemAllocSize, err = opencl.DeviceUint64(api, id, opencl.DeviceMaxMemAllocSize)
	if err != nil {
		return d, err
	}
	d.GlobalMemSize, err = opencl.DeviceUint64(api, id, opencl.DeviceGlobalMemSize)
	if err != nil {
		return d, err
	}

	if d.DriverVersion == "" {
		d.DriverVersion = "?"
	}
	if d.DeviceVersion == "" {
		d.DeviceVersion = "?"
	}
	return d, nil
}
