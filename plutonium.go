package main

import (
	"context"
	"os"
	"time"

	"github.com/MonteCarloClub/plutonium/blockchain"
	"github.com/MonteCarloClub/plutonium/log"
	"github.com/MonteCarloClub/plutonium/miner"
	"github.com/MonteCarloClub/plutonium/opencl"
	"github.com/MonteCarloClub/plutonium/pool"
	"github.com/MonteCarloClub/plutonium/pooljson"
	"github.com/MonteCarloClub/plutonium/wire"
)

// statsInterval is how often the pool statistics are logged.
const statsInterval = 10 * time.Minute

var (
	cfg *config

	plmnLog = log.PlmnLog
)

func main() {
	// Work around defer not working after os.Exit()
	if err := plutoniumMain(); err != nil {
		os.Exit(1)
	}
}

// plutoniumMain is the real main function for plutonium.  It is necessary to
// work around the fact that deferred functions do not run when os.Exit() is
// called.
func plutoniumMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if log.LogRotator != nil {
			log.LogRotator.Close()
		}
	}()

	// Get a channel that will be closed when a shutdown signal has been
	// triggered from an OS signal such as SIGINT (Ctrl+C).
	interrupt := interruptListener()
	defer plmnLog.Info("Shutdown complete")

	// Show version at startup.
	plmnLog.Infof("Version %s", version())
	plmnLog.Infof("Mining for %s on %s (%s)", cfg.Address, cfg.Pool,
		cfg.chainParams.Name)

	sources, err := loadKernels(cfg.KernelDir)
	if err != nil {
		plmnLog.Errorf("%v", err)
		return err
	}

	api, err := opencl.New()
	if err != nil {
		plmnLog.Errorf("Unable to load OpenCL: %v", err)
		return err
	}

	chain, err := blockchain.New(&blockchain.Config{
		ChainParams: cfg.chainParams,
	})
	if err != nil {
		plmnLog.Errorf("Unable to create the chain: %v", err)
		return err
	}

	// The coordinator needs the miner and the miner reports shares to the
	// coordinator, so shares go through this variable.  Mining only starts
	// once the coordinator runs.
	var coordinator *pool.Coordinator
	gpuMiner, err := miner.New(&miner.Config{
		Devices:       cfg.Devices,
		Memory:        cfg.Memory,
		KernelSources: sources,
		Chain:         chain,
		OnShare: func(block *wire.MsgBlock) {
			if err := coordinator.SubmitShare(block); err != nil {
				plmnLog.Warnf("Unable to submit share: %v", err)
			}
		},
	}, api)
	if err != nil {
		plmnLog.Errorf("Unable to start the miner: %v", err)
		return err
	}
	defer func() {
		plmnLog.Infof("Releasing GPU resources...")
		if err := gpuMiner.Close(); err != nil {
			plmnLog.Errorf("Unable to release GPU resources: %v", err)
		}
	}()
	for _, w := range gpuMiner.Workers() {
		device := w.Device()
		plmnLog.Infof("Using device #%d: %s (%s), %d MB, %d nonces per run",
			device.Index, device.Name, device.Family, w.MemoryMB(),
			w.NoncesPerRun())
	}

	coordinator, err = pool.New(&pool.Config{
		ChainParams: cfg.chainParams,
		Chain:       chain,
		Miner:       gpuMiner,
		Mode:        pooljson.Mode(cfg.Mode),
		Address:     cfg.Address,
		DeviceID:    cfg.DeviceID,
		DeviceData:  cfg.deviceData,
	})
	if err != nil {
		plmnLog.Errorf("Unable to create the pool coordinator: %v", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		coordinator.Serve(ctx, cfg.poolConn)
		close(done)
	}()
	go statsHandler(ctx, coordinator, gpuMiner)

	// Wait until the interrupt signal is received from an OS signal.
	<-interrupt
	cancel()
	<-done
	return nil
}

// statsHandler logs miner failures as they happen and the pool statistics
// periodically.  It must be run as a goroutine.
func statsHandler(ctx context.Context, coordinator *pool.Coordinator, gpuMiner *miner.Miner) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-gpuMiner.Errors():
			plmnLog.Errorf("Mining stopped: %v", err)

		case <-ticker.C:
			stats := coordinator.Stats()
			valid, stale := gpuMiner.Shares()
			plmnLog.Infof("Pool %s: %d shares sent, %d found, %d stale, "+
				"%d pool errors, %.0f H/s", stats.State, stats.SharesSent,
				valid, stale, stats.PoolErrors, gpuMiner.HashesPerSecond())

		case <-ctx.Done():
			return
		}
	}
}
