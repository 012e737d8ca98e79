package miner

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MonteCarloClub/plutonium/opencl"
	"github.com/MonteCarloClub/plutonium/wire"
)

const (
	// hpsUpdateInterval is how often the hash rate is recomputed.
	hpsUpdateInterval = 15 * time.Second

	// hashRateLogInterval is how often the hash rate is logged while
	// mining.
	hashRateLogInterval = time.Minute
)

// ErrMinerClosed is returned when mining is requested after Close.
var ErrMinerClosed = errors.New("miner closed")

// round is the work handed out for one block template.
type round struct {
	generation uint64
	template   *wire.MsgBlock
	seed       [SeedSize]byte

	// cursor is the first nonce not handed to a worker yet.
	cursor uint64
}

// next reserves count nonces and returns the first of them.  ok is false once
// the nonce space is exhausted.
func (r *round) next(count uint32) (uint32, bool) {
	end := atomic.AddUint64(&r.cursor, uint64(count))
	start := end - uint64(count)
	if start >= maxNonce {
		return 0, false
	}
	return uint32(start), true
}

// Miner mines blocks on every provisioned GPU.  Each worker runs on its own
// goroutine; workers split the nonce space of a template between them.
type Miner struct {
	// The following variables must only be used atomically.
	generation uint64
	target     uint32
	hashes     uint64
	shares     uint64
	stale      uint64
	hpsBits    uint64

	cfg     Config
	workers []*Worker

	mtx    sync.Mutex
	cancel context.CancelFunc
	closed bool

	wg   sync.WaitGroup
	errs chan error
	quit chan struct{}
}

// New provisions a worker for every allowed GPU.  Close must be called to
// release them.
func New(cfg *Config, api opencl.API) (*Miner, error) {
	workers, err := provision(api, cfg)
	if err != nil {
		return nil, err
	}

	m := &Miner{
		cfg:     *cfg,
		workers: workers,
		errs:    make(chan error, len(workers)),
		quit:    make(chan struct{}),
	}
	go m.speedMonitor()
	return m, nil
}

// Workers returns the provisioned workers.
func (m *Miner) Workers() []*Worker {
	return m.workers
}

// SetTarget sets the compact share target every following attempt is run
// against.
func (m *Miner) SetTarget(compact uint32) {
	atomic.StoreUint32(&m.target, compact)
}

// Target returns the compact share target.
func (m *Miner) Target() uint32 {
	return atomic.LoadUint32(&m.target)
}

// Generation returns the work generation.  It changes every time mining is
// started or stopped.
func (m *Miner) Generation() uint64 {
	return atomic.LoadUint64(&m.generation)
}

// Errors returns the channel worker errors are delivered on.  Errors are
// dropped while nobody drains it.
func (m *Miner) Errors() <-chan error {
	return m.errs
}

// HashCount returns how many nonces have been hashed so far.
func (m *Miner) HashCount() uint64 {
	return atomic.LoadUint64(&m.hashes)
}

// HashesPerSecond returns the recent hash rate of all workers.
func (m *Miner) HashesPerSecond() float64 {
	return math.Float64frombits(atomic.LoadUint64(&m.hpsBits))
}

// Shares returns how many found blocks were reported and how many were
// dropped because the chain head had moved on.
func (m *Miner) Shares() (valid, stale uint64) {
	return atomic.LoadUint64(&m.shares), atomic.LoadUint64(&m.stale)
}

// Mine starts mining template on every worker and returns immediately.  Work
// on the previous template is abandoned as soon as each worker finishes its
// current attempt.  Mining ends when the nonce space is exhausted, ctx is
// done, or Mine or Stop is called again.
func (m *Miner) Mine(ctx context.Context, template *wire.MsgBlock) error {
	seed, err := newSeed(template.Header.Bytes())
	if err != nil {
		return err
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.closed {
		return ErrMinerClosed
	}
	if m.cancel != nil {
		m.cancel()
	}

	r := &round{
		generation: atomic.AddUint64(&m.generation, 1),
		template:   template.Copy(),
		seed:       seed,
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	log.Debugf("Mining block at height %d on %d devices (generation %d)",
		template.Header.Height, len(m.workers), r.generation)

	var g errgroup.Group
	for _, w := range m.workers {
		w := w
		g.Go(func() error {
			return m.mineWorker(ctx, w, r)
		})
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		if err := g.Wait(); err != nil {
			log.Errorf("Mining generation %d failed: %v", r.generation, err)
			select {
			case m.errs <- err:
			default:
			}
		}
	}()
	return nil
}

// Stop abandons the current template.
func (m *Miner) Stop() {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	atomic.AddUint64(&m.generation, 1)
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// Wait blocks until no worker is mining.
func (m *Miner) Wait() {
	m.wg.Wait()
}

// Close stops mining and releases every worker.
func (m *Miner) Close() error {
	m.mtx.Lock()
	if m.closed {
		m.mtx.Unlock()
		return ErrMinerClosed
	}
	m.closed = true
	m.mtx.Unlock()

	m.Stop()
	m.Wait()
	close(m.quit)

	var firstErr error
	for _, w := range m.workers {
		if err := w.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// mineWorker runs attempts on one worker until the round is superseded or
// exhausted.
func (m *Miner) mineWorker(ctx context.Context, w *Worker, r *round) error {
	if err := w.setup(r.seed[:]); err != nil {
		return err
	}

	npr := w.NoncesPerRun()
	for {
		if m.Generation() != r.generation || ctx.Err() != nil {
			return nil
		}
		nonce, ok := r.next(npr)
		if !ok {
			log.Debugf("Device #%d exhausted the nonce space", w.device.Index)
			return nil
		}

		found, err := w.attempt(nonce, m.Target())
		if err != nil {
			return err
		}
		atomic.AddUint64(&m.hashes, uint64(npr))

		// Another template arrived while the kernels ran.
		if m.Generation() != r.generation {
			return nil
		}
		if found != 0 {
			m.submit(w, r, found)
		}
	}
}

// submit reports a found nonce when the template still extends the chain
// head.
func (m *Miner) submit(w *Worker, r *round, nonce uint32) {
	block := r.template.Copy()
	block.Header.Nonce = nonce

	head := m.cfg.Chain.HeadHash()
	if !block.Header.PrevBlock.IsEqual(&head) {
		atomic.AddUint64(&m.stale, 1)
		log.Infof("Device #%d found stale share %d for block %v (head %v)",
			w.device.Index, nonce, block.Header.PrevBlock, head)
		return
	}

	atomic.AddUint64(&m.shares, 1)
	log.Infof("Device #%d found share %d at height %d", w.device.Index,
		nonce, block.Header.Height)
	if m.cfg.OnShare != nil {
		m.cfg.OnShare(block)
	}
}

// speedMonitor keeps the hash rate current and logs it while mining.
//
// It must be run as a goroutine.
func (m *Miner) speedMonitor() {
	ticker := time.NewTicker(hpsUpdateInterval)
	defer ticker.Stop()

	lastHashes := m.HashCount()
	lastTime := time.Now()
	lastLog := lastTime

out:
	for {
		select {
		case now := <-ticker.C:
			hashes := m.HashCount()
			elapsed := now.Sub(lastTime).Seconds()
			if elapsed <= 0 {
				continue
			}
			hps := float64(hashes-lastHashes) / elapsed
			atomic.StoreUint64(&m.hpsBits, math.Float64bits(hps))
			lastHashes, lastTime = hashes, now

			if hps > 0 && now.Sub(lastLog) >= hashRateLogInterval {
				valid, stale := m.Shares()
				log.Infof("Hash speed: %6.2f kH/s, shares: %d valid, %d stale",
					hps/1000, valid, stale)
				lastLog = now
			}

		case <-m.quit:
			break out
		}
	}
	log.Trace("Hash speed monitor done")
}
