package pool

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MonteCarloClub/plutonium/blockchain"
	"github.com/MonteCarloClub/plutonium/chaincfg"
	"github.com/MonteCarloClub/plutonium/pooljson"
	"github.com/MonteCarloClub/plutonium/wire"
	btcchain "github.com/btcsuite/btcd/blockchain"
)

var (
	// ErrNotConnected is returned when a share is submitted while the
	// coordinator has no pool connection.
	ErrNotConnected = errors.New("not connected to a pool")

	// ErrAlreadyRunning is returned by Run while another connection is
	// being served.
	ErrAlreadyRunning = errors.New("coordinator is already running")
)

// lunasPerCoin is the number of the smallest units in one coin.
const lunasPerCoin = 100000

// State is the connection and mining state of a Coordinator.
type State int

const (
	// StateDisconnected means no connection is being served.
	StateDisconnected State = iota

	// StateConnecting means the register message was sent and the pool
	// has not confirmed it yet.
	StateConnecting

	// StateRegistered means the pool confirmed the registration but no
	// settings arrived yet.
	StateRegistered

	// StateIdle means the settings are known and nothing is mined.
	StateIdle

	// StateMining means a template is being mined.
	StateMining
)

var stateStrings = map[State]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateRegistered:   "registered",
	StateIdle:         "idle",
	StateMining:       "mining",
}

// String returns the State as a human-readable name.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("Unknown State (%d)", int(s))
}

// MinerHandle is the part of the GPU miner the coordinator drives.
type MinerHandle interface {
	// Mine starts mining template, abandoning the previous one.
	Mine(ctx context.Context, template *wire.MsgBlock) error

	// Stop abandons the current template.
	Stop()

	// SetTarget sets the share target in compact form.
	SetTarget(compact uint32)
}

// Conn is a message connection to a pool.  Client implements it.
type Conn interface {
	Send(msg interface{}) error
	Receive(ctx context.Context) (interface{}, error)
}

// timeReporter is implemented by connections that know the pool's clock.
type timeReporter interface {
	Host() string
	ServerTime() (time.Time, bool)
}

// blockProcessor is implemented by chains that accept the blocks the pool
// announces.
type blockProcessor interface {
	ProcessBlock(block *wire.MsgBlock, flags blockchain.BehaviorFlags) (bool, error)
}

// Handlers defines callback function pointers to invoke with pool messages.
// All functions are called from the goroutine running Coordinator.Run, so
// they must not block.  Any of them may be nil.
type Handlers struct {
	// OnRegistered is invoked when the pool confirms the registration.
	OnRegistered func()

	// OnSettings is invoked with new settings, after the target was
	// handed to the miner.
	OnSettings func(settings *pooljson.SettingsMsg)

	// OnDecision is invoked with the fork choice for every announced
	// block.
	OnDecision func(previous *wire.MsgBlock, decision *Decision)

	// OnBalance is invoked when the pool reports the balance.
	OnBalance func(balance *pooljson.BalanceMsg)

	// OnError is invoked when the pool reports an error.
	OnError func(reason string)
}

// Config is a descriptor containing the pool coordinator configuration.
type Config struct {
	// ChainParams identifies the network.  Its genesis hash is sent on
	// registration and committed to by the interlink of mined blocks.
	//
	// This field is required.
	ChainParams *chaincfg.Params

	// Chain is the local view of the block chain announced blocks are
	// checked against.  When it also implements ProcessBlock, accepted
	// blocks are added to it.
	//
	// This field is required.
	Chain blockchain.Chain

	// Miner mines the accepted templates.
	//
	// This field is required.
	Miner MinerHandle

	// Mode is the mining mode to register with.
	Mode pooljson.Mode

	// Address is rewarded for the shares.
	Address string

	// DeviceID identifies the device to the pool.
	DeviceID uint32

	// DeviceData is optional device metadata.
	DeviceData *pooljson.DeviceData

	// TimeSource provides the network time for block timestamps.  A new
	// median time source is used when it is nil.
	TimeSource btcchain.MedianTimeSource

	// Handlers are optional callbacks.
	Handlers *Handlers
}

// Stats are the counters of a Coordinator.
type Stats struct {
	State      State
	SharesSent uint64
	PoolErrors uint64

	// Balance is the last balance the pool reported, or nil.
	Balance *pooljson.BalanceMsg
}

// Coordinator speaks the pool protocol on one connection at a time: it
// registers, applies settings, runs the fork choice on announced blocks and
// drives the miner accordingly.
type Coordinator struct {
	sharesSent uint64 // atomic
	poolErrors uint64 // atomic
	retryCount int64  // atomic

	cfg      Config
	genesis  string
	handlers Handlers

	// mtx protects the fields below.
	mtx      sync.Mutex
	state    State
	conn     Conn
	ctx      context.Context
	settings *pooljson.SettingsMsg
	template *Template
	balance  *pooljson.BalanceMsg
}

// New returns a coordinator using the provided configuration.
func New(cfg *Config) (*Coordinator, error) {
	if cfg.ChainParams == nil {
		return nil, errors.New("pool.New chain parameters nil")
	}
	if cfg.Chain == nil {
		return nil, errors.New("pool.New chain nil")
	}
	if cfg.Miner == nil {
		return nil, errors.New("pool.New miner nil")
	}
	switch cfg.Mode {
	case pooljson.ModeNano, pooljson.ModeSmart:
	default:
		return nil, fmt.Errorf("pool.New unknown mode %q", cfg.Mode)
	}

	c := &Coordinator{
		cfg:     *cfg,
		genesis: base64.StdEncoding.EncodeToString(cfg.ChainParams.GenesisHash[:]),
	}
	if c.cfg.TimeSource == nil {
		c.cfg.TimeSource = btcchain.NewMedianTime()
	}
	if cfg.Handlers != nil {
		c.handlers = *cfg.Handlers
	}
	return c, nil
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.state
}

// Stats returns the current counters.
func (c *Coordinator) Stats() Stats {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	stats := Stats{
		State:      c.state,
		SharesSent: atomic.LoadUint64(&c.sharesSent),
		PoolErrors: atomic.LoadUint64(&c.poolErrors),
	}
	if c.balance != nil {
		balance := *c.balance
		stats.Balance = &balance
	}
	return stats
}

// Run registers with the pool on conn and handles its messages until the
// connection fails, a message cannot be handled or ctx is done.  Mining is
// stopped before Run returns.  The returned error is never nil.
func (c *Coordinator) Run(ctx context.Context, conn Conn) error {
	c.mtx.Lock()
	if c.conn != nil {
		c.mtx.Unlock()
		return ErrAlreadyRunning
	}
	c.conn = conn
	c.ctx = ctx
	c.state = StateConnecting
	c.mtx.Unlock()

	defer c.reset()

	if tr, ok := conn.(timeReporter); ok {
		if t, ok := tr.ServerTime(); ok {
			c.cfg.TimeSource.AddTimeSample(tr.Host(), t)
		}
	}

	register := pooljson.NewRegisterMsg(c.cfg.Mode, c.cfg.Address,
		c.cfg.DeviceID, c.cfg.DeviceData, c.genesis)
	if err := conn.Send(register); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	log.Infof("Registering with the pool as device %d in %s mode",
		c.cfg.DeviceID, c.cfg.Mode)

	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			return err
		}
		if err := c.handleMessage(msg); err != nil {
			return err
		}
	}
}

// reset stops mining and forgets the connection state.
func (c *Coordinator) reset() {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.cfg.Miner.Stop()
	c.state = StateDisconnected
	c.conn = nil
	c.ctx = nil
	c.settings = nil
	c.template = nil
}

// handleMessage dispatches one pool message.
func (c *Coordinator) handleMessage(msg interface{}) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	switch msg := msg.(type) {
	case *pooljson.RegisteredMsg:
		if c.state == StateConnecting {
			c.state = StateRegistered
		}
		atomic.StoreInt64(&c.retryCount, 0)
		log.Infof("Pool registration complete")
		if c.handlers.OnRegistered != nil {
			c.handlers.OnRegistered()
		}

	case *pooljson.SettingsMsg:
		return c.handleSettings(msg)

	case *pooljson.NewBlockMsg:
		return c.handleNewBlock(msg)

	case *pooljson.ErrorMsg:
		atomic.AddUint64(&c.poolErrors, 1)
		log.Warnf("Pool error: %s", msg.Reason)
		if c.handlers.OnError != nil {
			c.handlers.OnError(msg.Reason)
		}

	case *pooljson.BalanceMsg:
		c.balance = msg
		payout := ""
		if msg.PayoutRequestActive {
			payout = ", payout requested"
		}
		log.Infof("Pool balance: %s, confirmed %s%s", formatLunas(msg.Balance),
			formatLunas(msg.ConfirmedBalance), payout)
		if c.handlers.OnBalance != nil {
			c.handlers.OnBalance(msg)
		}

	default:
		log.Warnf("Ignoring unexpected %T from the pool", msg)
	}
	return nil
}

// handleSettings applies new settings.  Only the target is used; it is the
// sole source of the share target the miner checks hashes against.
//
// This function MUST be called with the coordinator lock held.
func (c *Coordinator) handleSettings(settings *pooljson.SettingsMsg) error {
	c.settings = settings
	c.cfg.Miner.SetTarget(settings.TargetCompact)

	target := blockchain.CompactToBig(settings.TargetCompact)
	difficulty := blockchain.TargetToDifficulty(c.cfg.ChainParams, target)
	log.Infof("Pool settings: share target %08x (difficulty %.2f)",
		settings.TargetCompact, difficulty)
	log.Debugf("Pool settings: address %s, extra data %q, nonce %d",
		settings.Address, settings.ExtraData, settings.Nonce)

	if c.state < StateIdle {
		c.state = StateIdle
	}
	if c.handlers.OnSettings != nil {
		c.handlers.OnSettings(settings)
	}

	// A block announced before the settings is mined now.
	if c.state != StateMining && c.template != nil {
		return c.startMining()
	}
	return nil
}

// handleNewBlock runs the fork choice on an announced block and starts or
// pauses mining.
//
// This function MUST be called with the coordinator lock held.
func (c *Coordinator) handleNewBlock(msg *pooljson.NewBlockMsg) error {
	previous, err := wire.NewBlockFromBase64(msg.PreviousBlock)
	if err != nil {
		return fmt.Errorf("new-block: previous block: %w", err)
	}
	bodyHash, err := wire.HashFromBase64(msg.BodyHash)
	if err != nil {
		return fmt.Errorf("new-block: body hash: %w", err)
	}
	accountsHash, err := wire.HashFromBase64(msg.AccountsHash)
	if err != nil {
		return fmt.Errorf("new-block: accounts hash: %w", err)
	}

	prevHash := previous.BlockHash()
	log.Infof("New base block from the pool on top of %v (height %d)",
		prevHash, previous.Header.Height)
	log.Debugf("Chain head is %v", c.cfg.Chain.HeadHash())

	// An empty chain starts at the first block the pool announces.
	processor, canProcess := c.cfg.Chain.(blockProcessor)
	if canProcess && c.cfg.Chain.Head() == nil {
		if _, err := processor.ProcessBlock(previous, blockchain.BFCheckpoint); err != nil {
			return fmt.Errorf("new-block: %w", err)
		}
	}

	decision, err := ForkChoice(c.cfg.Chain, previous)
	if err != nil {
		return fmt.Errorf("new-block: %w", err)
	}
	if c.handlers.OnDecision != nil {
		c.handlers.OnDecision(previous, decision)
	}

	if decision.Action == ActionPause {
		log.Infof("Pausing mining: %s", decision.Reason)
		c.template = nil
		c.stopMining()
		return nil
	}
	log.Debugf("Accepted %v: %s", prevHash, decision.Reason)

	template, err := NewTemplate(c.cfg.Chain, previous, bodyHash,
		accountsHash, decision.Target)
	if err != nil {
		return fmt.Errorf("new-block: %w", err)
	}
	c.template = template

	// Shares are only reported for blocks extending the chain head, so
	// the chain learns the accepted block.
	if canProcess && prevHash != c.cfg.Chain.HeadHash() {
		isMainChain, err := processor.ProcessBlock(previous, blockchain.BFNone)
		switch {
		case err != nil:
			log.Warnf("Chain rejected %v: %v", prevHash, err)
		case !isMainChain:
			log.Infof("Block %v is on a side chain, shares will be "+
				"stale until it becomes the head", prevHash)
		}
	}

	if c.settings == nil {
		log.Infof("Waiting for pool settings before mining block #%d",
			previous.Header.Height+1)
		c.stopMining()
		return nil
	}
	return c.startMining()
}

// startMining hands the next block of the current template to the miner.
//
// This function MUST be called with the coordinator lock held.
func (c *Coordinator) startMining() error {
	now := c.cfg.TimeSource.AdjustedTime()
	timestamp := c.template.Timestamp(now, c.cfg.Chain.Head())
	block := c.template.NextBlock(&c.cfg.ChainParams.GenesisHash, timestamp)

	if err := c.cfg.Miner.Mine(c.ctx, block); err != nil {
		return err
	}
	c.state = StateMining
	log.Infof("Starting work on block #%d", block.Header.Height)
	return nil
}

// stopMining pauses the miner.
//
// This function MUST be called with the coordinator lock held.
func (c *Coordinator) stopMining() {
	c.cfg.Miner.Stop()
	if c.state == StateMining {
		c.state = StateIdle
	}
}

// SubmitShare sends a block found by the miner to the pool as a share.  It
// is safe to call from any goroutine.
func (c *Coordinator) SubmitShare(block *wire.MsgBlock) error {
	c.mtx.Lock()
	conn := c.conn
	c.mtx.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	var msg interface{}
	switch c.cfg.Mode {
	case pooljson.ModeSmart:
		header := base64.StdEncoding.EncodeToString(block.Header.Bytes())
		var full *string
		if !block.IsLight() {
			encoded, err := block.Base64()
			if err != nil {
				return err
			}
			full = &encoded
		}
		msg = pooljson.NewShareSmartMsg(header, "", "", full)

	default:
		encoded, err := block.Base64()
		if err != nil {
			return err
		}
		msg = pooljson.NewShareNanoMsg(encoded)
	}

	if err := conn.Send(msg); err != nil {
		return err
	}
	atomic.AddUint64(&c.sharesSent, 1)
	log.Infof("Submitted share for block #%d (nonce %d)", block.Header.Height,
		block.Header.Nonce)
	return nil
}

// formatLunas formats an amount of the smallest unit in coins.
func formatLunas(lunas uint64) string {
	return fmt.Sprintf("%d.%05d NIM", lunas/lunasPerCoin, lunas%lunasPerCoin)
}
