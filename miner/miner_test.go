package miner

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MonteCarloClub/plutonium/chaincfg/chainhash"
	"github.com/MonteCarloClub/plutonium/opencl"
	"github.com/MonteCarloClub/plutonium/wire"
)

// fastMemoryMB makes a device cover the nonce space in 2048 attempts.
const fastMemoryMB = 1 << 20

type shareLog struct {
	mtx    sync.Mutex
	blocks []*wire.MsgBlock
}

func (s *shareLog) add(block *wire.MsgBlock) {
	s.mtx.Lock()
	s.blocks = append(s.blocks, block)
	s.mtx.Unlock()
}

func (s *shareLog) all() []*wire.MsgBlock {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([]*wire.MsgBlock(nil), s.blocks...)
}

func testTemplate(height uint32) *wire.MsgBlock {
	block := &wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:   wire.BlockVersion,
			PrevBlock: chainhash.HashH([]byte("previous block")),
			Bits:      0x1f010000,
			Height:    height,
			Timestamp: 1600000000 + height,
		},
	}
	block.Header.BodyHash = chainhash.HashH([]byte("body"))
	block.Header.AccountsHash = chainhash.HashH([]byte("accounts"))
	return block
}

func newTestMiner(t *testing.T, api *fakeAPI, chain *fakeChain,
	shares *shareLog) *Miner {

	t.Helper()

	cfg := &Config{
		Memory:        []uint32{fastMemoryMB},
		KernelSources: testSources,
		Chain:         chain,
		OnShare:       shares.add,
	}
	m, err := New(cfg, api)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestMinerSplitsNonceSpace(t *testing.T) {
	api := newFakeAPI(nvidiaPlatform(
		newFakeDevice("RTX 2080", 2*gib, 8*gib),
		newFakeDevice("RTX 3090", 6*gib, 24*gib),
	))
	template := testTemplate(100)
	chain := &fakeChain{head: template.Header.PrevBlock}
	shares := &shareLog{}
	m := newTestMiner(t, api, chain, shares)
	require.Len(t, m.Workers(), 2)

	api.results = []uint32{0, 7}
	m.SetTarget(0x1f00ffff)
	require.NoError(t, m.Mine(context.Background(), template))
	m.Wait()

	npr := int(NoncesPerRun(fastMemoryMB))
	finds := api.findDispatches()
	require.Len(t, finds, maxNonce/npr)

	offsets := make([]int, len(finds))
	for i, d := range finds {
		offsets[i] = d.offset[0]
	}
	sort.Ints(offsets)
	for i, offset := range offsets {
		require.Equal(t, i*npr, offset, "attempt %d", i)
	}
	assert.Equal(t, uint64(maxNonce), m.HashCount())

	found := shares.all()
	require.Len(t, found, 1)
	assert.Equal(t, uint32(7), found[0].Header.Nonce)
	assert.Equal(t, template.Header.PrevBlock, found[0].Header.PrevBlock)
	assert.Equal(t, template.Header.Height, found[0].Header.Height)
	assert.Zero(t, template.Header.Nonce, "template must not be modified")

	valid, stale := m.Shares()
	assert.Equal(t, uint64(1), valid)
	assert.Zero(t, stale)

	// A worker may find the nonce space exhausted before its first attempt,
	// so only dispatched kernels are checked.
	for _, d := range finds {
		assert.Equal(t, opencl.Uint32Arg(0x1f00ffff), api.args[d.handle][0])
	}
}

func TestMinerDropsShareForOldHead(t *testing.T) {
	api := newFakeAPI(nvidiaPlatform(newFakeDevice("GTX 1080", 2*gib, 8*gib)))
	template := testTemplate(100)
	chain := &fakeChain{head: template.Header.PrevBlock}
	shares := &shareLog{}
	m := newTestMiner(t, api, chain, shares)

	// The chain head moves on while the first attempt is running.
	api.results = []uint32{99}
	var once sync.Once
	api.onFindNonce = func() {
		once.Do(func() { chain.setHead(chainhash.HashH([]byte("new head"))) })
	}

	require.NoError(t, m.Mine(context.Background(), template))
	m.Wait()

	assert.Empty(t, shares.all())
	valid, stale := m.Shares()
	assert.Zero(t, valid)
	assert.Equal(t, uint64(1), stale)

	w := m.Workers()[0]
	assert.Equal(t, zeroNonce, api.buffers[w.memNonce])
}

func TestMinerAbandonsSupersededTemplate(t *testing.T) {
	api := newFakeAPI(nvidiaPlatform(newFakeDevice("GTX 1080", 2*gib, 8*gib)))
	first := testTemplate(100)
	second := testTemplate(101)
	second.Header.PrevBlock = first.BlockHash()
	chain := &fakeChain{head: first.Header.PrevBlock}
	shares := &shareLog{}
	m := newTestMiner(t, api, chain, shares)

	// A nonce is found for the first template while the second one
	// arrives.
	api.results = []uint32{5}
	var once sync.Once
	api.onFindNonce = func() {
		once.Do(func() {
			chain.setHead(second.Header.PrevBlock)
			assert.NoError(t, m.Mine(context.Background(), second))
		})
	}

	require.NoError(t, m.Mine(context.Background(), first))
	m.Wait()

	assert.Equal(t, uint64(2), m.Generation())
	assert.Empty(t, shares.all())
	valid, stale := m.Shares()
	assert.Zero(t, valid)
	assert.Zero(t, stale)

	// The second template started again from nonce 0.
	finds := api.findDispatches()
	require.True(t, len(finds) > 1)
	assert.Equal(t, 0, finds[0].offset[0])
	assert.Equal(t, 0, finds[1].offset[0])
}

func TestMinerStop(t *testing.T) {
	api := newFakeAPI(nvidiaPlatform(newFakeDevice("GTX 1080", 2*gib, 8*gib)))
	template := testTemplate(100)
	chain := &fakeChain{head: template.Header.PrevBlock}
	shares := &shareLog{}
	m := newTestMiner(t, api, chain, shares)

	api.results = []uint32{5}
	var once sync.Once
	api.onFindNonce = func() { once.Do(m.Stop) }

	require.NoError(t, m.Mine(context.Background(), template))
	m.Wait()

	assert.Len(t, api.findDispatches(), 1)
	assert.Empty(t, shares.all())
}

func TestMinerContextCancel(t *testing.T) {
	api := newFakeAPI(nvidiaPlatform(newFakeDevice("GTX 1080", 2*gib, 8*gib)))
	template := testTemplate(100)
	chain := &fakeChain{head: template.Header.PrevBlock}
	m := newTestMiner(t, api, chain, &shareLog{})

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	api.onFindNonce = func() { once.Do(cancel) }

	require.NoError(t, m.Mine(ctx, template))
	m.Wait()
	assert.Len(t, api.findDispatches(), 1)
}

func TestMinerWorkerError(t *testing.T) {
	api := newFakeAPI(nvidiaPlatform(newFakeDevice("GTX 1080", 2*gib, 8*gib)))
	template := testTemplate(100)
	chain := &fakeChain{head: template.Header.PrevBlock}
	m := newTestMiner(t, api, chain, &shareLog{})

	api.failCall = "EnqueueReadBuffer"
	require.NoError(t, m.Mine(context.Background(), template))

	select {
	case err := <-m.Errors():
		var clErr *opencl.Error
		require.True(t, errors.As(err, &clErr))
		assert.Equal(t, "clEnqueueReadBuffer", clErr.Call)
	case <-time.After(5 * time.Second):
		t.Fatal("no worker error delivered")
	}
	m.Wait()
	assert.Len(t, api.findDispatches(), 1)
}

func TestMinerClose(t *testing.T) {
	api := newFakeAPI(nvidiaPlatform(
		newFakeDevice("RTX 2080", 2*gib, 8*gib),
		newFakeDevice("RTX 3090", 6*gib, 24*gib),
	))
	m, err := New(&Config{KernelSources: testSources, Chain: &fakeChain{}}, api)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	assert.Zero(t, api.liveCount())

	assert.True(t, errors.Is(m.Close(), ErrMinerClosed))
	err = m.Mine(context.Background(), testTemplate(1))
	assert.True(t, errors.Is(err, ErrMinerClosed))
}
