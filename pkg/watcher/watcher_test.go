package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mwallet/pkg/chains"
	"mwallet/pkg/config"
	"mwallet/pkg/models"
)

type MockDataSource struct {
	mock.Mock
}

func (m *MockDataSource) NativeBalance(ctx context.Context, chain config.ChainConfig, addr common.Address) (decimal.Decimal, error) {
	args := m.Called(chain.ID, addr)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockDataSource) Tokens(ctx context.Context, chain config.ChainConfig, addr common.Address) ([]models.Token, error) {
	args := m.Called(chain.ID, addr)
	tokens, _ := args.Get(0).([]models.Token)
	return tokens, args.Error(1)
}

func (m *MockDataSource) NFTs(ctx context.Context, chain config.ChainConfig, addr common.Address) ([]models.NFT, error) {
	args := m.Called(chain.ID, addr)
	nfts, _ := args.Get(0).([]models.NFT)
	return nfts, args.Error(1)
}

var (
	addrA = common.HexToAddress("0x9858EfFD232B4033E47d90003D41EC34EcaEda94")
	addrB = common.HexToAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B")
)

func newTestWatcher(t *testing.T, ds DataSource) *Watcher {
	t.Helper()
	r, err := chains.NewRegistry(config.DefaultChains(), "")
	require.NoError(t, err)
	return NewWatcher(r, ds)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func expectEmptyHoldings(ds *MockDataSource) {
	ds.On("Tokens", mock.Anything, mock.Anything).Return([]models.Token{}, nil).Maybe()
	ds.On("NFTs", mock.Anything, mock.Anything).Return([]models.NFT{}, nil).Maybe()
}

func waitFor(t *testing.T, sub Subscriber, typ EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for %s", typ)
			return Event{}
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	w := newTestWatcher(t, new(MockDataSource))
	sub := w.Subscribe()
	assert.NotNil(t, sub)

	w.mu.RLock()
	assert.Equal(t, 1, len(w.subscribers))
	w.mu.RUnlock()

	w.Unsubscribe(sub)
	w.mu.RLock()
	assert.Equal(t, 0, len(w.subscribers))
	w.mu.RUnlock()
}

func TestFetchNativeBalance(t *testing.T) {
	ds := new(MockDataSource)
	ds.On("NativeBalance", "0x1", addrA).Return(dec("2.5"), nil)
	w := newTestWatcher(t, ds)

	bal, err := w.FetchNativeBalance(context.Background(), addrA, "0x1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("2.5")))

	_, err = w.FetchNativeBalance(context.Background(), addrA, "0x999")
	assert.ErrorIs(t, err, models.ErrUnknownChain)
	ds.AssertNumberOfCalls(t, "NativeBalance", 1)
}

func TestFetchNativeBalanceErrors(t *testing.T) {
	ds := new(MockDataSource)
	ds.On("NativeBalance", "0x1", addrA).Return(decimal.Zero, models.ErrNetwork)
	ds.On("NativeBalance", "0x89", addrA).Return(decimal.Zero, models.ErrChainUnsupported)
	w := newTestWatcher(t, ds)

	_, err := w.FetchNativeBalance(context.Background(), addrA, "0x1")
	assert.ErrorIs(t, err, models.ErrNetwork)
	_, err = w.FetchNativeBalance(context.Background(), addrA, "0x89")
	assert.ErrorIs(t, err, models.ErrChainUnsupported)
}

func TestIdenticalRequestsShareOneCall(t *testing.T) {
	ds := new(MockDataSource)
	release := make(chan struct{})
	ds.On("NativeBalance", "0x1", addrA).
		Run(func(mock.Arguments) { <-release }).
		Return(dec("1"), nil)
	w := newTestWatcher(t, ds)

	var wg sync.WaitGroup
	results := make([]decimal.Decimal, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bal, err := w.FetchNativeBalance(context.Background(), addrA, "0x1")
			assert.NoError(t, err)
			results[i] = bal
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	ds.AssertNumberOfCalls(t, "NativeBalance", 1)
	for _, r := range results {
		assert.True(t, r.Equal(dec("1")))
	}
}

func TestFetchHoldingsFilters(t *testing.T) {
	ds := new(MockDataSource)
	ds.On("Tokens", "0x1", addrA).Return([]models.Token{
		{Symbol: "USDC", Balance: dec("10")},
		{Symbol: "SCAM", Balance: dec("1000"), Spam: true},
	}, nil)
	ds.On("NFTs", "0x1", addrA).Return([]models.NFT{
		{TokenID: "1", MediaURL: "https://cdn/a.png", MediaType: "image"},
		{TokenID: "2", MediaURL: "https://cdn/b.png", MediaType: "image/png"},
		{TokenID: "3", MediaURL: "https://cdn/c.mp4", MediaType: "video"},
		{TokenID: "4", MediaURL: "", MediaType: "image"},
		{TokenID: "5", MediaURL: "https://cdn/e.png", MediaType: "image", Spam: true},
		{TokenID: "6", MediaURL: "https://cdn/f.mp3", MediaType: "audio"},
	}, nil)
	w := newTestWatcher(t, ds)

	h, err := w.FetchHoldings(context.Background(), addrA, "0x1")
	require.NoError(t, err)
	require.Len(t, h.Tokens, 1)
	assert.Equal(t, "USDC", h.Tokens[0].Symbol)
	require.Len(t, h.NFTs, 2)
	assert.Equal(t, "1", h.NFTs[0].TokenID)
	assert.Equal(t, "2", h.NFTs[1].TokenID)
}

func TestFetchHoldingsPartialFailure(t *testing.T) {
	ds := new(MockDataSource)
	ds.On("Tokens", "0x1", addrA).Return(nil, models.ErrNetwork)
	ds.On("NFTs", "0x1", addrA).Return([]models.NFT{
		{TokenID: "1", MediaURL: "https://cdn/a.png", MediaType: "image"},
	}, nil)
	w := newTestWatcher(t, ds)

	h, err := w.FetchHoldings(context.Background(), addrA, "0x1")
	require.NoError(t, err)
	assert.ErrorIs(t, h.TokensErr, models.ErrNetwork)
	assert.Nil(t, h.NFTsErr)
	assert.Len(t, h.NFTs, 1)
}

func TestFetchHoldingsBothFail(t *testing.T) {
	ds := new(MockDataSource)
	ds.On("Tokens", "0x1", addrA).Return(nil, models.ErrChainUnsupported)
	ds.On("NFTs", "0x1", addrA).Return(nil, models.ErrNetwork)
	w := newTestWatcher(t, ds)

	_, err := w.FetchHoldings(context.Background(), addrA, "0x1")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrChainUnsupported)
	assert.ErrorIs(t, err, models.ErrNetwork)
}

func TestSetTargetRefreshesAndPublishes(t *testing.T) {
	ds := new(MockDataSource)
	ds.On("NativeBalance", "0x1", addrA).Return(dec("1.25"), nil)
	ds.On("Tokens", "0x1", addrA).Return([]models.Token{{Symbol: "USDC"}}, nil)
	ds.On("NFTs", "0x1", addrA).Return(nil, models.ErrNetwork)
	w := newTestWatcher(t, ds)
	sub := w.Subscribe()

	w.SetTarget(Target{Active: true, Address: addrA, ChainID: "0x1", Generation: 1})
	waitFor(t, sub, EventTargetChanged)
	w.Wait()

	bal, ok := w.Balance()
	require.True(t, ok)
	assert.Equal(t, "ETH", bal.Symbol)
	assert.True(t, bal.NativeBalance.Equal(dec("1.25")))

	h, ok := w.Holdings()
	require.True(t, ok)
	assert.Len(t, h.Tokens, 1)
	assert.Contains(t, h.NFTsErr, "network error")
	assert.Equal(t, []float64{1.25}, w.History())
}

// A balance fetched for the previous chain must never be shown once the
// session switched chains, even if it arrives after the switch.
func TestChainSwitchDropsStaleBalance(t *testing.T) {
	ds := new(MockDataSource)
	release := make(chan struct{})
	ds.On("NativeBalance", "0x1", addrA).
		Run(func(mock.Arguments) { <-release }).
		Return(dec("12.5"), nil)
	ds.On("NativeBalance", "0x89", addrA).Return(dec("3"), nil)
	expectEmptyHoldings(ds)
	w := newTestWatcher(t, ds)

	w.SetTarget(Target{Active: true, Address: addrA, ChainID: "0x1", Generation: 1})
	time.Sleep(50 * time.Millisecond)
	w.SetTarget(Target{Active: true, Address: addrA, ChainID: "0x89", Generation: 2})
	close(release)
	w.Wait()

	bal, ok := w.Balance()
	require.True(t, ok)
	assert.Equal(t, "0x89", bal.ChainID)
	assert.Equal(t, "POL", bal.Symbol)
	assert.True(t, bal.NativeBalance.Equal(dec("3")), "got %s", bal.NativeBalance)
	assert.Equal(t, []float64{3}, w.History())
}

func TestSetTargetClearsSnapshotsImmediately(t *testing.T) {
	ds := new(MockDataSource)
	ds.On("NativeBalance", "0x1", addrA).Return(dec("5"), nil)
	expectEmptyHoldings(ds)
	w := newTestWatcher(t, ds)

	w.SetTarget(Target{Active: true, Address: addrA, ChainID: "0x1", Generation: 1})
	w.Wait()
	_, ok := w.Balance()
	require.True(t, ok)

	// logout
	w.SetTarget(Target{Active: false, ChainID: "0x1", Generation: 2})
	_, ok = w.Balance()
	assert.False(t, ok)
	_, ok = w.Holdings()
	assert.False(t, ok)
	assert.Empty(t, w.History())
	w.Wait()
	ds.AssertNumberOfCalls(t, "NativeBalance", 1)
}

func TestAccountSwitchDoesNotLeakPreviousAccount(t *testing.T) {
	ds := new(MockDataSource)
	release := make(chan struct{})
	ds.On("NativeBalance", "0x1", addrA).
		Run(func(mock.Arguments) { <-release }).
		Return(dec("99"), nil)
	ds.On("NativeBalance", "0x1", addrB).Return(dec("1"), nil)
	expectEmptyHoldings(ds)
	w := newTestWatcher(t, ds)

	w.SetTarget(Target{Active: true, Address: addrA, ChainID: "0x1", Generation: 1})
	time.Sleep(50 * time.Millisecond)
	w.SetTarget(Target{Active: true, Address: addrB, ChainID: "0x1", Generation: 3})
	close(release)
	w.Wait()

	bal, ok := w.Balance()
	require.True(t, ok)
	assert.Equal(t, addrB, bal.Address)
	assert.True(t, bal.NativeBalance.Equal(dec("1")))
}

func TestOlderGenerationIgnored(t *testing.T) {
	ds := new(MockDataSource)
	ds.On("NativeBalance", mock.Anything, mock.Anything).Return(dec("1"), nil)
	expectEmptyHoldings(ds)
	w := newTestWatcher(t, ds)

	w.SetTarget(Target{Active: true, Address: addrA, ChainID: "0x89", Generation: 5})
	w.SetTarget(Target{Active: true, Address: addrA, ChainID: "0x1", Generation: 4})
	w.Wait()

	assert.Equal(t, "0x89", w.Target().ChainID)
}

func TestSyncFailedEvent(t *testing.T) {
	ds := new(MockDataSource)
	ds.On("NativeBalance", "0x1", addrA).Return(decimal.Zero, errors.Join(models.ErrNetwork, errors.New("dial tcp: refused")))
	expectEmptyHoldings(ds)
	w := newTestWatcher(t, ds)
	sub := w.Subscribe()

	w.SetTarget(Target{Active: true, Address: addrA, ChainID: "0x1", Generation: 1})
	ev := waitFor(t, sub, EventSyncFailed)
	failure, ok := ev.Data.(SyncFailure)
	require.True(t, ok)
	assert.Equal(t, "balance", failure.Kind)
	assert.True(t, failure.Retryable)
	w.Wait()

	_, ok = w.Balance()
	assert.False(t, ok)
}

func TestHistoryIsBounded(t *testing.T) {
	ds := new(MockDataSource)
	ds.On("NativeBalance", "0x1", addrA).Return(dec("1"), nil)
	expectEmptyHoldings(ds)
	w := newTestWatcher(t, ds)

	w.SetTarget(Target{Active: true, Address: addrA, ChainID: "0x1", Generation: 1})
	w.Wait()
	for i := 0; i < HistorySize+10; i++ {
		w.Refresh()
		w.Wait()
	}
	assert.Len(t, w.History(), HistorySize)
}

func TestStopCancelsInFlight(t *testing.T) {
	ds := new(MockDataSource)
	block := make(chan struct{})
	defer close(block)
	ds.On("NativeBalance", "0x1", addrA).
		Run(func(mock.Arguments) { <-block }).
		Return(dec("1"), nil)
	expectEmptyHoldings(ds)
	w := newTestWatcher(t, ds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	w.SetTarget(Target{Active: true, Address: addrA, ChainID: "0x1", Generation: 1})
	w.Stop()

	done := make(chan struct{})
	go func() { w.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not stop after Stop")
	}
	_, ok := w.Balance()
	assert.False(t, ok)
}

func TestPublishTransfer(t *testing.T) {
	w := newTestWatcher(t, new(MockDataSource))
	sub := w.Subscribe()

	w.PublishTransfer(models.TransferState{Phase: models.PhaseSubmitted, Hash: "0xabc"})
	ev := waitFor(t, sub, EventTransferUpdated)
	assert.Equal(t, "0xabc", ev.Data.(models.TransferState).Hash)
}
