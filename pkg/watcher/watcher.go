package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"mwallet/pkg/chains"
	"mwallet/pkg/config"
	"mwallet/pkg/indexer"
	"mwallet/pkg/log"
	"mwallet/pkg/metrics"
	"mwallet/pkg/models"
	"mwallet/pkg/rpc"
	"mwallet/pkg/utils"
)

// FetchTimeout bounds a single underlying provider call.
var FetchTimeout = 30 * time.Second

// HistorySize is the number of balance values kept for the graph.
const HistorySize = 120

// DataSource defines the interface for fetching data.
type DataSource interface {
	NativeBalance(ctx context.Context, chain config.ChainConfig, addr common.Address) (decimal.Decimal, error)
	Tokens(ctx context.Context, chain config.ChainConfig, addr common.Address) ([]models.Token, error)
	NFTs(ctx context.Context, chain config.ChainConfig, addr common.Address) ([]models.NFT, error)
}

// RealDataSource implements DataSource with a node pool and an indexer.
type RealDataSource struct {
	Pool    *rpc.Pool
	Indexer indexer.Provider
}

func (d *RealDataSource) NativeBalance(ctx context.Context, chain config.ChainConfig, addr common.Address) (decimal.Decimal, error) {
	node, err := d.Pool.Node(ctx, chain)
	if err != nil {
		return decimal.Zero, err
	}
	return rpc.GetNativeBalance(ctx, node, addr, chain.Decimals)
}

func (d *RealDataSource) Tokens(ctx context.Context, chain config.ChainConfig, addr common.Address) ([]models.Token, error) {
	return d.Indexer.Tokens(ctx, addr, chain.ID)
}

func (d *RealDataSource) NFTs(ctx context.Context, chain config.ChainConfig, addr common.Address) ([]models.NFT, error) {
	return d.Indexer.NFTs(ctx, addr, chain.ID)
}

// Target is the (account, chain) pair snapshots are kept for.
type Target struct {
	Active     bool           `json:"active"`
	Address    common.Address `json:"address"`
	ChainID    string         `json:"chain_id"`
	Generation uint64         `json:"generation"`
}

// Watcher fetches balances and holdings for the current target, shares
// identical in-flight requests and drops results for targets that are no
// longer current.
type Watcher struct {
	registry *chains.Registry

	mu           sync.RWMutex
	dataSource   DataSource
	baseCtx      context.Context
	target       Target
	targetCtx    context.Context
	cancelTarget context.CancelFunc
	balance      *models.BalanceSnapshot
	holdings     *models.HoldingsSnapshot
	history      []float64
	subscribers  []Subscriber

	group    singleflight.Group
	inflight sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a new Watcher instance.
func NewWatcher(registry *chains.Registry, ds DataSource) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		registry:     registry,
		dataSource:   ds,
		baseCtx:      context.Background(),
		targetCtx:    ctx,
		cancelTarget: cancel,
		stopChan:     make(chan struct{}),
	}
}

// Subscribe adds a new subscriber and returns a channel to receive events.
func (w *Watcher) Subscribe() Subscriber {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(Subscriber, 100)
	w.subscribers = append(w.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber.
func (w *Watcher) Unsubscribe(ch Subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, sub := range w.subscribers {
		if sub == ch {
			w.subscribers = append(w.subscribers[:i], w.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

func (w *Watcher) notify(event Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	w.notifyLocked(event)
}

func (w *Watcher) notifyLocked(event Event) {
	for _, sub := range w.subscribers {
		select {
		case sub <- event:
		default:
			// slow subscriber; it will resync from the snapshot getters
		}
	}
}

// Start binds the watcher to ctx. Cancelling ctx or calling Stop cancels
// in-flight target fetches.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	w.baseCtx = ctx
	w.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-w.stopChan:
		}
		w.mu.Lock()
		w.cancelTarget()
		w.mu.Unlock()
	}()
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

// Wait blocks until refreshes started so far have finished.
func (w *Watcher) Wait() {
	w.inflight.Wait()
}

// SetTarget switches the watcher to t. In-flight fetches for the previous
// target are cancelled and both snapshots are cleared before returning, so
// no caller can observe the old account's data under the new target. An
// active target is then refreshed asynchronously. Targets older than the
// current generation are ignored.
func (w *Watcher) SetTarget(t Target) {
	w.mu.Lock()
	if t.Generation < w.target.Generation || t == w.target {
		w.mu.Unlock()
		return
	}
	w.cancelTarget()
	w.target = t
	w.targetCtx, w.cancelTarget = context.WithCancel(w.baseCtx)
	w.balance = nil
	w.holdings = nil
	w.history = nil
	w.notifyLocked(Event{Type: EventTargetChanged, Data: t})
	w.mu.Unlock()

	log.Sync.Debug().
		Bool("active", t.Active).
		Str("address", t.Address.Hex()).
		Str("chain_id", t.ChainID).
		Uint64("generation", t.Generation).
		Msg("target changed")

	if t.Active {
		w.Refresh()
	}
}

func (w *Watcher) Target() Target {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.target
}

// Refresh re-fetches balance and holdings for the current target. It returns
// immediately; results arrive as events.
func (w *Watcher) Refresh() {
	w.mu.RLock()
	t, ctx := w.target, w.targetCtx
	w.mu.RUnlock()
	if !t.Active {
		return
	}

	w.inflight.Add(2)
	go func() {
		defer w.inflight.Done()
		bal, err := w.FetchNativeBalance(ctx, t.Address, t.ChainID)
		w.applyBalance(t, bal, err)
	}()
	go func() {
		defer w.inflight.Done()
		h, err := w.FetchHoldings(ctx, t.Address, t.ChainID)
		w.applyHoldings(t, h, err)
	}()
}

// FetchNativeBalance returns the native balance of addr on chainID.
func (w *Watcher) FetchNativeBalance(ctx context.Context, addr common.Address, chainID string) (decimal.Decimal, error) {
	chain, err := w.registry.Resolve(chainID)
	if err != nil {
		return decimal.Zero, err
	}
	v, err := w.shared(ctx, "balance", addr, chain, func(fctx context.Context, ds DataSource) (interface{}, error) {
		return ds.NativeBalance(fctx, chain, addr)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

// FetchHoldings fetches tokens and NFTs concurrently. A failure of one kind
// is reported beside the other's data; the call fails only when both do.
// Spam, media-less and non-image items are filtered out.
func (w *Watcher) FetchHoldings(ctx context.Context, addr common.Address, chainID string) (models.Holdings, error) {
	chain, err := w.registry.Resolve(chainID)
	if err != nil {
		return models.Holdings{}, err
	}

	var (
		h  models.Holdings
		wg sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		v, err := w.shared(ctx, "tokens", addr, chain, func(fctx context.Context, ds DataSource) (interface{}, error) {
			return ds.Tokens(fctx, chain, addr)
		})
		if err != nil {
			h.TokensErr = err
			return
		}
		h.Tokens = FilterTokens(v.([]models.Token))
	}()
	go func() {
		defer wg.Done()
		v, err := w.shared(ctx, "nfts", addr, chain, func(fctx context.Context, ds DataSource) (interface{}, error) {
			return ds.NFTs(fctx, chain, addr)
		})
		if err != nil {
			h.NFTsErr = err
			return
		}
		h.NFTs = FilterNFTs(v.([]models.NFT))
	}()
	wg.Wait()

	if h.TokensErr != nil && h.NFTsErr != nil {
		return h, errors.Join(h.TokensErr, h.NFTsErr)
	}
	return h, nil
}

// shared runs fn once per (kind, address, chain) across concurrent callers.
// The underlying call is detached from any single caller's cancellation;
// each caller stops waiting when its own ctx ends.
func (w *Watcher) shared(ctx context.Context, kind string, addr common.Address, chain config.ChainConfig,
	fn func(context.Context, DataSource) (interface{}, error)) (interface{}, error) {
	w.mu.RLock()
	ds := w.dataSource
	w.mu.RUnlock()

	key := fmt.Sprintf("%s|%s|%s", kind, addr.Hex(), chain.ID)
	ch := w.group.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FetchTimeout)
		defer cancel()
		start := time.Now()
		v, err := fn(fctx, ds)
		metrics.ObserveFetch(kind, start, err)
		if err != nil && fctx.Err() != nil && !errors.Is(err, models.ErrNetwork) {
			err = fmt.Errorf("%w: %s timed out: %v", models.ErrNetwork, kind, err)
		}
		return v, err
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *Watcher) applyBalance(t Target, bal decimal.Decimal, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.target != t || errors.Is(err, context.Canceled) {
		metrics.StaleDropped()
		log.Sync.Debug().Str("chain_id", t.ChainID).Msg("dropping stale balance result")
		return
	}
	if err != nil {
		w.failLocked("balance", t, err)
		return
	}

	symbol := ""
	if c, rerr := w.registry.Resolve(t.ChainID); rerr == nil {
		symbol = c.Symbol
	}
	snap := models.BalanceSnapshot{
		Address:       t.Address,
		ChainID:       t.ChainID,
		Symbol:        symbol,
		NativeBalance: bal,
		FetchedAt:     time.Now(),
	}
	w.balance = &snap
	w.history = append(w.history, utils.DecimalToFloat64(bal))
	if len(w.history) > HistorySize {
		w.history = w.history[len(w.history)-HistorySize:]
	}
	w.notifyLocked(Event{Type: EventBalanceUpdated, Data: snap})
}

func (w *Watcher) applyHoldings(t Target, h models.Holdings, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.target != t || errors.Is(err, context.Canceled) {
		metrics.StaleDropped()
		log.Sync.Debug().Str("chain_id", t.ChainID).Msg("dropping stale holdings result")
		return
	}
	if err != nil {
		w.failLocked("holdings", t, err)
		return
	}

	snap := models.HoldingsSnapshot{
		Address:   t.Address,
		ChainID:   t.ChainID,
		Tokens:    h.Tokens,
		NFTs:      h.NFTs,
		TokensErr: models.Reason(h.TokensErr),
		NFTsErr:   models.Reason(h.NFTsErr),
		FetchedAt: time.Now(),
	}
	w.holdings = &snap
	w.notifyLocked(Event{Type: EventHoldingsUpdated, Data: snap})
}

func (w *Watcher) failLocked(kind string, t Target, err error) {
	log.Sync.Warn().Err(err).Str("kind", kind).Str("chain_id", t.ChainID).Msg("sync failed")
	w.notifyLocked(Event{Type: EventSyncFailed, Data: SyncFailure{
		Kind:      kind,
		Address:   t.Address,
		ChainID:   t.ChainID,
		Reason:    models.Reason(err),
		Retryable: models.IsRetryable(err),
		Err:       err,
	}})
}

// Balance returns the balance snapshot of the current target, if any.
func (w *Watcher) Balance() (models.BalanceSnapshot, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.balance == nil || !w.matchesLocked(w.balance.Address, w.balance.ChainID) {
		return models.BalanceSnapshot{}, false
	}
	return *w.balance, true
}

// Holdings returns the holdings snapshot of the current target, if any.
func (w *Watcher) Holdings() (models.HoldingsSnapshot, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.holdings == nil || !w.matchesLocked(w.holdings.Address, w.holdings.ChainID) {
		return models.HoldingsSnapshot{}, false
	}
	return *w.holdings, true
}

// History returns recent balance values for the current target, oldest first.
func (w *Watcher) History() []float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]float64(nil), w.history...)
}

func (w *Watcher) matchesLocked(addr common.Address, chainID string) bool {
	return w.target.Active && w.target.Address == addr && w.target.ChainID == chainID
}

// PublishTransfer broadcasts a transfer state change to subscribers.
func (w *Watcher) PublishTransfer(state models.TransferState) {
	w.notify(Event{Type: EventTransferUpdated, Data: state})
}
