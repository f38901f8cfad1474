// Package transfer implements the native-currency transfer state machine:
// validate, sign, broadcast, confirm, refresh.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mwallet/pkg/chains"
	"mwallet/pkg/config"
	"mwallet/pkg/keys"
	"mwallet/pkg/log"
	"mwallet/pkg/metrics"
	"mwallet/pkg/models"
	"mwallet/pkg/rpc"
	"mwallet/pkg/session"
	"mwallet/pkg/utils"
)

// SendTimeout bounds the broadcast call itself.
var SendTimeout = 30 * time.Second

// MaxHistory bounds the in-memory attempt ledger.
const MaxHistory = 50

const revertedReason = "transaction reverted or rejected"

// Session is the part of session.Store the engine needs.
type Session interface {
	Current() session.View
	WithSigningKey(fn func(session.View, *keys.Account) error) error
}

// NodeSource hands out verified nodes; *rpc.Pool implements it.
type NodeSource interface {
	Node(ctx context.Context, chain config.ChainConfig) (rpc.Node, error)
}

// Syncer is notified of transfer progress; *watcher.Watcher implements it.
type Syncer interface {
	Refresh()
	PublishTransfer(state models.TransferState)
}

type Options struct {
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
}

// Engine runs at most one transfer attempt at a time.
type Engine struct {
	registry *chains.Registry
	session  Session
	nodes    NodeSource
	sync     Syncer
	opts     Options

	mu      sync.Mutex
	state   models.TransferState
	history []models.TransferState
}

func NewEngine(registry *chains.Registry, sess Session, nodes NodeSource, syncer Syncer, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 4 * time.Second
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 10 * time.Minute
	}
	return &Engine{
		registry: registry,
		session:  sess,
		nodes:    nodes,
		sync:     syncer,
		opts:     opts,
		state:    models.TransferState{Phase: models.PhaseIdle, UpdatedAt: time.Now()},
	}
}

func (e *Engine) State() models.TransferState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// History returns recorded attempts, newest first.
func (e *Engine) History() []models.TransferState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.TransferState, len(e.history))
	for i, s := range e.history {
		out[len(e.history)-1-i] = s
	}
	return out
}

// Reset returns a terminal engine to Idle. It is a no-op otherwise.
func (e *Engine) Reset() {
	e.mu.Lock()
	if !e.state.Phase.Terminal() {
		e.mu.Unlock()
		return
	}
	e.state = models.TransferState{Phase: models.PhaseIdle, UpdatedAt: time.Now()}
	st := e.state
	e.mu.Unlock()
	e.publish(st)
}

// ExplorerURL links to the transaction on the chain's block explorer.
func (e *Engine) ExplorerURL(state models.TransferState) string {
	if state.Hash == "" {
		return ""
	}
	c, err := e.registry.Resolve(state.ChainID)
	if err != nil || c.ExplorerURL == "" {
		return ""
	}
	return strings.TrimRight(c.ExplorerURL, "/") + "/tx/" + state.Hash
}

type validated struct {
	chain  config.ChainConfig
	view   session.View
	to     common.Address
	amount decimal.Decimal
}

// Submit validates req and, when valid, signs, broadcasts and waits for the
// transaction to confirm. It blocks until the attempt is terminal. Once the
// transaction is broadcast, cancelling ctx no longer stops the confirmation
// wait. Validation failures leave the engine state untouched.
func (e *Engine) Submit(ctx context.Context, req models.TransferRequest) (models.TransferState, error) {
	v, st, err := e.begin(req)
	if err != nil {
		return st, err
	}
	return e.run(ctx, v, st)
}

// Start validates req synchronously and runs the rest of the attempt in the
// background. The returned state is the accepted Signing state; progress is
// published to the Syncer.
func (e *Engine) Start(ctx context.Context, req models.TransferRequest) (models.TransferState, error) {
	v, st, err := e.begin(req)
	if err != nil {
		return st, err
	}
	go func() {
		_, _ = e.run(context.WithoutCancel(ctx), v, st)
	}()
	return st, nil
}

func (e *Engine) begin(req models.TransferRequest) (validated, models.TransferState, error) {
	e.mu.Lock()
	if e.state.Phase.InFlight() {
		st := e.state
		e.mu.Unlock()
		return validated{}, st, fmt.Errorf("%w: attempt %s is %s", models.ErrAlreadyInProgress, st.AttemptID, st.Phase)
	}
	prev := e.state
	v, err := e.validate(req)
	if err != nil {
		e.mu.Unlock()
		log.Transfer.Info().Str("reason", models.Reason(err)).Msg("transfer rejected")
		return validated{}, prev, err
	}
	e.state = models.TransferState{
		Phase:     models.PhaseSigning,
		AttemptID: uuid.NewString(),
		ChainID:   v.chain.ID,
		From:      v.view.Address,
		Request:   req,
		UpdatedAt: time.Now(),
	}
	st := e.state
	e.mu.Unlock()
	e.publish(st)
	return v, st, nil
}

func (e *Engine) run(ctx context.Context, v validated, st models.TransferState) (models.TransferState, error) {
	logger := log.Transfer.With().
		Str("attempt", st.AttemptID).
		Str("chain_id", st.ChainID).
		Str("to", v.to.Hex()).
		Logger()
	logger.Info().Str("amount", v.amount.String()).Msg("transfer accepted")

	node, raw, err := e.sign(ctx, v)
	if err != nil {
		logger.Warn().Err(err).Msg("signing failed")
		return e.fail(err)
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), SendTimeout)
	hash, err := rpc.SendSignedTransaction(sendCtx, node, raw)
	cancel()
	if err != nil {
		logger.Warn().Err(err).Str("hash", hash.Hex()).Msg("broadcast failed")
		if hash == (common.Hash{}) {
			return e.fail(err)
		}
		return e.failWith(err, func(s *models.TransferState) {
			s.Hash = hash.Hex()
		})
	}
	submittedAt := time.Now()
	st = e.update(func(s *models.TransferState) {
		s.Phase = models.PhaseSubmitted
		s.Hash = hash.Hex()
	})
	logger.Info().Str("hash", st.Hash).Msg("transaction broadcast")

	receipt, err := e.awaitReceipt(ctx, node, hash)
	if err != nil {
		logger.Warn().Err(err).Str("hash", st.Hash).Msg("confirmation wait ended")
		return e.fail(err)
	}
	metrics.ObserveConfirm(time.Since(submittedAt))

	if receipt.Status != types.ReceiptStatusSuccessful {
		logger.Warn().Str("hash", st.Hash).Uint64("status", receipt.Status).Msg("transaction reverted")
		return e.failWith(fmt.Errorf("%w: %s", models.ErrSubmission, revertedReason), func(s *models.TransferState) {
			s.ReceiptStatus = receipt.Status
			s.BlockNumber = receiptBlock(receipt)
			s.Reason = revertedReason
		})
	}

	st = e.update(func(s *models.TransferState) {
		s.Phase = models.PhaseConfirmed
		s.ReceiptStatus = receipt.Status
		s.BlockNumber = receiptBlock(receipt)
	})
	metrics.TransferFinished(string(models.PhaseConfirmed))
	logger.Info().Str("hash", st.Hash).Uint64("block", st.BlockNumber).Msg("transaction confirmed")
	if e.sync != nil {
		e.sync.Refresh()
	}
	return st, nil
}

func (e *Engine) validate(req models.TransferRequest) (validated, error) {
	view := e.session.Current()
	if !view.Active {
		return validated{}, models.ErrNotActive
	}
	chain, err := e.registry.Resolve(view.ChainID)
	if err != nil {
		return validated{}, err
	}

	if !strings.HasPrefix(req.To, "0x") || !common.IsHexAddress(req.To) {
		return validated{}, fmt.Errorf("%w: %q is not a 0x-prefixed 20-byte hex address", models.ErrInvalidRecipient, req.To)
	}

	amount, err := ParseAmount(req.AmountNative, chain.Decimals)
	if err != nil {
		return validated{}, err
	}

	return validated{
		chain:  chain,
		view:   view,
		to:     common.HexToAddress(req.To),
		amount: amount,
	}, nil
}

// ParseAmount parses a strictly positive plain decimal with at most decimals
// fractional digits.
func ParseAmount(s string, decimals int) (decimal.Decimal, error) {
	if s == "" || strings.ContainsAny(s, "eE+ ") {
		return decimal.Zero, fmt.Errorf("%w: %q is not a decimal number", models.ErrInvalidAmount, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a decimal number", models.ErrInvalidAmount, s)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: amount must be greater than zero", models.ErrInvalidAmount)
	}
	if frac := -d.Exponent(); frac > int32(decimals) && !d.Equal(d.Truncate(int32(decimals))) {
		return decimal.Zero, fmt.Errorf("%w: at most %d decimal places allowed", models.ErrInvalidAmount, decimals)
	}
	if utils.ToBaseUnits(d, decimals).BitLen() > 256 {
		return decimal.Zero, fmt.Errorf("%w: amount exceeds the maximum transferable value", models.ErrInvalidAmount)
	}
	return d, nil
}

func (e *Engine) sign(ctx context.Context, v validated) (rpc.Node, []byte, error) {
	node, err := e.nodes.Node(ctx, v.chain)
	if err != nil {
		return nil, nil, err
	}
	nonce, err := rpc.PendingNonce(ctx, node, v.view.Address)
	if err != nil {
		return nil, nil, err
	}
	fees, err := rpc.SuggestFees(ctx, node, v.chain)
	if err != nil {
		return nil, nil, err
	}
	chainID, err := v.chain.NumericID()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrUnknownChain, err)
	}

	to := v.to
	value := utils.ToBaseUnits(v.amount, v.chain.Decimals)
	var tx *types.Transaction
	if v.chain.LegacyFees {
		tx = types.NewTx(&types.AccessListTx{
			ChainID:  chainID,
			Nonce:    nonce,
			GasPrice: fees.GasPrice,
			Gas:      v.chain.GasLimit,
			To:       &to,
			Value:    value,
		})
	} else {
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: fees.TipCap,
			GasFeeCap: fees.FeeCap,
			Gas:       v.chain.GasLimit,
			To:        &to,
			Value:     value,
		})
	}
	payload, err := tx.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: encode transaction: %v", models.ErrSigning, err)
	}

	var raw []byte
	err = e.session.WithSigningKey(func(cur session.View, acct *keys.Account) error {
		if cur.Address != v.view.Address {
			return fmt.Errorf("%w: account changed before signing", models.ErrNotActive)
		}
		var serr error
		raw, serr = keys.Sign(acct, payload)
		return serr
	})
	if err != nil {
		return nil, nil, err
	}
	return node, raw, nil
}

// awaitReceipt polls for the receipt until found or ConfirmTimeout. Polling
// errors are logged and the poll continues; the transaction is never resent.
func (e *Engine) awaitReceipt(ctx context.Context, node rpc.Node, hash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	for {
		r, err := rpc.GetReceipt(waitCtx, node, hash)
		if err != nil && waitCtx.Err() == nil {
			log.Transfer.Debug().Err(err).Str("hash", hash.Hex()).Msg("receipt poll failed")
		}
		if r != nil {
			return r, nil
		}
		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: not confirmed within %s; check explorer for %s",
				models.ErrSubmission, e.opts.ConfirmTimeout, hash.Hex())
		case <-ticker.C:
		}
	}
}

func (e *Engine) update(mutate func(*models.TransferState)) models.TransferState {
	e.mu.Lock()
	mutate(&e.state)
	e.state.UpdatedAt = time.Now()
	st := e.state
	if st.Hash != "" {
		e.recordLocked(st)
	}
	e.mu.Unlock()
	e.publish(st)
	return st
}

func (e *Engine) fail(err error) (models.TransferState, error) {
	return e.failWith(err, nil)
}

func (e *Engine) failWith(err error, mutate func(*models.TransferState)) (models.TransferState, error) {
	st := e.update(func(s *models.TransferState) {
		s.Phase = models.PhaseFailed
		s.Err = err
		s.Reason = models.Reason(err)
		if mutate != nil {
			mutate(s)
		}
	})
	metrics.TransferFinished(outcome(err))
	return st, err
}

// recordLocked inserts or updates the ledger entry for the attempt.
func (e *Engine) recordLocked(st models.TransferState) {
	for i := range e.history {
		if e.history[i].AttemptID == st.AttemptID {
			e.history[i] = st
			return
		}
	}
	e.history = append(e.history, st)
	if len(e.history) > MaxHistory {
		e.history = e.history[len(e.history)-MaxHistory:]
	}
}

func (e *Engine) publish(st models.TransferState) {
	if e.sync != nil {
		e.sync.PublishTransfer(st)
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, models.ErrNetwork), errors.Is(err, models.ErrChainUnsupported):
		return "network_error"
	case errors.Is(err, models.ErrSigning), errors.Is(err, models.ErrNotActive):
		return "signing_error"
	default:
		return "failed"
	}
}

func receiptBlock(r *types.Receipt) uint64 {
	if r.BlockNumber == nil {
		return 0
	}
	return r.BlockNumber.Uint64()
}
