package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"mwallet/pkg/config"
	"mwallet/pkg/log"
	"mwallet/pkg/metrics"
	"mwallet/pkg/models"
	"mwallet/pkg/utils"
)

var DialTimeout = 10 * time.Second

// Node is the subset of *ethclient.Client used by the wallet.
type Node interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Dialer opens a Node for an RPC URL.
type Dialer func(ctx context.Context, rawurl string) (Node, error)

// DialEthclient is the production Dialer.
func DialEthclient(ctx context.Context, rawurl string) (Node, error) {
	c, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Pool dials one client per RPC URL and verifies the node's chain id once
// before handing it out.
type Pool struct {
	dial Dialer

	mu      sync.Mutex
	clients map[string]Node
	group   singleflight.Group
}

func NewPool(dial Dialer) *Pool {
	if dial == nil {
		dial = DialEthclient
	}
	return &Pool{dial: dial, clients: make(map[string]Node)}
}

// Node returns a verified client for chain. Dial or chain-id failures are
// ErrNetwork; a node serving a different chain is ErrChainUnsupported.
func (p *Pool) Node(ctx context.Context, chain config.ChainConfig) (Node, error) {
	p.mu.Lock()
	n, ok := p.clients[chain.RPCURL]
	p.mu.Unlock()
	if ok {
		return n, nil
	}

	v, err, _ := p.group.Do(chain.RPCURL, func() (interface{}, error) {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DialTimeout)
		defer cancel()

		node, err := p.dial(dctx, chain.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %v", models.ErrNetwork, chain.RPCURL, err)
		}
		if err := VerifyChainID(dctx, node, chain); err != nil {
			node.Close()
			return nil, err
		}

		p.mu.Lock()
		p.clients[chain.RPCURL] = node
		p.mu.Unlock()
		log.RPC.Debug().Str("chain_id", chain.ID).Str("url", chain.RPCURL).Msg("rpc client ready")
		return node, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Node), nil
}

// Close closes every cached client.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, n := range p.clients {
		n.Close()
		delete(p.clients, url)
	}
}

// VerifyChainID checks that node serves chain.
func VerifyChainID(ctx context.Context, node Node, chain config.ChainConfig) error {
	want, err := chain.NumericID()
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrUnknownChain, err)
	}
	got, err := node.ChainID(ctx)
	metrics.ObserveRPC("eth_chainId", err)
	if err != nil {
		return fmt.Errorf("%w: eth_chainId: %v", models.ErrNetwork, err)
	}
	if got.Cmp(want) != 0 {
		return fmt.Errorf("%w: %s reports chain %s, configured %s",
			models.ErrChainUnsupported, chain.RPCURL, config.FormatChainID(got), chain.ID)
	}
	return nil
}

// GetNativeBalance returns the latest native balance in human units.
func GetNativeBalance(ctx context.Context, node Node, addr common.Address, decimals int) (decimal.Decimal, error) {
	bal, err := node.BalanceAt(ctx, addr, nil)
	metrics.ObserveRPC("eth_getBalance", err)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: eth_getBalance: %v", models.ErrNetwork, err)
	}
	return utils.FromBaseUnits(bal, decimals), nil
}

// SendSignedTransaction broadcasts raw, the EIP-2718 encoding of a signed
// transaction. Node rejections are ErrSubmission carrying the node's reason.
// Once raw decodes, the hash is returned even on error: a failed send may
// still have reached the mempool.
func SendSignedTransaction(ctx context.Context, node Node, raw []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("%w: decode signed transaction: %v", models.ErrSigning, err)
	}
	err := node.SendTransaction(ctx, tx)
	metrics.ObserveRPC("eth_sendRawTransaction", err)
	if err != nil {
		return tx.Hash(), fmt.Errorf("%w: %v", models.ErrSubmission, err)
	}
	return tx.Hash(), nil
}

// GetReceipt returns the receipt for hash, or nil when it is not mined yet.
func GetReceipt(ctx context.Context, node Node, hash common.Hash) (*types.Receipt, error) {
	r, err := node.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		metrics.ObserveRPC("eth_getTransactionReceipt", nil)
		return nil, nil
	}
	metrics.ObserveRPC("eth_getTransactionReceipt", err)
	if err != nil {
		return nil, fmt.Errorf("%w: eth_getTransactionReceipt: %v", models.ErrNetwork, err)
	}
	return r, nil
}

// Fees holds the fee parameters for one transaction. GasPrice is set for
// legacy chains; TipCap and FeeCap for EIP-1559 chains.
type Fees struct {
	GasPrice *big.Int
	TipCap   *big.Int
	FeeCap   *big.Int
}

// SuggestFees applies the provider defaults: legacy chains use
// eth_gasPrice; EIP-1559 chains use tip = eth_maxPriorityFeePerGas and
// feeCap = 2*baseFee + tip.
func SuggestFees(ctx context.Context, node Node, chain config.ChainConfig) (Fees, error) {
	if chain.LegacyFees {
		price, err := node.SuggestGasPrice(ctx)
		metrics.ObserveRPC("eth_gasPrice", err)
		if err != nil {
			return Fees{}, fmt.Errorf("%w: eth_gasPrice: %v", models.ErrNetwork, err)
		}
		return Fees{GasPrice: price}, nil
	}

	tip, err := node.SuggestGasTipCap(ctx)
	metrics.ObserveRPC("eth_maxPriorityFeePerGas", err)
	if err != nil {
		return Fees{}, fmt.Errorf("%w: eth_maxPriorityFeePerGas: %v", models.ErrNetwork, err)
	}
	head, err := node.HeaderByNumber(ctx, nil)
	metrics.ObserveRPC("eth_getBlockByNumber", err)
	if err != nil {
		return Fees{}, fmt.Errorf("%w: eth_getBlockByNumber: %v", models.ErrNetwork, err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	return Fees{TipCap: tip, FeeCap: feeCap}, nil
}

// PendingNonce returns the next nonce for addr including pending txs.
func PendingNonce(ctx context.Context, node Node, addr common.Address) (uint64, error) {
	nonce, err := node.PendingNonceAt(ctx, addr)
	metrics.ObserveRPC("eth_getTransactionCount", err)
	if err != nil {
		return 0, fmt.Errorf("%w: eth_getTransactionCount: %v", models.ErrNetwork, err)
	}
	return nonce, nil
}

// CheckChain dials chain's RPC and verifies its chain id, for the -test mode.
func CheckChain(ctx context.Context, dial Dialer, chain config.ChainConfig) models.ChainResult {
	res := models.ChainResult{
		ID:     chain.ID,
		Name:   chain.Name,
		Symbol: chain.Symbol,
		RPC:    models.RPCResult{URL: chain.RPCURL, Status: "ok"},
	}
	ctx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	node, err := dial(ctx, chain.RPCURL)
	if err != nil {
		res.RPC.Status = "error"
		res.RPC.Error = err.Error()
		return res
	}
	defer node.Close()

	got, err := node.ChainID(ctx)
	if err != nil {
		res.RPC.Status = "error"
		res.RPC.Error = err.Error()
		return res
	}
	res.ObservedChainID = config.FormatChainID(got)
	if res.ObservedChainID != chain.ID {
		res.Mismatch = true
	}
	return res
}
