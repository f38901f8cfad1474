package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Token is a fungible token holding reported by the asset indexer.
type Token struct {
	Address  string          `json:"address"`
	Name     string          `json:"name,omitempty"`
	Symbol   string          `json:"symbol"`
	Decimals int             `json:"decimals"`
	Balance  decimal.Decimal `json:"balance"` // human-readable units
	Spam     bool            `json:"spam"`
}

// NFT is a non-fungible holding reported by the asset indexer.
type NFT struct {
	TokenAddress string `json:"token_address"`
	TokenID      string `json:"token_id"`
	Name         string `json:"name,omitempty"`
	MediaURL     string `json:"media_url"`
	MediaType    string `json:"media_type"`
	Spam         bool   `json:"spam"`
}

// Holdings is the result of a holdings fetch. Tokens and NFTs are independent
// channels: one may carry an error while the other carries data.
type Holdings struct {
	Tokens    []Token
	NFTs      []NFT
	TokensErr error
	NFTsErr   error
}

// BalanceSnapshot is the native balance of an address on a chain as of FetchedAt.
type BalanceSnapshot struct {
	Address       common.Address  `json:"address"`
	ChainID       string          `json:"chain_id"`
	Symbol        string          `json:"symbol"`
	NativeBalance decimal.Decimal `json:"native_balance"`
	FetchedAt     time.Time       `json:"fetched_at"`
}

// HoldingsSnapshot is the token/NFT view of an address on a chain as of FetchedAt.
type HoldingsSnapshot struct {
	Address   common.Address `json:"address"`
	ChainID   string         `json:"chain_id"`
	Tokens    []Token        `json:"tokens"`
	NFTs      []NFT          `json:"nfts"`
	TokensErr string         `json:"tokens_error,omitempty"`
	NFTsErr   string         `json:"nfts_error,omitempty"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// TransferRequest asks for a native-currency transfer.
type TransferRequest struct {
	To           string `json:"to"`
	AmountNative string `json:"amount"`
}

// TransferPhase is a node of the transfer state machine.
type TransferPhase string

const (
	PhaseIdle       TransferPhase = "idle"
	PhaseValidating TransferPhase = "validating"
	PhaseSigning    TransferPhase = "signing"
	PhaseSubmitted  TransferPhase = "submitted"
	PhaseConfirmed  TransferPhase = "confirmed"
	PhaseFailed     TransferPhase = "failed"
)

// Terminal reports whether no further transitions happen without a reset.
func (p TransferPhase) Terminal() bool {
	return p == PhaseConfirmed || p == PhaseFailed
}

// InFlight reports whether an attempt currently owns the engine.
func (p TransferPhase) InFlight() bool {
	return p == PhaseValidating || p == PhaseSigning || p == PhaseSubmitted
}

// TransferState describes one submission attempt.
type TransferState struct {
	Phase         TransferPhase   `json:"phase"`
	AttemptID     string          `json:"attempt_id,omitempty"`
	ChainID       string          `json:"chain_id,omitempty"`
	From          common.Address  `json:"from,omitempty"`
	Request       TransferRequest `json:"request"`
	Hash          string          `json:"hash,omitempty"`
	ReceiptStatus uint64          `json:"receipt_status,omitempty"`
	BlockNumber   uint64          `json:"block_number,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Err           error           `json:"-"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ChainResult holds test results for a specific chain.
type ChainResult struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Symbol          string    `json:"symbol"`
	RPC             RPCResult `json:"rpc"`
	Mismatch        bool      `json:"mismatch"`
	ObservedChainID string    `json:"observed_chain_id,omitempty"`
}

// RPCResult holds test results for a specific RPC URL.
type RPCResult struct {
	URL    string `json:"url"`
	Status string `json:"status"` // "ok" or "error"
	Error  string `json:"error,omitempty"`
}

// TestReport holds the results of the configuration test.
type TestReport struct {
	ConfigPath       string        `json:"config_path"`
	ValidStructure   bool          `json:"valid_structure"`
	StructureErrors  []string      `json:"structure_errors,omitempty"`
	ChainCount       int           `json:"chain_count"`
	Chains           []ChainResult `json:"chains,omitempty"`
	MismatchedChains []string      `json:"mismatched_chains,omitempty"`
}
