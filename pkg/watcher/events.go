package watcher

import (
	"github.com/ethereum/go-ethereum/common"
)

// EventType defines the type of event being broadcast.
type EventType string

const (
	EventBalanceUpdated  EventType = "balance_updated"
	EventHoldingsUpdated EventType = "holdings_updated"
	EventSyncFailed      EventType = "sync_failed"
	EventTargetChanged   EventType = "target_changed"
	EventTransferUpdated EventType = "transfer_updated"
)

// Event represents a sync or transfer event.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// Subscriber is a channel that receives events.
type Subscriber chan Event

// SyncFailure is the payload of EventSyncFailed.
type SyncFailure struct {
	Kind      string         `json:"kind"`
	Address   common.Address `json:"address"`
	ChainID   string         `json:"chain_id"`
	Reason    string         `json:"reason"`
	Retryable bool           `json:"retryable"`
	Err       error          `json:"-"`
}
