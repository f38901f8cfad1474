package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ethereum/go-ethereum/common"
	"github.com/guptarohit/asciigraph"
	"github.com/skip2/go-qrcode"

	"mwallet/pkg/keys"
	"mwallet/pkg/models"
	"mwallet/pkg/transfer"
	"mwallet/pkg/utils"
	"mwallet/pkg/watcher"
)

func listenForWatcher(sub watcher.Subscriber) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub
		if !ok {
			return nil
		}
		return ev
	}
}

func submitTransfer(engine *transfer.Engine, req models.TransferRequest) tea.Cmd {
	return func() tea.Msg {
		before := engine.State().AttemptID
		st, err := engine.Submit(context.Background(), req)
		return transferDoneMsg{state: st, err: err, rejected: err != nil && st.AttemptID == before}
	}
}

// current reports whether a snapshot for addr on chainID belongs to the
// session as it is now.
func (m model) current(addr common.Address, chainID string) bool {
	v := m.deps.Session.Current()
	return v.Active && v.Address == addr && v.ChainID == chainID
}

// applyEvent folds a watcher event into the model.
func (m *model) applyEvent(ev watcher.Event) {
	switch ev.Type {
	case watcher.EventTargetChanged:
		t, _ := ev.Data.(watcher.Target)
		m.balance = nil
		m.holdings = nil
		m.history = nil
		m.syncErrs = make(map[string]string)
		m.loading = t.Active
	case watcher.EventBalanceUpdated:
		snap, ok := ev.Data.(models.BalanceSnapshot)
		if !ok || !m.current(snap.Address, snap.ChainID) {
			return
		}
		m.balance = &snap
		m.history = m.deps.Watcher.History()
		delete(m.syncErrs, "balance")
		m.loading = m.holdings == nil
	case watcher.EventHoldingsUpdated:
		snap, ok := ev.Data.(models.HoldingsSnapshot)
		if !ok || !m.current(snap.Address, snap.ChainID) {
			return
		}
		m.holdings = &snap
		delete(m.syncErrs, "holdings")
		m.loading = m.balance == nil
	case watcher.EventSyncFailed:
		f, ok := ev.Data.(watcher.SyncFailure)
		if !ok || !m.current(f.Address, f.ChainID) {
			return
		}
		msg := f.Reason
		if f.Retryable {
			msg += " (r to retry)"
		}
		m.syncErrs[f.Kind] = msg
		m.loading = false
	case watcher.EventTransferUpdated:
		if st, ok := ev.Data.(models.TransferState); ok {
			m.transfer = st
		}
	}
}

// phraseGrid lays the words out numbered in three columns.
func phraseGrid(phrase keys.Mnemonic) string {
	words := phrase.Words()
	var rows []string
	for i := 0; i < len(words); i += 3 {
		var cols []string
		for j := i; j < i+3 && j < len(words); j++ {
			cols = append(cols, fmt.Sprintf("%2d. %-10s", j+1, words[j]))
		}
		rows = append(rows, strings.Join(cols, "  "))
	}
	return strings.Join(rows, "\n")
}

// renderQR renders content as a terminal QR code.
func renderQR(content string) (string, error) {
	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}
	return qr.ToSmallString(false), nil
}

func balanceGraph(history []float64, width, height int, symbol string) string {
	if len(history) < 2 {
		return "Not enough data to draw graph."
	}
	if width < 10 {
		width = 10
	}
	if height < 3 {
		height = 3
	}
	return asciigraph.Plot(history,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(fmt.Sprintf("Balance History (%s)", symbol)),
	)
}

func (m model) tokenRows(tokens []models.Token, places int) []string {
	var rows []string
	for _, t := range tokens {
		name := t.Name
		if name == "" {
			name = utils.ShortAddress(t.Address)
		}
		rows = append(rows, fmt.Sprintf("%-10s %-24s %20s",
			utils.TruncateString(t.Symbol, 10),
			utils.TruncateString(name, 24),
			m.displayValue(t.Balance, places),
		))
	}
	return rows
}

func nftRows(nfts []models.NFT) []string {
	var rows []string
	for _, n := range nfts {
		name := n.Name
		if name == "" {
			name = utils.ShortAddress(n.TokenAddress)
		}
		rows = append(rows, fmt.Sprintf("%-24s #%-12s %s",
			utils.TruncateString(name, 24),
			utils.TruncateString(n.TokenID, 12),
			utils.TruncateString(n.MediaURL, 40),
		))
	}
	return rows
}

// transferStatus describes the engine state for the Transfer tab.
func transferStatus(st models.TransferState) string {
	switch st.Phase {
	case models.PhaseValidating:
		return "Validating..."
	case models.PhaseSigning:
		return "Signing transaction..."
	case models.PhaseSubmitted:
		return fmt.Sprintf("Submitted %s, waiting for confirmation...", utils.ShortAddress(st.Hash))
	case models.PhaseConfirmed:
		return fmt.Sprintf("Confirmed in block %d: %s", st.BlockNumber, st.Hash)
	case models.PhaseFailed:
		if st.Hash != "" {
			return fmt.Sprintf("Failed: %s (%s)", st.Reason, st.Hash)
		}
		return "Failed: " + st.Reason
	default:
		return ""
	}
}
