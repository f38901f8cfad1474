package tui

import (
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"mwallet/pkg/models"
	"mwallet/pkg/watcher"
)

func clearStatusAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return clearStatusMsg{}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case watcher.Event:
		if m.sub != nil {
			cmds = append(cmds, listenForWatcher(m.sub))
		}
		m.applyEvent(msg)
		m.lastUpdate = time.Now()

	case transferDoneMsg:
		m.transferErr = ""
		if msg.rejected {
			m.transferErr = models.Reason(msg.err)
		}
		m.transfer = msg.state

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		var cmd tea.Cmd
		switch m.screen {
		case screenHome:
			m, cmd = m.updateHome(msg)
		case screenRecover:
			m, cmd = m.updateRecover(msg)
		case screenPhrase:
			m, cmd = m.updatePhrase(msg)
		case screenWallet:
			m, cmd = m.updateWallet(msg)
		}
		cmds = append(cmds, cmd)

	case clearStatusMsg:
		m.statusMessage = ""

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m model) updateHome(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		return m, tea.Quit
	case "c", "1":
		phrase, err := m.deps.Session.CreateFromNewMnemonic()
		if err != nil {
			m.statusMessage = models.Reason(err)
			return m, clearStatusAfter(3 * time.Second)
		}
		m.phrase = phrase
		m.screen = screenPhrase
	case "r", "2":
		m.screen = screenRecover
		m.recoverErr = ""
		m.recoverInput.Reset()
		return m, m.recoverInput.Focus()
	}
	return m, nil
}

func (m model) updateRecover(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.recoverInput.Reset()
		m.recoverInput.Blur()
		m.recoverErr = ""
		m.screen = screenHome
		return m, nil
	case tea.KeyEnter:
		err := m.deps.Session.RestoreFromMnemonic(m.recoverInput.Value())
		if err != nil {
			m.recoverErr = models.Reason(err)
			return m, nil
		}
		m.recoverInput.Reset()
		m.recoverInput.Blur()
		m.recoverErr = ""
		m.enterWallet()
		return m, nil
	}
	var cmd tea.Cmd
	m.recoverInput, cmd = m.recoverInput.Update(msg)
	return m, cmd
}

func (m model) updatePhrase(msg tea.KeyMsg) (model, tea.Cmd) {
	// the wallet is already active; leaving this screen opens it
	switch msg.String() {
	case "enter", "q", "esc":
		m.phrase = ""
		m.enterWallet()
	}
	return m, nil
}

func (m *model) enterWallet() {
	m.screen = screenWallet
	m.tab = tabTokens
	m.loading = m.balance == nil
	m.transferErr = ""
}

func (m model) updateWallet(msg tea.KeyMsg) (model, tea.Cmd) {
	if m.editing {
		return m.updateTransferForm(msg)
	}

	if msg.String() == "?" {
		m.showHelp = !m.showHelp
		return m, nil
	}
	if m.showHelp {
		if msg.String() == "q" || msg.String() == "esc" {
			m.showHelp = false
		}
		return m, nil
	}
	if m.showQR || m.showGraph {
		switch msg.String() {
		case "q", "esc", "Q", "g":
			m.showQR = false
			m.showGraph = false
		}
		return m, nil
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "tab", "right", "l":
		m.tab = (m.tab + 1) % tabCount
	case "shift+tab", "left", "h":
		m.tab = (m.tab + tabCount - 1) % tabCount
	case "n":
		next := m.deps.Registry.Next(m.deps.Session.Current().ChainID)
		if err := m.deps.Session.SetChain(next); err != nil {
			m.statusMessage = models.Reason(err)
			return m, clearStatusAfter(2 * time.Second)
		}
		m.loading = true
	case "r":
		m.loading = true
		m.deps.Watcher.Refresh()
		m.statusMessage = "Refreshing data..."
		return m, clearStatusAfter(2 * time.Second)
	case "c":
		if err := clipboard.WriteAll(m.deps.Session.Current().Address.Hex()); err != nil {
			m.statusMessage = "Failed to copy to clipboard"
		} else {
			m.statusMessage = "Full address copied to clipboard!"
		}
		return m, clearStatusAfter(2 * time.Second)
	case "Q":
		m.showQR = true
	case "g":
		m.showGraph = true
	case "P":
		m.privacyMode = !m.privacyMode
	case "S":
		phrase, ok := m.deps.Session.Mnemonic()
		if !ok {
			return m, nil
		}
		m.phrase = phrase
		m.screen = screenPhrase
	case "L":
		m.deps.Session.Logout()
		m.balance = nil
		m.holdings = nil
		m.history = nil
		m.transferErr = ""
		for i := range m.transferInputs {
			m.transferInputs[i].Reset()
		}
		m.screen = screenHome
		m.loading = false
	case "e", "enter":
		if m.tab == tabTransfer && !m.transfer.Phase.InFlight() {
			m.editing = true
			m.transferFocus = 0
			m.transferErr = ""
			return m, m.focusTransferInput()
		}
	case "x":
		if m.tab == tabTransfer && m.transfer.Phase.Terminal() {
			m.deps.Engine.Reset()
			m.transfer = m.deps.Engine.State()
		}
	case "o":
		if m.tab == tabTransfer {
			url := m.deps.Engine.ExplorerURL(m.transfer)
			if url == "" {
				m.statusMessage = "No explorer link for this transfer"
			} else if err := openBrowser(url); err != nil {
				m.statusMessage = "Failed to open browser: " + err.Error()
			} else {
				m.statusMessage = "Opened in browser"
			}
			return m, clearStatusAfter(2 * time.Second)
		}
	}
	return m, nil
}

func (m *model) focusTransferInput() tea.Cmd {
	var cmd tea.Cmd
	for i := range m.transferInputs {
		if i == m.transferFocus {
			cmd = m.transferInputs[i].Focus()
		} else {
			m.transferInputs[i].Blur()
		}
	}
	return cmd
}

func (m model) updateTransferForm(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.editing = false
		for i := range m.transferInputs {
			m.transferInputs[i].Blur()
		}
		return m, nil
	case tea.KeyTab, tea.KeyDown, tea.KeyUp, tea.KeyShiftTab:
		m.transferFocus = (m.transferFocus + 1) % len(m.transferInputs)
		return m, m.focusTransferInput()
	case tea.KeyEnter:
		if m.transferFocus < len(m.transferInputs)-1 {
			m.transferFocus++
			return m, m.focusTransferInput()
		}
		req := models.TransferRequest{
			To:           m.transferInputs[0].Value(),
			AmountNative: m.transferInputs[1].Value(),
		}
		m.editing = false
		for i := range m.transferInputs {
			m.transferInputs[i].Blur()
		}
		m.transferErr = ""
		return m, submitTransfer(m.deps.Engine, req)
	}
	var cmd tea.Cmd
	m.transferInputs[m.transferFocus], cmd = m.transferInputs[m.transferFocus].Update(msg)
	return m, cmd
}
