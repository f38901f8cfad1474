package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"mwallet/pkg/models"
	"mwallet/pkg/utils"
)

func (m model) View() string {
	switch m.screen {
	case screenRecover:
		return m.viewRecover()
	case screenPhrase:
		return m.viewPhrase()
	case screenWallet:
		if m.showHelp {
			return m.viewHelp()
		}
		if m.showQR {
			return m.viewQR()
		}
		if m.showGraph {
			return m.viewGraph()
		}
		return m.viewWallet()
	default:
		return m.viewHome()
	}
}

func (m model) place(content string) string {
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
}

func (m model) withStatus(footer string) string {
	if m.statusMessage == "" {
		return footer
	}
	return lipgloss.JoinVertical(lipgloss.Center, infoStyle.Render(m.statusMessage), footer)
}

func (m model) viewHome() string {
	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center,
		titleStyle.Render("mwallet"),
		"\n",
		"A minimal EVM wallet. Keys never leave memory.",
		"\n",
		"(c) Create a new wallet",
		"(r) Recover from a secret phrase",
	))
	footer := m.withStatus(subtleStyle.Render(fmt.Sprintf("q: quit • v%s", Version)))
	return m.place(lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer))
}

func (m model) viewRecover() string {
	lines := []string{
		titleStyle.Render("Recover Wallet"),
		"\n",
		"Type your 12-word secret phrase:",
		m.recoverInput.View(),
	}
	if m.recoverErr != "" {
		lines = append(lines, "", errStyle.Render(m.recoverErr))
	}
	lines = append(lines, "\n", subtleStyle.Render("Enter to recover • Esc to cancel"))
	return m.place(boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
}

func (m model) viewPhrase() string {
	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Your Secret Phrase"),
		"\n",
		warnStyle.Render("Write these words down in order. They are shown only once"),
		warnStyle.Render("and are the only way to recover this wallet."),
		"\n",
		phraseGrid(m.phrase),
		"\n",
		subtleStyle.Render("Enter to open your wallet"),
	))
	return m.place(content)
}

func (m model) viewWallet() string {
	view := m.deps.Session.Current()
	chain := m.chain()

	targetWidth := m.width - 4
	if targetWidth < 0 {
		targetWidth = 0
	}
	contentWidth := targetWidth - 4
	if contentWidth < 0 {
		contentWidth = 0
	}

	header := titleStyle.Render(fmt.Sprintf("mwallet - %s", chain.Name))
	addr := fmt.Sprintf("Address: %s", m.maskAddress(utils.ShortAddress(view.Address.Hex())))

	var balStr string
	switch {
	case m.balance != nil:
		balStr = fmt.Sprintf("%s %s", m.displayValue(m.balance.NativeBalance, m.deps.Config.TokenDecimals), chain.Symbol)
	case m.syncErrs["balance"] != "":
		balStr = errStyle.Render(m.syncErrs["balance"])
	default:
		balStr = fmt.Sprintf("%s Loading balance...", m.spinner.View())
	}
	balanceDisplay := balanceStyle.Width(contentWidth).Align(lipgloss.Center).Render(balStr)

	var tabs []string
	for t := tab(0); t < tabCount; t++ {
		if t == m.tab {
			tabs = append(tabs, activeTabStyle.Render(t.String()))
		} else {
			tabs = append(tabs, tabStyle.Render(t.String()))
		}
	}
	tabBar := lipgloss.JoinHorizontal(lipgloss.Top, tabs...)

	var body string
	switch m.tab {
	case tabTokens:
		body = m.viewTokens()
	case tabNFTs:
		body = m.viewNFTs()
	case tabTransfer:
		body = m.viewTransfer()
	}

	uiBlock := lipgloss.JoinVertical(lipgloss.Center,
		header,
		addr,
		"\n",
		balanceDisplay,
		"\n",
		tabBar,
		"",
		body,
	)
	content := boxStyle.Width(targetWidth).Align(lipgloss.Center).Render(uiBlock)

	line1 := "Tab:tabs • n:chain • r:ref • c:cpy • Q:qr • g:graph • P:prv • L:logout • ?:hlp • q:quit"
	line2 := fmt.Sprintf("%s (%s) • v%s", chain.Name, chain.ID, Version)
	var footer string
	if m.width > 0 {
		l1 := subtleStyle.Width(m.width).Align(lipgloss.Center).Render(line1)
		l2 := subtleStyle.Width(m.width).Align(lipgloss.Center).Render(line2)
		footer = lipgloss.JoinVertical(lipgloss.Center, l1, l2)
	} else {
		footer = subtleStyle.Render(line1 + "\n" + line2)
	}
	footer = m.withStatus(footer)

	return m.place(lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer))
}

func (m model) viewTokens() string {
	if m.holdings == nil {
		if reason := m.syncErrs["holdings"]; reason != "" {
			return errStyle.Render(reason)
		}
		return subtleStyle.Render("Loading tokens...")
	}
	if m.holdings.TokensErr != "" {
		return errStyle.Render("Tokens unavailable: " + m.holdings.TokensErr)
	}
	if len(m.holdings.Tokens) == 0 {
		return subtleStyle.Render("No tokens found")
	}
	headers := tableHeaderStyle.Render(fmt.Sprintf("%-10s %-24s %20s", "SYMBOL", "NAME", "BALANCE"))
	return lipgloss.JoinVertical(lipgloss.Left, headers,
		strings.Join(m.tokenRows(m.holdings.Tokens, m.deps.Config.TokenDecimals), "\n"))
}

func (m model) viewNFTs() string {
	if m.holdings == nil {
		if reason := m.syncErrs["holdings"]; reason != "" {
			return errStyle.Render(reason)
		}
		return subtleStyle.Render("Loading NFTs...")
	}
	if m.holdings.NFTsErr != "" {
		return errStyle.Render("NFTs unavailable: " + m.holdings.NFTsErr)
	}
	if len(m.holdings.NFTs) == 0 {
		return subtleStyle.Render("No NFTs found")
	}
	headers := tableHeaderStyle.Render(fmt.Sprintf("%-24s %-13s %s", "NAME", "TOKEN", "IMAGE"))
	return lipgloss.JoinVertical(lipgloss.Left, headers, strings.Join(nftRows(m.holdings.NFTs), "\n"))
}

func (m model) viewTransfer() string {
	lines := []string{
		fmt.Sprintf("%-10s %s", "To", m.transferInputs[0].View()),
		fmt.Sprintf("%-10s %s", "Amount", m.transferInputs[1].View()),
		"",
	}
	if m.transferErr != "" {
		lines = append(lines, errStyle.Render(m.transferErr))
	}
	if status := transferStatus(m.transfer); status != "" {
		style := infoStyle
		if m.transfer.Phase == models.PhaseFailed {
			style = errStyle
		}
		if m.transfer.Phase.InFlight() {
			status = m.spinner.View() + " " + status
		}
		lines = append(lines, style.Render(status))
	}

	var help string
	switch {
	case m.editing:
		help = "Tab: next field • Enter: send • Esc: done"
	case m.transfer.Phase.InFlight():
		help = "Transfer in progress..."
	case m.transfer.Phase.Terminal():
		help = "e: new transfer • o: open explorer • x: clear"
	default:
		help = "e: edit transfer"
	}
	lines = append(lines, subtleStyle.Render(help))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m model) viewQR() string {
	addr := m.deps.Session.Current().Address.Hex()
	qr, err := renderQR(addr)
	if err != nil {
		qr = errStyle.Render(err.Error())
	}
	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center,
		titleStyle.Render("Receive"),
		"\n",
		qr,
		addr,
	))
	footer := subtleStyle.Render("Q/q/esc: back")
	return m.place(lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer))
}

func (m model) viewGraph() string {
	header := titleStyle.Render("Balance History")
	graph := balanceGraph(m.history, m.width-10, m.height-12, m.chain().Symbol)
	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, header, "\n", graph))
	footer := subtleStyle.Render("g/q/esc: back")
	return m.place(lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer))
}

func (m model) viewHelp() string {
	shortcuts := []string{
		"Tab/l/Right: Next Tab",
		"S-Tab/h/Left: Prev Tab",
		"n: Next Chain",
		"r: Refresh Data",
		"c: Copy Address",
		"Q: Receive (QR Code)",
		"g: Balance Graph",
		"P: Toggle Privacy",
		"S: Show Secret Phrase",
		"e: Edit Transfer (Transfer tab)",
		"o: Open in Explorer (Transfer tab)",
		"x: Clear Transfer (Transfer tab)",
		"L: Logout",
		"q: Quit",
		"?: Toggle Help",
	}

	header := titleStyle.Render("Help: Wallet")
	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, "\n", strings.Join(shortcuts, "\n")))
	footer := subtleStyle.Render("Press '?' or 'esc' to close")
	return m.place(lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer))
}
