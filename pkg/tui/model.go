package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mwallet/pkg/chains"
	"mwallet/pkg/config"
	"mwallet/pkg/keys"
	"mwallet/pkg/models"
	"mwallet/pkg/session"
	"mwallet/pkg/transfer"
	"mwallet/pkg/watcher"
)

// Version is set by Start()
var Version = "dev"

// Deps are the core services the UI drives.
type Deps struct {
	Registry *chains.Registry
	Session  *session.Store
	Watcher  *watcher.Watcher
	Engine   *transfer.Engine
	Config   config.GlobalConfig
}

type screen int

const (
	screenHome screen = iota
	screenRecover
	screenPhrase
	screenWallet
)

type tab int

const (
	tabTokens tab = iota
	tabNFTs
	tabTransfer
	tabCount
)

func (t tab) String() string {
	switch t {
	case tabTokens:
		return "Tokens"
	case tabNFTs:
		return "NFTs"
	default:
		return "Transfer"
	}
}

// --- Messages ---

type clearStatusMsg struct{}

// transferDoneMsg carries the result of a blocking Submit. rejected is set
// when no attempt was started.
type transferDoneMsg struct {
	state    models.TransferState
	err      error
	rejected bool
}

// --- Model ---

type model struct {
	deps Deps
	sub  watcher.Subscriber

	screen screen
	tab    tab
	width  int
	height int

	spinner       spinner.Model
	loading       bool
	statusMessage string
	lastUpdate    time.Time

	recoverInput textinput.Model
	recoverErr   string
	phrase       keys.Mnemonic

	balance  *models.BalanceSnapshot
	holdings *models.HoldingsSnapshot
	history  []float64
	syncErrs map[string]string

	transferInputs []textinput.Model
	transferFocus  int
	editing        bool
	transfer       models.TransferState
	transferErr    string

	showHelp    bool
	showQR      bool
	showGraph   bool
	privacyMode bool
}

func initialModel(deps Deps) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ri := textinput.New()
	ri.Placeholder = "twelve words separated by single spaces"
	ri.Width = 80
	ri.CharLimit = 256

	tis := make([]textinput.Model, 2)
	for i := range tis {
		tis[i] = textinput.New()
		tis[i].Width = 46
	}
	tis[0].Placeholder = "Recipient (0x...)"
	tis[0].CharLimit = 42
	tis[1].Placeholder = "Amount"
	tis[1].CharLimit = 40

	m := model{
		deps:           deps,
		screen:         screenHome,
		spinner:        s,
		recoverInput:   ri,
		transferInputs: tis,
		syncErrs:       make(map[string]string),
		transfer:       models.TransferState{Phase: models.PhaseIdle},
	}
	if deps.Engine != nil {
		m.transfer = deps.Engine.State()
	}
	if deps.Session != nil && deps.Session.Current().Active {
		m.screen = screenWallet
		m.loading = true
	}
	return m
}

func (m model) Init() tea.Cmd {
	var cmds []tea.Cmd
	if m.sub != nil {
		cmds = append(cmds, listenForWatcher(m.sub))
	}
	cmds = append(cmds, m.spinner.Tick)
	return tea.Batch(cmds...)
}

// chain returns the chain selected in the session.
func (m model) chain() config.ChainConfig {
	c, err := m.deps.Registry.Resolve(m.deps.Session.Current().ChainID)
	if err != nil {
		return config.ChainConfig{ID: m.deps.Session.Current().ChainID, Name: "Unknown chain"}
	}
	return c
}
