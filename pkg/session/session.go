// Package session holds the single active wallet account and its selected
// chain. Secret material lives only in memory and is wiped on logout.
package session

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"mwallet/pkg/chains"
	"mwallet/pkg/keys"
	"mwallet/pkg/log"
	"mwallet/pkg/models"
)

// View is a read-only snapshot of the session. Generation increments on every
// account or chain change.
type View struct {
	Active     bool           `json:"active"`
	Address    common.Address `json:"address"`
	ChainID    string         `json:"chain_id"`
	Generation uint64         `json:"generation"`
}

// Store is the session state machine: Empty until a mnemonic is created or
// restored, Active until Logout.
type Store struct {
	registry *chains.Registry

	mu         sync.RWMutex
	account    *keys.Account
	mnemonic   keys.Mnemonic
	chainID    string
	generation uint64

	listenersMu sync.Mutex
	listeners   []func(View)
}

func NewStore(registry *chains.Registry) *Store {
	return &Store{
		registry: registry,
		chainID:  registry.Default(),
	}
}

// OnChange registers fn to be called after every account or chain change.
// Listeners run on the caller's goroutine after the session lock is released.
func (s *Store) OnChange(fn func(View)) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

// CreateFromNewMnemonic generates a fresh phrase, activates the derived
// account and returns the phrase so it can be shown for backup.
func (s *Store) CreateFromNewMnemonic() (keys.Mnemonic, error) {
	m, err := keys.GenerateMnemonic()
	if err != nil {
		return "", err
	}
	if err := s.activate(m); err != nil {
		return "", err
	}
	return m, nil
}

// RestoreFromMnemonic validates text before deriving anything. On failure the
// session is left exactly as it was.
func (s *Store) RestoreFromMnemonic(text string) error {
	m, err := keys.ValidateMnemonic(text)
	if err != nil {
		log.Session.Warn().Str("reason", models.Reason(err)).Msg("mnemonic rejected")
		return err
	}
	return s.activate(m)
}

func (s *Store) activate(m keys.Mnemonic) error {
	acct, err := keys.DeriveAccount(m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.account != nil {
		s.account.Wipe()
	}
	s.account = acct
	s.mnemonic = m
	s.generation++
	v := s.viewLocked()
	s.mu.Unlock()

	log.Session.Info().
		Str("address", v.Address.Hex()).
		Str("chain_id", v.ChainID).
		Msg("session activated")
	s.notify(v)
	return nil
}

// Logout wipes the signing key and forgets the mnemonic. It is a no-op when
// the session is already empty.
func (s *Store) Logout() {
	s.mu.Lock()
	if s.account == nil {
		s.mu.Unlock()
		return
	}
	s.account.Wipe()
	s.account = nil
	s.mnemonic = ""
	s.generation++
	v := s.viewLocked()
	s.mu.Unlock()

	log.Session.Info().Msg("session logged out")
	s.notify(v)
}

// SetChain selects the chain used for balances and transfers. It is valid in
// both states; selecting the current chain changes nothing.
func (s *Store) SetChain(id string) error {
	c, err := s.registry.Resolve(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.chainID == c.ID {
		s.mu.Unlock()
		return nil
	}
	s.chainID = c.ID
	s.generation++
	v := s.viewLocked()
	s.mu.Unlock()

	log.Session.Info().Str("chain_id", c.ID).Str("chain", c.Name).Msg("chain selected")
	s.notify(v)
	return nil
}

func (s *Store) Current() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked()
}

// Mnemonic reveals the active phrase so the wallet view can show it again
// for backup.
func (s *Store) Mnemonic() (keys.Mnemonic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.account == nil {
		return "", false
	}
	return s.mnemonic, true
}

// WithSigningKey runs fn with the active account while holding the session
// read lock, so Logout cannot wipe the key mid-signature. fn must not retain
// the account.
func (s *Store) WithSigningKey(fn func(View, *keys.Account) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.account == nil {
		return models.ErrNotActive
	}
	return fn(s.viewLocked(), s.account)
}

func (s *Store) viewLocked() View {
	v := View{ChainID: s.chainID, Generation: s.generation}
	if s.account != nil {
		v.Active = true
		v.Address = s.account.Address
	}
	return v
}

func (s *Store) notify(v View) {
	s.listenersMu.Lock()
	listeners := append([]func(View){}, s.listeners...)
	s.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(v)
	}
}
