package session

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mwallet/pkg/chains"
	"mwallet/pkg/config"
	"mwallet/pkg/keys"
	"mwallet/pkg/models"
)

const (
	vectorPhrase  = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	vectorAddress = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	r, err := chains.NewRegistry(config.DefaultChains(), "")
	require.NoError(t, err)
	return NewStore(r)
}

type recorder struct {
	mu    sync.Mutex
	views []View
}

func (r *recorder) record(v View) {
	r.mu.Lock()
	r.views = append(r.views, v)
	r.mu.Unlock()
}

func (r *recorder) all() []View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]View(nil), r.views...)
}

func TestNewStoreIsEmpty(t *testing.T) {
	s := newStore(t)
	v := s.Current()
	assert.False(t, v.Active)
	assert.Equal(t, common.Address{}, v.Address)
	assert.Equal(t, "0x1", v.ChainID)

	_, ok := s.Mnemonic()
	assert.False(t, ok)
}

func TestRestoreLogoutRestoreSameAddress(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.RestoreFromMnemonic(vectorPhrase))
	first := s.Current()
	assert.True(t, first.Active)
	assert.Equal(t, vectorAddress, first.Address.Hex())

	s.Logout()
	assert.False(t, s.Current().Active)

	require.NoError(t, s.RestoreFromMnemonic(vectorPhrase))
	assert.Equal(t, first.Address, s.Current().Address)
	assert.Greater(t, s.Current().Generation, first.Generation)
}

func TestRestoreInvalidLeavesEmpty(t *testing.T) {
	s := newStore(t)
	before := s.Current()

	err := s.RestoreFromMnemonic(vectorPhrase + " ")
	assert.ErrorIs(t, err, models.ErrInvalidMnemonic)
	assert.Equal(t, before, s.Current())
}

func TestRestoreInvalidLeavesActiveUntouched(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.RestoreFromMnemonic(vectorPhrase))
	before := s.Current()

	err := s.RestoreFromMnemonic("abandon abandon")
	assert.ErrorIs(t, err, models.ErrInvalidMnemonic)
	assert.Equal(t, before, s.Current())

	m, ok := s.Mnemonic()
	require.True(t, ok)
	assert.Equal(t, vectorPhrase, m.Phrase())
}

func TestCreateFromNewMnemonic(t *testing.T) {
	s := newStore(t)

	m, err := s.CreateFromNewMnemonic()
	require.NoError(t, err)
	assert.Len(t, m.Words(), keys.MnemonicWords)

	acct, err := keys.DeriveAccount(m)
	require.NoError(t, err)
	assert.Equal(t, acct.Address, s.Current().Address)

	revealed, ok := s.Mnemonic()
	require.True(t, ok)
	assert.Equal(t, m, revealed)
}

func TestLogoutWipesKey(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.RestoreFromMnemonic(vectorPhrase))

	var held *keys.Account
	require.NoError(t, s.WithSigningKey(func(_ View, a *keys.Account) error {
		held = a
		return nil
	}))
	s.Logout()

	assert.True(t, held.Wiped())
	_, ok := s.Mnemonic()
	assert.False(t, ok)
	assert.ErrorIs(t, s.WithSigningKey(func(View, *keys.Account) error { return nil }), models.ErrNotActive)
}

func TestLogoutWhenEmptyIsNoop(t *testing.T) {
	s := newStore(t)
	rec := &recorder{}
	s.OnChange(rec.record)

	s.Logout()
	assert.Empty(t, rec.all())
}

func TestSetChain(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.SetChain("0x89"))
	assert.Equal(t, "0x89", s.Current().ChainID)

	err := s.SetChain("0x999")
	assert.ErrorIs(t, err, models.ErrUnknownChain)
	assert.Equal(t, "0x89", s.Current().ChainID)

	require.NoError(t, s.RestoreFromMnemonic(vectorPhrase))
	gen := s.Current().Generation
	require.NoError(t, s.SetChain("0xAA36A7"))
	v := s.Current()
	assert.Equal(t, "0xaa36a7", v.ChainID)
	assert.True(t, v.Active)
	assert.Equal(t, gen+1, v.Generation)
}

func TestOnChangeSequence(t *testing.T) {
	s := newStore(t)
	rec := &recorder{}
	s.OnChange(rec.record)

	require.NoError(t, s.RestoreFromMnemonic(vectorPhrase))
	require.NoError(t, s.SetChain("0x89"))
	require.NoError(t, s.SetChain("0x89"))
	_ = s.SetChain("0xbad")
	s.Logout()

	views := rec.all()
	require.Len(t, views, 3)
	assert.True(t, views[0].Active)
	assert.Equal(t, "0x1", views[0].ChainID)
	assert.Equal(t, "0x89", views[1].ChainID)
	assert.False(t, views[2].Active)
	assert.Less(t, views[0].Generation, views[1].Generation)
	assert.Less(t, views[1].Generation, views[2].Generation)
}

func TestWithSigningKeySeesView(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.RestoreFromMnemonic(vectorPhrase))

	err := s.WithSigningKey(func(v View, a *keys.Account) error {
		assert.Equal(t, a.Address, v.Address)
		assert.False(t, a.Wiped())
		return nil
	})
	require.NoError(t, err)
}
