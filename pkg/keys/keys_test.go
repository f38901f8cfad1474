package keys

import (
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mwallet/pkg/models"
)

const (
	vectorPhrase  = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	vectorAddress = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
)

func TestGenerateMnemonic(t *testing.T) {
	m, err := GenerateMnemonic()
	require.NoError(t, err)
	assert.Len(t, m.Words(), MnemonicWords)

	_, err = ValidateMnemonic(m.Phrase())
	assert.NoError(t, err, "generated mnemonic should validate")
}

func TestGenerateMnemonic_Unique(t *testing.T) {
	m1, err := GenerateMnemonic()
	require.NoError(t, err)
	m2, err := GenerateMnemonic()
	require.NoError(t, err)
	assert.NotEqual(t, m1.Phrase(), m2.Phrase())
}

func TestValidateMnemonic(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		reason    string
	}{
		{name: "valid vector", candidate: vectorPhrase},
		{name: "empty", candidate: "", reason: "empty"},
		{name: "trailing space", candidate: vectorPhrase + " ", reason: "leading or trailing"},
		{name: "leading space", candidate: " " + vectorPhrase, reason: "leading or trailing"},
		{name: "double space", candidate: strings.Replace(vectorPhrase, " ", "  ", 1), reason: "single spaces"},
		{name: "newline", candidate: strings.Replace(vectorPhrase, " ", "\n", 1), reason: "single spaces"},
		{name: "eleven words", candidate: strings.Repeat("abandon ", 10) + "about", reason: "expected 12 words, got 11"},
		{name: "uppercase", candidate: strings.Replace(vectorPhrase, "abandon", "Abandon", 1), reason: "word 1 is not lowercase"},
		{name: "not in wordlist", candidate: strings.Replace(vectorPhrase, "about", "aboot", 1), reason: "word 12 is not in the wordlist"},
		{name: "bad checksum", candidate: strings.Repeat("abandon ", 11) + "abandon", reason: "checksum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ValidateMnemonic(tt.candidate)
			if tt.reason == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.candidate, m.Phrase())
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrInvalidMnemonic)
			assert.Contains(t, err.Error(), tt.reason)
			assert.Empty(t, m.Phrase())
		})
	}
}

func TestValidateMnemonicDoesNotEchoWords(t *testing.T) {
	_, err := ValidateMnemonic(strings.Replace(vectorPhrase, "about", "zebraa", 1))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "zebraa")
	assert.NotContains(t, err.Error(), "abandon")
}

func TestMnemonicFormatsRedacted(t *testing.T) {
	m := Mnemonic(vectorPhrase)
	assert.NotContains(t, fmt.Sprintf("%v", m), "abandon")
	assert.NotContains(t, fmt.Sprintf("%s", m), "abandon")
	assert.NotContains(t, fmt.Sprintf("%#v", m), "abandon")
}

func TestDeriveAccountKnownVector(t *testing.T) {
	m, err := ValidateMnemonic(vectorPhrase)
	require.NoError(t, err)

	acct, err := DeriveAccount(m)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(vectorAddress), acct.Address)
	assert.Equal(t, vectorAddress, acct.Address.Hex())
}

func TestDeriveAccountDeterministic(t *testing.T) {
	m, err := GenerateMnemonic()
	require.NoError(t, err)

	a1, err := DeriveAccount(m)
	require.NoError(t, err)
	a2, err := DeriveAccount(m)
	require.NoError(t, err)
	assert.Equal(t, a1.Address, a2.Address)
}

func TestDeriveAccountRejectsInvalid(t *testing.T) {
	_, err := DeriveAccount(Mnemonic("not a mnemonic"))
	assert.ErrorIs(t, err, models.ErrInvalidMnemonic)
}

func TestAccountWipe(t *testing.T) {
	acct, err := DeriveAccount(Mnemonic(vectorPhrase))
	require.NoError(t, err)
	key := acct.key
	require.False(t, acct.Wiped())

	acct.Wipe()
	assert.True(t, acct.Wiped())
	assert.Equal(t, 0, key.D.Sign())

	acct.Wipe()
	assert.True(t, acct.Wiped())
}

func TestAccountStringOmitsKey(t *testing.T) {
	acct, err := DeriveAccount(Mnemonic(vectorPhrase))
	require.NoError(t, err)
	s := fmt.Sprintf("%v %+v %#v", acct, acct, acct)
	assert.Contains(t, s, acct.Address.Hex())
	assert.NotContains(t, s, acct.key.D.Text(16))
}

func unsignedDynamicFeeTx(t *testing.T, chainID int64) []byte {
	t.Helper()
	to := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(chainID),
		Nonce:     7,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(30_000_000_000),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(1_000_000_000_000_000),
	})
	payload, err := tx.MarshalBinary()
	require.NoError(t, err)
	return payload
}

func TestSignRecoversToDerivedAddress(t *testing.T) {
	acct, err := DeriveAccount(Mnemonic(vectorPhrase))
	require.NoError(t, err)

	for _, chainID := range []int64{1, 137, 11155111} {
		signed, err := Sign(acct, unsignedDynamicFeeTx(t, chainID))
		require.NoError(t, err)

		tx := new(types.Transaction)
		require.NoError(t, tx.UnmarshalBinary(signed))
		assert.Equal(t, big.NewInt(chainID), tx.ChainId())
		assert.Equal(t, uint64(7), tx.Nonce())

		from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
		require.NoError(t, err)
		assert.Equal(t, acct.Address, from)
	}
}

func TestSignAccessListTx(t *testing.T) {
	acct, err := DeriveAccount(Mnemonic(vectorPhrase))
	require.NoError(t, err)
	to := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	payload, err := types.NewTx(&types.AccessListTx{
		ChainID:  big.NewInt(56),
		GasPrice: big.NewInt(3_000_000_000),
		Gas:      21000,
		To:       &to,
		Value:    big.NewInt(1),
	}).MarshalBinary()
	require.NoError(t, err)

	signed, err := Sign(acct, payload)
	require.NoError(t, err)
	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(signed))
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(56)), tx)
	require.NoError(t, err)
	assert.Equal(t, acct.Address, from)
}

func TestSignErrors(t *testing.T) {
	acct, err := DeriveAccount(Mnemonic(vectorPhrase))
	require.NoError(t, err)

	_, err = Sign(acct, []byte{0x02, 0xde, 0xad})
	assert.ErrorIs(t, err, models.ErrSigning)

	_, err = Sign(acct, nil)
	assert.ErrorIs(t, err, models.ErrSigning)

	to := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	legacy, err := types.NewTx(&types.LegacyTx{Gas: 21000, To: &to, Value: big.NewInt(1), GasPrice: big.NewInt(1)}).MarshalBinary()
	require.NoError(t, err)
	_, err = Sign(acct, legacy)
	assert.ErrorIs(t, err, models.ErrSigning)
	assert.Contains(t, err.Error(), "chain id")

	acct.Wipe()
	_, err = Sign(acct, unsignedDynamicFeeTx(t, 1))
	assert.ErrorIs(t, err, models.ErrSigning)

	_, err = Sign(nil, unsignedDynamicFeeTx(t, 1))
	assert.ErrorIs(t, err, models.ErrSigning)
}
