package keys

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"mwallet/pkg/models"
)

// BIP-44 path m/44'/60'/0'/0/0.
var DerivationPath = []uint32{
	bip32.FirstHardenedChild + 44,
	bip32.FirstHardenedChild + 60,
	bip32.FirstHardenedChild + 0,
	0,
	0,
}

// Account is a derived EVM account. The signing key is never exported,
// serialized or formatted.
type Account struct {
	Address common.Address
	key     *ecdsa.PrivateKey
}

// DeriveAccount derives the account at DerivationPath from m using an empty
// BIP-39 passphrase.
func DeriveAccount(m Mnemonic) (*Account, error) {
	if _, err := ValidateMnemonic(string(m)); err != nil {
		return nil, err
	}

	seed := bip39.NewSeed(string(m), "")
	defer clear(seed)

	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: master key: %v", models.ErrInvalidMnemonic, err)
	}
	defer wipeExtended(master)

	current := master
	for _, idx := range DerivationPath {
		child, err := current.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("%w: derive child %d: %v", models.ErrInvalidMnemonic, idx, err)
		}
		if current != master {
			wipeExtended(current)
		}
		current = child
	}
	defer wipeExtended(current)

	priv, err := crypto.ToECDSA(privateKeyBytes(current))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidMnemonic, err)
	}
	return &Account{
		Address: crypto.PubkeyToAddress(priv.PublicKey),
		key:     priv,
	}, nil
}

// Wipe zeroes the private scalar. The account cannot sign afterwards.
func (a *Account) Wipe() {
	if a == nil || a.key == nil {
		return
	}
	clear(a.key.D.Bits())
	a.key.D.SetInt64(0)
	a.key = nil
}

func (a *Account) Wiped() bool {
	return a == nil || a.key == nil
}

func (a *Account) String() string {
	if a == nil {
		return "Account(<nil>)"
	}
	return fmt.Sprintf("Account(%s)", a.Address.Hex())
}

func (a *Account) GoString() string { return a.String() }

// bip32 private keys are 32 bytes, occasionally with a leading zero pad.
func privateKeyBytes(k *bip32.Key) []byte {
	raw := k.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}

func wipeExtended(k *bip32.Key) {
	if k == nil {
		return
	}
	clear(k.Key)
	clear(k.ChainCode)
}
