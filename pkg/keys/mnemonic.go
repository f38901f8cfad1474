// Package keys implements mnemonic handling, BIP-44 account derivation and
// transaction signing for EVM accounts.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/tyler-smith/go-bip39"

	"mwallet/pkg/models"
)

// MnemonicEntropyBits is the entropy size for 12-word mnemonics.
const MnemonicEntropyBits = 128

// MnemonicWords is the only accepted phrase length.
const MnemonicWords = 12

// Mnemonic is a validated 12-word BIP-39 phrase. It formats as a redacted
// placeholder; use Phrase to obtain the words.
type Mnemonic string

// Phrase returns the space-separated words.
func (m Mnemonic) Phrase() string { return string(m) }

// Words splits the phrase.
func (m Mnemonic) Words() []string { return strings.Split(string(m), " ") }

func (m Mnemonic) String() string { return "[redacted mnemonic]" }

func (m Mnemonic) GoString() string { return m.String() }

// GenerateMnemonic creates a new 12-word mnemonic from fresh entropy.
func GenerateMnemonic() (Mnemonic, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	defer clear(entropy)
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return Mnemonic(phrase), nil
}

// ValidateMnemonic checks candidate against the phrase rules: exactly 12
// lowercase English-wordlist words separated by single spaces, with a valid
// checksum. The returned error names the rule that failed but never echoes
// any word of the candidate.
func ValidateMnemonic(candidate string) (Mnemonic, error) {
	if candidate == "" {
		return "", invalid("phrase is empty")
	}
	if strings.TrimSpace(candidate) != candidate {
		return "", invalid("phrase has leading or trailing whitespace")
	}
	if strings.Contains(candidate, "  ") || strings.ContainsAny(candidate, "\t\r\n") {
		return "", invalid("words must be separated by single spaces")
	}

	words := strings.Split(candidate, " ")
	if len(words) != MnemonicWords {
		return "", invalid(fmt.Sprintf("expected %d words, got %d", MnemonicWords, len(words)))
	}
	for i, w := range words {
		if strings.IndexFunc(w, unicode.IsUpper) >= 0 {
			return "", invalid(fmt.Sprintf("word %d is not lowercase", i+1))
		}
		if _, ok := bip39.GetWordIndex(w); !ok {
			return "", invalid(fmt.Sprintf("word %d is not in the wordlist", i+1))
		}
	}

	entropy, err := bip39.EntropyFromMnemonic(candidate)
	if err != nil {
		return "", invalid("checksum mismatch")
	}
	clear(entropy)
	return Mnemonic(candidate), nil
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", models.ErrInvalidMnemonic, reason)
}
