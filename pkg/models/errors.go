package models

import (
	"errors"
	"strings"
)

// Error taxonomy. Every error surfaced by the wallet core wraps exactly one of
// these with fmt.Errorf("%w: ...") so callers can classify it with errors.Is.
var (
	ErrInvalidMnemonic   = errors.New("invalid mnemonic")
	ErrUnknownChain      = errors.New("unknown chain")
	ErrChainUnsupported  = errors.New("chain unsupported by provider")
	ErrNetwork           = errors.New("network error")
	ErrInvalidRecipient  = errors.New("invalid recipient")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrSigning           = errors.New("signing error")
	ErrSubmission        = errors.New("submission error")
	ErrAlreadyInProgress = errors.New("transfer already in progress")
	ErrNotActive         = errors.New("no active wallet session")
)

// IsRetryable reports whether err is transient, so the UI can offer "retry"
// rather than "correct input".
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrChainUnsupported)
}

// IsValidation reports whether err is a permanent input problem.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidMnemonic) ||
		errors.Is(err, ErrInvalidRecipient) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrUnknownChain)
}

// Reason returns a human-readable, single-line description of err.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}
