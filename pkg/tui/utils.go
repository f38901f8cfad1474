package tui

import (
	"os/exec"
	"runtime"

	"github.com/shopspring/decimal"

	"mwallet/pkg/utils"
)

func (m model) displayValue(d decimal.Decimal, places int) string {
	if m.privacyMode {
		return "****"
	}
	return utils.FormatDecimal(d, places)
}

func (m model) maskAddress(addr string) string {
	if m.privacyMode {
		return "0x**...**"
	}
	return addr
}

// openBrowser opens the specified URL in the default browser.
func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start"}
	case "darwin":
		cmd = "open"
	default: // "linux", "freebsd", "openbsd", "netbsd"
		cmd = "xdg-open"
	}
	args = append(args, url)
	return exec.Command(cmd, args...).Start()
}
