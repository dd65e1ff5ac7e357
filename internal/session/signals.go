package session

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// signalTable maps the accepted signal names. Lookups are case-insensitive
// and tolerate a SIG prefix.
var signalTable = map[string]unix.Signal{
	"HUP":   unix.SIGHUP,
	"INT":   unix.SIGINT,
	"QUIT":  unix.SIGQUIT,
	"KILL":  unix.SIGKILL,
	"USR1":  unix.SIGUSR1,
	"USR2":  unix.SIGUSR2,
	"TERM":  unix.SIGTERM,
	"CONT":  unix.SIGCONT,
	"STOP":  unix.SIGSTOP,
	"TSTP":  unix.SIGTSTP,
	"WINCH": unix.SIGWINCH,
}

// SignalFromName resolves a signal name like "term", "SIGHUP", or "Int".
func SignalFromName(name string) (unix.Signal, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, "SIG")
	sig, ok := signalTable[n]
	if !ok {
		return 0, fmt.Errorf("unknown signal %q", name)
	}
	return sig, nil
}
