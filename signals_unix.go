//go:build unix

package mongrel2

import (
	"os"

	"golang.org/x/sys/unix"
)

var handlerSignals = []os.Signal{unix.SIGINT, unix.SIGTERM, unix.SIGHUP, unix.SIGUSR1}

// signalEvent maps a process signal to the event it triggers.
func signalEvent(sig os.Signal) (Event, bool) {
	switch sig {
	case unix.SIGINT, unix.SIGTERM:
		return EventShutdown, true
	case unix.SIGHUP:
		return EventRestart, true
	case unix.SIGUSR1:
		return EventCheckpoint, true
	}
	return 0, false
}
