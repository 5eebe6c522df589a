//go:build !unix

package mongrel2

import "os"

var handlerSignals = []os.Signal{os.Interrupt}

func signalEvent(sig os.Signal) (Event, bool) {
	if sig == os.Interrupt {
		return EventShutdown, true
	}
	return 0, false
}
