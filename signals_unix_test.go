//go:build unix

package mongrel2

import (
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

func TestSignalEvent(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want Event
		ok   bool
	}{
		{unix.SIGINT, EventShutdown, true},
		{unix.SIGTERM, EventShutdown, true},
		{unix.SIGHUP, EventRestart, true},
		{unix.SIGUSR1, EventCheckpoint, true},
		{unix.SIGUSR2, 0, false},
	}

	for _, tt := range tests {
		got, ok := signalEvent(tt.sig)
		if got != tt.want || ok != tt.ok {
			t.Errorf("signalEvent(%v) = (%v, %v), want (%v, %v)", tt.sig, got, ok, tt.want, tt.ok)
		}
	}
}
