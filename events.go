package mongrel2

import (
	"strconv"
	"sync"

	"github.com/eapache/queue"
)

// Event is a lifecycle request delivered to a running Handler.
type Event int

// Lifecycle events.
const (
	// EventShutdown stops the loop and closes the connection.
	EventShutdown Event = iota + 1
	// EventRestart replaces the connection with a fresh duplicate.
	EventRestart
	// EventCheckpoint only logs the handler's state.
	EventCheckpoint
)

func (e Event) String() string {
	switch e {
	case EventShutdown:
		return "shutdown"
	case EventRestart:
		return "restart"
	case EventCheckpoint:
		return "checkpoint"
	}
	return "event(" + strconv.Itoa(int(e)) + ")"
}

// inbox queues events for the handler loop. Posting never blocks; notify
// carries at most one pending wake-up.
type inbox struct {
	mu     sync.Mutex
	events *queue.Queue
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{
		events: queue.New(),
		notify: make(chan struct{}, 1),
	}
}

func (b *inbox) post(ev Event) {
	b.mu.Lock()
	b.events.Add(ev)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// drain removes and returns every queued event in posting order.
func (b *inbox) drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.events.Length() == 0 {
		return nil
	}
	evs := make([]Event, 0, b.events.Length())
	for b.events.Length() > 0 {
		evs = append(evs, b.events.Remove().(Event))
	}
	return evs
}
