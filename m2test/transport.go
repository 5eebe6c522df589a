package m2test

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Zereker/mongrel2"
)

// ErrSocketClosed is returned by sockets of a closed Transport.
var ErrSocketClosed = errors.New("m2test: socket closed")

// Transport is an in-memory mongrel2.Transport. Deliver queues messages
// for handlers to receive; Next returns what they published. Sockets dialed
// from one Transport share its queues, so restarts see the same traffic.
type Transport struct {
	requests chan []byte
	replies  chan []byte

	mu    sync.Mutex
	dials int
}

// NewTransport returns a Transport buffering up to size messages each way.
func NewTransport(size int) *Transport {
	return &Transport{
		requests: make(chan []byte, size),
		replies:  make(chan []byte, size),
	}
}

// Deliver queues raw for the next Recv.
func (t *Transport) Deliver(raw []byte) {
	t.requests <- raw
}

// Next waits up to timeout for the next published message.
func (t *Transport) Next(timeout time.Duration) ([]byte, error) {
	select {
	case msg := <-t.replies:
		return msg, nil
	case <-time.After(timeout):
		return nil, errors.Errorf("m2test: no reply within %s", timeout)
	}
}

// Dials returns how many sockets have been opened.
func (t *Transport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *Transport) Pull(context.Context, string, string) (mongrel2.Socket, error) {
	return t.socket(), nil
}

func (t *Transport) Pub(context.Context, string, string) (mongrel2.Socket, error) {
	return t.socket(), nil
}

func (t *Transport) socket() *socket {
	t.mu.Lock()
	t.dials++
	t.mu.Unlock()
	return &socket{t: t, done: make(chan struct{})}
}

type socket struct {
	t    *Transport
	done chan struct{}
	once sync.Once
}

func (s *socket) Recv() ([]byte, error) {
	select {
	case msg := <-s.t.requests:
		return msg, nil
	case <-s.done:
		return nil, ErrSocketClosed
	}
}

func (s *socket) Send(msg []byte) error {
	select {
	case <-s.done:
		return ErrSocketClosed
	case s.t.replies <- append([]byte(nil), msg...):
		return nil
	}
}

func (s *socket) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
