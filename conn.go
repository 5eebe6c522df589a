// Package mongrel2 connects Go handlers to the Mongrel2 web server.
//
// The server forwards every request it routes to a handler as a message on
// a PULL socket and reads replies from a PUB socket. This package decodes
// those messages into typed requests (HTTP, JSON, XML, WebSocket), renders
// typed responses back into the server's framing, and runs the handler loop
// that ties both together.
package mongrel2

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidAddress is returned when a connection is created without both
// transport addresses.
var ErrInvalidAddress = errors.New("invalid transport address")

// Connection is a handler's link to the server: a PULL channel requests
// arrive on and a PUB channel replies are published to. Channels are opened
// on first use.
type Connection struct {
	appID      string
	pullAddr   string
	pubAddr    string
	identifier string

	opts   options
	logger Logger

	mu     sync.Mutex
	in     Socket
	out    Socket
	closed atomic.Bool
}

// NewConnection returns an unconnected Connection for the handler appID that
// receives requests from pullAddr and publishes replies to pubAddr.
func NewConnection(appID, pullAddr, pubAddr string, opt ...Option) (*Connection, error) {
	if pullAddr == "" || pubAddr == "" {
		return nil, ErrInvalidAddress
	}

	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	return &Connection{
		appID:      appID,
		pullAddr:   pullAddr,
		pubAddr:    pubAddr,
		identifier: makeIdentifier(appID),
		opts:       opts,
		logger:     opts.logger,
	}, nil
}

// makeIdentifier derives a socket identity unique to this process.
func makeIdentifier(appID string) string {
	host, _ := os.Hostname()
	h := sha1.New()
	h.Write([]byte(appID))
	h.Write([]byte(host))
	h.Write([]byte(strconv.Itoa(os.Getpid())))
	h.Write([]byte(time.Now().String()))
	return hex.EncodeToString(h.Sum(nil))
}

// AppID returns the handler's application id.
func (c *Connection) AppID() string { return c.appID }

// Identifier returns the socket identity.
func (c *Connection) Identifier() string { return c.identifier }

// PullAddr returns the address requests are received from.
func (c *Connection) PullAddr() string { return c.pullAddr }

// PubAddr returns the address replies are published to.
func (c *Connection) PubAddr() string { return c.pubAddr }

// Connect opens both channels. Channels that are already open are kept.
func (c *Connection) Connect(ctx context.Context) error {
	if _, err := c.receiver(ctx); err != nil {
		return err
	}
	_, err := c.sender(ctx)
	return err
}

func (c *Connection) receiver(ctx context.Context) (Socket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	if c.in == nil {
		c.logger.Info("connecting PULL request socket", "addr", c.pullAddr)
		s, err := c.opts.transport.Pull(ctx, c.pullAddr, c.identifier)
		if err != nil {
			return nil, errors.Wrap(err, "connect request socket")
		}
		c.in = s
	}
	return c.in, nil
}

func (c *Connection) sender(ctx context.Context) (Socket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	if c.out == nil {
		c.logger.Info("connecting PUB response socket", "addr", c.pubAddr)
		s, err := c.opts.transport.Pub(ctx, c.pubAddr, c.identifier)
		if err != nil {
			return nil, errors.Wrap(err, "connect response socket")
		}
		c.out = s
	}
	return c.out, nil
}

// Recv blocks until the next raw message arrives.
func (c *Connection) Recv(ctx context.Context) ([]byte, error) {
	in, err := c.receiver(ctx)
	if err != nil {
		return nil, err
	}

	data, err := in.Recv()
	if err != nil {
		if c.closed.Load() {
			return nil, ErrConnectionClosed
		}
		return nil, errors.Wrap(err, "receive request")
	}
	c.logger.Debug("received request data", "bytes", len(data))
	return data, nil
}

// Receive blocks until the next request arrives and parses it.
func (c *Connection) Receive(ctx context.Context) (Request, error) {
	data, err := c.Recv(ctx)
	if err != nil {
		return nil, err
	}
	return c.opts.registry.Parse(ctx, data, c.opts.chroots)
}

func (c *Connection) publish(msg []byte) error {
	out, err := c.sender(context.Background())
	if err != nil {
		return err
	}
	if err := out.Send(msg); err != nil {
		if c.closed.Load() {
			return ErrConnectionClosed
		}
		return errors.Wrap(err, "send reply")
	}
	c.logger.Debug("sent reply", "bytes", len(msg))
	return nil
}

// Send delivers data to one client connection of the server sender.
func (c *Connection) Send(sender string, connID uint64, data []byte) error {
	return c.Broadcast(sender, []uint64{connID}, data)
}

// Broadcast delivers data to several client connections at once.
func (c *Connection) Broadcast(sender string, connIDs []uint64, data []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return c.publish(EncodeReply(sender, connIDs, data))
}

// SendExtended asks the server to run filter with values for one client
// connection.
func (c *Connection) SendExtended(sender string, connID uint64, filter string, values ...any) error {
	return c.BroadcastExtended(sender, []uint64{connID}, filter, values...)
}

// BroadcastExtended asks the server to run filter for several client
// connections.
func (c *Connection) BroadcastExtended(sender string, connIDs []uint64, filter string, values ...any) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	msg, err := EncodeExtendedReply(sender, connIDs, filter, values...)
	if err != nil {
		return err
	}
	return c.publish(msg)
}

// SendClose tells the server to close a client connection.
func (c *Connection) SendClose(sender string, connID uint64) error {
	c.logger.Info("sending close", "sender", sender, "conn_id", connID)
	return c.Send(sender, connID, nil)
}

// BroadcastClose tells the server to close several client connections.
func (c *Connection) BroadcastClose(sender string, connIDs ...uint64) error {
	return c.Broadcast(sender, connIDs, nil)
}

// ReplyClose closes the client connection a request came from or a
// response is addressed to.
func (c *Connection) ReplyClose(target interface{ Info() RequestInfo }) error {
	info := target.Info()
	return c.SendClose(info.Sender, info.ConnID)
}

// Reply sends every chunk of res, then its extended reply if it has one.
func (c *Connection) Reply(res Response) error {
	info := res.Info()
	err := res.EachChunk(func(chunk []byte) error {
		return c.Send(info.Sender, info.ConnID, chunk)
	})
	if err != nil {
		return err
	}

	if filter, values, ok := res.ExtendedReply(); ok {
		c.logger.Debug("sending extended reply", "filter", filter)
		return c.SendExtended(info.Sender, info.ConnID, filter, values...)
	}
	return nil
}

// Close closes both channels. Safe to call multiple times.
func (c *Connection) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}

	c.mu.Lock()
	in, out := c.in, c.out
	c.in, c.out = nil, nil
	c.mu.Unlock()

	var err error
	if in != nil {
		if cerr := in.Close(); cerr != nil {
			err = errors.Wrap(cerr, "close request socket")
		}
	}
	if out != nil {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "close response socket")
		}
	}
	return err
}

// IsClosed returns true if the connection has been closed.
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// Dup returns an unconnected, open copy with the same identity and options.
func (c *Connection) Dup() *Connection {
	return &Connection{
		appID:      c.appID,
		pullAddr:   c.pullAddr,
		pubAddr:    c.pubAddr,
		identifier: c.identifier,
		opts:       c.opts,
		logger:     c.logger,
	}
}

func (c *Connection) String() string {
	return fmt.Sprintf("{%s} %s <-> %s", c.appID, c.pullAddr, c.pubAddr)
}
