// Package control talks to the server's control port, the REQ/REP socket
// m2sh uses to stop, reload and inspect a running server.
package control

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"

	"github.com/Zereker/mongrel2/tnetstring"
)

// DefaultAddr is where a server started from its own directory listens.
const DefaultAddr = "ipc://run/control"

// Requester sends one request and waits for its reply.
type Requester interface {
	Request(ctx context.Context, msg []byte) ([]byte, error)
	Close() error
}

// Row is one row of a command's result, keyed by column name.
type Row map[string]any

// Error is an error reported by the server for a command.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("control: %s: %s", e.Code, e.Message)
}

// Client sends commands to a control port. Commands are serialized; the
// REQ socket allows only one outstanding request.
type Client struct {
	mu  sync.Mutex
	req Requester
}

// New connects to the control port at addr over ZeroMQ.
func New(ctx context.Context, addr string) (*Client, error) {
	req, err := DialZMQ(ctx, addr)
	if err != nil {
		return nil, err
	}
	return NewWithRequester(req), nil
}

// NewWithRequester returns a Client sending commands through req.
func NewWithRequester(req Requester) *Client {
	return &Client{req: req}
}

// Do sends the command name with args and returns the result rows.
func (c *Client) Do(ctx context.Context, name string, args tnetstring.Dict) ([]Row, error) {
	if args == nil {
		args = tnetstring.Dict{}
	}
	msg, err := tnetstring.Dump([]any{name, args})
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s command", name)
	}

	c.mu.Lock()
	reply, err := c.req.Request(ctx, msg)
	c.mu.Unlock()
	if err != nil {
		return nil, errors.Wrapf(err, "%s command", name)
	}
	return decodeReply(reply)
}

func decodeReply(reply []byte) ([]Row, error) {
	v, err := tnetstring.ParseExact(reply)
	if err != nil {
		return nil, errors.Wrap(err, "decode control reply")
	}
	d, ok := v.(tnetstring.Dict)
	if !ok {
		return nil, errors.Errorf("control reply is a %T, not a dict", v)
	}

	if code, ok := d.Get("code"); ok {
		msg, _ := d.Get("error")
		return nil, &Error{Code: fmt.Sprint(code), Message: fmt.Sprint(msg)}
	}

	hv, _ := d.Get("headers")
	rv, _ := d.Get("rows")
	headers, ok := hv.([]any)
	if !ok {
		return nil, errors.New("control reply has no headers")
	}
	rows, _ := rv.([]any)

	out := make([]Row, 0, len(rows))
	for i, r := range rows {
		cols, ok := r.([]any)
		if !ok || len(cols) != len(headers) {
			return nil, errors.Errorf("control reply row %d does not match the headers", i)
		}
		row := make(Row, len(cols))
		for j, h := range headers {
			row[fmt.Sprint(h)] = cols[j]
		}
		out = append(out, row)
	}
	return out, nil
}

// Stop shuts the server down (SIGINT).
func (c *Client) Stop(ctx context.Context) ([]Row, error) { return c.Do(ctx, "stop", nil) }

// Reload reloads the server's configuration.
func (c *Client) Reload(ctx context.Context) ([]Row, error) { return c.Do(ctx, "reload", nil) }

// Terminate terminates the server (SIGTERM).
func (c *Client) Terminate(ctx context.Context) ([]Row, error) { return c.Do(ctx, "terminate", nil) }

// Help lists the control commands.
func (c *Client) Help(ctx context.Context) ([]Row, error) { return c.Do(ctx, "help", nil) }

// UUID returns the server's uuid.
func (c *Client) UUID(ctx context.Context) ([]Row, error) { return c.Do(ctx, "uuid", nil) }

// Info describes the running server.
func (c *Client) Info(ctx context.Context) ([]Row, error) { return c.Do(ctx, "info", nil) }

// Tasklist lists the server's tasks.
func (c *Client) Tasklist(ctx context.Context) ([]Row, error) {
	return c.Do(ctx, "status", tnetstring.Dict{{Key: "what", Value: "tasks"}})
}

// ConnStatus lists the server's client connections.
func (c *Client) ConnStatus(ctx context.Context) ([]Row, error) {
	return c.Do(ctx, "status", tnetstring.Dict{{Key: "what", Value: "net"}})
}

// Kill closes the client connection id.
func (c *Client) Kill(ctx context.Context, id int) ([]Row, error) {
	return c.Do(ctx, "kill", tnetstring.Dict{{Key: "id", Value: id}})
}

// ControlStop shuts the control port down.
func (c *Client) ControlStop(ctx context.Context) ([]Row, error) {
	return c.Do(ctx, "control_stop", nil)
}

// Time returns the server's clock.
func (c *Client) Time(ctx context.Context) (time.Time, error) {
	rows, err := c.Do(ctx, "time", nil)
	if err != nil {
		return time.Time{}, err
	}
	if len(rows) == 0 {
		return time.Time{}, errors.New("time command returned no rows")
	}
	secs, err := strconv.ParseInt(fmt.Sprint(rows[0]["time"]), 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "parse server time")
	}
	return time.Unix(secs, 0), nil
}

// Close closes the underlying socket.
func (c *Client) Close() error {
	return c.req.Close()
}

// zmqRequester is a REQ socket.
type zmqRequester struct {
	sock zmq4.Socket
}

// DialZMQ connects a REQ socket to addr.
func DialZMQ(ctx context.Context, addr string) (Requester, error) {
	sock := zmq4.NewReq(ctx)
	if err := sock.Dial(addr); err != nil {
		_ = sock.Close()
		return nil, errors.Wrapf(err, "dial control port %s", addr)
	}
	return &zmqRequester{sock: sock}, nil
}

func (z *zmqRequester) Request(ctx context.Context, msg []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := z.sock.Send(zmq4.NewMsg(msg)); err != nil {
		return nil, err
	}
	reply, err := z.sock.Recv()
	if err != nil {
		return nil, err
	}
	if len(reply.Frames) == 0 {
		return nil, errors.New("empty control reply")
	}
	return reply.Frames[len(reply.Frames)-1], nil
}

func (z *zmqRequester) Close() error {
	return z.sock.Close()
}
