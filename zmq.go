package mongrel2

import (
	"context"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
)

// ZMQTransport connects to the server over ZeroMQ.
//
// Sockets are closed without lingering; messages still queued when a
// Connection is closed are dropped.
type ZMQTransport struct{}

// Pull dials a PULL socket to addr.
func (ZMQTransport) Pull(ctx context.Context, addr, identity string) (Socket, error) {
	return dialZMQ(zmq4.NewPull(ctx, zmq4.WithID(zmq4.SocketIdentity(identity))), addr)
}

// Pub dials a PUB socket to addr.
func (ZMQTransport) Pub(ctx context.Context, addr, identity string) (Socket, error) {
	return dialZMQ(zmq4.NewPub(ctx, zmq4.WithID(zmq4.SocketIdentity(identity))), addr)
}

func dialZMQ(s zmq4.Socket, addr string) (Socket, error) {
	if err := s.Dial(addr); err != nil {
		_ = s.Close()
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return &zmqSocket{sock: s}, nil
}

type zmqSocket struct {
	sock zmq4.Socket
}

func (z *zmqSocket) Send(msg []byte) error {
	return z.sock.Send(zmq4.NewMsg(msg))
}

func (z *zmqSocket) Recv() ([]byte, error) {
	msg, err := z.sock.Recv()
	if err != nil {
		return nil, err
	}
	if len(msg.Frames) == 0 {
		return nil, nil
	}
	return msg.Frames[len(msg.Frames)-1], nil
}

func (z *zmqSocket) Close() error {
	return z.sock.Close()
}
