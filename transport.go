package mongrel2

import "context"

// Socket is one end of a message queue channel carrying whole messages.
type Socket interface {
	Send(msg []byte) error
	Recv() ([]byte, error)
	Close() error
}

// Transport opens the two channels a Connection talks to the server over:
// a PULL socket requests arrive on and a PUB socket replies leave on.
// identity is set on both sockets so the server can tell handlers apart.
type Transport interface {
	Pull(ctx context.Context, addr, identity string) (Socket, error)
	Pub(ctx context.Context, addr, identity string) (Socket, error)
}
