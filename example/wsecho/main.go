// Command wsecho accepts WebSocket connections and echoes every frame back
// to the client with the flags it arrived with, so fragmented messages come
// back fragmented.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/Zereker/mongrel2"
)

func echo(_ context.Context, req *mongrel2.WebSocketRequest) (mongrel2.Response, error) {
	res := req.WebSocketResponse()

	switch req.Opcode() {
	case mongrel2.OpPing:
		return res, nil
	case mongrel2.OpPong:
		return nil, nil
	case mongrel2.OpClose:
		if err := res.MakeCloseFrame(mongrel2.CloseNormal); err != nil {
			return nil, err
		}
		return mongrel2.CloseAfter(res), nil
	}

	if err := req.Frame().Validate(); err != nil {
		slog.Warn("invalid frame", "conn_id", req.ConnID(), "error", err)
		if err := res.MakeCloseFrame(mongrel2.CloseProtocolError); err != nil {
			return nil, err
		}
		return mongrel2.CloseAfter(res), nil
	}

	res.Frame().SetFlags(req.Frame().Flags())
	if _, err := res.Write(req.Payload()); err != nil {
		return nil, err
	}
	return res, nil
}

func main() {
	conn, err := mongrel2.NewConnection("ws-echo-handler",
		"tcp://127.0.0.1:9995", "tcp://127.0.0.1:9994",
		mongrel2.LoggerOption(slog.Default()))
	if err != nil {
		slog.Error("failed to create connection", "error", err)
		os.Exit(1)
	}

	h := mongrel2.NewHandler(conn,
		mongrel2.OnWebSocketHandshake(func(_ context.Context, req *mongrel2.WebSocketHandshake) (mongrel2.Response, error) {
			return req.ServerHandshake()
		}),
		mongrel2.OnWebSocket(echo),
	)

	if err := h.Run(context.Background()); err != nil {
		slog.Error("handler error", "error", err)
	}
}
