// Command helloworld answers every HTTP request with a greeting.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/Zereker/mongrel2"
)

func main() {
	conn, err := mongrel2.NewConnection("helloworld-handler",
		"tcp://127.0.0.1:9999", "tcp://127.0.0.1:9998",
		mongrel2.LoggerOption(slog.Default()))
	if err != nil {
		slog.Error("failed to create connection", "error", err)
		os.Exit(1)
	}

	h := mongrel2.NewHandler(conn,
		mongrel2.OnHTTP(func(_ context.Context, req *mongrel2.HTTPRequest) (mongrel2.Response, error) {
			res := req.HTTPResponse()
			res.SetContentType("text/plain")
			if _, err := res.WriteString("Hello, world!\n"); err != nil {
				return nil, err
			}
			return res, nil
		}),
	)

	slog.Info("handler start", "handler", h.String())
	if err := h.Run(context.Background()); err != nil {
		slog.Error("handler error", "error", err)
	}
}
