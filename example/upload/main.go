// Command upload accepts asynchronous uploads up to a size limit and
// answers each finished upload with the SHA-256 of what was sent. Handler
// addresses and the server chroot come from a mongrel2.yaml file.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/Zereker/mongrel2"
	"github.com/Zereker/mongrel2/config"
)

const maxUpload = 64 << 20

func start(_ context.Context, req mongrel2.Request) (mongrel2.Response, error) {
	n, err := strconv.ParseInt(req.Headers().Get("content-length"), 10, 64)
	if err != nil || n > maxUpload {
		slog.Warn("refusing upload", "conn_id", req.ConnID(), "content_length", req.Headers().Get("content-length"))
		return mongrel2.CloseConnection(req), nil
	}
	slog.Info("upload started", "conn_id", req.ConnID(), "bytes", n)
	return nil, nil
}

func finish(_ context.Context, req *mongrel2.HTTPRequest) (mongrel2.Response, error) {
	res := req.HTTPResponse()
	if !req.UploadDone() {
		res.SetStatus(400)
		_, err := res.WriteString("send a body larger than the server's upload limit\n")
		return res, err
	}
	if _, err := req.UploadedFile(); err != nil {
		res.SetStatus(500)
		_, werr := res.WriteString(err.Error() + "\n")
		return res, werr
	}

	h := sha256.New()
	n, err := io.Copy(h, req.Body())
	if err != nil {
		return nil, err
	}
	res.SetStatus(201)
	res.SetContentType("text/plain")
	_, err = fmt.Fprintf(res, "%d bytes, sha256 %s\n", n, hex.EncodeToString(h.Sum(nil)))
	return res, err
}

func main() {
	store, err := config.NewFileStore("mongrel2.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	h, err := mongrel2.NewHandlerFor(context.Background(), store, "upload-handler",
		mongrel2.ConnectionOptions(
			mongrel2.LoggerOption(slog.Default()),
			mongrel2.ChrootResolverOption(store),
		),
		mongrel2.OnUploadStart(start),
		mongrel2.OnHTTP(finish),
		mongrel2.WatchFile(store.Path()),
	)
	if err != nil {
		slog.Error("failed to create handler", "error", err)
		os.Exit(1)
	}

	if err := h.Run(context.Background()); err != nil {
		slog.Error("handler error", "error", err)
	}
}
