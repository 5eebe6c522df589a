package main

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/Zereker/mongrel2"
	"github.com/Zereker/mongrel2/config"
)

var (
	appID     string
	watchPath string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the request dumper",
	RunE: func(cmd *cobra.Command, args []string) error {
		if appID != "" {
			settings.AppID = appID
		}
		if watchPath != "" {
			settings.Watch = watchPath
		}
		if settings.AppID == "" {
			return fmt.Errorf("no app id: set app_id in %s or pass --app-id", cfgFile)
		}

		store, err := config.Open(settings.Store)
		if err != nil {
			return err
		}
		defer config.Close(store)

		opts := append(dumperOptions(),
			mongrel2.HandlerLoggerOption(logger),
			mongrel2.ConnectionOptions(mongrel2.ChrootResolverOption(store)),
		)
		if settings.Watch != "" {
			opts = append(opts, mongrel2.WatchFile(settings.Watch))
		}

		h, err := mongrel2.NewHandlerFor(cmd.Context(), store, settings.AppID, opts...)
		if err != nil {
			return err
		}
		logger.Info("starting request dumper", "app_id", settings.AppID, "handler", h.String())
		return h.Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVar(&appID, "app-id", "", "handler send ident (overrides app_id)")
	runCmd.Flags().StringVar(&watchPath, "watch", "", "restart when this file changes")
	rootCmd.AddCommand(runCmd)
}

// dumperOptions answers HTTP requests with a plain-text dump of the request,
// accepts WebSocket handshakes and echoes frames.
func dumperOptions() []mongrel2.HandlerOption {
	return []mongrel2.HandlerOption{
		mongrel2.OnHTTP(func(_ context.Context, req *mongrel2.HTTPRequest) (mongrel2.Response, error) {
			res := req.HTTPResponse()
			res.SetContentType("text/plain; charset=utf-8")
			if _, err := res.WriteString(dump(req)); err != nil {
				return nil, err
			}
			res.SetStatus(200)
			return res, nil
		}),
		mongrel2.OnJSON(func(_ context.Context, req *mongrel2.JSONRequest) (mongrel2.Response, error) {
			logger.Info("json message", "path", req.Path(), "data", req.Data)
			return nil, nil
		}),
		mongrel2.OnUploadStart(func(_ context.Context, req mongrel2.Request) (mongrel2.Response, error) {
			logger.Info("accepting upload", "conn_id", req.ConnID(), "spool", req.Headers().Get(mongrel2.HeaderUploadStart))
			return nil, nil
		}),
		mongrel2.OnWebSocketHandshake(func(_ context.Context, req *mongrel2.WebSocketHandshake) (mongrel2.Response, error) {
			return req.ServerHandshake()
		}),
		mongrel2.OnWebSocket(func(_ context.Context, req *mongrel2.WebSocketRequest) (mongrel2.Response, error) {
			res := req.WebSocketResponse()
			switch req.Opcode() {
			case mongrel2.OpClose:
				return mongrel2.CloseAfter(res), nil
			case mongrel2.OpPing:
				return res, nil
			}
			if _, err := res.Write(req.Payload()); err != nil {
				return nil, err
			}
			return res, nil
		}),
		mongrel2.OnDisconnect(func(_ context.Context, req mongrel2.Request) error {
			logger.Debug("client went away", "conn_id", req.ConnID())
			return nil
		}),
	}
}

// dump renders req as readable text.
func dump(req *mongrel2.HTTPRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %s\n", req.Method(), req.URI(), req.Version())
	fmt.Fprintf(&sb, "sender: %s\nconn: %d\npattern: %s\n\n", req.SenderID(), req.ConnID(), req.Pattern())
	sb.WriteString(req.Headers().String())

	if path, err := req.UploadedFile(); err == nil {
		fmt.Fprintf(&sb, "\nuploaded to %s\n", path)
	}
	if req.Body().Kind() == mongrel2.FileBody {
		if info, err := req.Body().File().Stat(); err == nil {
			fmt.Fprintf(&sb, "\nbody: %d bytes spooled\n", info.Size())
		}
		return sb.String()
	}

	body, err := req.Body().Bytes()
	if err != nil {
		logger.Warn("failed to read body", "conn_id", req.ConnID(), "error", err)
	}
	if len(body) > 0 {
		sb.WriteString("\n")
		sb.Write(body)
	}
	return sb.String()
}
