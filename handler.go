package mongrel2

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// receiveRetryDelay is how long the receive pump waits after a transport
// error before it tries again.
const receiveRetryDelay = 100 * time.Millisecond

// AddressResolver finds the transport addresses of a handler by its
// application id. send is where the server sends requests, recv where it
// receives replies.
type AddressResolver interface {
	HandlerSpec(ctx context.Context, appID string) (send, recv string, err error)
}

// handlerOptions holds the callbacks and settings of a Handler.
type handlerOptions struct {
	logger   Logger
	connOpts []Option
	signals  bool
	watch    []string

	onHTTP        func(context.Context, *HTTPRequest) (Response, error)
	onJSON        func(context.Context, *JSONRequest) (Response, error)
	onXML         func(context.Context, *XMLRequest) (Response, error)
	onDisconnect  func(context.Context, Request) error
	onUploadStart func(context.Context, Request) (Response, error)
	onHandshake   func(context.Context, *WebSocketHandshake) (Response, error)
	onWebSocket   func(context.Context, *WebSocketRequest) (Response, error)
	onRequest     func(context.Context, Request) (Response, error)
	onError       func(context.Context, Request, error)
}

// HandlerOption configures a Handler.
type HandlerOption func(*handlerOptions)

// OnHTTP sets the callback for HTTP requests. The default answers
// 204 No Content.
func OnHTTP(fn func(ctx context.Context, req *HTTPRequest) (Response, error)) HandlerOption {
	return func(o *handlerOptions) { o.onHTTP = fn }
}

// OnJSON sets the callback for JSON messages. The default ignores them.
func OnJSON(fn func(ctx context.Context, req *JSONRequest) (Response, error)) HandlerOption {
	return func(o *handlerOptions) { o.onJSON = fn }
}

// OnXML sets the callback for XML messages. The default ignores them.
func OnXML(fn func(ctx context.Context, req *XMLRequest) (Response, error)) HandlerOption {
	return func(o *handlerOptions) { o.onXML = fn }
}

// OnDisconnect sets the callback for disconnect notifications. Nothing is
// ever sent back for them.
func OnDisconnect(fn func(ctx context.Context, req Request) error) HandlerOption {
	return func(o *handlerOptions) { o.onDisconnect = fn }
}

// OnUploadStart sets the callback for "upload started" notifications. The
// default cancels the upload by closing the connection; return a nil
// Response to let it proceed.
func OnUploadStart(fn func(ctx context.Context, req Request) (Response, error)) HandlerOption {
	return func(o *handlerOptions) { o.onUploadStart = fn }
}

// OnWebSocketHandshake sets the callback for WebSocket handshakes. The
// default refuses them by closing the connection.
func OnWebSocketHandshake(fn func(ctx context.Context, req *WebSocketHandshake) (Response, error)) HandlerOption {
	return func(o *handlerOptions) { o.onHandshake = fn }
}

// OnWebSocket sets the callback for WebSocket frames. The default answers
// with a policy violation close frame and closes the connection.
func OnWebSocket(fn func(ctx context.Context, req *WebSocketRequest) (Response, error)) HandlerOption {
	return func(o *handlerOptions) { o.onWebSocket = fn }
}

// OnRequest sets the callback for requests no other callback covers.
func OnRequest(fn func(ctx context.Context, req Request) (Response, error)) HandlerOption {
	return func(o *handlerOptions) { o.onRequest = fn }
}

// OnError sets the callback for errors raised while handling a request,
// including failed replies. Errors are logged either way.
func OnError(fn func(ctx context.Context, req Request, err error)) HandlerOption {
	return func(o *handlerOptions) { o.onError = fn }
}

// HandlerLoggerOption sets the handler's logger. If not set, the
// connection's logger is used.
func HandlerLoggerOption(logger Logger) HandlerOption {
	return func(o *handlerOptions) { o.logger = logger }
}

// ConnectionOptions passes options to the connection NewHandlerFor creates.
func ConnectionOptions(opts ...Option) HandlerOption {
	return func(o *handlerOptions) { o.connOpts = append(o.connOpts, opts...) }
}

// SignalsOption turns process signal handling on or off. It is on by
// default: INT and TERM shut down, HUP restarts, USR1 logs a checkpoint.
func SignalsOption(enabled bool) HandlerOption {
	return func(o *handlerOptions) { o.signals = enabled }
}

// WatchFile restarts the handler whenever path is written or replaced.
func WatchFile(path string) HandlerOption {
	return func(o *handlerOptions) { o.watch = append(o.watch, path) }
}

func defaultHandlerOptions() handlerOptions {
	return handlerOptions{
		signals:       true,
		onHTTP:        defaultHTTP,
		onJSON:        func(context.Context, *JSONRequest) (Response, error) { return nil, nil },
		onXML:         func(context.Context, *XMLRequest) (Response, error) { return nil, nil },
		onDisconnect:  func(context.Context, Request) error { return nil },
		onUploadStart: func(_ context.Context, req Request) (Response, error) { return CloseConnection(req), nil },
		onHandshake:   func(_ context.Context, req *WebSocketHandshake) (Response, error) { return CloseConnection(req), nil },
		onWebSocket:   defaultWebSocket,
		onRequest:     func(context.Context, Request) (Response, error) { return nil, nil },
		onError:       func(context.Context, Request, error) {},
	}
}

func defaultHTTP(_ context.Context, req *HTTPRequest) (Response, error) {
	res := req.HTTPResponse()
	res.SetStatus(204)
	return res, nil
}

func defaultWebSocket(_ context.Context, req *WebSocketRequest) (Response, error) {
	res := NewWebSocketResponse(req.Info())
	if err := res.MakeCloseFrame(ClosePolicyViolation); err != nil {
		return nil, err
	}
	return CloseAfter(res), nil
}

// Handler receives requests on a Connection, dispatches each one to its
// callback and publishes the reply. Requests are handled one at a time, in
// the order they arrive.
type Handler struct {
	opts   handlerOptions
	logger Logger
	inbox  *inbox

	mu   sync.Mutex
	conn *Connection

	running atomic.Bool
	group   *errgroup.Group
	deliver chan delivery
	handled atomic.Uint64
}

// NewHandler returns a Handler serving conn.
func NewHandler(conn *Connection, opt ...HandlerOption) *Handler {
	opts := defaultHandlerOptions()
	for _, o := range opt {
		o(&opts)
	}
	if opts.logger == nil {
		opts.logger = conn.logger
	}

	return &Handler{
		opts:    opts,
		logger:  opts.logger,
		inbox:   newInbox(),
		conn:    conn,
		deliver: make(chan delivery),
	}
}

// NewHandlerFor looks up the addresses of appID with resolver and returns a
// Handler serving a new connection to them.
func NewHandlerFor(ctx context.Context, resolver AddressResolver, appID string, opt ...HandlerOption) (*Handler, error) {
	if resolver == nil {
		return nil, ErrNoResolver
	}
	send, recv, err := resolver.HandlerSpec(ctx, appID)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve handler %q", appID)
	}

	var opts handlerOptions
	for _, o := range opt {
		o(&opts)
	}
	connOpts := opts.connOpts
	if opts.logger != nil {
		connOpts = append([]Option{LoggerOption(opts.logger)}, connOpts...)
	}

	conn, err := NewConnection(appID, send, recv, connOpts...)
	if err != nil {
		return nil, err
	}
	return NewHandler(conn, opt...), nil
}

// Conn returns the connection currently in use. It changes on restart.
func (h *Handler) Conn() *Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn
}

// Post queues ev for the running loop. Events posted before Run are
// handled when it starts.
func (h *Handler) Post(ev Event) {
	h.inbox.post(ev)
}

// Shutdown asks the loop to stop and close the connection. A request being
// handled is finished first.
func (h *Handler) Shutdown() { h.Post(EventShutdown) }

// Restart asks the loop to replace its connection with a fresh duplicate.
func (h *Handler) Restart() { h.Post(EventRestart) }

// Routing interfaces. Custom variants embedding a built-in one route like it.
type (
	handshakeRequest interface{ handshakeRequest() *WebSocketHandshake }
	frameRequest     interface{ frameRequest() *WebSocketRequest }
	httpRequest      interface{ httpRequest() *HTTPRequest }
	jsonRequest      interface{ jsonRequest() *JSONRequest }
	xmlRequest       interface{ xmlRequest() *XMLRequest }
)

func (r *WebSocketHandshake) handshakeRequest() *WebSocketHandshake { return r }
func (r *WebSocketRequest) frameRequest() *WebSocketRequest         { return r }
func (r *HTTPRequest) httpRequest() *HTTPRequest                    { return r }
func (r *JSONRequest) jsonRequest() *JSONRequest                    { return r }
func (r *XMLRequest) xmlRequest() *XMLRequest                       { return r }

// Dispatch routes req to its callback and returns the reply to send, if
// any. A panicking callback is reported as an error.
func (h *Handler) Dispatch(ctx context.Context, req Request) (res Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, errors.Errorf("handler panic: %v", r)
		}
	}()

	if req.IsDisconnect() {
		h.logger.Debug("client disconnected", "sender", req.SenderID(), "conn_id", req.ConnID())
		return nil, h.opts.onDisconnect(ctx, req)
	}
	if req.UploadStarted() {
		h.logger.Debug("upload started", "sender", req.SenderID(), "conn_id", req.ConnID())
		return h.opts.onUploadStart(ctx, req)
	}

	switch r := req.(type) {
	case handshakeRequest:
		return h.opts.onHandshake(ctx, r.handshakeRequest())
	case frameRequest:
		return h.opts.onWebSocket(ctx, r.frameRequest())
	case httpRequest:
		return h.opts.onHTTP(ctx, r.httpRequest())
	case jsonRequest:
		return h.opts.onJSON(ctx, r.jsonRequest())
	case xmlRequest:
		return h.opts.onXML(ctx, r.xmlRequest())
	}
	return h.opts.onRequest(ctx, req)
}

// handle dispatches req, publishes the reply and removes any spool file.
func (h *Handler) handle(ctx context.Context, req Request) {
	defer func() {
		if err := CleanupSpool(req); err != nil {
			h.logger.Error("failed to remove spool file", "error", err)
		}
	}()

	res, err := h.Dispatch(ctx, req)
	if err != nil {
		h.fail(ctx, req, "request handler failed", err)
		return
	}
	h.handled.Add(1)
	if res == nil {
		return
	}
	if err := h.Conn().Reply(res); err != nil {
		h.fail(ctx, req, "failed to send reply", err)
	}
}

func (h *Handler) fail(ctx context.Context, req Request, msg string, err error) {
	h.logger.Error(msg, "sender", req.SenderID(), "conn_id", req.ConnID(),
		"path", req.Path(), "error", err)
	h.opts.onError(ctx, req, err)
}

// delivery is one receive result handed from a pump to the loop. The pump
// waits on done before receiving again.
type delivery struct {
	req  Request
	err  error
	done chan struct{}
}

// startPump starts receiving on conn in the run group.
func (h *Handler) startPump(ctx context.Context, conn *Connection) {
	h.group.Go(func() error {
		h.pump(ctx, conn)
		return nil
	})
}

func (h *Handler) pump(ctx context.Context, conn *Connection) {
	for {
		req, err := conn.Receive(ctx)
		if errors.Is(err, ErrConnectionClosed) {
			return
		}

		d := delivery{req: req, err: err, done: make(chan struct{})}
		select {
		case h.deliver <- d:
		case <-ctx.Done():
			h.discard(req)
			return
		}
		select {
		case <-d.done:
		case <-ctx.Done():
			return
		}

		if err != nil && !isMessageError(err) {
			select {
			case <-time.After(receiveRetryDelay):
			case <-ctx.Done():
				return
			}
		}
	}
}

// discard releases a request the loop stopped before it could take.
func (h *Handler) discard(req Request) {
	if req == nil {
		return
	}
	h.logger.Warn("dropping request received during shutdown",
		"sender", req.SenderID(), "conn_id", req.ConnID(), "path", req.Path())
	if err := CleanupSpool(req); err != nil {
		h.logger.Error("failed to remove spool file", "error", err)
	}
}

// isMessageError reports errors that condemn one message, not the channel.
func isMessageError(err error) bool {
	var fe *FramingError
	var me *UnhandledMethodError
	var be *BuildError
	return errors.As(err, &fe) || errors.As(err, &me) || errors.As(err, &be)
}

// Run serves requests until Shutdown is called or ctx is done, then closes
// the connection. It also watches process signals and files as configured.
func (h *Handler) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return errors.New("handler already running")
	}
	defer h.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, child := errgroup.WithContext(ctx)
	h.group = group

	conn := h.Conn()
	h.logger.Info("handler started", "conn", conn.String(), "identifier", conn.Identifier())
	if err := conn.Connect(child); err != nil {
		if cerr := conn.Close(); cerr != nil {
			h.logger.Warn("failed to close connection", "error", cerr)
		}
		return err
	}
	h.startPump(child, conn)

	group.Go(func() error {
		defer cancel()
		return h.loop(child)
	})
	if h.opts.signals {
		group.Go(func() error { return h.watchSignals(child) })
	}
	for _, path := range h.opts.watch {
		group.Go(func() error { return h.watchFile(child, path) })
	}

	err := group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Error("handler stopped with error", "error", err)
		return err
	}
	h.logger.Info("handler stopped", "handled", h.handled.Load())
	return nil
}

// loop is the single thread requests are handled on.
func (h *Handler) loop(ctx context.Context) error {
	defer func() {
		if err := h.Conn().Close(); err != nil {
			h.logger.Warn("failed to close connection", "error", err)
		}
	}()

	for {
		if stop := h.processEvents(ctx); stop {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-h.inbox.notify:
		case d := <-h.deliver:
			h.receive(ctx, d)
			close(d.done)
		}
	}
}

func (h *Handler) receive(ctx context.Context, d delivery) {
	switch {
	case d.err == nil:
		h.handle(ctx, d.req)
	case isMessageError(d.err):
		h.logger.Warn("dropping malformed message", "error", d.err)
	default:
		h.logger.Error("receive failed, retrying", "error", d.err)
	}
}

// processEvents applies queued events and reports whether the loop must stop.
func (h *Handler) processEvents(ctx context.Context) bool {
	for _, ev := range h.inbox.drain() {
		h.logger.Debug("handling event", "event", ev.String())
		switch ev {
		case EventShutdown:
			h.logger.Info("handler shutting down", "conn", h.Conn().String())
			return true
		case EventRestart:
			if err := h.restart(ctx); err != nil {
				h.logger.Error("restart failed, keeping current connection", "error", err)
			}
		case EventCheckpoint:
			conn := h.Conn()
			h.logger.Info("checkpoint", "conn", conn.String(),
				"identifier", conn.Identifier(), "handled", h.handled.Load())
		}
	}
	return false
}

// restart wires up a duplicate connection before closing the current one.
func (h *Handler) restart(ctx context.Context) error {
	old := h.Conn()
	next := old.Dup()
	if err := next.Connect(ctx); err != nil {
		next.Close()
		return errors.Wrap(err, "connect replacement")
	}
	h.startPump(ctx, next)

	h.mu.Lock()
	h.conn = next
	h.mu.Unlock()

	if err := old.Close(); err != nil {
		h.logger.Warn("failed to close replaced connection", "error", err)
	}
	h.logger.Info("handler restarted", "conn", next.String())
	return nil
}

func (h *Handler) watchSignals(ctx context.Context) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, handlerSignals...)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-ch:
			if ev, ok := signalEvent(sig); ok {
				h.logger.Info("received signal", "signal", sig.String(), "event", ev.String())
				h.Post(ev)
			}
		}
	}
}

func (h *Handler) String() string {
	return fmt.Sprintf("handler %s", h.Conn())
}
