package mongrel2

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func parse(t *testing.T, raw []byte) Request {
	t.Helper()
	req, err := ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest error: %v", err)
	}
	return req
}

func newTestHandler(t *testing.T, opts ...HandlerOption) (*Handler, *fakeTransport) {
	t.Helper()
	conn, tr := newTestConnection(t)
	opts = append([]HandlerOption{SignalsOption(false), HandlerLoggerOption(NopLogger{})}, opts...)
	return NewHandler(conn, opts...), tr
}

// runHandler runs h in the background and stops it when the test ends.
func runHandler(t *testing.T, h *Handler) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		errCh <- h.Run(context.Background())
		close(done)
	}()

	t.Cleanup(func() {
		h.Shutdown()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("handler did not stop")
		}
	})
	return errCh
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatch_DefaultHTTP(t *testing.T) {
	h, _ := newTestHandler(t)
	fixedClock(t)

	res, err := h.Dispatch(context.Background(), parse(t, rawRequest(t, "GET", "/", "")))
	if err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	hr, ok := res.(*HTTPResponse)
	if !ok {
		t.Fatalf("response = %T, want *HTTPResponse", res)
	}
	if hr.EffectiveStatus() != 204 {
		t.Errorf("status = %d, want 204", hr.EffectiveStatus())
	}
	if hr.Body().Size() != 0 {
		t.Errorf("body size = %d, want 0", hr.Body().Size())
	}
	if !strings.HasPrefix(hr.String(), "HTTP/1.1 204 No Content\r\n") {
		t.Errorf("rendered = %q", hr.String())
	}
}

func TestDispatch_Disconnect(t *testing.T) {
	var called atomic.Bool
	h, _ := newTestHandler(t,
		OnDisconnect(func(_ context.Context, req Request) error {
			called.Store(true)
			return nil
		}),
		OnJSON(func(context.Context, *JSONRequest) (Response, error) {
			t.Error("OnJSON called for a disconnect")
			return nil, nil
		}),
	)

	res, err := h.Dispatch(context.Background(), parse(t, rawRequest(t, MethodJSON, "@*", `{"type":"disconnect"}`)))
	if err != nil || res != nil {
		t.Errorf("Dispatch = (%v, %v), want no reply", res, err)
	}
	if !called.Load() {
		t.Error("OnDisconnect not called")
	}
}

func TestDispatch_UploadStart(t *testing.T) {
	raw := rawRequest(t, "POST", "/upload", "", HeaderUploadStart, "tmp/upload-1")

	h, _ := newTestHandler(t)
	res, err := h.Dispatch(context.Background(), parse(t, raw))
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.Info().ConnID != 7 {
		t.Fatalf("default upload start response = %v, want a close", res)
	}
	var chunks [][]byte
	res.EachChunk(func(c []byte) error { chunks = append(chunks, c); return nil })
	if len(chunks) != 1 || len(chunks[0]) != 0 {
		t.Errorf("close chunks = %q, want one empty chunk", chunks)
	}

	accept, _ := newTestHandler(t, OnUploadStart(func(context.Context, Request) (Response, error) {
		return nil, nil
	}))
	if res, err := accept.Dispatch(context.Background(), parse(t, raw)); res != nil || err != nil {
		t.Errorf("accepting upload start = (%v, %v)", res, err)
	}
}

func TestDispatch_Handshake(t *testing.T) {
	raw := rawRequest(t, MethodHandshake, "/ws", "", "sec-websocket-key", "dGhlIHNhbXBsZSBub25jZQ==")

	h, _ := newTestHandler(t, OnHTTP(func(context.Context, *HTTPRequest) (Response, error) {
		t.Error("OnHTTP called for a handshake")
		return nil, nil
	}))
	res, err := h.Dispatch(context.Background(), parse(t, raw))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.(*BaseResponse); !ok {
		t.Errorf("default handshake response = %T, want a bare close", res)
	}

	h, _ = newTestHandler(t, OnWebSocketHandshake(func(_ context.Context, req *WebSocketHandshake) (Response, error) {
		return req.ServerHandshake()
	}))
	res, err = h.Dispatch(context.Background(), parse(t, raw))
	if err != nil {
		t.Fatal(err)
	}
	sh, ok := res.(*ServerHandshake)
	if !ok || sh.EffectiveStatus() != 101 {
		t.Fatalf("handshake response = %T", res)
	}
	if got := sh.Headers().Get("sec-websocket-accept"); got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Errorf("accept = %q", got)
	}
}

func TestDispatch_DefaultWebSocketClosesWithPolicyViolation(t *testing.T) {
	h, _ := newTestHandler(t)

	res, err := h.Dispatch(context.Background(), parse(t, rawRequest(t, MethodWebSocket, "/ws", "hi", "FLAGS", "0x81")))
	if err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}

	var chunks [][]byte
	if err := res.EachChunk(func(c []byte) error { chunks = append(chunks, c); return nil }); err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want a close frame then a close", len(chunks))
	}
	want := "\x88\x17" + "1008 Policy violation.\n"
	if string(chunks[0]) != want {
		t.Errorf("close frame = %q, want %q", chunks[0], want)
	}
	if len(chunks[1]) != 0 {
		t.Errorf("second chunk = %q, want empty", chunks[1])
	}
}

func TestDispatch_WebSocketEcho(t *testing.T) {
	h, _ := newTestHandler(t, OnWebSocket(func(_ context.Context, req *WebSocketRequest) (Response, error) {
		res := req.WebSocketResponse()
		res.Write(req.Payload())
		return res, nil
	}))

	res, err := h.Dispatch(context.Background(), parse(t, rawRequest(t, MethodWebSocket, "/ws", "hi", "FLAGS", "0x81")))
	if err != nil {
		t.Fatal(err)
	}
	var out []byte
	res.EachChunk(func(c []byte) error { out = append(out, c...); return nil })
	if string(out) != "\x81\x02hi" {
		t.Errorf("echo = %q", out)
	}
}

func TestDispatch_JSONAndXMLDefaultsAreSilent(t *testing.T) {
	h, _ := newTestHandler(t)
	for _, raw := range [][]byte{
		rawRequest(t, MethodJSON, "/j", `{"msg":"hi"}`),
		rawRequest(t, MethodXML, "/x", `<hi/>`),
	} {
		if res, err := h.Dispatch(context.Background(), parse(t, raw)); res != nil || err != nil {
			t.Errorf("Dispatch = (%v, %v), want nothing", res, err)
		}
	}
}

func TestDispatch_JSONAndXMLCallbacks(t *testing.T) {
	var gotJSON, gotXML string
	h, _ := newTestHandler(t,
		OnJSON(func(_ context.Context, req *JSONRequest) (Response, error) {
			gotJSON = req.Data.(map[string]any)["msg"].(string)
			return nil, nil
		}),
		OnXML(func(_ context.Context, req *XMLRequest) (Response, error) {
			gotXML = req.Document.Root().Tag
			return nil, nil
		}),
	)

	h.Dispatch(context.Background(), parse(t, rawRequest(t, MethodJSON, "/j", `{"msg":"hi"}`)))
	h.Dispatch(context.Background(), parse(t, rawRequest(t, MethodXML, "/x", `<greeting/>`)))

	if gotJSON != "hi" || gotXML != "greeting" {
		t.Errorf("callbacks saw (%q, %q)", gotJSON, gotXML)
	}
}

// pingRequest embeds the built-in HTTP variant.
type pingRequest struct {
	*HTTPRequest
}

func TestDispatch_CustomVariantRoutesLikeItsBase(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&RequestType{
		Name: "ping",
		New: func(b *BaseRequest) (Request, error) {
			return &pingRequest{HTTPRequest: &HTTPRequest{BaseRequest: b}}, nil
		},
		NewResponse: HTTPRequestType.NewResponse,
	}, "PING")

	var routed atomic.Bool
	h, _ := newTestHandler(t, OnHTTP(func(_ context.Context, req *HTTPRequest) (Response, error) {
		routed.Store(req.Method() == "PING")
		return nil, nil
	}))

	req, err := reg.Parse(context.Background(), rawRequest(t, "PING", "/", ""), nil)
	if err != nil {
		t.Fatal(err)
	}
	h.Dispatch(context.Background(), req)
	if !routed.Load() {
		t.Error("custom variant not routed to OnHTTP")
	}
}

func TestDispatch_FallbackAndPanic(t *testing.T) {
	h, _ := newTestHandler(t,
		OnRequest(func(_ context.Context, req Request) (Response, error) {
			return CloseConnection(req), nil
		}),
		OnHTTP(func(context.Context, *HTTPRequest) (Response, error) {
			panic("boom")
		}),
	)

	reg := NewRegistry()
	res, err := h.Dispatch(context.Background(), mustParse(t, reg, rawRequest(t, "GET", "/", "")))
	if err != nil || res == nil {
		t.Errorf("fallback Dispatch = (%v, %v)", res, err)
	}

	res, err = h.Dispatch(context.Background(), parse(t, rawRequest(t, "GET", "/", "")))
	if res != nil || err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("panicking Dispatch = (%v, %v)", res, err)
	}
}

func mustParse(t *testing.T, reg *Registry, raw []byte) Request {
	t.Helper()
	req, err := reg.Parse(context.Background(), raw, nil)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func TestHandler_RunRepliesInOrder(t *testing.T) {
	h, tr := newTestHandler(t, OnHTTP(func(_ context.Context, req *HTTPRequest) (Response, error) {
		res := req.HTTPResponse()
		res.SetContentType("text/plain")
		res.WriteString(req.Path())
		return res, nil
	}))
	runHandler(t, h)

	tr.inbox <- rawRequest(t, "GET", "/first", "")
	tr.inbox <- rawRequest(t, "GET", "/second", "")

	for _, want := range []string{"/first", "/second"} {
		got := tr.next(t)
		if !strings.HasPrefix(got, testSender+" 1:7, HTTP/1.1 200 OK\r\n") || !strings.HasSuffix(got, want) {
			t.Errorf("reply = %q, want body %q", got, want)
		}
	}
}

func TestHandler_RunDefaultReplyAndDisconnect(t *testing.T) {
	h, tr := newTestHandler(t)
	runHandler(t, h)

	tr.inbox <- rawRequest(t, MethodJSON, "@*", `{"type":"disconnect"}`)
	tr.inbox <- rawRequest(t, "GET", "/", "")

	got := tr.next(t)
	if !strings.HasPrefix(got, testSender+" 1:7, HTTP/1.1 204 No Content\r\n") {
		t.Errorf("reply = %q", got)
	}
	tr.quiet(t)
}

func TestHandler_RunSurvivesMalformedMessages(t *testing.T) {
	logger := &mockLogger{}
	h, tr := newTestHandler(t, HandlerLoggerOption(logger))
	runHandler(t, h)

	tr.inbox <- []byte("garbage")
	tr.inbox <- rawRequest(t, "!DIVULGE", "/", "")
	tr.inbox <- rawRequest(t, MethodJSON, "/", "{nope")
	tr.inbox <- rawRequest(t, "GET", "/", "")

	if got := tr.next(t); !strings.Contains(got, "204 No Content") {
		t.Errorf("reply = %q", got)
	}
	if !logger.has("warn", "malformed") {
		t.Error("malformed message not logged")
	}
	if logger.has("error", "receive failed") {
		t.Error("a bad message body was treated as a transport failure")
	}
}

func TestIsMessageError(t *testing.T) {
	_, err := ParseRequest(rawRequest(t, MethodJSON, "/", "{nope"))
	if !isMessageError(err) {
		t.Errorf("isMessageError(%v) = false for a bad JSON body", err)
	}
	if _, err := ParseRequest(rawRequest(t, "!DIVULGE", "/", "")); !isMessageError(err) {
		t.Errorf("isMessageError(%v) = false for a bad method", err)
	}
	if isMessageError(errSocketClosed) {
		t.Error("isMessageError = true for a socket error")
	}
}

func TestHandler_PumpRemovesSpoolFileWhenStopped(t *testing.T) {
	dir := t.TempDir()
	path := writeSpool(t, dir, "upload-stopped", "data")

	h, tr := newTestHandler(t)
	tr.inbox <- rawRequest(t, "POST", "/upload", "", HeaderUploadStart, path, HeaderUploadDone, path)

	// Nothing takes deliveries and the context is done, so the pump must
	// give up on the request it just parsed.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.pump(ctx, h.Conn())

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("spool file still exists after the pump stopped (stat error: %v)", err)
	}
}

func TestHandler_ShutdownDoesNotLeakSpoolFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeSpool(t, dir, "upload-pending", "data")

	entered := make(chan struct{})
	release := make(chan struct{})
	h, tr := newTestHandler(t,
		OnHTTP(func(_ context.Context, req *HTTPRequest) (Response, error) {
			if req.Path() == "/slow" {
				close(entered)
				<-release
			}
			return nil, nil
		}),
	)
	errCh := runHandler(t, h)

	tr.inbox <- rawRequest(t, "GET", "/slow", "")
	<-entered
	tr.inbox <- rawRequest(t, "POST", "/upload", "", HeaderUploadStart, path, HeaderUploadDone, path)
	h.Shutdown()
	close(release)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}

	// The upload either stayed queued on the socket or was received, and a
	// received upload must not leave its spool file behind.
	if len(tr.inbox) == 0 {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("spool file still exists after Run returned (stat error: %v)", err)
		}
	}
}

// failingPub opens request sockets but refuses reply sockets.
type failingPub struct {
	*fakeTransport
}

func (f failingPub) Pub(context.Context, string, string) (Socket, error) {
	return nil, errors.New("pub refused")
}

func TestHandler_RunClosesConnectionWhenConnectFails(t *testing.T) {
	tr := failingPub{newFakeTransport()}
	conn, _ := newTestConnection(t, TransportOption(tr))
	h := NewHandler(conn, SignalsOption(false), HandlerLoggerOption(NopLogger{}))

	if err := h.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded without a reply socket")
	}
	if !conn.IsClosed() {
		t.Error("connection left open")
	}
	if pulls, _ := tr.counts(); pulls != 1 || !tr.pulls[0].isClosed() {
		t.Errorf("request socket not closed (pulls = %d)", pulls)
	}
}

func TestHandler_RunRemovesSpoolFileAfterError(t *testing.T) {
	dir := t.TempDir()
	path := writeSpool(t, dir, "upload-9", "data")

	var onErr atomic.Bool
	h, tr := newTestHandler(t,
		OnHTTP(func(_ context.Context, req *HTTPRequest) (Response, error) {
			if req.Body().Kind() != FileBody {
				t.Errorf("body kind = %v, want file", req.Body().Kind())
			}
			return nil, errors.New("handler failed")
		}),
		OnError(func(context.Context, Request, error) { onErr.Store(true) }),
	)
	runHandler(t, h)

	tr.inbox <- rawRequest(t, "POST", "/upload", "", HeaderUploadStart, path, HeaderUploadDone, path)

	waitFor(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	})
	waitFor(t, onErr.Load)
	tr.quiet(t)
}

func TestHandler_ShutdownClosesConnection(t *testing.T) {
	h, _ := newTestHandler(t)
	errCh := runHandler(t, h)
	conn := h.Conn()

	waitFor(t, func() bool { pulls, _ := conn.opts.transport.(*fakeTransport).counts(); return pulls == 1 })
	h.Shutdown()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
	if !conn.IsClosed() {
		t.Error("connection left open")
	}
}

func TestHandler_ShutdownBeforeRun(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Shutdown()

	if err := h.Run(context.Background()); err != nil {
		t.Errorf("Run error: %v", err)
	}
	if !h.Conn().IsClosed() {
		t.Error("connection left open")
	}
}

func TestHandler_ContextCancelStops(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHandler_RunTwice(t *testing.T) {
	h, _ := newTestHandler(t)
	runHandler(t, h)
	waitFor(t, h.running.Load)

	if err := h.Run(context.Background()); err == nil {
		t.Error("second Run succeeded")
	}
}

func TestHandler_Restart(t *testing.T) {
	h, tr := newTestHandler(t)
	runHandler(t, h)

	old := h.Conn()
	waitFor(t, func() bool { pulls, _ := tr.counts(); return pulls == 1 })
	h.Restart()
	waitFor(t, func() bool { return h.Conn() != old })

	if !old.IsClosed() {
		t.Error("old connection not closed")
	}
	if h.Conn().Identifier() != old.Identifier() {
		t.Error("restart changed the identity")
	}

	tr.inbox <- rawRequest(t, "GET", "/", "")
	if got := tr.next(t); !strings.Contains(got, "204 No Content") {
		t.Errorf("reply after restart = %q", got)
	}
	if pulls, _ := tr.counts(); pulls != 2 {
		t.Errorf("pull sockets = %d, want 2", pulls)
	}
}

func TestHandler_Checkpoint(t *testing.T) {
	logger := &mockLogger{}
	h, _ := newTestHandler(t, HandlerLoggerOption(logger))
	runHandler(t, h)

	h.Post(EventCheckpoint)
	waitFor(t, func() bool { return logger.has("info", "checkpoint") })
}

func TestHandler_WatchFileRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.sqlite")
	if err := os.WriteFile(path, []byte("v1"), 0o600); err != nil {
		t.Fatal(err)
	}

	logger := &mockLogger{}
	h, _ := newTestHandler(t, WatchFile(path), HandlerLoggerOption(logger))
	runHandler(t, h)
	old := h.Conn()
	waitFor(t, func() bool { return logger.has("info", "watching file") })

	if err := os.WriteFile(path, []byte("v2"), 0o600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return h.Conn() != old })
}

type staticResolver map[string][2]string

func (r staticResolver) HandlerSpec(_ context.Context, appID string) (string, string, error) {
	spec, ok := r[appID]
	if !ok {
		return "", "", errors.New("unknown handler " + appID)
	}
	return spec[0], spec[1], nil
}

func TestNewHandlerFor(t *testing.T) {
	resolver := staticResolver{"app": {"tcp://127.0.0.1:9997", "tcp://127.0.0.1:9996"}}
	tr := newFakeTransport()

	h, err := NewHandlerFor(context.Background(), resolver, "app",
		ConnectionOptions(TransportOption(tr)), HandlerLoggerOption(NopLogger{}))
	if err != nil {
		t.Fatalf("NewHandlerFor error: %v", err)
	}
	defer h.Conn().Close()

	if h.Conn().PullAddr() != "tcp://127.0.0.1:9997" || h.Conn().PubAddr() != "tcp://127.0.0.1:9996" {
		t.Errorf("addresses = %s", h.Conn())
	}
	if h.Conn().opts.transport != Transport(tr) {
		t.Error("connection options not applied")
	}

	if _, err := NewHandlerFor(context.Background(), resolver, "nope"); err == nil || !strings.Contains(err.Error(), "nope") {
		t.Errorf("unknown app error = %v", err)
	}
	if _, err := NewHandlerFor(context.Background(), nil, "app"); !errors.Is(err, ErrNoResolver) {
		t.Errorf("nil resolver error = %v", err)
	}
}

func TestEvent_String(t *testing.T) {
	tests := map[Event]string{
		EventShutdown:   "shutdown",
		EventRestart:    "restart",
		EventCheckpoint: "checkpoint",
		Event(9):        "event(9)",
	}
	for ev, want := range tests {
		if got := ev.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(ev), got, want)
		}
	}
}

func TestInbox_DrainsInOrder(t *testing.T) {
	b := newInbox()
	if evs := b.drain(); evs != nil {
		t.Errorf("empty drain = %v", evs)
	}

	b.post(EventRestart)
	b.post(EventCheckpoint)
	b.post(EventShutdown)

	select {
	case <-b.notify:
	default:
		t.Error("post did not notify")
	}

	evs := b.drain()
	if len(evs) != 3 || evs[0] != EventRestart || evs[1] != EventCheckpoint || evs[2] != EventShutdown {
		t.Errorf("drain = %v", evs)
	}
	if evs := b.drain(); evs != nil {
		t.Errorf("second drain = %v", evs)
	}
}
