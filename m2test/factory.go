// Package m2test builds requests the way the server frames them, for
// testing handlers without a running server.
package m2test

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Zereker/mongrel2"
)

// DefaultSenderID is the server id requests are attributed to by default.
const DefaultSenderID = "BD17D85C-4730-4BF2-999D-9D2B2E0FCCF9"

// RandomSenderID returns a new server id in the server's upper-case form.
func RandomSenderID() string {
	return strings.ToUpper(uuid.NewString())
}

// DefaultHeaders returns the browser-like headers RequestFactory adds to
// every request.
func DefaultHeaders() *mongrel2.Table {
	return mongrel2.NewTable(
		"x-forwarded-for", "127.0.0.1",
		"accept-language", "en-US,en;q=0.8",
		"accept-encoding", "gzip,deflate,sdch",
		"connection", "keep-alive",
		"accept-charset", "UTF-8,*;q=0.5",
		"accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"user-agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_7_1) AppleWebKit/535.1 (KHTML, like Gecko)",
		"URL_SCHEME", "http",
		"VERSION", "HTTP/1.1",
	)
}

// RawOptions describes one message from the server.
type RawOptions struct {
	Sender  string
	ConnID  uint64
	Path    string
	Headers *mongrel2.Table
	Body    []byte
	// Legacy frames the headers as JSON, like older servers.
	Legacy bool
}

// RawRequest returns the wire form of the message described by o. An empty
// Sender means DefaultSenderID.
func RawRequest(o RawOptions) ([]byte, error) {
	if o.Sender == "" {
		o.Sender = DefaultSenderID
	}
	env := &mongrel2.Envelope{
		Sender:  o.Sender,
		ConnID:  o.ConnID,
		Path:    o.Path,
		Headers: o.Headers,
		Body:    o.Body,
	}
	if o.Legacy {
		return mongrel2.EncodeLegacyEnvelope(env)
	}
	return mongrel2.EncodeEnvelope(env), nil
}

// RequestFactory makes HTTP requests routed to one handler.
type RequestFactory struct {
	SenderID string
	ConnID   uint64
	Host     string
	Port     int
	Route    string
	Headers  *mongrel2.Table
	Registry *mongrel2.Registry
}

// NewRequestFactory returns a factory for requests to
// http://localhost:8080/a_handler.
func NewRequestFactory() *RequestFactory {
	return &RequestFactory{
		SenderID: DefaultSenderID,
		Host:     "localhost",
		Port:     8080,
		Route:    "/a_handler",
		Headers:  DefaultHeaders(),
		Registry: mongrel2.DefaultRegistry,
	}
}

// Get returns a GET request for uri.
func (f *RequestFactory) Get(uri string, headers ...string) (mongrel2.Request, error) {
	return f.Request("GET", uri, nil, headers...)
}

// Head returns a HEAD request for uri.
func (f *RequestFactory) Head(uri string, headers ...string) (mongrel2.Request, error) {
	return f.Request("HEAD", uri, nil, headers...)
}

// Options returns an OPTIONS request for uri.
func (f *RequestFactory) Options(uri string, headers ...string) (mongrel2.Request, error) {
	return f.Request("OPTIONS", uri, nil, headers...)
}

// Delete returns a DELETE request for uri.
func (f *RequestFactory) Delete(uri string, headers ...string) (mongrel2.Request, error) {
	return f.Request("DELETE", uri, nil, headers...)
}

// Post returns a POST request for uri carrying body.
func (f *RequestFactory) Post(uri string, body []byte, headers ...string) (mongrel2.Request, error) {
	return f.Request("POST", uri, body, headers...)
}

// Put returns a PUT request for uri carrying body.
func (f *RequestFactory) Put(uri string, body []byte, headers ...string) (mongrel2.Request, error) {
	return f.Request("PUT", uri, body, headers...)
}

// Request returns a request with any method. headers are key/value pairs
// replacing the factory's headers.
func (f *RequestFactory) Request(method, uri string, body []byte, headers ...string) (mongrel2.Request, error) {
	raw, err := f.Raw(method, uri, body, headers...)
	if err != nil {
		return nil, err
	}
	return parse(f.Registry, raw)
}

// Raw is like Request but returns the wire form.
func (f *RequestFactory) Raw(method, uri string, body []byte, headers ...string) ([]byte, error) {
	h, u, err := mergeHeaders(f.Headers, f.Route, uri, headers)
	if err != nil {
		return nil, err
	}
	h.Set("METHOD", method)
	h.Set("host", hostPort(f.Host, f.Port))

	return RawRequest(RawOptions{Sender: f.SenderID, ConnID: f.ConnID, Path: u.Path, Headers: h, Body: body})
}

// mergeHeaders copies base, applies pairs and adds the headers the server
// derives from the URI.
func mergeHeaders(base *mongrel2.Table, route, uri string, pairs []string) (*mongrel2.Table, *url.URL, error) {
	if !strings.HasPrefix(uri, route) {
		return nil, nil, errors.Errorf("request for %q doesn't route through %q", uri, route)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "parse uri %q", uri)
	}

	h := base.Clone()
	h.Merge(mongrel2.NewTable(pairs...))
	h.Set("URI", u.String())
	h.Set("PATH", u.Path)
	h.Set("PATTERN", route)
	if u.RawQuery != "" {
		h.Set("QUERY", u.RawQuery)
	}
	return h, u, nil
}

func hostPort(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}

func parse(reg *mongrel2.Registry, raw []byte) (mongrel2.Request, error) {
	if reg == nil {
		reg = mongrel2.DefaultRegistry
	}
	return reg.Parse(context.Background(), raw, nil)
}

// DefaultHandshakeBody is the accept key the server sends with a handshake.
const DefaultHandshakeBody = "GR7M5bFPiY2GvVc5a7CIMErQ18Q="

// WebSocketFactory makes WebSocket handshakes and frames.
type WebSocketFactory struct {
	SenderID string
	ConnID   uint64
	Host     string
	Port     int
	Route    string
	Headers  *mongrel2.Table
}

// NewWebSocketFactory returns a factory for ws://localhost:8113/ws.
func NewWebSocketFactory() *WebSocketFactory {
	return &WebSocketFactory{
		SenderID: DefaultSenderID,
		Host:     "localhost",
		Port:     8113,
		Route:    "/ws",
		Headers: mongrel2.NewTable(
			"METHOD", mongrel2.MethodWebSocket,
			"VERSION", "HTTP/1.1",
			"upgrade", "websocket",
			"sec-websocket-key", "rBP9u8uxVvIYrH/8bNOPwQ==",
			"sec-websocket-version", "13",
			"connection", "Upgrade",
			"x-forwarded-for", "127.0.0.1",
		),
	}
}

func (f *WebSocketFactory) headers(uri string, pairs []string) (*mongrel2.Table, error) {
	h, _, err := mergeHeaders(f.Headers, f.Route, uri, pairs)
	if err != nil {
		return nil, err
	}
	host := hostPort(f.Host, f.Port)
	h.Set("host", host)
	h.Set("origin", "http://"+host)
	return h, nil
}

// Handshake returns the handshake request opening a WebSocket on uri,
// offering protocols.
func (f *WebSocketFactory) Handshake(uri string, protocols ...string) (*mongrel2.WebSocketHandshake, error) {
	h, err := f.headers(uri, nil)
	if err != nil {
		return nil, err
	}
	h.Set("METHOD", mongrel2.MethodHandshake)
	if len(protocols) > 0 {
		h.Set("sec-websocket-protocol", strings.Join(protocols, ", "))
	}

	raw, err := RawRequest(RawOptions{Sender: f.SenderID, ConnID: f.ConnID, Path: f.Route, Headers: h, Body: []byte(DefaultHandshakeBody)})
	if err != nil {
		return nil, err
	}
	req, err := parse(nil, raw)
	if err != nil {
		return nil, err
	}
	hs, ok := req.(*mongrel2.WebSocketHandshake)
	if !ok {
		return nil, errors.Errorf("handshake parsed as %T", req)
	}
	return hs, nil
}

// Frame returns a frame request on uri with the given header byte.
func (f *WebSocketFactory) Frame(uri string, flags byte, payload []byte) (*mongrel2.WebSocketRequest, error) {
	h, err := f.headers(uri, nil)
	if err != nil {
		return nil, err
	}
	h.Set("FLAGS", fmt.Sprintf("0x%02x", flags))

	raw, err := RawRequest(RawOptions{Sender: f.SenderID, ConnID: f.ConnID, Path: f.Route, Headers: h, Body: payload})
	if err != nil {
		return nil, err
	}
	req, err := parse(nil, raw)
	if err != nil {
		return nil, err
	}
	ws, ok := req.(*mongrel2.WebSocketRequest)
	if !ok {
		return nil, errors.Errorf("frame parsed as %T", req)
	}
	return ws, nil
}

func (f *WebSocketFactory) frame(uri string, op mongrel2.Opcode, payload []byte, flags []byte) (*mongrel2.WebSocketRequest, error) {
	b := byte(op)
	for _, fl := range flags {
		b |= fl &^ 0x0F
	}
	return f.Frame(uri, b, payload)
}

// Continuation returns a continuation frame. Pass mongrel2.FlagFIN to end
// the message.
func (f *WebSocketFactory) Continuation(uri string, payload []byte, flags ...byte) (*mongrel2.WebSocketRequest, error) {
	return f.frame(uri, mongrel2.OpContinuation, payload, flags)
}

// Text returns a text frame.
func (f *WebSocketFactory) Text(uri string, payload []byte, flags ...byte) (*mongrel2.WebSocketRequest, error) {
	return f.frame(uri, mongrel2.OpText, payload, flags)
}

// Binary returns a binary frame.
func (f *WebSocketFactory) Binary(uri string, payload []byte, flags ...byte) (*mongrel2.WebSocketRequest, error) {
	return f.frame(uri, mongrel2.OpBinary, payload, flags)
}

// Close returns a final close frame.
func (f *WebSocketFactory) Close(uri string, payload []byte, flags ...byte) (*mongrel2.WebSocketRequest, error) {
	return f.frame(uri, mongrel2.OpClose, payload, append(flags, mongrel2.FlagFIN))
}

// Ping returns a final ping frame.
func (f *WebSocketFactory) Ping(uri string, payload []byte, flags ...byte) (*mongrel2.WebSocketRequest, error) {
	return f.frame(uri, mongrel2.OpPing, payload, append(flags, mongrel2.FlagFIN))
}

// Pong returns a final pong frame.
func (f *WebSocketFactory) Pong(uri string, payload []byte, flags ...byte) (*mongrel2.WebSocketRequest, error) {
	return f.frame(uri, mongrel2.OpPong, payload, append(flags, mongrel2.FlagFIN))
}
