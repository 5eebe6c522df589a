package mongrel2

import (
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// websocketGUID is appended to the client key to compute the accept key.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptKey returns the Sec-WebSocket-Accept value for a client's
// Sec-WebSocket-Key.
func AcceptKey(clientKey string) string {
	h := sha1.New()
	h.Write([]byte(clientKey + websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func splitProtocols(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// WebSocketHandshake is the opening request of a WebSocket connection.
type WebSocketHandshake struct {
	*HTTPRequest
}

func newWebSocketHandshake(b *BaseRequest) (Request, error) {
	return &WebSocketHandshake{HTTPRequest: &HTTPRequest{BaseRequest: b}}, nil
}

// Protocols returns the sub-protocols the client offered.
func (r *WebSocketHandshake) Protocols() []string {
	return splitProtocols(r.headers.Get("sec-websocket-protocol"))
}

// ServerHandshake returns the handshake reply. If protocol is given it must
// be one the client offered and is announced as the chosen sub-protocol.
func (r *WebSocketHandshake) ServerHandshake(protocol ...string) (*ServerHandshake, error) {
	res, ok := r.Response().(*ServerHandshake)
	if !ok {
		return nil, errors.Errorf("handshake response is a %T", r.Response())
	}
	if len(protocol) == 0 {
		return res, nil
	}

	offered := r.Protocols()
	for _, p := range protocol {
		if !slices.Contains(offered, p) {
			return nil, &HandshakeProtocolError{Protocol: p, Requested: offered}
		}
	}
	res.SetProtocols(protocol...)
	return res, nil
}

// ServerHandshake is the 101 reply that completes a WebSocket handshake.
type ServerHandshake struct {
	*HTTPResponse
}

// NewServerHandshake returns a handshake reply carrying acceptKey.
func NewServerHandshake(info RequestInfo, acceptKey string) *ServerHandshake {
	res := &ServerHandshake{HTTPResponse: NewHTTPResponse(info)}
	res.SetStatus(http.StatusSwitchingProtocols)
	res.headers.Set("upgrade", "websocket")
	res.headers.Set("connection", "Upgrade")
	res.headers.Set("sec-websocket-accept", acceptKey)
	return res
}

// newServerHandshakeFor uses the accept key the server computed and sent as
// the handshake body, or derives it from Sec-WebSocket-Key when the body is
// empty.
func newServerHandshakeFor(req Request) Response {
	key := ""
	if body, err := req.Body().Bytes(); err == nil {
		key = strings.TrimSpace(string(body))
	}
	if key == "" {
		key = AcceptKey(req.Headers().Get("sec-websocket-key"))
	}
	return NewServerHandshake(req.Info(), key)
}

// Protocols returns the announced sub-protocols.
func (r *ServerHandshake) Protocols() []string {
	return splitProtocols(r.headers.Get("sec-websocket-protocol"))
}

// SetProtocols announces the chosen sub-protocols.
func (r *ServerHandshake) SetProtocols(protocols ...string) {
	r.headers.Set("sec-websocket-protocol", strings.Join(protocols, ", "))
}

// WebSocketRequest is a frame received from a WebSocket client.
type WebSocketRequest struct {
	*BaseRequest
	frame *Frame
}

func newWebSocketRequest(b *BaseRequest) (Request, error) {
	payload, err := b.body.Bytes()
	if err != nil {
		return nil, errors.Wrap(err, "read frame payload")
	}
	_ = b.body.Rewind()

	flags := DefaultFrameFlags
	if v := b.headers.Get("FLAGS"); v != "" {
		if flags, err = ParseFlags(v); err != nil {
			return nil, err
		}
	}
	return &WebSocketRequest{BaseRequest: b, frame: NewFrame(payload, flags)}, nil
}

// Frame returns the received frame.
func (r *WebSocketRequest) Frame() *Frame { return r.frame }

// Opcode returns the frame opcode.
func (r *WebSocketRequest) Opcode() Opcode { return r.frame.Opcode() }

// Payload returns the frame payload.
func (r *WebSocketRequest) Payload() []byte { return r.frame.Payload() }

// WebSocketResponse returns the request's response as a *WebSocketResponse.
func (r *WebSocketRequest) WebSocketResponse() *WebSocketResponse {
	res, _ := r.Response().(*WebSocketResponse)
	return res
}

// WebSocketResponse is a frame sent to a WebSocket client.
type WebSocketResponse struct {
	*BaseResponse
	frame *Frame
}

// NewWebSocketResponse returns a response holding a final text frame.
func NewWebSocketResponse(info RequestInfo) *WebSocketResponse {
	return &WebSocketResponse{BaseResponse: NewResponse(info), frame: TextFrame(nil)}
}

// newWebSocketResponseFor mirrors the request frame: pings are answered with
// a pong carrying the same payload, everything else with the same opcode.
func newWebSocketResponseFor(req Request) Response {
	res := NewWebSocketResponse(req.Info())
	fr, ok := req.(interface{ Frame() *Frame })
	if !ok {
		return res
	}
	in := fr.Frame()
	if in.Opcode() == OpPing {
		res.frame.SetOpcode(OpPong)
		res.frame.SetPayload(append([]byte(nil), in.Payload()...))
	} else {
		res.frame.SetOpcode(in.Opcode())
	}
	return res
}

// Frame returns the frame to send.
func (r *WebSocketResponse) Frame() *Frame { return r.frame }

// Body returns a copy of the frame payload as a body.
func (r *WebSocketResponse) Body() *Body {
	return NewBufferBody(append([]byte(nil), r.frame.Payload()...))
}

// Write appends p to the frame payload.
func (r *WebSocketResponse) Write(p []byte) (int, error) { return r.frame.Write(p) }

// WriteString appends s to the frame payload.
func (r *WebSocketResponse) WriteString(s string) (int, error) { return r.frame.WriteString(s) }

// Opcode returns the frame opcode.
func (r *WebSocketResponse) Opcode() Opcode { return r.frame.Opcode() }

// SetOpcode sets the frame opcode.
func (r *WebSocketResponse) SetOpcode(op Opcode) { r.frame.SetOpcode(op) }

// MakeCloseFrame turns the frame into a close frame carrying status.
func (r *WebSocketResponse) MakeCloseFrame(status CloseStatus) error {
	return r.frame.MakeCloseFrame(status)
}

// EachChunk validates the frame and yields its wire bytes.
func (r *WebSocketResponse) EachChunk(fn func([]byte) error) error {
	r.frame.SetChunkSize(r.chunkSize)
	return r.frame.EachChunk(fn)
}
