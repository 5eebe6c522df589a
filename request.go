package mongrel2

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// Methods the server puts in the METHOD header for non-HTTP traffic.
const (
	MethodJSON      = "JSON"
	MethodXML       = "XML"
	MethodWebSocket = "WEBSOCKET"
	MethodHandshake = "WEBSOCKET_HANDSHAKE"
)

// RequestInfo identifies the client connection a request arrived on.
// Responses carry a copy of it instead of a pointer back to the request.
type RequestInfo struct {
	Sender string
	ConnID uint64
	Path   string
}

// SocketID returns "sender:connid".
func (i RequestInfo) SocketID() string {
	return fmt.Sprintf("%s:%d", i.Sender, i.ConnID)
}

// Request is a request received from the server. Every variant embeds
// *BaseRequest; custom variants registered with a Registry do the same.
type Request interface {
	Info() RequestInfo
	SenderID() string
	ConnID() uint64
	Path() string
	Headers() *Table
	Body() *Body
	Raw() []byte
	Method() string

	// Response returns the response for this request, creating it on first
	// use. Later calls return the same value.
	Response() Response

	// IsDisconnect reports whether the server is announcing that the
	// client went away.
	IsDisconnect() bool

	UploadStarted() bool
	UploadDone() bool
	UploadHeadersMatch() bool
	ValidUpload() bool
	UploadedFile() (string, error)

	base() *BaseRequest
}

// BaseRequest holds the fields common to all request variants.
type BaseRequest struct {
	info    RequestInfo
	headers *Table
	body    *Body
	raw     []byte

	spoolPath string
	uploadErr error

	self        Request
	newResponse func(Request) Response
	response    Response
}

// NewBaseRequest builds the common part of a request from a decoded
// envelope. raw may be nil.
func NewBaseRequest(env *Envelope, raw []byte) *BaseRequest {
	headers := env.Headers
	if headers == nil {
		headers = &Table{}
	}
	return &BaseRequest{
		info:    RequestInfo{Sender: env.Sender, ConnID: env.ConnID, Path: env.Path},
		headers: headers,
		body:    NewBufferBody(env.Body),
		raw:     raw,
	}
}

func (r *BaseRequest) base() *BaseRequest { return r }

// Info returns the request's connection identity.
func (r *BaseRequest) Info() RequestInfo { return r.info }

// SenderID returns the UUID of the server that sent the request.
func (r *BaseRequest) SenderID() string { return r.info.Sender }

// ConnID returns the server's id for the client connection.
func (r *BaseRequest) ConnID() uint64 { return r.info.ConnID }

// Path returns the request path, or the route pattern for special messages.
func (r *BaseRequest) Path() string { return r.info.Path }

// Headers returns the request headers.
func (r *BaseRequest) Headers() *Table { return r.headers }

// Body returns the request body.
func (r *BaseRequest) Body() *Body { return r.body }

// SetBody replaces the request body.
func (r *BaseRequest) SetBody(b *Body) { r.body = b }

// Raw returns the message the request was parsed from, if any.
func (r *BaseRequest) Raw() []byte { return r.raw }

// Method returns the METHOD header.
func (r *BaseRequest) Method() string { return r.headers.Get("METHOD") }

// IsDisconnect is false except for disconnect notices.
func (r *BaseRequest) IsDisconnect() bool { return false }

// Response returns the cached response, creating it on first use.
func (r *BaseRequest) Response() Response {
	if r.response == nil {
		self := r.self
		if self == nil {
			self = r
		}
		if r.newResponse != nil {
			r.response = r.newResponse(self)
		} else {
			r.response = NewResponse(r.info)
		}
	}
	return r.response
}

// UploadStarted reports an "upload started" notification.
func (r *BaseRequest) UploadStarted() bool { return UploadStarted(r.headers) }

// UploadDone reports an "upload done" notification.
func (r *BaseRequest) UploadDone() bool { return UploadDone(r.headers) }

// UploadHeadersMatch reports whether both upload headers are present and equal.
func (r *BaseRequest) UploadHeadersMatch() bool { return UploadHeadersMatch(r.headers) }

// ValidUpload reports a finished upload whose headers agree.
func (r *BaseRequest) ValidUpload() bool { return ValidUpload(r.headers) }

// UploadedFile returns the resolved path of the spooled request body.
func (r *BaseRequest) UploadedFile() (string, error) {
	if !r.UploadHeadersMatch() {
		return "", errUploadMismatch
	}
	if r.uploadErr != nil {
		return "", r.uploadErr
	}
	return r.spoolPath, nil
}

// attachSpool opens the spooled upload as the body.
func (r *BaseRequest) attachSpool(chroot string) {
	path, err := ResolveSpoolPath(r.headers, chroot)
	if err != nil {
		r.uploadErr = err
		return
	}

	f, err := os.Open(path)
	if err != nil {
		r.uploadErr = &UploadError{Msg: errors.Wrap(err, "open spool file").Error()}
		return
	}
	r.spoolPath = path
	r.body = NewFileBody(f)
}

// spooled returns the path of the spool file backing the body, or "".
func (r *BaseRequest) spooled() string {
	if r.body == nil || r.body.Kind() != FileBody {
		return ""
	}
	return r.spoolPath
}

// DefaultRequest is used for methods nothing else is registered for.
type DefaultRequest struct {
	*BaseRequest
}

func newDefaultRequest(b *BaseRequest) (Request, error) {
	return &DefaultRequest{BaseRequest: b}, nil
}
