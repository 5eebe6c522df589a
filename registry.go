package mongrel2

import (
	"context"
	"regexp"
	"sync"

	"github.com/pkg/errors"
)

// DefaultMethod is the sentinel method name that installs a request type as
// the fallback for every unregistered method.
const DefaultMethod = "default"

var methodPattern = regexp.MustCompile(`^\w+$`)

// RequestType describes a request variant: how to build it from the common
// request fields and which response variant answers it.
type RequestType struct {
	Name        string
	New         func(base *BaseRequest) (Request, error)
	NewResponse func(req Request) Response
}

// ChrootResolver finds the filesystem chroot of a server, used to locate
// spooled uploads.
type ChrootResolver interface {
	ServerChroot(ctx context.Context, serverUUID string) (string, error)
}

// Registry maps METHOD header values to request types.
type Registry struct {
	mu       sync.RWMutex
	types    map[string]*RequestType
	fallback *RequestType
}

// NewRegistry returns a registry holding only the generic request type.
func NewRegistry() *Registry {
	return &Registry{
		types:    make(map[string]*RequestType),
		fallback: DefaultRequestType,
	}
}

// Register binds rt to each of methods. Registering DefaultMethod makes rt the
// fallback for every method without a binding of its own.
func (r *Registry) Register(rt *RequestType, methods ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range methods {
		if m == DefaultMethod {
			r.fallback = rt
			continue
		}
		r.types[m] = rt
	}
}

// Lookup returns the request type for method, or the fallback when none is
// bound. Unknown methods come from clients, so they are never recorded.
func (r *Registry) Lookup(method string) *RequestType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rt, ok := r.types[method]; ok {
		return rt
	}
	return r.fallback
}

// Parse decodes raw and builds the request variant registered for its
// METHOD. When the request completes a valid asynchronous upload, the spool
// file becomes the body; chroots may be nil, in which case the spool path is
// used as given.
func (r *Registry) Parse(ctx context.Context, raw []byte, chroots ChrootResolver) (Request, error) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return nil, err
	}

	method := env.Headers.Get("METHOD")
	if !methodPattern.MatchString(method) {
		return nil, &UnhandledMethodError{Method: method}
	}

	base := NewBaseRequest(env, raw)
	if base.ValidUpload() {
		chroot := ""
		if chroots != nil {
			chroot, err = chroots.ServerChroot(ctx, env.Sender)
		}
		if err != nil {
			base.uploadErr = &UploadError{Msg: errors.Wrapf(err, "couldn't find the server %q", env.Sender).Error()}
		} else {
			base.attachSpool(chroot)
		}
	}

	return r.build(method, base)
}

func (r *Registry) build(method string, base *BaseRequest) (Request, error) {
	rt := r.Lookup(method)
	req, err := rt.New(base)
	if err != nil {
		_ = CleanupSpool(base)
		return nil, &BuildError{Method: method, Type: rt.Name, Err: err}
	}
	base.self = req
	base.newResponse = rt.NewResponse
	return req, nil
}

// Built-in request types.
var (
	DefaultRequestType = &RequestType{
		Name:        "default",
		New:         newDefaultRequest,
		NewResponse: func(req Request) Response { return NewResponse(req.Info()) },
	}
	HTTPRequestType = &RequestType{
		Name:        "http",
		New:         newHTTPRequest,
		NewResponse: newHTTPResponseFor,
	}
	JSONRequestType = &RequestType{
		Name:        "json",
		New:         newJSONRequest,
		NewResponse: func(req Request) Response { return NewResponse(req.Info()) },
	}
	XMLRequestType = &RequestType{
		Name:        "xml",
		New:         newXMLRequest,
		NewResponse: func(req Request) Response { return NewResponse(req.Info()) },
	}
	HandshakeRequestType = &RequestType{
		Name:        "websocket handshake",
		New:         newWebSocketHandshake,
		NewResponse: newServerHandshakeFor,
	}
	WebSocketRequestType = &RequestType{
		Name:        "websocket",
		New:         newWebSocketRequest,
		NewResponse: newWebSocketResponseFor,
	}
)

// HTTPMethods are the methods parsed into *HTTPRequest.
var HTTPMethods = []string{"OPTIONS", "GET", "HEAD", "POST", "PUT", "DELETE", "TRACE", "CONNECT"}

// DefaultRegistry has every built-in request type registered.
var DefaultRegistry = newDefaultRegistry()

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(HTTPRequestType, HTTPMethods...)
	r.Register(JSONRequestType, MethodJSON)
	r.Register(XMLRequestType, MethodXML)
	r.Register(HandshakeRequestType, MethodHandshake)
	r.Register(WebSocketRequestType, MethodWebSocket)
	return r
}

// Register adds a request type to DefaultRegistry.
func Register(rt *RequestType, methods ...string) {
	DefaultRegistry.Register(rt, methods...)
}

// ParseRequest parses raw with DefaultRegistry, resolving upload spool paths
// without a chroot.
func ParseRequest(raw []byte) (Request, error) {
	return DefaultRegistry.Parse(context.Background(), raw, nil)
}
