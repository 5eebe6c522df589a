package mongrel2

import (
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// HTTPRequest is a plain HTTP request.
type HTTPRequest struct {
	*BaseRequest
}

func newHTTPRequest(b *BaseRequest) (Request, error) {
	return &HTTPRequest{BaseRequest: b}, nil
}

// HTTPResponse returns the request's response as an *HTTPResponse.
func (r *HTTPRequest) HTTPResponse() *HTTPResponse {
	res, _ := r.Response().(*HTTPResponse)
	return res
}

// URI returns the request URI the client sent.
func (r *HTTPRequest) URI() string { return r.headers.Get("URI") }

// Version returns the HTTP version, such as "HTTP/1.1".
func (r *HTTPRequest) Version() string { return r.headers.Get("VERSION") }

// Query returns the raw query string.
func (r *HTTPRequest) Query() string { return r.headers.Get("QUERY") }

// Pattern returns the route pattern that matched the request.
func (r *HTTPRequest) Pattern() string { return r.headers.Get("PATTERN") }

// Host returns the Host header.
func (r *HTTPRequest) Host() string { return r.headers.Get("host") }

// Scheme returns the URL scheme the server saw.
func (r *HTTPRequest) Scheme() string { return r.headers.Get("URL_SCHEME") }

// KeepAlive reports whether the client expects the connection to persist:
// true for HTTP/1.1 unless the Connection header contains "close".
func (r *HTTPRequest) KeepAlive() bool {
	if r.Version() != "HTTP/1.1" {
		return false
	}
	conn := r.headers.Get("connection")
	if conn == "" {
		return true
	}
	for _, token := range strings.Split(conn, ",") {
		if strings.EqualFold(strings.TrimSpace(token), "close") {
			return false
		}
	}
	return true
}

// ContentLength returns the Content-Length header, or 0 if it is missing.
func (r *HTTPRequest) ContentLength() (int64, error) {
	v := r.headers.Get("content-length")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "bad content-length %q", v)
	}
	return n, nil
}

// ContentType returns the Content-Type header.
func (r *HTTPRequest) ContentType() string { return r.headers.Get("content-type") }

// SetContentType sets the Content-Type header.
func (r *HTTPRequest) SetContentType(v string) { r.headers.Set("content-type", v) }

// ContentEncoding returns the Content-Encoding header.
func (r *HTTPRequest) ContentEncoding() string { return r.headers.Get("content-encoding") }

// SetContentEncoding sets the Content-Encoding header.
func (r *HTTPRequest) SetContentEncoding(v string) { r.headers.Set("content-encoding", v) }

// RemoteIP returns the first address in X-Forwarded-For, which the server
// sets to the client's address.
func (r *HTTPRequest) RemoteIP() net.IP {
	v := r.headers.Get("x-forwarded-for")
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return net.ParseIP(strings.TrimSpace(v))
}
