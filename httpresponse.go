package mongrel2

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultContentType is sent when a response with a body sets no Content-Type.
const DefaultContentType = "application/octet-stream"

// bodilessStatus lists the codes whose responses carry no entity body.
var bodilessStatus = map[int]bool{
	http.StatusContinue:           true,
	http.StatusSwitchingProtocols: true,
	http.StatusProcessing:         true,
	http.StatusNoContent:          true,
	http.StatusResetContent:       true,
	http.StatusNotModified:        true,
	http.StatusUseProxy:           true,
}

// now is replaced in tests.
var now = time.Now

// HTTPResponse is an HTTP reply rendered as a status line, normalized
// headers and the body.
type HTTPResponse struct {
	*BaseResponse
	status  int
	headers *Table
}

// NewHTTPResponse returns an HTTP response with no status set.
func NewHTTPResponse(info RequestInfo) *HTTPResponse {
	r := &HTTPResponse{BaseResponse: NewResponse(info), headers: &Table{}}
	r.setDefaults()
	return r
}

func newHTTPResponseFor(req Request) Response {
	return NewHTTPResponse(req.Info())
}

func (r *HTTPResponse) setDefaults() {
	r.headers.Set("server", VersionString())
}

// Headers returns the headers set on the response.
func (r *HTTPResponse) Headers() *Table { return r.headers }

// Status returns the explicitly set status, or 0.
func (r *HTTPResponse) Status() int { return r.status }

// SetStatus sets the status code.
func (r *HTTPResponse) SetStatus(code int) { r.status = code }

// Handled reports whether a status has been set.
func (r *HTTPResponse) Handled() bool { return r.status != 0 }

// EffectiveStatus returns the status the response is rendered with. Without
// an explicit status that is 204 for an empty body and 200 otherwise; an
// explicit Content-Length also means 200, as in replies to HEAD.
func (r *HTTPResponse) EffectiveStatus() int {
	switch {
	case r.status != 0:
		return r.status
	case r.headers.Has("content-length"):
		return http.StatusOK
	case r.body.Size() == 0:
		return http.StatusNoContent
	}
	return http.StatusOK
}

// StatusLine returns the first line of the response, without CRLF.
func (r *HTTPResponse) StatusLine() string {
	st := r.EffectiveStatus()
	return fmt.Sprintf("HTTP/1.1 %03d %s", st, http.StatusText(st))
}

// Bodiless reports whether the status forbids an entity body.
func (r *HTTPResponse) Bodiless() bool {
	return bodilessStatus[r.EffectiveStatus()]
}

// StatusCategory returns the hundreds digit of the effective status.
func (r *HTTPResponse) StatusCategory() int { return r.EffectiveStatus() / 100 }

// IsInformational reports a 1xx status.
func (r *HTTPResponse) IsInformational() bool { return r.StatusCategory() == 1 }

// IsSuccessful reports a 2xx status.
func (r *HTTPResponse) IsSuccessful() bool { return r.StatusCategory() == 2 }

// IsRedirect reports a 3xx status.
func (r *HTTPResponse) IsRedirect() bool { return r.StatusCategory() == 3 }

// IsClientError reports a 4xx status.
func (r *HTTPResponse) IsClientError() bool { return r.StatusCategory() == 4 }

// IsServerError reports a 5xx status.
func (r *HTTPResponse) IsServerError() bool { return r.StatusCategory() == 5 }

// ContentType returns the Content-Type header.
func (r *HTTPResponse) ContentType() string { return r.headers.Get("content-type") }

// SetContentType sets the Content-Type header.
func (r *HTTPResponse) SetContentType(v string) { r.headers.Set("content-type", v) }

// KeepAlive reports whether the Connection header asks to keep the
// connection open.
func (r *HTTPResponse) KeepAlive() bool {
	return strings.Contains(strings.ToLower(r.headers.Get("connection")), "keep-alive")
}

// SetKeepAlive sets the Connection header to keep-alive or close.
func (r *HTTPResponse) SetKeepAlive(on bool) {
	if on {
		r.headers.Set("connection", "keep-alive")
		return
	}
	r.headers.Set("connection", "close")
}

// Reset clears the status, headers and body.
func (r *HTTPResponse) Reset() {
	r.status = 0
	r.headers = &Table{}
	r.body = NewBufferBody(nil)
	r.setDefaults()
}

// ContentLength returns the number of body bytes left to send, or -1 when
// the body is a stream of unknown length.
func (r *HTTPResponse) ContentLength() int64 {
	if r.Bodiless() {
		return 0
	}
	size := r.body.Size()
	if size < 0 {
		return -1
	}
	if pos, err := r.body.Seek(0, io.SeekCurrent); err == nil && pos > 0 && pos < size {
		return size - pos
	}
	return size
}

// NormalizedHeaders returns the headers as they will be sent: Date,
// Content-Length and Content-Type filled in, and the entity headers removed
// for bodiless statuses.
func (r *HTTPResponse) NormalizedHeaders() *Table {
	h := r.headers.Clone()
	if !h.Has("date") {
		h.Set("date", now().UTC().Format(http.TimeFormat))
	}

	if r.Bodiless() {
		h.Del("content-type")
		h.Del("content-length")
		return h
	}

	if !h.Has("content-length") {
		if n := r.ContentLength(); n >= 0 {
			h.Set("content-length", strconv.FormatInt(n, 10))
		}
	}
	if !h.Has("content-type") {
		h.Set("content-type", DefaultContentType)
	}
	return h
}

// HeaderData returns the rendered header block without the blank line.
func (r *HTTPResponse) HeaderData() string {
	return r.NormalizedHeaders().String()
}

func (r *HTTPResponse) head() []byte {
	var b bytes.Buffer
	b.WriteString(r.StatusLine())
	b.WriteString("\r\n")
	_, _ = r.NormalizedHeaders().WriteTo(&b)
	b.WriteString("\r\n")
	return b.Bytes()
}

// EachChunk yields the status line, headers and body. The body's read
// position is restored afterwards when it is seekable.
func (r *HTTPResponse) EachChunk(fn func([]byte) error) error {
	head := r.head()
	if r.Bodiless() {
		_, err := eachChunk(bytes.NewReader(head), r.chunkSize, fn)
		return err
	}

	pos, seekErr := r.body.Seek(0, io.SeekCurrent)
	_, err := eachChunk(io.MultiReader(bytes.NewReader(head), r.body), r.chunkSize, fn)
	if seekErr == nil {
		_, _ = r.body.Seek(pos, io.SeekStart)
	}
	return err
}

// String renders the whole response.
func (r *HTTPResponse) String() string {
	var sb strings.Builder
	_ = r.EachChunk(func(chunk []byte) error {
		sb.Write(chunk)
		return nil
	})
	return sb.String()
}
