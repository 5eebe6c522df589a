package mongrel2

import (
	"io"

	"github.com/pkg/errors"
)

// DefaultChunkSize is the largest message a response body is split into.
const DefaultChunkSize = 512 * 1024

// Response is a reply to a request. EachChunk yields the bytes to send to the
// client, in order; an empty chunk asks the server to close the connection.
// Chunks are only valid until fn returns.
type Response interface {
	Info() RequestInfo
	EachChunk(fn func(chunk []byte) error) error

	// ExtendedReply returns the filter and arguments of a directive the
	// server should run after the regular reply.
	ExtendedReply() (filter string, values []any, ok bool)
}

// BaseResponse is a response whose body is sent as is.
type BaseResponse struct {
	info      RequestInfo
	body      *Body
	chunkSize int

	filter     string
	filterData []any
}

// NewResponse returns an empty response to the given connection.
func NewResponse(info RequestInfo) *BaseResponse {
	return &BaseResponse{
		info:      info,
		body:      NewBufferBody(nil),
		chunkSize: DefaultChunkSize,
	}
}

// Info returns the connection the response is addressed to.
func (r *BaseResponse) Info() RequestInfo { return r.info }

// SenderID returns the UUID of the server the response goes to.
func (r *BaseResponse) SenderID() string { return r.info.Sender }

// ConnID returns the client connection the response goes to.
func (r *BaseResponse) ConnID() uint64 { return r.info.ConnID }

// Body returns the response body.
func (r *BaseResponse) Body() *Body { return r.body }

// SetBody replaces the response body.
func (r *BaseResponse) SetBody(b *Body) {
	if b == nil {
		b = NewBufferBody(nil)
	}
	r.body = b
}

// Write appends p to the body.
func (r *BaseResponse) Write(p []byte) (int, error) { return r.body.Write(p) }

// WriteString appends s to the body.
func (r *BaseResponse) WriteString(s string) (int, error) { return r.body.WriteString(s) }

// ChunkSize returns the size bodies are split at.
func (r *BaseResponse) ChunkSize() int { return r.chunkSize }

// SetChunkSize changes the size bodies are split at. Non-positive sizes
// restore the default.
func (r *BaseResponse) SetChunkSize(n int) {
	if n <= 0 {
		n = DefaultChunkSize
	}
	r.chunkSize = n
}

// ExtendReplyWith makes the server run filter with values once the regular
// reply has been sent; "sendfile" with a path, for example.
func (r *BaseResponse) ExtendReplyWith(filter string, values ...any) {
	r.filter = filter
	r.filterData = values
}

// ExtendedReply implements Response.
func (r *BaseResponse) ExtendedReply() (string, []any, bool) {
	return r.filter, r.filterData, r.filter != ""
}

// EachChunk yields the whole body in chunks. An empty body yields a single
// empty chunk.
func (r *BaseResponse) EachChunk(fn func([]byte) error) error {
	if err := r.body.Rewind(); err != nil && r.body.Kind() != StreamBody {
		return errors.Wrap(err, "rewind response body")
	}
	sent, err := eachChunk(r.body, r.chunkSize, fn)
	if err != nil || sent > 0 {
		return err
	}
	return fn(nil)
}

// eachChunk reads r to the end and passes it to fn in pieces of at most size
// bytes. It returns the number of chunks delivered.
func eachChunk(r io.Reader, size int, fn func([]byte) error) (int, error) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	buf := make([]byte, size)
	sent := 0
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if ferr := fn(buf[:n]); ferr != nil {
				return sent, ferr
			}
			sent++
		}
		switch {
		case err == io.EOF || err == io.ErrUnexpectedEOF:
			return sent, nil
		case err != nil:
			return sent, errors.Wrap(err, "read body")
		}
	}
}

// closingResponse wraps a response and asks the server to drop the
// connection after it has been delivered.
type closingResponse struct {
	Response
}

// CloseAfter returns res followed by a request to close the connection.
func CloseAfter(res Response) Response {
	return &closingResponse{Response: res}
}

func (c *closingResponse) EachChunk(fn func([]byte) error) error {
	if err := c.Response.EachChunk(fn); err != nil {
		return err
	}
	return fn(nil)
}

// CloseConnection returns a response that only closes req's connection.
func CloseConnection(req Request) Response {
	return NewResponse(req.Info())
}
