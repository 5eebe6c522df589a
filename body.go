package mongrel2

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// BodyKind identifies how a Body stores its bytes.
type BodyKind int

// Body kinds.
const (
	BufferBody BodyKind = iota
	FileBody
	StreamBody
)

func (k BodyKind) String() string {
	switch k {
	case BufferBody:
		return "buffer"
	case FileBody:
		return "file"
	case StreamBody:
		return "stream"
	}
	return "unknown"
}

// errNotAppendable is returned when writing to a body that is not a buffer.
var errNotAppendable = errors.New("body is not an appendable buffer")

// Body is the payload of a request or response: an in-memory buffer, an
// open file (an upload spool file, for instance), or an arbitrary stream.
// The zero value is an empty buffer.
type Body struct {
	kind   BodyKind
	buf    []byte
	off    int64
	file   *os.File
	stream io.Reader
}

// NewBufferBody returns a buffer body holding b.
func NewBufferBody(b []byte) *Body {
	return &Body{kind: BufferBody, buf: b}
}

// NewFileBody returns a body reading from f.
func NewFileBody(f *os.File) *Body {
	return &Body{kind: FileBody, file: f}
}

// NewStreamBody returns a body reading from r. If r is an *os.File the body
// is a file body.
func NewStreamBody(r io.Reader) *Body {
	if f, ok := r.(*os.File); ok {
		return NewFileBody(f)
	}
	return &Body{kind: StreamBody, stream: r}
}

// Kind returns the storage kind.
func (b *Body) Kind() BodyKind { return b.kind }

// File returns the underlying file of a file body.
func (b *Body) File() *os.File { return b.file }

// Name returns the file path of a file body, or "".
func (b *Body) Name() string {
	if b.file == nil {
		return ""
	}
	return b.file.Name()
}

// Read implements io.Reader.
func (b *Body) Read(p []byte) (int, error) {
	switch b.kind {
	case FileBody:
		return b.file.Read(p)
	case StreamBody:
		return b.stream.Read(p)
	}
	if b.off >= int64(len(b.buf)) {
		return 0, io.EOF
	}
	n := copy(p, b.buf[b.off:])
	b.off += int64(n)
	return n, nil
}

// Write appends p to a buffer body. Other kinds are read-only.
func (b *Body) Write(p []byte) (int, error) {
	if b.kind != BufferBody {
		return 0, errNotAppendable
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// WriteString appends s to a buffer body.
func (b *Body) WriteString(s string) (int, error) {
	return b.Write([]byte(s))
}

// Seek implements io.Seeker. Streams are seekable only if the underlying
// reader is.
func (b *Body) Seek(offset int64, whence int) (int64, error) {
	switch b.kind {
	case FileBody:
		return b.file.Seek(offset, whence)
	case StreamBody:
		if s, ok := b.stream.(io.Seeker); ok {
			return s.Seek(offset, whence)
		}
		return 0, errors.New("body stream is not seekable")
	}

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = b.off + offset
	case io.SeekEnd:
		abs = int64(len(b.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	b.off = abs
	return abs, nil
}

// Rewind seeks back to the start when the body supports it.
func (b *Body) Rewind() error {
	_, err := b.Seek(0, io.SeekStart)
	return err
}

// Size returns the total number of bytes in the body, or -1 if it cannot be
// known without consuming a stream.
func (b *Body) Size() int64 {
	switch b.kind {
	case FileBody:
		fi, err := b.file.Stat()
		if err != nil {
			return -1
		}
		return fi.Size()
	case StreamBody:
		if s, ok := b.stream.(interface{ Len() int }); ok {
			return int64(s.Len())
		}
		return -1
	}
	return int64(len(b.buf))
}

// Bytes returns the whole body. Files are read from the start; streams are
// read from their current position and thereby consumed.
func (b *Body) Bytes() ([]byte, error) {
	switch b.kind {
	case FileBody:
		if err := b.Rewind(); err != nil {
			return nil, errors.Wrap(err, "rewind body")
		}
		return io.ReadAll(b.file)
	case StreamBody:
		return io.ReadAll(b.stream)
	}
	return b.buf, nil
}

// Close releases the file or stream behind the body.
func (b *Body) Close() error {
	switch b.kind {
	case FileBody:
		return b.file.Close()
	case StreamBody:
		if c, ok := b.stream.(io.Closer); ok {
			return c.Close()
		}
	}
	return nil
}
