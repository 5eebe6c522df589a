package mongrel2

import (
	"bufio"
	"io"
	"iter"

	"github.com/pkg/errors"
)

// DefaultFragmentSize is the payload size EachFragment uses when none is given.
const DefaultFragmentSize = 4096

// Fragmenter splits a stream into the frames of one fragmented message. It
// reads the stream as frames are requested and can be used only once.
type Fragmenter struct {
	r      *bufio.Reader
	opcode Opcode
	size   int
	count  int
	done   bool
}

// EachFragment returns a Fragmenter over r. The first frame carries opcode,
// later ones are continuations, and the frame that exhausts r has FIN set.
func EachFragment(r io.Reader, opcode Opcode, size int) (*Fragmenter, error) {
	if opcode.Reserved() {
		return nil, errors.Errorf("invalid opcode 0x%x", byte(opcode))
	}
	if size <= 0 {
		size = DefaultFragmentSize
	}
	return &Fragmenter{r: bufio.NewReaderSize(r, size), opcode: opcode, size: size}, nil
}

// Next returns the next frame, or io.EOF once the stream is exhausted.
func (f *Fragmenter) Next() (*Frame, error) {
	if f.done {
		return nil, io.EOF
	}

	buf := make([]byte, f.size)
	n, err := io.ReadFull(f.r, buf)
	switch {
	case n == 0 && (err == io.EOF || err == io.ErrUnexpectedEOF):
		f.done = true
		return nil, io.EOF
	case err != nil && err != io.EOF && err != io.ErrUnexpectedEOF:
		f.done = true
		return nil, errors.Wrap(err, "read fragment")
	}

	last := err != nil
	if !last {
		if _, perr := f.r.Peek(1); perr == io.EOF {
			last = true
		}
	}

	op := OpContinuation
	if f.count == 0 {
		op = f.opcode
	}
	frame := NewFrame(buf[:n], byte(op))
	frame.SetFIN(last)

	f.count++
	f.done = last
	return frame, nil
}

// All returns an iterator over the remaining frames. Iteration stops after
// the first error.
func (f *Fragmenter) All() iter.Seq2[*Frame, error] {
	return func(yield func(*Frame, error) bool) {
		for {
			frame, err := f.Next()
			if err == io.EOF {
				return
			}
			if !yield(frame, err) || err != nil {
				return
			}
		}
	}
}
