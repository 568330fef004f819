package workers

import "bytes"

// Framer turns a byte stream into a sequence of discrete frames using a
// serializer-supplied terminator. It is a stateful byte
// accumulator: Push appends an inbound chunk, then repeatedly extracts the
// bytes up to the first terminator, handing each such frame (minus the
// terminator) back to the caller. The unterminated remainder is
// retained for the next call, including across a chunk that ends mid-
// terminator.
type Framer struct {
	term []byte
	buf  bytes.Buffer
}

// NewFramer builds a Framer using the given serializer's terminator.
func NewFramer(s Serializer) *Framer {
	return &Framer{term: append([]byte(nil), s.Terminator()...)}
}

// Push appends data to the internal buffer and returns every complete frame
// it can now extract, in order. Each returned frame is its own copy, so it
// stays valid after later calls to Push.
func (f *Framer) Push(data []byte) [][]byte {
	f.buf.Write(data)

	var frames [][]byte
	for {
		b := f.buf.Bytes()
		idx := bytes.Index(b, f.term)
		if idx < 0 {
			break
		}
		frame := make([]byte, idx)
		copy(frame, b[:idx])
		frames = append(frames, frame)
		f.buf.Next(idx + len(f.term))
	}
	return frames
}

// Frame appends the terminator to a single encoded payload, producing the
// bytes that should be written to the transport.
func (f *Framer) Frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+len(f.term))
	out = append(out, payload...)
	out = append(out, f.term...)
	return out
}

// Pending returns the number of unterminated bytes currently buffered.
// Exposed for tests exercising split-chunk behavior.
func (f *Framer) Pending() int { return f.buf.Len() }
