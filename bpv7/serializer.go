package bpv7

import (
	"bytes"

	"github.com/dtncore/agent/bundle"
)

// chunkWriter buffers up to 128 bytes before invoking emit, so a CLA can
// stream a bundle without holding one contiguous buffer for it (spec §4.3
// "Serializer buffers up to 128 bytes at a time through an emit-callback").
type chunkWriter struct {
	emit func([]byte) error
	buf  []byte
	err  error
}

const chunkSize = 128

func newChunkWriter(emit func([]byte) error) *chunkWriter {
	return &chunkWriter{emit: emit, buf: make([]byte, 0, chunkSize)}
}

func (c *chunkWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	total := len(p)
	for len(p) > 0 {
		room := chunkSize - len(c.buf)
		if room > len(p) {
			room = len(p)
		}
		c.buf = append(c.buf, p[:room]...)
		p = p[room:]
		if len(c.buf) == chunkSize {
			if err := c.emit(c.buf); err != nil {
				c.err = err
				return 0, err
			}
			c.buf = c.buf[:0]
		}
	}
	return total, nil
}

func (c *chunkWriter) Flush() error {
	if c.err != nil {
		return c.err
	}
	if len(c.buf) > 0 {
		if err := c.emit(c.buf); err != nil {
			c.err = err
			return err
		}
		c.buf = c.buf[:0]
	}
	return nil
}

// SerializeTo streams b as an indefinite-length CBOR array through emit,
// chunked to at most 128 bytes per call.
func SerializeTo(b *bundle.Bundle, emit func([]byte) error) error {
	cw := newChunkWriter(emit)
	if err := writeIndefiniteArrayHead(cw); err != nil {
		return err
	}
	if err := marshalPrimary(cw, b); err != nil {
		return err
	}
	for i := range b.Blocks {
		if err := marshalBlock(cw, &b.Blocks[i]); err != nil {
			return err
		}
	}
	if err := writeBreak(cw); err != nil {
		return err
	}
	return cw.Flush()
}

// Serialize encodes b into a single contiguous buffer, for callers (tests,
// the bundle store's byte-accounting) that don't need the streaming form.
func Serialize(b *bundle.Bundle) ([]byte, error) {
	buf := new(bytes.Buffer)
	err := SerializeTo(b, func(p []byte) error {
		_, werr := buf.Write(p)
		return werr
	})
	return buf.Bytes(), err
}

// SerializedSize returns the exact encoded length (spec §8 "serialized-size
// agreement" invariant).
func SerializedSize(b *bundle.Bundle) (int, error) {
	n := 0
	err := SerializeTo(b, func(p []byte) error {
		n += len(p)
		return nil
	})
	return n, err
}
