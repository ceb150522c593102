// Package bpv7 implements the streaming RFC 9171 (Bundle Protocol v7) codec:
// an indefinite-length CBOR outer array, a primary block and a run of
// extension blocks each as a definite-length CBOR array, with CRC-16/CRC-32
// verification computed by teeing the raw wire bytes through the relevant
// streaming checksum as they're read (spec §4.3/§4.1).
//
// The CBOR primitives here are hand-rolled rather than built on a whole-value
// unmarshaler (DESIGN.md: fxamacker/cbor/v2 considered and rejected) because
// the parser must advertise "pending bytes + destination buffer" for the
// payload and feed raw header bytes into the CRC stream mid-element, which a
// generic decoder's API has no hook for.
package bpv7

import (
	"fmt"
	"io"
)

const (
	majorUint       = 0
	majorNegInt     = 1
	majorByteString = 2
	majorTextString = 3
	majorArray      = 4
	majorSimple     = 7

	breakByte = 0xff
)

// writeHead writes a CBOR major-type/length head for major/value.
func writeHead(w io.Writer, major byte, value uint64) error {
	hi := major << 5
	switch {
	case value < 24:
		_, err := w.Write([]byte{hi | byte(value)})
		return err
	case value <= 0xff:
		_, err := w.Write([]byte{hi | 24, byte(value)})
		return err
	case value <= 0xffff:
		_, err := w.Write([]byte{hi | 25, byte(value >> 8), byte(value)})
		return err
	case value <= 0xffffffff:
		_, err := w.Write([]byte{hi | 26, byte(value >> 24), byte(value >> 16), byte(value >> 8), byte(value)})
		return err
	default:
		_, err := w.Write([]byte{
			hi | 27,
			byte(value >> 56), byte(value >> 48), byte(value >> 40), byte(value >> 32),
			byte(value >> 24), byte(value >> 16), byte(value >> 8), byte(value),
		})
		return err
	}
}

// readHead reads a CBOR major-type/length head, returning the major type and
// the decoded length/value field.
func readHead(r io.Reader) (major byte, value uint64, err error) {
	var b [1]byte
	if _, err = io.ReadFull(r, b[:]); err != nil {
		return 0, 0, err
	}
	major = b[0] >> 5
	info := b[0] & 0x1f
	switch {
	case info < 24:
		return major, uint64(info), nil
	case info == 24:
		var buf [1]byte
		if _, err = io.ReadFull(r, buf[:]); err != nil {
			return 0, 0, err
		}
		return major, uint64(buf[0]), nil
	case info == 25:
		var buf [2]byte
		if _, err = io.ReadFull(r, buf[:]); err != nil {
			return 0, 0, err
		}
		return major, uint64(buf[0])<<8 | uint64(buf[1]), nil
	case info == 26:
		var buf [4]byte
		if _, err = io.ReadFull(r, buf[:]); err != nil {
			return 0, 0, err
		}
		return major, uint64(buf[0])<<24 | uint64(buf[1])<<16 | uint64(buf[2])<<8 | uint64(buf[3]), nil
	case info == 27:
		var buf [8]byte
		if _, err = io.ReadFull(r, buf[:]); err != nil {
			return 0, 0, err
		}
		var v uint64
		for _, x := range buf {
			v = v<<8 | uint64(x)
		}
		return major, v, nil
	case info == 31:
		return major, 0, errIndefinite
	default:
		return 0, 0, fmt.Errorf("bpv7: reserved additional info %d", info)
	}
}

var errIndefinite = fmt.Errorf("bpv7: indefinite-length head")

func writeUint(w io.Writer, v uint64) error { return writeHead(w, majorUint, v) }

func readUint(r io.Reader) (uint64, error) {
	major, v, err := readHead(r)
	if err != nil {
		return 0, err
	}
	if major != majorUint {
		return 0, fmt.Errorf("bpv7: expected uint (major 0), got major %d", major)
	}
	return v, nil
}

func writeByteString(w io.Writer, data []byte) error {
	if err := writeHead(w, majorByteString, uint64(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readByteString(r io.Reader) ([]byte, error) {
	major, n, err := readHead(r)
	if err != nil {
		return nil, err
	}
	if major != majorByteString {
		return nil, fmt.Errorf("bpv7: expected byte string (major 2), got major %d", major)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeTextString(w io.Writer, s string) error {
	if err := writeHead(w, majorTextString, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readTextString(r io.Reader) (string, error) {
	major, n, err := readHead(r)
	if err != nil {
		return "", err
	}
	if major != majorTextString {
		return "", fmt.Errorf("bpv7: expected text string (major 3), got major %d", major)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeArrayHead(w io.Writer, n uint64) error { return writeHead(w, majorArray, n) }

func readArrayHead(r io.Reader) (uint64, error) {
	major, n, err := readHead(r)
	if err != nil {
		return 0, err
	}
	if major != majorArray {
		return 0, fmt.Errorf("bpv7: expected array (major 4), got major %d", major)
	}
	return n, nil
}

// writeIndefiniteArrayHead writes the 0x9f outer-array marker (spec §4.3 "outer
// structure is a CBOR indefinite-length array").
func writeIndefiniteArrayHead(w io.Writer) error {
	_, err := w.Write([]byte{0x9f})
	return err
}

func writeBreak(w io.Writer) error {
	_, err := w.Write([]byte{breakByte})
	return err
}

// peekIsBreak reports whether the next byte is the 0xff break marker,
// consuming it if so.
func peekIsBreak(r *peekReader) (bool, error) {
	b, err := r.Peek()
	if err != nil {
		return false, err
	}
	if b == breakByte {
		_, _ = r.ReadByte()
		return true, nil
	}
	return false, nil
}

// peekReader is a tiny one-byte-lookahead reader, used only to detect the
// outer array's terminating break without consuming a real CBOR head.
type peekReader struct {
	io.Reader
	has bool
	b   byte
}

func (p *peekReader) Peek() (byte, error) {
	if p.has {
		return p.b, nil
	}
	var buf [1]byte
	if _, err := io.ReadFull(p.Reader, buf[:]); err != nil {
		return 0, err
	}
	p.b = buf[0]
	p.has = true
	return p.b, nil
}

func (p *peekReader) ReadByte() (byte, error) {
	if p.has {
		p.has = false
		return p.b, nil
	}
	var buf [1]byte
	_, err := io.ReadFull(p.Reader, buf[:])
	return buf[0], err
}

// Read implements io.Reader, serving the peeked byte first if present.
func (p *peekReader) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n := 0
	if p.has {
		buf[0] = p.b
		p.has = false
		n = 1
		if len(buf) == 1 {
			return n, nil
		}
	}
	m, err := p.Reader.Read(buf[n:])
	return n + m, err
}
