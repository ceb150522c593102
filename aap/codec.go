package aap

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dtncore/agent/internal/dtnerr"
)

// Parser decodes one AAP message at a time from a byte stream, enforcing
// MaxPayloadLength on SENDBUNDLE/RECVBUNDLE bodies (spec §4.10 "enforces
// max_payload_length").
type Parser struct {
	r               *bufio.Reader
	maxPayloadLength uint64
}

func NewParser(r io.Reader, maxPayloadLength uint64) *Parser {
	return &Parser{r: bufio.NewReader(r), maxPayloadLength: maxPayloadLength}
}

func (p *Parser) readEID() (string, error) {
	var eidLen uint16
	if err := binary.Read(p.r, binary.BigEndian, &eidLen); err != nil {
		return "", err
	}
	if eidLen == 0 {
		return "", nil
	}
	buf := make([]byte, eidLen)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (p *Parser) readPayload() ([]byte, error) {
	var payloadLen uint64
	if err := binary.Read(p.r, binary.BigEndian, &payloadLen); err != nil {
		return nil, err
	}
	if p.maxPayloadLength > 0 && payloadLen > p.maxPayloadLength {
		return nil, dtnerr.NewCapacityExhausted("aap: payload exceeds max_payload_length")
	}
	buf := make([]byte, payloadLen)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *Parser) readBundleID() (uint64, error) {
	var id uint64
	err := binary.Read(p.r, binary.BigEndian, &id)
	return id, err
}

// ReadMessage blocks until a complete message has arrived, returning it, or
// an error (io.EOF/closed conn propagate unchanged; a malformed header is a
// dtnerr.ProtocolError).
func (p *Parser) ReadMessage() (*Message, error) {
	hdr, err := p.r.ReadByte()
	if err != nil {
		return nil, err
	}
	version, t, ok := decodeHeader(hdr)
	if !ok {
		return nil, dtnerr.NewProtocolError(fmt.Sprintf("aap: unsupported version %d", version))
	}

	msg := &Message{Type: t}
	switch t {
	case Ack, Nack, Ping:
		// no body
	case Register, Welcome:
		eid, err := p.readEID()
		if err != nil {
			return nil, err
		}
		msg.EID = eid
	case SendBundle, RecvBundle:
		eid, err := p.readEID()
		if err != nil {
			return nil, err
		}
		payload, err := p.readPayload()
		if err != nil {
			return nil, err
		}
		msg.EID = eid
		msg.Payload = payload
	case SendConfirm, CancelBundle:
		id, err := p.readBundleID()
		if err != nil {
			return nil, err
		}
		msg.BundleID = id
	default:
		return nil, dtnerr.NewProtocolError(fmt.Sprintf("aap: unknown message type 0x%x", uint8(t)))
	}
	return msg, nil
}

// Encode serializes msg to its wire form.
func Encode(msg *Message) []byte {
	buf := make([]byte, 0, 16+len(msg.Payload)+len(msg.EID))
	buf = append(buf, header(msg.Type))

	switch msg.Type {
	case Ack, Nack, Ping:
	case Register, Welcome:
		buf = appendEID(buf, msg.EID)
	case SendBundle, RecvBundle:
		buf = appendEID(buf, msg.EID)
		buf = appendPayload(buf, msg.Payload)
	case SendConfirm, CancelBundle:
		buf = appendUint64(buf, msg.BundleID)
	}
	return buf
}

func appendEID(buf []byte, eid string) []byte {
	buf = appendUint16(buf, uint16(len(eid)))
	return append(buf, eid...)
}

func appendPayload(buf []byte, payload []byte) []byte {
	buf = appendUint64(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func appendUint16(buf []byte, v uint16) []byte {
	return append(buf, byte(v>>8), byte(v))
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
