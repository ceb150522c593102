// Package aap implements the Application Agent Protocol (spec §4.10): a
// length-prefixed binary protocol over a stream socket by which local
// applications register a sink EID, submit bundles, and receive delivered
// ADUs. Grounded on original_source/components/aap/aap.h's message table
// and components/agents/posix/application_agent.c's per-connection task,
// reworked from its poll-driven MSG_DONTWAIT loop into one goroutine per
// connection doing blocking reads, the idiomatic Go shape for a
// one-task-per-TCP-connection server.
package aap

import (
	"fmt"
)

// Version is the only AAP wire version this package speaks.
const Version = 1

// MessageType is the low nibble of an AAP header byte (spec §4.10 table).
type MessageType uint8

const (
	Ack           MessageType = 0x0
	Nack          MessageType = 0x1
	Register      MessageType = 0x2
	SendBundle    MessageType = 0x3
	RecvBundle    MessageType = 0x4
	SendConfirm   MessageType = 0x5
	CancelBundle  MessageType = 0x6
	Welcome       MessageType = 0x7
	Ping          MessageType = 0x8
)

func (t MessageType) String() string {
	switch t {
	case Ack:
		return "ACK"
	case Nack:
		return "NACK"
	case Register:
		return "REGISTER"
	case SendBundle:
		return "SENDBUNDLE"
	case RecvBundle:
		return "RECVBUNDLE"
	case SendConfirm:
		return "SENDCONFIRM"
	case CancelBundle:
		return "CANCELBUNDLE"
	case Welcome:
		return "WELCOME"
	case Ping:
		return "PING"
	default:
		return fmt.Sprintf("unknown(0x%x)", uint8(t))
	}
}

// header encodes/decodes the single (version<<4)|type byte every message
// starts with.
func header(t MessageType) byte { return byte(Version<<4) | byte(t&0x0f) }

func decodeHeader(b byte) (version uint8, t MessageType, ok bool) {
	version = b >> 4
	t = MessageType(b & 0x0f)
	return version, t, version == Version
}

// Message is the protocol-independent form of any of the nine AAP message
// types; fields not meaningful for a given Type are left zero.
type Message struct {
	Type MessageType

	EID        string // REGISTER, SENDBUNDLE (dest), RECVBUNDLE (source), WELCOME
	Payload    []byte // SENDBUNDLE, RECVBUNDLE
	BundleID   uint64 // SENDCONFIRM, CANCELBUNDLE
}
