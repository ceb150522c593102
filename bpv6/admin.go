package bpv6

import (
	"bytes"
	"fmt"

	"github.com/dtncore/agent/bundle"
	"github.com/dtncore/agent/internal/dtnerr"
	"github.com/dtncore/agent/sdnv"
)

// reasonCodes fixes a wire byte for each internal/dtnerr Reason* constant,
// in the order internal/dtnerr declares them (not RFC 5050's reason-code
// numbering). The mapping only needs to
// round-trip within this codec, not match another implementation's table.
var reasonCodes = []string{
	dtnerr.ReasonNoInformation,
	dtnerr.ReasonLifetimeExpired,
	dtnerr.ReasonDepletedStorage,
	dtnerr.ReasonNoKnownRoute,
	dtnerr.ReasonNoTimelyContact,
	dtnerr.ReasonHopLimitExceeded,
	dtnerr.ReasonDuplicate,
	dtnerr.ReasonBlockUnsupported,
	dtnerr.ReasonTrafficPared,
	dtnerr.ReasonUnintelligible,
}

func reasonToWire(reason string) byte {
	for i, r := range reasonCodes {
		if r == reason {
			return byte(i)
		}
	}
	return 0
}

func reasonFromWire(b byte) string {
	if int(b) < len(reasonCodes) {
		return reasonCodes[b]
	}
	return dtnerr.ReasonNoInformation
}

const wireHasFragmentField = 0x01

// EncodeStatusReport serializes sr as a BP6 administrative record payload
// (RFC 5050 §6.1): admin-record type+flags byte, status byte, reason byte,
// optional [frag-offset, frag-length] SDNVs, time SDNV, creation-timestamp
// and sequence-number SDNVs, then the source EID length-prefixed string.
func EncodeStatusReport(sr *bundle.StatusReport) []byte {
	out := new(bytes.Buffer)

	var typeAndFlags byte = byte(bundle.AdminStatusReport) << 4
	if sr.HasFragment {
		typeAndFlags |= wireHasFragmentField
	}
	out.WriteByte(typeAndFlags)
	out.WriteByte(byte(sr.Flags))
	out.WriteByte(reasonToWire(sr.Reason))
	if sr.HasFragment {
		out.Write(sdnv.Write(sr.FragmentOffset))
		out.Write(sdnv.Write(sr.FragmentLength))
	}
	out.Write(sdnv.Write(sr.Time))
	out.Write(sdnv.Write(sr.CreationTimestamp))
	out.Write(sdnv.Write(sr.SequenceNumber))
	out.Write(sdnv.Write(uint64(len(sr.SourceEID))))
	out.WriteString(sr.SourceEID)

	return out.Bytes()
}

// DecodeStatusReport is the inverse of EncodeStatusReport.
func DecodeStatusReport(data []byte) (*bundle.StatusReport, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("bpv6: status report too short")
	}
	typeAndFlags := data[0]
	if bundle.AdminRecordType(typeAndFlags>>4) != bundle.AdminStatusReport {
		return nil, fmt.Errorf("bpv6: not a status report record")
	}
	hasFragment := typeAndFlags&wireHasFragmentField != 0

	sr := &bundle.StatusReport{
		Flags:       bundle.StatusReportFlags(data[1]),
		Reason:      reasonFromWire(data[2]),
		HasFragment: hasFragment,
	}
	rest := data[3:]
	var n int
	var err error

	if hasFragment {
		sr.FragmentOffset, n, err = sdnv.Read(rest, 64)
		if err != nil {
			return nil, err
		}
		rest = rest[n:]
		sr.FragmentLength, n, err = sdnv.Read(rest, 64)
		if err != nil {
			return nil, err
		}
		rest = rest[n:]
	}
	sr.Time, n, err = sdnv.Read(rest, 64)
	if err != nil {
		return nil, err
	}
	rest = rest[n:]
	sr.CreationTimestamp, n, err = sdnv.Read(rest, 64)
	if err != nil {
		return nil, err
	}
	rest = rest[n:]
	sr.SequenceNumber, n, err = sdnv.Read(rest, 64)
	if err != nil {
		return nil, err
	}
	rest = rest[n:]
	eidLen, n, err := sdnv.Read(rest, 64)
	if err != nil {
		return nil, err
	}
	rest = rest[n:]
	if uint64(len(rest)) < eidLen {
		return nil, fmt.Errorf("bpv6: status report source EID truncated")
	}
	sr.SourceEID = string(rest[:eidLen])

	return sr, nil
}

// EncodeCustodySignal mirrors EncodeStatusReport for a custody signal
// (RFC 5050 §6.2).
func EncodeCustodySignal(cs *bundle.CustodySignal) []byte {
	out := new(bytes.Buffer)

	var typeAndFlags byte = byte(bundle.AdminCustodySignal) << 4
	if cs.HasFragment {
		typeAndFlags |= wireHasFragmentField
	}
	out.WriteByte(typeAndFlags)
	out.WriteByte(byte(cs.Type))
	out.WriteByte(reasonToWire(cs.Reason))
	if cs.HasFragment {
		out.Write(sdnv.Write(cs.FragmentOffset))
		out.Write(sdnv.Write(cs.FragmentLength))
	}
	out.Write(sdnv.Write(cs.Time))
	out.Write(sdnv.Write(cs.CreationTimestamp))
	out.Write(sdnv.Write(cs.SequenceNumber))
	out.Write(sdnv.Write(uint64(len(cs.SourceEID))))
	out.WriteString(cs.SourceEID)

	return out.Bytes()
}

// DecodeCustodySignal is the inverse of EncodeCustodySignal.
func DecodeCustodySignal(data []byte) (*bundle.CustodySignal, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("bpv6: custody signal too short")
	}
	typeAndFlags := data[0]
	if bundle.AdminRecordType(typeAndFlags>>4) != bundle.AdminCustodySignal {
		return nil, fmt.Errorf("bpv6: not a custody signal record")
	}
	hasFragment := typeAndFlags&wireHasFragmentField != 0

	cs := &bundle.CustodySignal{
		Type:        bundle.CustodySignalType(data[1]),
		Reason:      reasonFromWire(data[2]),
		HasFragment: hasFragment,
	}
	rest := data[3:]
	var n int
	var err error

	if hasFragment {
		cs.FragmentOffset, n, err = sdnv.Read(rest, 64)
		if err != nil {
			return nil, err
		}
		rest = rest[n:]
		cs.FragmentLength, n, err = sdnv.Read(rest, 64)
		if err != nil {
			return nil, err
		}
		rest = rest[n:]
	}
	cs.Time, n, err = sdnv.Read(rest, 64)
	if err != nil {
		return nil, err
	}
	rest = rest[n:]
	cs.CreationTimestamp, n, err = sdnv.Read(rest, 64)
	if err != nil {
		return nil, err
	}
	rest = rest[n:]
	cs.SequenceNumber, n, err = sdnv.Read(rest, 64)
	if err != nil {
		return nil, err
	}
	rest = rest[n:]
	eidLen, n, err := sdnv.Read(rest, 64)
	if err != nil {
		return nil, err
	}
	rest = rest[n:]
	if uint64(len(rest)) < eidLen {
		return nil, fmt.Errorf("bpv6: custody signal source EID truncated")
	}
	cs.SourceEID = string(rest[:eidLen])

	return cs, nil
}

// RecordType peeks the administrative record type byte without fully
// decoding the record, so a caller can dispatch to DecodeStatusReport or
// DecodeCustodySignal.
func RecordType(data []byte) (bundle.AdminRecordType, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("bpv6: empty administrative record")
	}
	return bundle.AdminRecordType(data[0] >> 4), nil
}
