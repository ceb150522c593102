package bpv7

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtncore/agent/bundle"
	"github.com/dtncore/agent/internal/dtnerr"
)

// reasonCodes mirrors bpv6's table so BP6/BP7 administrative records carry
// the same reason numbering; kept as a separate copy since the two codecs
// do not share an internal package.
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

func reasonToWire(reason string) uint64 {
	for i, r := range reasonCodes {
		if r == reason {
			return uint64(i)
		}
	}
	return 0
}

func reasonFromWire(v uint64) string {
	if v < uint64(len(reasonCodes)) {
		return reasonCodes[v]
	}
	return dtnerr.ReasonNoInformation
}

// EncodeStatusReport serializes sr as the CBOR array
// [type, [status-info, reason, source-eid, creation-ts, seq-num, [frag-offset, frag-length]?, time]]
// (spec §4.9 "Status reports... BP7 as CBOR").
func EncodeStatusReport(sr *bundle.StatusReport) ([]byte, error) {
	out := new(bytes.Buffer)
	if err := writeArrayHead(out, 2); err != nil {
		return nil, err
	}
	if err := writeUint(out, uint64(bundle.AdminStatusReport)); err != nil {
		return nil, err
	}

	innerLen := uint64(6)
	if sr.HasFragment {
		innerLen++
	}
	if err := writeArrayHead(out, innerLen); err != nil {
		return nil, err
	}
	if err := writeUint(out, uint64(sr.Flags)); err != nil {
		return nil, err
	}
	if err := writeUint(out, reasonToWire(sr.Reason)); err != nil {
		return nil, err
	}
	if err := writeTextString(out, sr.SourceEID); err != nil {
		return nil, err
	}
	if err := writeUint(out, sr.CreationTimestamp); err != nil {
		return nil, err
	}
	if err := writeUint(out, sr.SequenceNumber); err != nil {
		return nil, err
	}
	if sr.HasFragment {
		if err := writeArrayHead(out, 2); err != nil {
			return nil, err
		}
		if err := writeUint(out, sr.FragmentOffset); err != nil {
			return nil, err
		}
		if err := writeUint(out, sr.FragmentLength); err != nil {
			return nil, err
		}
	}
	if err := writeUint(out, sr.Time); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// DecodeStatusReport is the inverse of EncodeStatusReport.
func DecodeStatusReport(data []byte) (*bundle.StatusReport, error) {
	r := bytes.NewReader(data)
	n, err := readArrayHead(r)
	if err != nil {
		return nil, err
	}
	if n != 2 {
		return nil, fmt.Errorf("bpv7: admin record array must have 2 elements, got %d", n)
	}
	recType, err := readUint(r)
	if err != nil {
		return nil, err
	}
	if bundle.AdminRecordType(recType) != bundle.AdminStatusReport {
		return nil, fmt.Errorf("bpv7: not a status report record")
	}
	return decodeStatusReportBody(r)
}

func decodeStatusReportBody(r io.Reader) (*bundle.StatusReport, error) {
	innerLen, err := readArrayHead(r)
	if err != nil {
		return nil, err
	}
	if innerLen != 6 && innerLen != 7 {
		return nil, fmt.Errorf("bpv7: status report body must have 6 or 7 elements, got %d", innerLen)
	}
	sr := &bundle.StatusReport{HasFragment: innerLen == 7}

	flags, err := readUint(r)
	if err != nil {
		return nil, err
	}
	sr.Flags = bundle.StatusReportFlags(flags)

	reason, err := readUint(r)
	if err != nil {
		return nil, err
	}
	sr.Reason = reasonFromWire(reason)

	sr.SourceEID, err = readTextString(r)
	if err != nil {
		return nil, err
	}
	if sr.CreationTimestamp, err = readUint(r); err != nil {
		return nil, err
	}
	if sr.SequenceNumber, err = readUint(r); err != nil {
		return nil, err
	}
	if sr.HasFragment {
		fn, err := readArrayHead(r)
		if err != nil {
			return nil, err
		}
		if fn != 2 {
			return nil, fmt.Errorf("bpv7: status report fragment array must have 2 elements, got %d", fn)
		}
		if sr.FragmentOffset, err = readUint(r); err != nil {
			return nil, err
		}
		if sr.FragmentLength, err = readUint(r); err != nil {
			return nil, err
		}
	}
	if sr.Time, err = readUint(r); err != nil {
		return nil, err
	}
	return sr, nil
}

// EncodeCustodySignal mirrors EncodeStatusReport for a custody signal.
func EncodeCustodySignal(cs *bundle.CustodySignal) ([]byte, error) {
	out := new(bytes.Buffer)
	if err := writeArrayHead(out, 2); err != nil {
		return nil, err
	}
	if err := writeUint(out, uint64(bundle.AdminCustodySignal)); err != nil {
		return nil, err
	}

	innerLen := uint64(6)
	if cs.HasFragment {
		innerLen++
	}
	if err := writeArrayHead(out, innerLen); err != nil {
		return nil, err
	}
	if err := writeUint(out, uint64(cs.Type)); err != nil {
		return nil, err
	}
	if err := writeUint(out, reasonToWire(cs.Reason)); err != nil {
		return nil, err
	}
	if err := writeTextString(out, cs.SourceEID); err != nil {
		return nil, err
	}
	if err := writeUint(out, cs.CreationTimestamp); err != nil {
		return nil, err
	}
	if err := writeUint(out, cs.SequenceNumber); err != nil {
		return nil, err
	}
	if cs.HasFragment {
		if err := writeArrayHead(out, 2); err != nil {
			return nil, err
		}
		if err := writeUint(out, cs.FragmentOffset); err != nil {
			return nil, err
		}
		if err := writeUint(out, cs.FragmentLength); err != nil {
			return nil, err
		}
	}
	if err := writeUint(out, cs.Time); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// DecodeCustodySignal is the inverse of EncodeCustodySignal.
func DecodeCustodySignal(data []byte) (*bundle.CustodySignal, error) {
	r := bytes.NewReader(data)
	n, err := readArrayHead(r)
	if err != nil {
		return nil, err
	}
	if n != 2 {
		return nil, fmt.Errorf("bpv7: admin record array must have 2 elements, got %d", n)
	}
	recType, err := readUint(r)
	if err != nil {
		return nil, err
	}
	if bundle.AdminRecordType(recType) != bundle.AdminCustodySignal {
		return nil, fmt.Errorf("bpv7: not a custody signal record")
	}

	innerLen, err := readArrayHead(r)
	if err != nil {
		return nil, err
	}
	if innerLen != 6 && innerLen != 7 {
		return nil, fmt.Errorf("bpv7: custody signal body must have 6 or 7 elements, got %d", innerLen)
	}
	cs := &bundle.CustodySignal{HasFragment: innerLen == 7}

	typ, err := readUint(r)
	if err != nil {
		return nil, err
	}
	cs.Type = bundle.CustodySignalType(typ)

	reason, err := readUint(r)
	if err != nil {
		return nil, err
	}
	cs.Reason = reasonFromWire(reason)

	cs.SourceEID, err = readTextString(r)
	if err != nil {
		return nil, err
	}
	if cs.CreationTimestamp, err = readUint(r); err != nil {
		return nil, err
	}
	if cs.SequenceNumber, err = readUint(r); err != nil {
		return nil, err
	}
	if cs.HasFragment {
		fn, err := readArrayHead(r)
		if err != nil {
			return nil, err
		}
		if fn != 2 {
			return nil, fmt.Errorf("bpv7: custody signal fragment array must have 2 elements, got %d", fn)
		}
		if cs.FragmentOffset, err = readUint(r); err != nil {
			return nil, err
		}
		if cs.FragmentLength, err = readUint(r); err != nil {
			return nil, err
		}
	}
	if cs.Time, err = readUint(r); err != nil {
		return nil, err
	}
	return cs, nil
}

// RecordType peeks the administrative record's type element (the array's
// first element) without fully decoding the body.
func RecordType(data []byte) (bundle.AdminRecordType, error) {
	r := bytes.NewReader(data)
	n, err := readArrayHead(r)
	if err != nil {
		return 0, err
	}
	if n != 2 {
		return 0, fmt.Errorf("bpv7: admin record array must have 2 elements, got %d", n)
	}
	v, err := readUint(r)
	if err != nil {
		return 0, err
	}
	return bundle.AdminRecordType(v), nil
}
