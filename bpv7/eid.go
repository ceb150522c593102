package bpv7

import (
	"fmt"
	"io"

	"github.com/dtncore/agent/eid"
)

// writeEID encodes e as its BP7 2-tuple: dtn:none = [1,0], dtn:<ssp> =
// [1, text-string], ipn:N.S = [2,[N,S]] (spec §4.3).
func writeEID(w io.Writer, e eid.EndpointID) error {
	switch e.Scheme {
	case eid.SchemeIPN:
		if err := writeArrayHead(w, 2); err != nil {
			return err
		}
		if err := writeUint(w, uint64(eid.SchemeIPN)); err != nil {
			return err
		}
		if err := writeArrayHead(w, 2); err != nil {
			return err
		}
		if err := writeUint(w, e.Node); err != nil {
			return err
		}
		return writeUint(w, e.Service)
	default:
		if err := writeArrayHead(w, 2); err != nil {
			return err
		}
		if err := writeUint(w, uint64(eid.SchemeDTN)); err != nil {
			return err
		}
		if e.IsNone() {
			return writeUint(w, 0)
		}
		return writeTextString(w, e.SSP)
	}
}

// readEID decodes the 2-tuple form written by writeEID.
func readEID(r io.Reader) (eid.EndpointID, error) {
	n, err := readArrayHead(r)
	if err != nil {
		return eid.EndpointID{}, err
	}
	if n != 2 {
		return eid.EndpointID{}, fmt.Errorf("bpv7: EID array must have 2 elements, got %d", n)
	}
	scheme, err := readUint(r)
	if err != nil {
		return eid.EndpointID{}, err
	}
	switch eid.Scheme(scheme) {
	case eid.SchemeDTN:
		ssp, isNone, err := readDtnSSP(r)
		if err != nil {
			return eid.EndpointID{}, err
		}
		if isNone {
			return eid.None(), nil
		}
		return eid.EndpointID{Scheme: eid.SchemeDTN, SSP: ssp}, nil
	case eid.SchemeIPN:
		m, err := readArrayHead(r)
		if err != nil {
			return eid.EndpointID{}, err
		}
		if m != 2 {
			return eid.EndpointID{}, fmt.Errorf("bpv7: ipn SSP array must have 2 elements, got %d", m)
		}
		node, err := readUint(r)
		if err != nil {
			return eid.EndpointID{}, err
		}
		svc, err := readUint(r)
		if err != nil {
			return eid.EndpointID{}, err
		}
		return eid.EndpointID{Scheme: eid.SchemeIPN, Node: node, Service: svc}, nil
	default:
		return eid.EndpointID{}, fmt.Errorf("bpv7: unsupported EID scheme code %d", scheme)
	}
}

// readDtnSSP reads either the literal uint 0 (dtn:none) or a text string
// (the SSP), per the dtn-scheme SSP's dual representation (spec §4.3).
func readDtnSSP(r io.Reader) (ssp string, isNone bool, err error) {
	m, v, err := readHead(r)
	if err != nil {
		return "", false, err
	}
	switch m {
	case majorUint:
		if v != 0 {
			return "", false, fmt.Errorf("bpv7: dtn SSP uint form must be 0 (dtn:none), got %d", v)
		}
		return "", true, nil
	case majorTextString:
		buf := make([]byte, v)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", false, err
		}
		return string(buf), false, nil
	default:
		return "", false, fmt.Errorf("bpv7: expected uint or text string for dtn SSP, got major %d", m)
	}
}
