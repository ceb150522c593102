package bpv6

import (
	"fmt"
	"strings"

	"github.com/dtncore/agent/eid"
)

// dictionary is the bundle-local table of NUL-terminated scheme and SSP
// strings referenced by (scheme_offset, ssp_offset) pairs (RFC 5050 §4.5.1).
type dictionary struct {
	raw     []byte // concatenated NUL-terminated strings, as read off the wire
	entries map[string]int
	order   []string
}

func newDictionary() *dictionary {
	return &dictionary{entries: map[string]int{}}
}

// intern returns s's offset into raw, adding it if not already present.
func (d *dictionary) intern(s string) int {
	if off, ok := d.entries[s]; ok {
		return off
	}
	off := len(d.raw)
	d.raw = append(d.raw, append([]byte(s), 0)...)
	d.entries[s] = off
	d.order = append(d.order, s)
	return off
}

// offsets returns the (scheme_offset, ssp_offset) pair for an EID, interning
// both the scheme name and the SSP.
func (d *dictionary) offsets(e eid.EndpointID) (schemeOff, sspOff int) {
	return d.intern(e.SchemeName()), d.intern(sspOf(e))
}

func sspOf(e eid.EndpointID) string {
	if e.Scheme == eid.SchemeIPN {
		return fmt.Sprintf("%d.%d", e.Node, e.Service)
	}
	return e.SSP
}

// bytes returns the wire form of the dictionary block.
func (d *dictionary) bytes() []byte { return d.raw }

// parseDictionary loads a dictionary from its raw wire bytes.
func parseDictionary(raw []byte) *dictionary {
	return &dictionary{raw: raw}
}

// resolve looks up the NUL-terminated string at offset off within raw.
func (d *dictionary) resolve(off int) (string, error) {
	if off < 0 || off >= len(d.raw) {
		return "", fmt.Errorf("bpv6: dictionary offset %d out of range", off)
	}
	end := strings.IndexByte(string(d.raw[off:]), 0)
	if end < 0 {
		return "", fmt.Errorf("bpv6: dictionary string at %d not NUL-terminated", off)
	}
	return string(d.raw[off : off+end]), nil
}

// resolveEID reconstructs an EndpointID from a (scheme_offset, ssp_offset) pair.
func (d *dictionary) resolveEID(schemeOff, sspOff int) (eid.EndpointID, error) {
	scheme, err := d.resolve(schemeOff)
	if err != nil {
		return eid.EndpointID{}, err
	}
	ssp, err := d.resolve(sspOff)
	if err != nil {
		return eid.EndpointID{}, err
	}
	return eid.Parse(scheme + ":" + ssp)
}
