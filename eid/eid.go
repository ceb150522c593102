// Package eid represents DTN Endpoint Identifiers: the dtn: URI scheme
// (free-form SSP, with the special value dtn:none) and the ipn: scheme
// (two unsigned integers, node.service). BP6 encodes EIDs through a
// bundle-local dictionary of (scheme, ssp) string offsets; BP7 encodes them
// as a 2-tuple [schema-code, ssp]. Both codecs build an EndpointID through
// this package so the in-memory representation is codec-independent.
package eid

import (
	"fmt"
	"strconv"
	"strings"
)

// Scheme identifies which URI scheme an EndpointID uses.
type Scheme uint8

const (
	SchemeDTN Scheme = 1
	SchemeIPN Scheme = 2
)

// EndpointID is the parsed, validated form of an EID string.
type EndpointID struct {
	Scheme Scheme
	// DTN scheme: SSP is the free-form string after "dtn:" ("none" for dtn:none).
	SSP string
	// IPN scheme: Node and Service are the two unsigned integers.
	Node    uint64
	Service uint64
}

// None is the special null endpoint dtn:none.
func None() EndpointID { return EndpointID{Scheme: SchemeDTN, SSP: "none"} }

func (e EndpointID) IsNone() bool {
	return e.Scheme == SchemeDTN && e.SSP == "none"
}

// Parse accepts "dtn:<ssp>" or "ipn:<node>.<service>" and validates the ipn
// integers. A null-terminated, schema-resolvable string is the invariant
// guaranteed by both bpv6 (post-dictionary-resolution) and bpv7 callers.
func Parse(s string) (EndpointID, error) {
	switch {
	case strings.HasPrefix(s, "dtn:"):
		return EndpointID{Scheme: SchemeDTN, SSP: s[len("dtn:"):]}, nil
	case strings.HasPrefix(s, "ipn:"):
		rest := s[len("ipn:"):]
		dot := strings.IndexByte(rest, '.')
		if dot < 0 {
			return EndpointID{}, fmt.Errorf("eid: malformed ipn ssp %q", s)
		}
		node, err := strconv.ParseUint(rest[:dot], 10, 64)
		if err != nil {
			return EndpointID{}, fmt.Errorf("eid: bad ipn node: %w", err)
		}
		svc, err := strconv.ParseUint(rest[dot+1:], 10, 64)
		if err != nil {
			return EndpointID{}, fmt.Errorf("eid: bad ipn service: %w", err)
		}
		return EndpointID{Scheme: SchemeIPN, Node: node, Service: svc}, nil
	default:
		return EndpointID{}, fmt.Errorf("eid: unsupported scheme in %q", s)
	}
}

// String renders the canonical wire form.
func (e EndpointID) String() string {
	switch e.Scheme {
	case SchemeIPN:
		return fmt.Sprintf("ipn:%d.%d", e.Node, e.Service)
	default:
		return "dtn:" + e.SSP
	}
}

// SchemeName returns the scheme prefix without the SSP, for dictionary keys.
func (e EndpointID) SchemeName() string {
	if e.Scheme == SchemeIPN {
		return "ipn"
	}
	return "dtn"
}

// NodePart returns the EID with any trailing "/<app_id>" path stripped, used
// to match a bundle's destination against a node's own base EID and to
// extract the agent_id suffix for local delivery (spec §4.9 "deliver-local").
func (e EndpointID) NodePart() (node EndpointID, appID string) {
	if e.Scheme != SchemeDTN {
		return e, ""
	}
	idx := strings.IndexByte(e.SSP, '/')
	if idx < 0 {
		return e, ""
	}
	return EndpointID{Scheme: SchemeDTN, SSP: e.SSP[:idx]}, e.SSP[idx+1:]
}

// HasPrefix reports whether other's node part equals e (used to check
// whether a destination EID is "local", i.e. routed to this node's base EID).
func (e EndpointID) HasPrefix(other EndpointID) bool {
	node, _ := other.NodePart()
	return e == node
}
