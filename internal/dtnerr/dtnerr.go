// Package dtnerr gives each error kind named in spec §7 a concrete Go type
// so callers can errors.As to recover the kind and a reason code, while
// still wrapping with errors.Wrap for a call-chain message. Parsers,
// serializers, the router, and the processor never panic on these; panics
// (via internal/debug) are reserved for programmer invariants.
package dtnerr

import "github.com/pkg/errors"

// Reason codes used in administrative-record status reports (§4.9) and in
// this package's error Reason fields.
const (
	ReasonNoInformation     = "no-information"
	ReasonLifetimeExpired   = "lifetime-expired"
	ReasonDepletedStorage   = "depleted-storage"
	ReasonNoKnownRoute      = "no-known-route"
	ReasonNoTimelyContact   = "no-timely-contact"
	ReasonHopLimitExceeded  = "hop-limit-exceeded"
	ReasonDuplicate         = "duplicate"
	ReasonBlockUnsupported  = "block-unsupported"
	ReasonTrafficPared      = "traffic-pared"
	ReasonUnintelligible    = "unintelligible"
)

// ParseError: malformed SDNV/CBOR, inconsistent field length, CRC mismatch.
type ParseError struct {
	Stage string
	cause error
}

func NewParseError(stage string, cause error) *ParseError {
	return &ParseError{Stage: stage, cause: errors.WithStack(cause)}
}
func (e *ParseError) Error() string {
	return "parse error at " + e.Stage + ": " + e.cause.Error()
}
func (e *ParseError) Unwrap() error { return e.cause }

// CapacityExhausted: allocation failure, store full, payload exceeds parser quota.
type CapacityExhausted struct {
	Reason string
}

func NewCapacityExhausted(reason string) *CapacityExhausted {
	return &CapacityExhausted{Reason: reason}
}
func (e *CapacityExhausted) Error() string { return "capacity exhausted: " + e.Reason }

// NoRoute: router found no feasible contact set.
type NoRoute struct {
	Reason string // ReasonNoKnownRoute or ReasonNoTimelyContact
}

func NewNoRoute(reason string) *NoRoute { return &NoRoute{Reason: reason} }
func (e *NoRoute) Error() string        { return "no route: " + e.Reason }

// TransmissionFailure: CLA send returned non-OK.
type TransmissionFailure struct {
	cause error
}

func NewTransmissionFailure(cause error) *TransmissionFailure {
	return &TransmissionFailure{cause: errors.WithStack(cause)}
}
func (e *TransmissionFailure) Error() string { return "transmission failure: " + e.cause.Error() }
func (e *TransmissionFailure) Unwrap() error { return e.cause }

// PolicyViolation: hop-limit exceeded, lifetime expired, duplicate.
type PolicyViolation struct {
	Reason string
}

func NewPolicyViolation(reason string) *PolicyViolation { return &PolicyViolation{Reason: reason} }
func (e *PolicyViolation) Error() string                { return "policy violation: " + e.Reason }

// ProtocolError: invalid AAP message, register-before-welcome.
type ProtocolError struct {
	Detail string
}

func NewProtocolError(detail string) *ProtocolError { return &ProtocolError{Detail: detail} }
func (e *ProtocolError) Error() string              { return "protocol error: " + e.Detail }

// Wrap attaches call-site context to any error without losing its kind
// (errors.As still finds the wrapped *ParseError etc. through pkg/errors' chain).
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, context)
}
