package bpv7

import "github.com/dtncore/agent/bundle"

// BP7 bundle processing control flags (RFC 9171 §4.2.3), distinct from the
// BP6 wire encoding and from bundle.ProcFlags; transcoded on parse/serialize
// (spec §3).
const (
	wireIsFragment               uint64 = 1 << 0
	wireAdministrativeRecord     uint64 = 1 << 1
	wireMustNotFragment          uint64 = 1 << 2
	wireIsSingleton              uint64 = 1 << 5
	wireAcknowledgementRequested uint64 = 1 << 6
	wireStatusRequestReception   uint64 = 1 << 14
	wireStatusRequestForward     uint64 = 1 << 16
	wireStatusRequestDelivery    uint64 = 1 << 17
	wireStatusRequestDeletion    uint64 = 1 << 18
	wirePriorityMask             uint64 = 0x3 << 7
	wirePriorityShift                   = 7
)

func flagsFromWire(w uint64) bundle.ProcFlags {
	var f bundle.ProcFlags
	set := func(wireBit uint64, out bundle.ProcFlags) {
		if w&wireBit != 0 {
			f |= out
		}
	}
	set(wireIsFragment, bundle.IsFragment)
	set(wireAdministrativeRecord, bundle.AdministrativeRecord)
	set(wireMustNotFragment, bundle.MustNotFragment)
	set(wireIsSingleton, bundle.IsSingleton)
	set(wireAcknowledgementRequested, bundle.AcknowledgementRequested)
	set(wireStatusRequestReception, bundle.StatusRequestReception)
	set(wireStatusRequestForward, bundle.StatusRequestForward)
	set(wireStatusRequestDelivery, bundle.StatusRequestDelivery)
	set(wireStatusRequestDeletion, bundle.StatusRequestDeletion)
	return f
}

func flagsToWire(f bundle.ProcFlags) uint64 {
	var w uint64
	set := func(bit bundle.ProcFlags, wireBit uint64) {
		if f.Has(bit) {
			w |= wireBit
		}
	}
	set(bundle.IsFragment, wireIsFragment)
	set(bundle.AdministrativeRecord, wireAdministrativeRecord)
	set(bundle.MustNotFragment, wireMustNotFragment)
	set(bundle.IsSingleton, wireIsSingleton)
	set(bundle.AcknowledgementRequested, wireAcknowledgementRequested)
	set(bundle.StatusRequestReception, wireStatusRequestReception)
	set(bundle.StatusRequestForward, wireStatusRequestForward)
	set(bundle.StatusRequestDelivery, wireStatusRequestDelivery)
	set(bundle.StatusRequestDeletion, wireStatusRequestDeletion)
	return w
}

func priorityFromWire(w uint64) bundle.Priority {
	return bundle.Priority((w & wirePriorityMask) >> wirePriorityShift)
}

func priorityToWire(p bundle.Priority) uint64 {
	return (uint64(p) << wirePriorityShift) & wirePriorityMask
}

// Block processing flags (RFC 9171 §4.3.1) — no BP7 last-block marker exists
// (block order on the wire is definitive; "last" is implicit in sequence).
const (
	wireBlockMustReplicate   uint64 = 1 << 0
	wireBlockReportIfUnproc  uint64 = 1 << 1
	wireBlockDeleteIfUnproc  uint64 = 1 << 2
	wireBlockDiscardIfUnproc uint64 = 1 << 4
)

func blockFlagsFromWire(w uint64) bundle.BlockFlags {
	var f bundle.BlockFlags
	if w&wireBlockMustReplicate != 0 {
		f |= bundle.BlockMustReplicateInFragments
	}
	if w&wireBlockReportIfUnproc != 0 {
		f |= bundle.BlockReportIfUnprocessed
	}
	if w&wireBlockDeleteIfUnproc != 0 {
		f |= bundle.BlockDeleteIfUnprocessed
	}
	if w&wireBlockDiscardIfUnproc != 0 {
		f |= bundle.BlockDiscardIfUnprocessed
	}
	return f
}

func blockFlagsToWire(f bundle.BlockFlags) uint64 {
	var w uint64
	if f.Has(bundle.BlockMustReplicateInFragments) {
		w |= wireBlockMustReplicate
	}
	if f.Has(bundle.BlockReportIfUnprocessed) {
		w |= wireBlockReportIfUnproc
	}
	if f.Has(bundle.BlockDeleteIfUnprocessed) {
		w |= wireBlockDeleteIfUnproc
	}
	if f.Has(bundle.BlockDiscardIfUnprocessed) {
		w |= wireBlockDiscardIfUnproc
	}
	return w
}
