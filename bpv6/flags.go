package bpv6

import "github.com/dtncore/agent/bundle"

// Wire-level BP6 primary block processing flags (RFC 5050 §4.2), distinct
// from the protocol-independent bundle.ProcFlags enum; transcoded on
// parse/serialize per spec §3.
const (
	wireIsFragment               uint64 = 1 << 0
	wireAdministrativeRecord     uint64 = 1 << 1
	wireMustNotFragment          uint64 = 1 << 2
	wireCustodyRequested         uint64 = 1 << 3
	wireIsSingleton              uint64 = 1 << 4
	wireAcknowledgementRequested uint64 = 1 << 5
	wireStatusRequestReception   uint64 = 1 << 14
	wireStatusRequestCustody     uint64 = 1 << 15
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
	set(wireCustodyRequested, bundle.CustodyRequested)
	set(wireIsSingleton, bundle.IsSingleton)
	set(wireAcknowledgementRequested, bundle.AcknowledgementRequested)
	set(wireStatusRequestReception, bundle.StatusRequestReception)
	set(wireStatusRequestCustody, bundle.StatusRequestCustodyAccept)
	set(wireStatusRequestForward, bundle.StatusRequestForward)
	set(wireStatusRequestDelivery, bundle.StatusRequestDelivery)
	set(wireStatusRequestDeletion, bundle.StatusRequestDeletion)
	return f
}

func priorityFromWire(w uint64) bundle.Priority {
	return bundle.Priority((w & wirePriorityMask) >> wirePriorityShift)
}

func priorityToWire(p bundle.Priority) uint64 {
	return (uint64(p) << wirePriorityShift) & wirePriorityMask
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
	set(bundle.CustodyRequested, wireCustodyRequested)
	set(bundle.IsSingleton, wireIsSingleton)
	set(bundle.AcknowledgementRequested, wireAcknowledgementRequested)
	set(bundle.StatusRequestReception, wireStatusRequestReception)
	set(bundle.StatusRequestCustodyAccept, wireStatusRequestCustody)
	set(bundle.StatusRequestForward, wireStatusRequestForward)
	set(bundle.StatusRequestDelivery, wireStatusRequestDelivery)
	set(bundle.StatusRequestDeletion, wireStatusRequestDeletion)
	return w
}

// Block processing flags (RFC 5050 §4.3), including the BP6-only last-block marker.
const (
	wireBlockMustReplicate       uint64 = 1 << 0
	wireBlockReportIfUnproc      uint64 = 1 << 1
	wireBlockDeleteIfUnproc      uint64 = 1 << 2
	wireBlockLastBlock           uint64 = 1 << 3
	wireBlockDiscardIfUnproc     uint64 = 1 << 4
	// bit 5 is "block was forwarded without processing"; unused here
	wireBlockHasEIDRefField      uint64 = 1 << 6
)

func blockFlagsFromWire(w uint64) bundle.BlockFlags {
	var f bundle.BlockFlags
	if w&wireBlockLastBlock != 0 {
		f |= bundle.BlockLastBlockBP6
	}
	if w&wireBlockDiscardIfUnproc != 0 {
		f |= bundle.BlockDiscardIfUnprocessed
	}
	if w&wireBlockReportIfUnproc != 0 {
		f |= bundle.BlockReportIfUnprocessed
	}
	if w&wireBlockDeleteIfUnproc != 0 {
		f |= bundle.BlockDeleteIfUnprocessed
	}
	if w&wireBlockMustReplicate != 0 {
		f |= bundle.BlockMustReplicateInFragments
	}
	return f
}

func blockFlagsToWire(f bundle.BlockFlags, hasEIDRefs bool) uint64 {
	var w uint64
	if f.Has(bundle.BlockLastBlockBP6) {
		w |= wireBlockLastBlock
	}
	if f.Has(bundle.BlockDiscardIfUnprocessed) {
		w |= wireBlockDiscardIfUnproc
	}
	if f.Has(bundle.BlockReportIfUnprocessed) {
		w |= wireBlockReportIfUnproc
	}
	if f.Has(bundle.BlockDeleteIfUnprocessed) {
		w |= wireBlockDeleteIfUnproc
	}
	if f.Has(bundle.BlockMustReplicateInFragments) {
		w |= wireBlockMustReplicate
	}
	if hasEIDRefs {
		w |= wireBlockHasEIDRefField
	}
	return w
}

func hasEIDRefField(w uint64) bool { return w&wireBlockHasEIDRefField != 0 }
