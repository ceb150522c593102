// Package bundle is the in-memory bundle representation shared by the BP6
// and BP7 codecs, the store, the router, and the processor (spec §3/§4.3,
// §4.4). A Bundle is heap-owned by exactly one of {parser in-flight, store,
// processor local scope} at a time (spec §5 memory policy); this package
// does not enforce that by construction, the callers named in §5 do.
package bundle

import (
	"fmt"

	"github.com/OneOfOne/xxhash"

	"github.com/dtncore/agent/eid"
)

// Version identifies which wire protocol produced/will produce a bundle.
type Version uint8

const (
	Version6 Version = 6
	Version7 Version = 7
)

// ProcFlags is a protocol-independent processing-flags enum; bpv6/bpv7
// transcode their distinct wire encodings to/from this set on parse/serialize
// (spec §3 "processing flags... wire encodings are distinct and transcoded").
type ProcFlags uint32

const (
	IsFragment ProcFlags = 1 << iota
	AdministrativeRecord
	MustNotFragment
	CustodyRequested
	IsSingleton
	AcknowledgementRequested
	StatusRequestReception
	StatusRequestCustodyAccept
	StatusRequestForward
	StatusRequestDelivery
	StatusRequestDeletion
)

func (f ProcFlags) Has(bit ProcFlags) bool { return f&bit != 0 }

// Priority is the RFC 5050 class-of-service level, shared by BP6 (2-bit
// proc-flags field) and BP7 (proc-flags bits 7-8, same encoding). It indexes
// the three remaining-capacity counters on a Contact (spec §3 "Contact").
type Priority uint8

const (
	PriorityBulk Priority = iota
	PriorityNormal
	PriorityExpedited
)

const NumPriorities = 3

// CRCType selects no checksum, CRC-16-X.25, or CRC-32C for a block.
type CRCType uint8

const (
	CRCNone CRCType = iota
	CRC16
	CRC32
)

// Retention is the bitset of reasons a bundle must be kept in the store
// (spec §3 "Retention constraints"). The bundle is destroyed once this is zero.
type Retention uint8

const (
	DispatchPending Retention = 1 << iota
	ForwardPending
	CustodyAccepted
	ReassemblyPending
	Own
)

func (r Retention) Has(bit Retention) bool { return r&bit != 0 }

// BlockType identifies an extension block's purpose.
type BlockType uint64

const (
	BlockPayload       BlockType = 1
	BlockPreviousNode  BlockType = 7
	BlockBundleAge     BlockType = 8
	BlockHopCount      BlockType = 9
)

// BlockFlags are the per-extension-block processing flags (spec §3).
type BlockFlags uint16

const (
	BlockMustReplicateInFragments BlockFlags = 1 << iota
	BlockDiscardIfUnprocessed
	BlockReportIfUnprocessed
	BlockDeleteIfUnprocessed
	BlockLastBlockBP6 // BP6-only last-block marker, cleared on transcode to BP7
)

func (f BlockFlags) Has(bit BlockFlags) bool { return f&bit != 0 }

// ExtensionBlock is one block in a bundle's ordered block list. The payload
// block (Type == BlockPayload) is always last; BP7 additionally requires
// BlockNumber == 1 for it.
type ExtensionBlock struct {
	Type        BlockType
	BlockNumber uint64
	Flags       BlockFlags
	CRCType     CRCType
	Data        []byte
	// EIDRefs are BP6 dictionary references carried by this block, if any
	// (HAS_EID_REF_FIELD). BP7 has no equivalent field.
	EIDRefs []eid.EndpointID
}

// Bundle is the protocol-independent in-memory form (spec §3 "Bundle").
type Bundle struct {
	ID      uint16 // process-local, unique among live bundles, never zero
	Version Version
	Flags   ProcFlags
	Priority Priority
	CRCType CRCType

	Source   eid.EndpointID
	Dest     eid.EndpointID
	ReportTo eid.EndpointID
	// Custodian is BP6-only; zero value (eid.None()) until custody accepted.
	Custodian eid.EndpointID

	CreationTimestamp uint64 // DTN seconds since 2000-01-01T00:00:00Z
	SequenceNumber    uint64
	LifetimeSeconds   uint64 // normalized to seconds internally (spec §3)

	FragmentOffset  uint64
	TotalADULength  uint64 // only meaningful when Flags.Has(IsFragment)

	Blocks []ExtensionBlock // ends with exactly one payload block

	Retain Retention
}

// HasFragmentation reports whether this bundle is a fragment of a larger ADU.
func (b *Bundle) HasFragmentation() bool { return b.Flags.Has(IsFragment) }

// Payload returns the payload block's data, or nil if the bundle has none
// (a malformed state the codecs never produce, but callers may still check).
func (b *Bundle) Payload() []byte {
	for i := range b.Blocks {
		if b.Blocks[i].Type == BlockPayload {
			return b.Blocks[i].Data
		}
	}
	return nil
}

// PayloadBlockIndex returns the index of the payload block, which the
// invariant in spec §3/§4.3 guarantees is len(Blocks)-1.
func (b *Bundle) PayloadBlockIndex() int {
	for i := range b.Blocks {
		if b.Blocks[i].Type == BlockPayload {
			return i
		}
	}
	return -1
}

// NextBlockNumber returns an unused block number for a new extension block
// (spec invariant: block numbers within a bundle are unique).
func (b *Bundle) NextBlockNumber() uint64 {
	var max uint64
	for _, blk := range b.Blocks {
		if blk.BlockNumber > max {
			max = blk.BlockNumber
		}
	}
	return max + 1
}

// AddExtensionBlock inserts blk before the payload block, preserving the
// invariant that the payload block is last.
func (b *Bundle) AddExtensionBlock(blk ExtensionBlock) error {
	for _, existing := range b.Blocks {
		if existing.BlockNumber == blk.BlockNumber {
			return fmt.Errorf("bundle: block number %d already in use", blk.BlockNumber)
		}
	}
	idx := b.PayloadBlockIndex()
	if idx < 0 {
		b.Blocks = append(b.Blocks, blk)
		return nil
	}
	b.Blocks = append(b.Blocks[:idx], append([]ExtensionBlock{blk}, b.Blocks[idx:]...)...)
	return nil
}

// Identity is the (source, creation_ts, seq_num, fragment_offset, payload_length)
// tuple used for duplicate detection and reassembly-slot grouping (spec §3
// "Known-bundle record", "Reassembly slot").
type Identity struct {
	Source         string
	CreationTS     uint64
	SequenceNumber uint64
	FragmentOffset uint64
	PayloadLength  uint64
}

func (b *Bundle) Identity() Identity {
	return Identity{
		Source:         b.Source.String(),
		CreationTS:     b.CreationTimestamp,
		SequenceNumber: b.SequenceNumber,
		FragmentOffset: b.FragmentOffset,
		PayloadLength:  uint64(len(b.Payload())),
	}
}

// ADUIdentity is the identity of the whole ADU a fragment belongs to,
// ignoring FragmentOffset/PayloadLength — used to group fragments into a
// single Reassembly slot (spec §3 "Reassembly slot").
type ADUIdentity struct {
	Source         string
	CreationTS     uint64
	SequenceNumber uint64
}

func (b *Bundle) ADUIdentity() ADUIdentity {
	return ADUIdentity{
		Source:         b.Source.String(),
		CreationTS:     b.CreationTimestamp,
		SequenceNumber: b.SequenceNumber,
	}
}

// Hash64 hashes an Identity into a fixed-width fingerprint for the
// probabilistic known-bundle pre-filter (proc.knownBundleList).
func (id Identity) Hash64() uint64 {
	h := xxhash.New64()
	fmt.Fprintf(h, "%s|%d|%d|%d|%d", id.Source, id.CreationTS, id.SequenceNumber, id.FragmentOffset, id.PayloadLength)
	return h.Sum64()
}

// SortBlocksByReplication partitions before-payload vs after-payload blocks
// for the BP6 fragmenter's "replicate into both fragments" rule (spec §4.2).
func (b *Bundle) SortBlocksByReplication() (before, after []ExtensionBlock) {
	idx := b.PayloadBlockIndex()
	for i, blk := range b.Blocks {
		if i == idx {
			continue
		}
		if blk.Flags.Has(BlockMustReplicateInFragments) {
			if i < idx {
				before = append(before, blk)
			} else {
				after = append(after, blk)
			}
		}
	}
	return
}

// Snapshot is a read-only view for logging/metrics (SPEC_FULL.md ambient
// addition — the source's bundle.h debug dumps have no direct equivalent).
type Snapshot struct {
	ID         uint16
	Version    Version
	Source     string
	Dest       string
	CreatedAt  uint64
	Lifetime   uint64
	Fragment   bool
	NumBlocks  int
	PayloadLen int
}

func (b *Bundle) Snapshot() Snapshot {
	return Snapshot{
		ID:         b.ID,
		Version:    b.Version,
		Source:     b.Source.String(),
		Dest:       b.Dest.String(),
		CreatedAt:  b.CreationTimestamp,
		Lifetime:   b.LifetimeSeconds,
		Fragment:   b.HasFragmentation(),
		NumBlocks:  len(b.Blocks),
		PayloadLen: len(b.Payload()),
	}
}

// SerializedSizeHint is a protocol-independent upper bound used by the
// router before a concrete codec has been chosen (the codec packages expose
// the exact figure via their own SerializedSize; this one sums block data
// plus the conservative per-field overhead their primary blocks share).
func (b *Bundle) SerializedSizeHint() uint64 {
	var total uint64
	for _, blk := range b.Blocks {
		total += uint64(len(blk.Data)) + 16 // header overhead estimate
	}
	return total + 64 // primary block overhead estimate
}
