package bpv6

import (
	"bytes"

	"github.com/dtncore/agent/bundle"
	"github.com/dtncore/agent/eid"
	"github.com/dtncore/agent/sdnv"
)

// Serialize encodes b into its BP6 wire form. The dictionary is built from
// the four distinct EIDs (destination/source/report-to/custodian) plus any
// per-block EID references, per spec §4.2.
func Serialize(b *bundle.Bundle) ([]byte, error) {
	dict := newDictionary()
	destSchemeOff, destSSPOff := dict.offsets(b.Dest)
	srcSchemeOff, srcSSPOff := dict.offsets(b.Source)
	reportSchemeOff, reportSSPOff := dict.offsets(b.ReportTo)
	custodianSchemeOff, custodianSSPOff := dict.offsets(b.Custodian)
	for _, blk := range b.Blocks {
		for _, e := range blk.EIDRefs {
			dict.offsets(e)
		}
	}

	fragmented := b.HasFragmentation()

	// block_length covers every primary-block field after block_length
	// itself (spec §4.2), so build that tail first to learn its length.
	rest := new(bytes.Buffer)
	writeSDNV := func(buf *bytes.Buffer, v uint64) { buf.Write(sdnv.Write(v)) }

	writeSDNV(rest, uint64(destSchemeOff))
	writeSDNV(rest, uint64(destSSPOff))
	writeSDNV(rest, uint64(srcSchemeOff))
	writeSDNV(rest, uint64(srcSSPOff))
	writeSDNV(rest, uint64(reportSchemeOff))
	writeSDNV(rest, uint64(reportSSPOff))
	writeSDNV(rest, uint64(custodianSchemeOff))
	writeSDNV(rest, uint64(custodianSSPOff))
	writeSDNV(rest, b.CreationTimestamp)
	writeSDNV(rest, b.SequenceNumber)
	writeSDNV(rest, b.LifetimeSeconds*1_000_000) // internal seconds -> wire microseconds
	writeSDNV(rest, uint64(len(dict.bytes())))
	rest.Write(dict.bytes())
	if fragmented {
		writeSDNV(rest, b.FragmentOffset)
		writeSDNV(rest, b.TotalADULength)
	}

	out := new(bytes.Buffer)
	out.WriteByte(wireVersion)
	writeSDNV(out, flagsToWire(b.Flags)|priorityToWire(b.Priority))
	writeSDNV(out, uint64(rest.Len()))
	out.Write(rest.Bytes())

	for i, blk := range b.Blocks {
		isLast := i == len(b.Blocks)-1
		flags := blk.Flags
		if isLast {
			flags |= bundle.BlockLastBlockBP6
		}
		hasRefs := len(blk.EIDRefs) > 0
		out.Write(sdnv.Write(uint64(blk.Type)))
		out.Write(sdnv.Write(blockFlagsToWire(flags, hasRefs)))
		if hasRefs {
			out.Write(sdnv.Write(uint64(len(blk.EIDRefs))))
			for _, e := range blk.EIDRefs {
				so, spo := dict.offsets(e)
				out.Write(sdnv.Write(uint64(so)))
				out.Write(sdnv.Write(uint64(spo)))
			}
		}
		out.Write(sdnv.Write(uint64(len(blk.Data))))
		out.Write(blk.Data)
	}

	return out.Bytes(), nil
}

// SerializedSize returns the exact encoded length without allocating the
// full buffer twice (spec §8 "serialized-size agreement" invariant).
func SerializedSize(b *bundle.Bundle) (int, error) {
	enc, err := Serialize(b)
	if err != nil {
		return 0, err
	}
	return len(enc), nil
}

// CreateLocal builds a new bundle from an application payload, as the source
// agent's AAP/local-submission path does (original_source bundle6/create.c,
// recovered by SPEC_FULL.md's module expansion for C11 wiring into this
// codec). lifetime is in seconds.
func CreateLocal(payload []byte, source, dest, reportTo eid.EndpointID, lifetime uint64, flags bundle.ProcFlags, creationTS, seqNum uint64) *bundle.Bundle {
	return &bundle.Bundle{
		Version:           bundle.Version6,
		Flags:             flags,
		CRCType:           bundle.CRCNone,
		Source:            source,
		Dest:              dest,
		ReportTo:          reportTo,
		Custodian:         eid.None(),
		CreationTimestamp: creationTS,
		SequenceNumber:    seqNum,
		LifetimeSeconds:   lifetime,
		Blocks: []bundle.ExtensionBlock{
			{Type: bundle.BlockPayload, BlockNumber: 1, Data: payload},
		},
	}
}

// FragmentTwoWay splits b into a first fragment of at most firstMax payload
// bytes and a second fragment carrying the remainder, replicating
// must-replicate blocks into both per RFC 5050 §5.8. It is a standalone
// BP6 two-way split helper: no other package in this module calls it, and
// N-way splits use bundle.Fragment directly.
func FragmentTwoWay(b *bundle.Bundle, firstMax uint64) (first, second *bundle.Bundle, err error) {
	payload := b.Payload()
	total := uint64(len(payload))
	if firstMax >= total {
		return b, nil, nil
	}
	before, after := b.SortBlocksByReplication()
	first, err = bundle.Fragment(b, 0, firstMax, before, after)
	if err != nil {
		return nil, nil, err
	}
	second, err = bundle.Fragment(b, firstMax, total-firstMax, before, after)
	if err != nil {
		return nil, nil, err
	}
	return first, second, nil
}
