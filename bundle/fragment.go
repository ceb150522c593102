package bundle

import "fmt"

// Fragment splits b's payload into a new fragment bundle covering
// [offset, offset+length) of the original ADU. before/after are the
// replicated blocks computed by SortBlocksByReplication, inserted at the
// front and tail respectively (spec §4.2 RFC 5050 §5.8 fragmentation rule).
// The caller assigns the resulting fragment a fresh store ID.
func Fragment(b *Bundle, offset, length uint64, before, after []ExtensionBlock) (*Bundle, error) {
	payload := b.Payload()
	total := b.TotalADULengthOrPayloadLen()
	if offset+length > total {
		return nil, fmt.Errorf("bundle: fragment [%d,%d) exceeds ADU length %d", offset, offset+length, total)
	}

	var data []byte
	if !b.HasFragmentation() {
		data = payload[offset : offset+length]
	} else {
		// b is itself a fragment: offset is relative to the whole ADU, so
		// translate into this fragment's local payload window.
		localStart := offset - b.FragmentOffset
		data = payload[localStart : localStart+length]
	}

	frag := &Bundle{
		Version:           b.Version,
		Flags:             b.Flags | IsFragment,
		CRCType:           b.CRCType,
		Source:            b.Source,
		Dest:              b.Dest,
		ReportTo:          b.ReportTo,
		Custodian:         b.Custodian,
		CreationTimestamp: b.CreationTimestamp,
		SequenceNumber:    b.SequenceNumber,
		LifetimeSeconds:   b.LifetimeSeconds,
		FragmentOffset:    offset,
		TotalADULength:    total,
	}

	frag.Blocks = append(frag.Blocks, before...)
	frag.Blocks = append(frag.Blocks, ExtensionBlock{
		Type:        BlockPayload,
		BlockNumber: 1,
		CRCType:     b.payloadBlock().CRCType,
		Data:        data,
	})
	frag.Blocks = append(frag.Blocks, after...)
	return frag, nil
}

func (b *Bundle) payloadBlock() ExtensionBlock {
	if idx := b.PayloadBlockIndex(); idx >= 0 {
		return b.Blocks[idx]
	}
	return ExtensionBlock{}
}

// TotalADULengthOrPayloadLen returns the whole-ADU length: TotalADULength if
// this bundle is already a fragment, else its own payload length.
func (b *Bundle) TotalADULengthOrPayloadLen() uint64 {
	if b.HasFragmentation() {
		return b.TotalADULength
	}
	return uint64(len(b.Payload()))
}

// Reassembler accumulates fragments sharing an ADUIdentity, sorted by
// FragmentOffset, and reports whether [0, TotalADULength) is fully covered
// (spec §3 "Reassembly slot", §8 "Fragment reassembly" invariant).
type Reassembler struct {
	fragments []*Bundle
	total     uint64
}

func NewReassembler() *Reassembler { return &Reassembler{} }

// Fragments returns the fragments accumulated so far, in FragmentOffset order.
func (r *Reassembler) Fragments() []*Bundle { return r.fragments }

// Insert adds a fragment in FragmentOffset order. Returns false if an
// identical-range fragment is already present (duplicate fragment, dropped).
func (r *Reassembler) Insert(frag *Bundle) bool {
	r.total = frag.TotalADULength
	for _, existing := range r.fragments {
		if existing.FragmentOffset == frag.FragmentOffset && len(existing.Payload()) == len(frag.Payload()) {
			return false
		}
	}
	i := 0
	for ; i < len(r.fragments); i++ {
		if r.fragments[i].FragmentOffset > frag.FragmentOffset {
			break
		}
	}
	r.fragments = append(r.fragments, nil)
	copy(r.fragments[i+1:], r.fragments[i:])
	r.fragments[i] = frag
	return true
}

// Ready reports whether the accumulated fragments contiguously cover
// [0, total).
func (r *Reassembler) Ready() bool {
	var covered uint64
	for _, f := range r.fragments {
		if f.FragmentOffset > covered {
			return false
		}
		end := f.FragmentOffset + uint64(len(f.Payload()))
		if end > covered {
			covered = end
		}
	}
	return covered >= r.total
}

// Reassemble concatenates the covered fragments into the original ADU bytes
// and a bundle carrying the original (non-fragment) primary-block fields,
// per the invariant in spec §8: identical to the original "except is-fragment
// flag, fragment offset, and total ADU length".
func (r *Reassembler) Reassemble() (*Bundle, error) {
	if !r.Ready() {
		return nil, fmt.Errorf("bundle: reassembly not ready")
	}
	first := r.fragments[0]
	adu := make([]byte, 0, r.total)
	var next uint64
	for _, f := range r.fragments {
		if f.FragmentOffset > next {
			return nil, fmt.Errorf("bundle: gap in fragment coverage at %d", next)
		}
		end := f.FragmentOffset + uint64(len(f.Payload()))
		if end <= next {
			continue // fully-overlapped fragment
		}
		adu = append(adu, f.Payload()[next-f.FragmentOffset:]...)
		next = end
	}

	out := &Bundle{
		Version:           first.Version,
		Flags:             first.Flags &^ IsFragment,
		CRCType:           first.CRCType,
		Source:            first.Source,
		Dest:              first.Dest,
		ReportTo:          first.ReportTo,
		Custodian:         first.Custodian,
		CreationTimestamp: first.CreationTimestamp,
		SequenceNumber:    first.SequenceNumber,
		LifetimeSeconds:   first.LifetimeSeconds,
	}
	// Non-payload blocks come from the first fragment's replicated set
	// (before-payload) plus the last fragment's (after-payload).
	last := r.fragments[len(r.fragments)-1]
	for _, blk := range first.Blocks {
		if blk.Type != BlockPayload {
			out.Blocks = append(out.Blocks, blk)
		}
	}
	out.Blocks = append(out.Blocks, ExtensionBlock{
		Type:        BlockPayload,
		BlockNumber: 1,
		CRCType:     first.payloadBlock().CRCType,
		Data:        adu,
	})
	if last != first {
		for _, blk := range last.Blocks {
			if blk.Type != BlockPayload {
				dup := false
				for _, existing := range out.Blocks {
					if existing.BlockNumber == blk.BlockNumber {
						dup = true
						break
					}
				}
				if !dup {
					out.Blocks = append(out.Blocks, blk)
				}
			}
		}
	}
	return out, nil
}
