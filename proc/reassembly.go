package proc

import (
	"sync"

	"github.com/dtncore/agent/bundle"
)

// reassemblyTable groups fragments into per-ADU reassembly slots (spec §3
// "Reassembly slot", §4.9 "add reassembly-pending and try reassembly"),
// grounded on original_source's reassembly_list/bundle_attempt_reassembly:
// a list of slots, found by (source, creation_ts, seq_num) equality
// (bundle.ADUIdentity here), each holding fragments ordered by offset.
type reassemblyTable struct {
	mu    sync.Mutex
	slots map[bundle.ADUIdentity]*bundle.Reassembler
}

func newReassemblyTable() *reassemblyTable {
	return &reassemblyTable{slots: make(map[bundle.ADUIdentity]*bundle.Reassembler)}
}

// attempt inserts frag into its ADU's slot. If frag duplicates an
// already-held fragment range, it reports duplicate=true so the caller
// drops frag without adding a new retention constraint. Once a slot's
// coverage of [0, total) is contiguous, the slot is removed, the ADU is
// reassembled, and the fragments that made it up are returned so the
// caller can release them from the store.
func (t *reassemblyTable) attempt(frag *bundle.Bundle) (adu *bundle.Bundle, fragments []*bundle.Bundle, duplicate bool, err error) {
	id := frag.ADUIdentity()

	t.mu.Lock()
	r, ok := t.slots[id]
	if !ok {
		r = bundle.NewReassembler()
		t.slots[id] = r
	}
	if !r.Insert(frag) {
		t.mu.Unlock()
		return nil, nil, true, nil
	}
	if !r.Ready() {
		t.mu.Unlock()
		return nil, nil, false, nil
	}
	delete(t.slots, id)
	t.mu.Unlock()

	adu, err = r.Reassemble()
	if err != nil {
		return nil, nil, false, err
	}
	return adu, r.Fragments(), false, nil
}
