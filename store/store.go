// Package store is the process-wide bundle store (spec §4.4): a
// mutex-protected, id-indexed container with monotonic 16-bit id assignment
// and byte-usage accounting. It replaces the manual AVL tree named in spec
// §9 REDESIGN FLAGS with tidwall/btree's generic ordered map, the "proven
// balanced-tree or B-tree implementation" the flag calls for.
package store

import (
	"sync"

	"github.com/tidwall/btree"

	"github.com/dtncore/agent/bundle"
	"github.com/dtncore/agent/internal/dtnerr"
)

// Invalid is the id value that is never a valid bundle id (spec §4.4).
const Invalid uint16 = 0

// Store is safe for concurrent use; one instance is shared by every task
// that touches bundles by id (spec §6 "bundle store lock").
type Store struct {
	mu       sync.Mutex
	tree     btree.Map[uint16, *bundle.Bundle]
	nextID   uint16
	byteUsed uint64
}

func New() *Store {
	return &Store{nextID: 1}
}

// Add assigns bundle b an id, takes ownership of it (spec §5 "add transfers
// ownership in"), and inserts it into the tree. Returns Invalid if the store
// cannot find a free id (the full 16-bit id space is in use).
func (s *Store) Add(b *bundle.Bundle) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.allocateID()
	if id == Invalid {
		return Invalid
	}
	b.ID = id
	s.tree.Set(id, b)
	s.byteUsed += payloadLen(b)
	return id
}

// allocateID returns an unused, non-zero id, advancing the counter past any
// id already in the tree (spec §4.4 "skipping INVALID(0) and any id
// currently in the tree"). Must be called with mu held.
func (s *Store) allocateID() uint16 {
	start := s.nextID
	for {
		if s.nextID == Invalid {
			s.nextID++
		}
		if _, ok := s.tree.Get(s.nextID); !ok {
			id := s.nextID
			s.nextID++
			return id
		}
		s.nextID++
		if s.nextID == start {
			return Invalid // wrapped all the way around: store is full
		}
	}
}

// Get lends a borrow of the bundle with id, valid until a concurrent Delete
// (spec §5 "get lends a borrow"). Returns nil if no such bundle is stored.
func (s *Store) Get(id uint16) *bundle.Bundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, _ := s.tree.Get(id)
	return b
}

func (s *Store) Contains(id uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tree.Get(id)
	return ok
}

// Delete removes id from the tree and transfers ownership of the bundle
// back to the caller (spec §4.4/§5); it does not free the bundle itself.
// Returns nil, false if id was not present.
func (s *Store) Delete(id uint16) (*bundle.Bundle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.tree.Delete(id)
	if !ok {
		return nil, false
	}
	s.byteUsed -= payloadLen(b)
	return b, true
}

// Len returns the number of bundles currently stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Len()
}

// BytesUsed returns the sum of stored bundles' payload lengths (spec §4.4
// "byte-usage counter").
func (s *Store) BytesUsed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byteUsed
}

// AddWithCapacity is Add, but fails with dtnerr.CapacityExhausted instead of
// inserting when doing so would push BytesUsed() past maxBytes (spec §7
// "capacity-exhausted: ... store full").
func (s *Store) AddWithCapacity(b *bundle.Bundle, maxBytes uint64) (uint16, error) {
	s.mu.Lock()
	if maxBytes > 0 && s.byteUsed+payloadLen(b) > maxBytes {
		s.mu.Unlock()
		return Invalid, dtnerr.NewCapacityExhausted("bundle store full")
	}
	s.mu.Unlock()
	id := s.Add(b)
	if id == Invalid {
		return Invalid, dtnerr.NewCapacityExhausted("bundle store id space exhausted")
	}
	return id, nil
}

// Each calls fn for every stored bundle in ascending id order, stopping
// early if fn returns false. Held under the store's lock: fn must not call
// back into the Store.
func (s *Store) Each(fn func(id uint16, b *bundle.Bundle) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Scan(func(id uint16, b *bundle.Bundle) bool {
		return fn(id, b)
	})
}

func payloadLen(b *bundle.Bundle) uint64 {
	return uint64(len(b.Payload()))
}
