// Package routing holds the contact-graph routing table (spec §4.5): nodes,
// their scheduled contacts, and the EID index the router (package router)
// consults to find candidate contacts for a destination.
package routing

import (
	"sort"
	"strings"
	"sync"

	"github.com/dtncore/agent/bundle"
)

// MaxConcurrentContacts bounds how many contacts of different nodes may
// overlap in time (spec §4.5 "contact overlap rule"). A package variable
// rather than a const so a deployment's configuration can raise or lower
// it (internal/config's MaxConcurrentContacts field) without forking the
// table implementation.
var MaxConcurrentContacts = 4

// maxContactCapacity clamps a contact's derived total capacity (spec §3
// "Contact... clamped to INT32_MAX").
const maxContactCapacity = 1<<31 - 1

// Node is a reachable neighbor: an EID, an opaque CLA address, additional
// group-reachability endpoints, and two (0,1] confidence scalars used by the
// router's route-acceptance test (spec §3 "Node").
type Node struct {
	EID         string
	Trust       float64
	Reliability float64
	CLAAddr     string
	Endpoints   []string // additional reachable endpoint EIDs, union-merged on add

	contacts []*Contact // this node's contacts, ordered by From ascending
}

// Contact is a directed scheduled communication window (spec §3 "Contact").
type Contact struct {
	Node      *Node
	From, To  uint64 // DTN seconds; invariant From < To
	Bitrate   uint64 // bytes/s
	Endpoints []string // per-contact endpoint list, in addition to Node.Endpoints

	TotalCapacity uint64
	Remaining     [bundle.NumPriorities]uint64
	Active        bool

	// AssociationProb is the scheduling certainty of this window: 1.0 for a
	// contact scheduled with the node's knowledge (deterministic), lower for
	// one inferred from historical contact patterns (opportunistic). The
	// config grammar has no field for it, so newContact sets it to 1.0.
	AssociationProb float64

	Queue []uint64 // FIFO of routed-bundle ids assigned to this contact
}

func newContact(node *Node, from, to, bitrate uint64, endpoints []string) *Contact {
	cap := capacityFor(from, to, bitrate)
	c := &Contact{
		Node: node, From: from, To: to, Bitrate: bitrate, Endpoints: endpoints,
		TotalCapacity:   cap,
		AssociationProb: 1.0,
	}
	for i := range c.Remaining {
		c.Remaining[i] = cap
	}
	return c
}

func capacityFor(from, to, bitrate uint64) uint64 {
	if to <= from {
		return 0
	}
	cap := (to - from) * bitrate
	if cap > maxContactCapacity {
		cap = maxContactCapacity
	}
	return cap
}

// overlaps reports whether c's [From,To) interval intersects [from,to).
func (c *Contact) overlaps(from, to uint64) bool {
	return from < c.To && c.From < to
}

type eidEntry struct {
	refCount int
	contacts []*Contact // sorted by To ascending
}

// Table is the mutex-protected routing table (spec §4.5/§5 "single mutex per
// subsystem"). Every mutation runs under Table's own lock; callers never
// hold it across a blocking call.
type Table struct {
	mu   sync.Mutex
	byEID map[string]*eidEntry
	nodes []*Node // linear scan acceptable per spec (few nodes)
	all   []*Contact // global contact list, sorted by From ascending

	// OnReschedule is invoked (outside the lock) for every contact whose
	// capacity changed on a merge, signalling the router to recompute routes
	// through it (spec §4.5 "rescheduling needed callback").
	OnReschedule func(c *Contact)
}

func NewTable() *Table {
	return &Table{byEID: make(map[string]*eidEntry)}
}

func (t *Table) findNodeLocked(eid string) *Node {
	for _, n := range t.nodes {
		if n.EID == eid {
			return n
		}
	}
	return nil
}

// AddNode merges n into the table by EID: endpoint lists union, contact
// lists merge by (From,To) with bitrate-change detection (spec §4.5
// "Add-node merges").
func (t *Table) AddNode(n *Node) {
	t.mu.Lock()
	existing := t.findNodeLocked(n.EID)
	if existing == nil {
		t.nodes = append(t.nodes, n)
		t.indexNodeLocked(n)
		for _, c := range n.contacts {
			t.insertContactLocked(c)
		}
		t.mu.Unlock()
		return
	}

	existing.Endpoints = unionStrings(existing.Endpoints, n.Endpoints)
	existing.Trust = n.Trust
	existing.Reliability = n.Reliability
	existing.CLAAddr = n.CLAAddr
	t.indexNodeLocked(existing)

	var rescheduled []*Contact
	for _, incoming := range n.contacts {
		if match := findContactLocked(existing.contacts, incoming.From, incoming.To); match != nil {
			if match.Bitrate != incoming.Bitrate {
				match.Bitrate = incoming.Bitrate
				match.TotalCapacity = capacityFor(match.From, match.To, match.Bitrate)
				for i := range match.Remaining {
					if match.Remaining[i] > match.TotalCapacity {
						match.Remaining[i] = match.TotalCapacity
					}
				}
				rescheduled = append(rescheduled, match)
			}
			continue
		}
		incoming.Node = existing
		if t.contactOverlapsLocked(existing, incoming.From, incoming.To) {
			continue // overlap rule: reject silently (spec §4.5)
		}
		existing.contacts = append(existing.contacts, incoming)
		t.insertContactLocked(incoming)
	}
	sortContactsByTo(existing.contacts)
	t.mu.Unlock()

	if t.OnReschedule != nil {
		for _, c := range rescheduled {
			t.OnReschedule(c)
		}
	}
}

// ReplaceNode drops any existing node with the same EID and installs n in
// its place (spec §4.5 "Replace-node drops-and-replaces"). Bundles already
// queued on the dropped node's active contacts are the caller's
// responsibility to reschedule; ReplaceNode returns the contacts that were
// active at replacement time so the caller can do so.
func (t *Table) ReplaceNode(n *Node) []*Contact {
	t.mu.Lock()
	defer t.mu.Unlock()

	var activeDropped []*Contact
	if existing := t.findNodeLocked(n.EID); existing != nil {
		for _, c := range existing.contacts {
			if c.Active {
				activeDropped = append(activeDropped, c)
			}
			t.removeContactLocked(c)
		}
		t.removeNodeLocked(existing)
	}
	t.nodes = append(t.nodes, n)
	t.indexNodeLocked(n)
	for _, c := range n.contacts {
		t.insertContactLocked(c)
	}
	return activeDropped
}

// DeleteNode removes node eid. If endpoints or contacts are non-empty, only
// that subset is removed (spec §4.5 "Delete-node with partial
// endpoints/contacts removes only the specified subset"); otherwise the
// whole node is removed.
func (t *Table) DeleteNode(eid string, endpoints []string, contacts [][2]uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.findNodeLocked(eid)
	if n == nil {
		return
	}
	if len(endpoints) == 0 && len(contacts) == 0 {
		for _, c := range n.contacts {
			t.removeContactLocked(c)
		}
		t.removeNodeLocked(n)
		return
	}
	for _, ep := range endpoints {
		n.Endpoints = removeString(n.Endpoints, ep)
		t.unindexEndpointLocked(ep, nil)
	}
	for _, window := range contacts {
		if c := findContactLocked(n.contacts, window[0], window[1]); c != nil {
			t.removeContactLocked(c)
			n.contacts = removeContact(n.contacts, c)
		}
	}
}

// LookupEID returns the contacts through which eid may be reached, future
// contacts sorted by deadline (To) ascending (spec §4.5 "lookup_eid").
// dtn://node_id/app_id EIDs are resolved by their node_id prefix.
func (t *Table) LookupEID(eid string) []*Contact {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := nodeIDPrefix(eid)
	entry, ok := t.byEID[key]
	if !ok {
		entry, ok = t.byEID[eid]
		if !ok {
			return nil
		}
	}
	out := make([]*Contact, len(entry.contacts))
	copy(out, entry.contacts)
	return out
}

// AllContacts returns the global contact list sorted by From ascending.
func (t *Table) AllContacts() []*Contact {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Contact, len(t.all))
	copy(out, t.all)
	return out
}

func (t *Table) indexNodeLocked(n *Node) {
	t.indexEndpointLocked(n.EID, n, nil)
	for _, ep := range n.Endpoints {
		t.indexEndpointLocked(ep, n, nil)
	}
}

func (t *Table) indexEndpointLocked(eid string, n *Node, c *Contact) {
	e, ok := t.byEID[eid]
	if !ok {
		e = &eidEntry{}
		t.byEID[eid] = e
	}
	e.refCount++
	if c != nil {
		e.contacts = append(e.contacts, c)
		sortContactsByTo(e.contacts)
	}
}

func (t *Table) unindexEndpointLocked(eid string, c *Contact) {
	e, ok := t.byEID[eid]
	if !ok {
		return
	}
	e.refCount--
	if c != nil {
		e.contacts = removeContact(e.contacts, c)
	}
	if e.refCount <= 0 && len(e.contacts) == 0 {
		delete(t.byEID, eid)
	}
}

// insertContactLocked registers c under its node's EID, every endpoint of
// its node, and every per-contact endpoint (spec §4.5 "registered under
// (i)...(ii)...(iii)"), and inserts it into the global list.
func (t *Table) insertContactLocked(c *Contact) {
	t.indexEndpointLocked(c.Node.EID, c.Node, c)
	for _, ep := range c.Node.Endpoints {
		t.indexEndpointLocked(ep, c.Node, c)
	}
	for _, ep := range c.Endpoints {
		t.indexEndpointLocked(ep, c.Node, c)
	}
	t.all = append(t.all, c)
	sortContactsByFrom(t.all)
}

func (t *Table) removeContactLocked(c *Contact) {
	t.unindexEndpointLocked(c.Node.EID, c)
	for _, ep := range c.Node.Endpoints {
		t.unindexEndpointLocked(ep, c)
	}
	for _, ep := range c.Endpoints {
		t.unindexEndpointLocked(ep, c)
	}
	t.all = removeContact(t.all, c)
}

func (t *Table) removeNodeLocked(n *Node) {
	t.unindexEndpointLocked(n.EID, nil)
	for _, ep := range n.Endpoints {
		t.unindexEndpointLocked(ep, nil)
	}
	for i, existing := range t.nodes {
		if existing == n {
			t.nodes = append(t.nodes[:i], t.nodes[i+1:]...)
			break
		}
	}
}

// contactOverlapsLocked enforces spec §4.5's overlap rule: a new contact
// overlapping an existing contact of the *same* node is always rejected;
// overlap with other nodes' contacts is allowed up to MaxConcurrentContacts
// simultaneously active windows.
func (t *Table) contactOverlapsLocked(node *Node, from, to uint64) bool {
	for _, c := range node.contacts {
		if c.overlaps(from, to) {
			return true
		}
	}
	concurrent := 0
	for _, c := range t.all {
		if c.overlaps(from, to) {
			concurrent++
		}
	}
	return concurrent >= MaxConcurrentContacts
}

func findContactLocked(contacts []*Contact, from, to uint64) *Contact {
	for _, c := range contacts {
		if c.From == from && c.To == to {
			return c
		}
	}
	return nil
}

func removeContact(s []*Contact, c *Contact) []*Contact {
	out := s[:0]
	for _, x := range s {
		if x != c {
			out = append(out, x)
		}
	}
	return out
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string(nil), a...)
	for _, v := range a {
		seen[v] = true
	}
	for _, v := range b {
		if !seen[v] {
			out = append(out, v)
			seen[v] = true
		}
	}
	return out
}

func sortContactsByTo(c []*Contact) {
	sort.Slice(c, func(i, j int) bool { return c[i].To < c[j].To })
}

func sortContactsByFrom(c []*Contact) {
	sort.Slice(c, func(i, j int) bool { return c[i].From < c[j].From })
}

// nodeIDPrefix extracts the node_id component of a dtn://node_id/app_id EID,
// or returns eid unchanged for other schemes (spec §4.5).
func nodeIDPrefix(eid string) string {
	const schemePrefix = "dtn://"
	if !strings.HasPrefix(eid, schemePrefix) {
		return eid
	}
	rest := eid[len(schemePrefix):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return schemePrefix + rest[:i]
	}
	return eid
}
