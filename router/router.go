// Package router implements per-bundle route selection over the contacts
// known to a routing.Table (spec §4.6): fragmentation planning, confidence-
// weighted contact acceptance, and route re-verification.
package router

import (
	"sort"
	"sync"

	"github.com/dtncore/agent/bundle"
	"github.com/dtncore/agent/internal/dtnerr"
	"github.com/dtncore/agent/routing"
)

// Config holds the tunables named in spec §4.6. Zero-value Config is not
// usable; callers construct one from DefaultConfig and override as needed.
type Config struct {
	TrustWeight       float64 // w_t
	ReliabilityWeight float64 // w_r

	DeterministicThreshold float64 // confidence at/above which a contact ends selection immediately
	OpportunisticThreshold float64 // minimum confidence for a contact to be considered at all
	MinProbability         float64 // cumulative P(delivery) a route must reach

	MaxContacts int // ROUTER_MAX_CONTACTS: contacts considered per fragment

	FirstFragHeaderSize uint64
	LastFragHeaderSize  uint64
	FragmentMinPayload  uint64

	CLAMaxBundleSize uint64 // 0 = unbounded
	GlobalMaxBundleSize uint64 // 0 = unbounded
}

func DefaultConfig() Config {
	return Config{
		TrustWeight:            0.5,
		ReliabilityWeight:       0.5,
		DeterministicThreshold:  0.99,
		OpportunisticThreshold:  0.1,
		MinProbability:          0.9,
		MaxContacts:             8,
		FirstFragHeaderSize:     64,
		LastFragHeaderSize:      64,
		FragmentMinPayload:      1,
		CLAMaxBundleSize:        0,
		GlobalMaxBundleSize:     0,
	}
}

// Fragment is one planned slice of a bundle's payload, with the contacts it
// will be transmitted over (more than one when replicated for confidence).
type Fragment struct {
	Offset      uint64
	Length      uint64
	Contacts    []*routing.Contact
	Probability float64
}

// Route is the planned disposition of one bundle (spec §3 "Routed Bundle").
type Route struct {
	Fragments []Fragment
}

// Assignment records how a bundle id was last routed, so the optimizer
// (package optimizer) can unroute and re-route it without the caller having
// to keep its own bookkeeping (spec §4.7 "temporarily unroute the bundle").
type Assignment struct {
	Dest     string
	Size     uint64
	Priority bundle.Priority
	Route    *Route
}

// Router computes routes against a shared routing.Table and remembers the
// last route handed out per bundle id.
type Router struct {
	Table  *routing.Table
	Config Config

	mu          sync.Mutex
	assignments map[uint64]*Assignment
}

func New(t *routing.Table, cfg Config) *Router {
	return &Router{Table: t, Config: cfg, assignments: make(map[uint64]*Assignment)}
}

// Assignments returns a snapshot of every bundle id with a current route.
func (r *Router) Assignments() map[uint64]*Assignment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uint64]*Assignment, len(r.assignments))
	for k, v := range r.assignments {
		out[k] = v
	}
	return out
}

// Assignment returns the last route computed for bundleID, if any.
func (r *Router) Assignment(bundleID uint64) (*Assignment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[bundleID]
	return a, ok
}

// Unroute removes bundleID from every contact's FIFO it was assigned to and
// restores the capacity it consumed (spec §4.7 step 1). A no-op if the
// bundle has no current assignment.
func (r *Router) Unroute(bundleID uint64, p bundle.Priority) {
	r.mu.Lock()
	a, ok := r.assignments[bundleID]
	if ok {
		delete(r.assignments, bundleID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	for _, f := range a.Route.Fragments {
		for _, c := range f.Contacts {
			c.Remaining[p] += f.Length
			c.Queue = removeBundleID(c.Queue, bundleID)
		}
	}
}

// Reapply re-installs a previously computed assignment: the inverse of
// Unroute. Used by the optimizer to restore a bundle's original route when
// a tentative preemption attempt fails (spec §4.7 step 4 "otherwise restore").
func (r *Router) Reapply(bundleID uint64, a *Assignment) {
	for _, f := range a.Route.Fragments {
		for _, c := range f.Contacts {
			c.Remaining[a.Priority] -= f.Length
			c.Queue = append(c.Queue, bundleID)
		}
	}
	r.mu.Lock()
	r.assignments[bundleID] = a
	r.mu.Unlock()
}

func removeBundleID(q []uint64, id uint64) []uint64 {
	out := q[:0]
	for _, x := range q {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

// candidate pairs a contact with its router-acceptance confidence.
type candidate struct {
	contact    *routing.Contact
	confidence float64
}

func (r *Router) confidence(c *routing.Contact) float64 {
	cfg := r.Config
	return (c.Node.Trust*cfg.TrustWeight + c.Node.Reliability*cfg.ReliabilityWeight) * c.AssociationProb
}

// acceptableContacts returns dest's contacts that are in the future, have
// spare capacity for priority p beyond the fragment-header overhead, and
// clear the opportunistic confidence floor — ordered by To ascending (spec
// §4.6 step 2 "iterate candidates ordered by to").
func (r *Router) acceptableContacts(dest string, now uint64, p bundle.Priority) []candidate {
	cfg := r.Config
	hdrOverhead := cfg.FirstFragHeaderSize
	if cfg.LastFragHeaderSize > hdrOverhead {
		hdrOverhead = cfg.LastFragHeaderSize
	}

	contacts := r.Table.LookupEID(dest)
	out := make([]candidate, 0, len(contacts))
	for _, c := range contacts {
		if c.To <= now {
			continue
		}
		if c.Remaining[p] < hdrOverhead+cfg.FragmentMinPayload {
			continue
		}
		conf := r.confidence(c)
		if conf < cfg.OpportunisticThreshold {
			continue
		}
		out = append(out, candidate{contact: c, confidence: conf})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].contact.To < out[j].contact.To })
	return out
}

// Route computes a route for a bundle whose serialized size is size,
// destined for dest, at priority p, arriving "now" in DTN seconds (spec
// §4.6). On success, every chosen contact's Remaining[p] is decremented and
// the bundle is appended to each chosen contact's FIFO by id.
func (r *Router) Route(dest string, size uint64, p bundle.Priority, now uint64, mustNotFragment bool, bundleID uint64) (*Route, error) {
	cfg := r.Config
	cands := r.acceptableContacts(dest, now, p)
	if len(cands) == 0 {
		return nil, dtnerr.NewNoRoute("no contact reaches destination")
	}

	hdrOverhead := cfg.FirstFragHeaderSize
	if cfg.LastFragHeaderSize > hdrOverhead {
		hdrOverhead = cfg.LastFragHeaderSize
	}

	// Step 2: accumulate expected payload capacity across candidates,
	// tracking the smallest per-fragment ceiling (CLA/global/remaining-capacity).
	var accumulated uint64
	maxFragSize := cfg.GlobalMaxBundleSize
	if cfg.CLAMaxBundleSize > 0 && (maxFragSize == 0 || cfg.CLAMaxBundleSize < maxFragSize) {
		maxFragSize = cfg.CLAMaxBundleSize
	}
	var usable []candidate
	for _, c := range cands {
		payloadAvail := c.contact.Remaining[p] - hdrOverhead
		ceiling := payloadAvail
		if maxFragSize > 0 && maxFragSize < ceiling {
			ceiling = maxFragSize
		}
		usable = append(usable, c)
		accumulated += ceiling
		if accumulated >= size {
			break
		}
	}
	if accumulated < size {
		return nil, dtnerr.NewNoRoute("insufficient aggregate contact capacity")
	}

	perFragmentCeiling := maxFragSize
	for _, c := range usable {
		payloadAvail := c.contact.Remaining[p] - hdrOverhead
		if perFragmentCeiling == 0 || payloadAvail < perFragmentCeiling {
			perFragmentCeiling = payloadAvail
		}
	}

	var route *Route
	var err error
	if !mustNotFragment && size > perFragmentCeiling && perFragmentCeiling > 0 {
		route, err = r.planFragmented(usable, size, p, bundleID)
	} else {
		route, err = r.planSingle(usable, size, p, bundleID)
	}
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.assignments[bundleID] = &Assignment{Dest: dest, Size: size, Priority: p, Route: route}
	r.mu.Unlock()
	return route, nil
}

// planSingle assigns the whole bundle as one fragment, replicated across as
// many leading candidates as needed to reach MinProbability (spec §4.6 step 4).
func (r *Router) planSingle(cands []candidate, size uint64, p bundle.Priority, bundleID uint64) (*Route, error) {
	chosen, prob := r.selectContacts(cands, size, p)
	if prob < r.Config.MinProbability {
		return nil, dtnerr.NewNoRoute("cumulative delivery probability below threshold")
	}
	for _, c := range chosen {
		c.Remaining[p] -= size
		c.Queue = append(c.Queue, bundleID)
	}
	return &Route{Fragments: []Fragment{{Offset: 0, Length: size, Contacts: chosen, Probability: prob}}}, nil
}

// planFragmented splits the payload greedily across successive candidates
// (spec §4.6 step 3): each fragment consumes one candidate's available
// budget (header overhead already excluded), down to FragmentMinPayload.
func (r *Router) planFragmented(cands []candidate, size uint64, p bundle.Priority, bundleID uint64) (*Route, error) {
	cfg := r.Config
	var fragments []Fragment
	var offset uint64
	idx := 0
	for offset < size {
		if idx >= len(cands) {
			return nil, dtnerr.NewNoRoute("ran out of contacts while fragmenting")
		}
		c := cands[idx]
		hdr := cfg.FirstFragHeaderSize
		if offset+c.contact.Remaining[p] >= size {
			hdr = cfg.LastFragHeaderSize
		}
		budget := c.contact.Remaining[p]
		if budget < hdr {
			idx++
			continue
		}
		budget -= hdr
		length := budget
		remaining := size - offset
		if length > remaining {
			length = remaining
		}
		if length < cfg.FragmentMinPayload && remaining > cfg.FragmentMinPayload {
			idx++
			continue
		}
		prob := r.confidenceProbability([]candidate{c})
		if prob < cfg.MinProbability {
			// try to bring in the next candidate too, for this fragment only
			extra := []candidate{c}
			j := idx + 1
			for prob < cfg.MinProbability && j < len(cands) {
				extra = append(extra, cands[j])
				prob = r.confidenceProbability(extra)
				j++
			}
			if prob < cfg.MinProbability {
				return nil, dtnerr.NewNoRoute("fragment cannot reach minimum probability")
			}
		}
		c.contact.Remaining[p] -= length
		c.contact.Queue = append(c.contact.Queue, bundleID)
		fragments = append(fragments, Fragment{Offset: offset, Length: length, Contacts: []*routing.Contact{c.contact}, Probability: prob})
		offset += length
		idx++
	}
	return &Route{Fragments: fragments}, nil
}

// selectContacts picks leading candidates until cumulative probability
// reaches MinProbability or MaxContacts is exhausted (spec §4.6 step 4): a
// deterministic contact (confidence ≥ DeterministicThreshold) ends selection
// immediately; opportunistic contacts combine as P(A∪B)=P(A)+P(B)-P(A)P(B).
// Ties (equal confidence) favor the earlier `to`, which the caller's
// ordering already guarantees.
func (r *Router) selectContacts(cands []candidate, size uint64, p bundle.Priority) ([]*routing.Contact, float64) {
	var chosen []*routing.Contact
	var prob float64
	for _, c := range cands {
		if len(chosen) >= r.Config.MaxContacts {
			break
		}
		if c.contact.Remaining[p] < size {
			continue
		}
		chosen = append(chosen, c.contact)
		prob = prob + c.confidence - prob*c.confidence
		if c.confidence >= r.Config.DeterministicThreshold {
			break
		}
		if prob >= r.Config.MinProbability {
			break
		}
	}
	return chosen, prob
}

func (r *Router) confidenceProbability(cands []candidate) float64 {
	var prob float64
	for _, c := range cands {
		prob = prob + c.confidence - prob*c.confidence
	}
	return prob
}

// Verify re-checks a previously computed route (spec §4.6 "Router re-use"):
// every contact must still exist in the table, not be in the past, fit the
// expiration, and have capacity ≥ size.
func (r *Router) Verify(route *Route, dest string, now, expiration uint64, p bundle.Priority) bool {
	live := make(map[*routing.Contact]bool)
	for _, c := range r.Table.LookupEID(dest) {
		live[c] = true
	}
	for _, f := range route.Fragments {
		for _, c := range f.Contacts {
			if !live[c] {
				return false
			}
			if c.To <= now || c.To > expiration {
				return false
			}
			if c.Remaining[p] < f.Length {
				return false
			}
		}
	}
	return true
}
