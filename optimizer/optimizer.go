// Package optimizer implements the background preemption/re-planning pass
// over a router.Router (spec §4.7): when no contact is active and the next
// one is far off, it looks for bundles that would fit a better contact if
// lower-priority occupants were displaced, and tries the displacement.
package optimizer

import (
	"sort"

	"github.com/dtncore/agent/bundle"
	"github.com/dtncore/agent/router"
	"github.com/dtncore/agent/routing"
)

// Config holds the tunables named in spec §4.7.
type Config struct {
	MinIdleTime              uint64 // opt_min_time
	MaxPreemptBundlesContact int    // opt_max_pre_bundles_contact
	MaxPreemptBundlesTotal   int    // opt_max_pre_bundles
}

func DefaultConfig() Config {
	return Config{MinIdleTime: 30, MaxPreemptBundlesContact: 4, MaxPreemptBundlesTotal: 16}
}

type Optimizer struct {
	Table  *routing.Table
	Router *router.Router
	Config Config
}

func New(t *routing.Table, r *router.Router, cfg Config) *Optimizer {
	return &Optimizer{Table: t, Router: r, Config: cfg}
}

// ShouldRun reports whether the optimizer's trigger condition holds (spec
// §4.7): no active contact, and the next one is more than MinIdleTime away.
func (o *Optimizer) ShouldRun(now uint64, activeContacts int, nextContactAt uint64, hasNextContact bool) bool {
	if activeContacts > 0 {
		return false
	}
	if !hasNextContact {
		return true
	}
	return nextContactAt > now && nextContactAt-now > o.Config.MinIdleTime
}

// Run performs one preemption pass and returns the number of bundles
// successfully re-planned onto a better contact.
func (o *Optimizer) Run() int {
	improved := 0
	preemptedTotal := 0
	assignments := o.Router.Assignments()

	for _, c := range o.resortContacts() {
		if preemptedTotal >= o.Config.MaxPreemptBundlesTotal {
			break
		}
		for _, bundleID := range append([]uint64(nil), c.Queue...) {
			if preemptedTotal >= o.Config.MaxPreemptBundlesTotal {
				break
			}
			a, ok := assignments[bundleID]
			if !ok || a.Priority >= bundle.PriorityExpedited {
				continue
			}
			if o.tryImprove(bundleID, a, &preemptedTotal) {
				improved++
			}
		}
	}
	return improved
}

// resortContacts applies spec §4.7's last paragraph: if a contact's FIFO
// sort order is violated (a higher priority bundle behind a lower-priority
// one), resort it by priority descending via a stable mergesort.
func (o *Optimizer) resortContacts() []*routing.Contact {
	contacts := o.Table.AllContacts()
	assignments := o.Router.Assignments()
	for _, c := range contacts {
		priorityOf := func(id uint64) bundle.Priority {
			if a, ok := assignments[id]; ok {
				return a.Priority
			}
			return bundle.PriorityBulk
		}
		if !sort.SliceIsSorted(c.Queue, func(i, j int) bool {
			return priorityOf(c.Queue[i]) > priorityOf(c.Queue[j])
		}) {
			sort.SliceStable(c.Queue, func(i, j int) bool {
				return priorityOf(c.Queue[i]) > priorityOf(c.Queue[j])
			})
		}
	}
	return contacts
}

// tryImprove looks for a contact reaching a's destination sooner than a's
// current one, evicts enough lower-priority occupants to fit a there, and
// commits only if a and every evicted bundle re-route successfully (spec
// §4.7 steps 1-4).
func (o *Optimizer) tryImprove(bundleID uint64, a *router.Assignment, preemptedTotal *int) bool {
	currentBest := earliestContactTo(a.Route)
	candidates := o.Table.LookupEID(a.Dest)

	var target *routing.Contact
	for _, c := range candidates {
		if c.To >= currentBest {
			continue
		}
		if c.Remaining[a.Priority] >= a.Size {
			continue // no preemption needed here, not an improvement case
		}
		if preemptionImprovement(c, a) {
			target = c
			break
		}
	}
	if target == nil {
		return false
	}

	victims := selectVictims(target, a.Priority, a.Size-target.Remaining[a.Priority], o.Router, o.Config.MaxPreemptBundlesContact)
	if victims == nil {
		return false
	}

	o.Router.Unroute(bundleID, a.Priority)
	victimAssignments := make(map[uint64]*router.Assignment, len(victims))
	for _, v := range victims {
		if va, ok := o.Router.Assignment(v); ok {
			victimAssignments[v] = va
			o.Router.Unroute(v, va.Priority)
		}
	}

	newRoute, err := o.Router.Route(a.Dest, a.Size, a.Priority, 0, false, bundleID)
	if err != nil {
		o.restore(bundleID, a, victimAssignments)
		return false
	}
	_ = newRoute

	allRerouted := true
	for v, va := range victimAssignments {
		if _, rerouteErr := o.Router.Route(va.Dest, va.Size, va.Priority, 0, false, v); rerouteErr != nil {
			allRerouted = false
			break
		}
	}
	if !allRerouted {
		o.Router.Unroute(bundleID, a.Priority)
		for v := range victimAssignments {
			o.Router.Unroute(v, victimAssignments[v].Priority)
		}
		o.restore(bundleID, a, victimAssignments)
		return false
	}

	*preemptedTotal += len(victimAssignments)
	return true
}

func (o *Optimizer) restore(bundleID uint64, a *router.Assignment, victims map[uint64]*router.Assignment) {
	o.Router.Reapply(bundleID, a)
	for v, va := range victims {
		o.Router.Reapply(v, va)
	}
}

func earliestContactTo(r *router.Route) uint64 {
	var min uint64
	first := true
	for _, f := range r.Fragments {
		for _, c := range f.Contacts {
			if first || c.To < min {
				min = c.To
				first = false
			}
		}
	}
	return min
}

// preemptionImprovement is a cheap pre-filter: c is only worth the full
// selectVictims accounting if it actually has occupants to displace. The
// caller has already confirmed c.Remaining is insufficient on its own.
func preemptionImprovement(c *routing.Contact, _ *router.Assignment) bool {
	return len(c.Queue) > 0
}

// selectVictims picks occupants of c to evict, sorted by size desc then
// priority asc (spec §4.7 step 2), until enough capacity is freed or the
// per-contact cap is hit. Returns nil if it cannot free enough.
func selectVictims(c *routing.Contact, priority bundle.Priority, needed uint64, r *router.Router, maxPerContact int) []uint64 {
	type occupant struct {
		id   uint64
		size uint64
		prio bundle.Priority
	}
	var occupants []occupant
	for _, id := range c.Queue {
		a, ok := r.Assignment(id)
		if !ok || a.Priority >= priority {
			continue
		}
		occupants = append(occupants, occupant{id: id, size: a.Size, prio: a.Priority})
	}
	sort.SliceStable(occupants, func(i, j int) bool {
		if occupants[i].size != occupants[j].size {
			return occupants[i].size > occupants[j].size
		}
		return occupants[i].prio < occupants[j].prio
	})

	var chosen []uint64
	var freed uint64
	for _, occ := range occupants {
		if len(chosen) >= maxPerContact {
			break
		}
		chosen = append(chosen, occ.id)
		freed += occ.size
		if freed >= needed {
			return chosen
		}
	}
	return nil
}
