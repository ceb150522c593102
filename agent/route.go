package agent

import (
	"context"
	"time"

	"github.com/dtncore/agent/bundle"
	"github.com/dtncore/agent/contact"
	"github.com/dtncore/agent/internal/nlog"
	"github.com/dtncore/agent/proc"
)

func contactSignal(nodeEID string, bundleID uint64) contact.Signal {
	return contact.Signal{HandToActive: true, ContactEID: nodeEID, BundleID: bundleID}
}

// runRouteLoop drains Proc.RouteRequests, grounded on bpv6's
// "ROUTER_SIGNAL_ROUTE_BUNDLE" hop from bundle processor to router task: one
// goroutine translating route requests into router.Router.Route calls and
// feeding the outcome back as a processor signal.
func (a *Agent) runRouteLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case bundleID := <-a.Proc.RouteRequests:
			a.routeOne(bundleID)
		}
	}
}

func (a *Agent) routeOne(bundleID uint64) {
	b := a.Store.Get(uint16(bundleID))
	if b == nil {
		return
	}
	size, err := serializedSize(b)
	if err != nil {
		a.Proc.Submit(proc.Signal{Type: proc.ForwardingContraindicated, BundleID: b.ID, Reason: err.Error()})
		return
	}

	node, _ := b.Dest.NodePart()
	now := a.Contact.Now()
	mustNotFragment := b.Flags.Has(bundle.MustNotFragment)
	route, err := a.Router.Route(node.String(), uint64(size), b.Priority, now, mustNotFragment, bundleID)
	if err != nil {
		a.Proc.Submit(proc.Signal{Type: proc.ForwardingContraindicated, BundleID: b.ID, Reason: err.Error()})
		return
	}

	a.Proc.Submit(proc.Signal{Type: proc.Routed, BundleID: b.ID})
	// Route() already queued bundleID on each chosen contact's FIFO; a
	// contact that is active right now needs an explicit signal because
	// its handoff loop already ran past this point in the Tick that
	// activated it (spec §4.8 "hand to active contact").
	for _, frag := range route.Fragments {
		for _, c := range frag.Contacts {
			if c.Active {
				a.Contact.Signals <- contactSignal(c.Node.EID, bundleID)
			}
		}
	}
}

func serializedSize(b *bundle.Bundle) (int, error) {
	return bpCodecFor(b.Version).serializedSize(b)
}

// runOptimizerLoop checks every 5 seconds whether Opt.ShouldRun holds (no
// active contact and the next one far off) and, if so, runs one optimizer
// pass.
func (a *Agent) runOptimizerLoop(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			activeCount, nextAt, haveNext := a.contactSummary()
			if a.Opt.ShouldRun(a.Contact.Now(), activeCount, nextAt, haveNext) {
				n := a.Opt.Run()
				if n > 0 {
					nlog.Infof("agent: optimizer preempted %d bundle(s)", n)
				}
			}
		}
	}
}

func (a *Agent) contactSummary() (activeCount int, nextAt uint64, haveNext bool) {
	now := a.Contact.Now()
	for _, c := range a.Table.AllContacts() {
		if c.Active {
			activeCount++
			continue
		}
		if c.From > now && (!haveNext || c.From < nextAt) {
			nextAt = c.From
			haveNext = true
		}
	}
	return activeCount, nextAt, haveNext
}
