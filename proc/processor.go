// Package proc implements the bundle processor: the single signal-driven
// task that carries a bundle through receipt, dispatch, forwarding, local
// delivery, custody transfer, and deletion (spec §4.9), grounded on
// original_source/components/upcn/bundle_processor.c's task loop and its
// per-signal handler functions.
package proc

import (
	"context"

	"github.com/dtncore/agent/bpv6"
	"github.com/dtncore/agent/bpv7"
	"github.com/dtncore/agent/bundle"
	"github.com/dtncore/agent/custody"
	"github.com/dtncore/agent/eid"
	"github.com/dtncore/agent/internal/dtnerr"
	"github.com/dtncore/agent/internal/nlog"
	"github.com/dtncore/agent/store"
)

// SignalType is a bundle-processor-queue message kind (spec §4.9 "single
// task consuming signals {type, reason, bundle_id}").
type SignalType int

const (
	Incoming SignalType = iota
	Routed
	ForwardingContraindicated
	Expired
	RescheduleBundle
	TransmissionSuccess
	TransmissionFailure
	LocalDispatch
)

func (t SignalType) String() string {
	switch t {
	case Incoming:
		return "incoming"
	case Routed:
		return "routed"
	case ForwardingContraindicated:
		return "forwarding-contraindicated"
	case Expired:
		return "expired"
	case RescheduleBundle:
		return "reschedule"
	case TransmissionSuccess:
		return "transmission-success"
	case TransmissionFailure:
		return "transmission-failure"
	case LocalDispatch:
		return "local-dispatch"
	default:
		return "unknown"
	}
}

// Signal is one message on the processor's queue. BundleID indexes the
// shared store. Reason carries a dtnerr.Reason* code for the signals that
// need one (ForwardingContraindicated, TransmissionFailure).
type Signal struct {
	Type     SignalType
	Reason   string
	BundleID uint16
}

// FailedForwardPolicy selects what happens to a bundle that could not be
// scheduled or transmitted (spec §4.9 "dangling").
type FailedForwardPolicy int

const (
	// TryReSchedule re-queues the bundle for another routing attempt
	// (the default: a contact may open up before the bundle expires).
	TryReSchedule FailedForwardPolicy = iota
	// DropIfNoCustody deletes the bundle immediately unless this node
	// holds custody of it, trading delivery odds for storage pressure.
	DropIfNoCustody
)

// Config bundles the processor's tunables.
type Config struct {
	LocalEID        string
	StatusReporting bool
	FailedForward   FailedForwardPolicy
	// KnownExpectedCount sizes the known-bundle-list cuckoo filter
	// up front (seiflotfy/cuckoofilter needs a capacity hint).
	KnownExpectedCount uint
}

func DefaultConfig(localEID string) Config {
	return Config{
		LocalEID:           localEID,
		StatusReporting:    true,
		FailedForward:      TryReSchedule,
		KnownExpectedCount: 4096,
	}
}

// AgentForward delivers a fully reassembled ADU to a registered local
// application agent (spec §4.9 "agent_forward(agent_id, adu)"). The agent
// package wires this to the AAP session registry.
type AgentForward func(agentID string, adu *bundle.Bundle) error

// Processor implements the RFC 5050 §5 bundle lifecycle state machine
// (spec §4.9).
type Processor struct {
	cfg      Config
	localEID eid.EndpointID

	Store   *store.Store
	Custody *custody.Manager

	known      *knownBundleList
	reassembly *reassemblyTable

	// RouteRequests receives bundle ids ready for routing (spec §4.9 "emit
	// ROUTER_SIGNAL_ROUTE_BUNDLE"); package agent drains it into
	// router.Router.Route and feeds the result back as a Routed signal.
	RouteRequests chan uint64

	AgentForward AgentForward
	// Now returns the current DTN time in seconds, normally
	// contact.Manager.Now.
	Now func() uint64

	Signals chan Signal
}

func New(st *store.Store, cm *custody.Manager, cfg Config, now func() uint64) *Processor {
	parsed, err := eid.Parse(cfg.LocalEID)
	if err != nil {
		nlog.Warningf("proc: local EID %q does not parse: %v", cfg.LocalEID, err)
		parsed = eid.None()
	}
	return &Processor{
		cfg:           cfg,
		localEID:      parsed,
		Store:         st,
		Custody:       cm,
		known:         newKnownBundleList(cfg.KnownExpectedCount),
		reassembly:    newReassemblyTable(),
		RouteRequests: make(chan uint64, 64),
		Now:           now,
		Signals:       make(chan Signal, 256),
	}
}

// Run drains Signals strictly in arrival order until ctx is cancelled
// (spec §5 "a single task... processes signals in order").
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-p.Signals:
			p.handle(sig)
		}
	}
}

// Submit enqueues a signal; used by the CLA receive path, the contact
// manager's transmission callbacks, and the router's scheduling callback.
func (p *Processor) Submit(sig Signal) {
	p.Signals <- sig
}

func (p *Processor) handle(sig Signal) {
	b := p.Store.Get(sig.BundleID)
	if b == nil {
		nlog.Warningf("proc: %s signal for unknown bundle %d", sig.Type, sig.BundleID)
		return
	}
	switch sig.Type {
	case Incoming:
		p.receive(b)
	case Routed:
		p.forwardingScheduled(b)
	case ForwardingContraindicated:
		p.forwardingContraindicated(b, sig.Reason)
	case Expired:
		p.delete(b, dtnerr.ReasonLifetimeExpired)
	case RescheduleBundle:
		p.dangling(b)
	case TransmissionSuccess:
		p.forwardingSuccess(b)
	case TransmissionFailure:
		p.forwardingFailed(b, sig.Reason)
	case LocalDispatch:
		p.dispatch(b)
	default:
		nlog.Warningf("proc: invalid signal type %d", sig.Type)
	}
}

// receive is BP_TASK_PROCESS_INCOMING (RFC 5050 §5.3): reception reporting,
// hop-count and lifetime validation, then custody acceptance and dispatch.
func (p *Processor) receive(b *bundle.Bundle) {
	now := p.Now()

	if b.Flags.Has(bundle.StatusRequestReception) {
		p.sendStatusReport(b, bundle.StatusReceived, dtnerr.ReasonNoInformation)
	}

	if !p.checkHopCount(b) {
		p.delete(b, dtnerr.ReasonHopLimitExceeded)
		return
	}

	if p.isExpired(b, now) {
		p.delete(b, dtnerr.ReasonLifetimeExpired)
		return
	}

	if b.Flags.Has(bundle.CustodyRequested) {
		p.custodyAccept(b)
	}

	p.dispatch(b)
}

// dispatch is BP_TASK_DISPATCH (RFC 5050 §5.4): route administrative
// records addressed to this node, deliver other local traffic, or forward.
func (p *Processor) dispatch(b *bundle.Bundle) {
	agentID, local := p.getAgentID(b.Dest)
	if !local {
		p.forward(b)
		return
	}

	if b.Flags.Has(bundle.AdministrativeRecord) {
		p.handleAdminRecord(b)
		return
	}

	p.deliverLocal(b, agentID)
}

// forward is BP_TASK_FORWARD (RFC 5050 §5.4 bis): marks the bundle
// forward-pending and asks the router for a contact assignment.
func (p *Processor) forward(b *bundle.Bundle) {
	b.Retain |= bundle.ForwardPending
	select {
	case p.RouteRequests <- uint64(b.ID):
	default:
		nlog.Warningf("proc: route request queue full, dropping bundle %d", b.ID)
		p.forwardingContraindicated(b, dtnerr.ReasonNoKnownRoute)
	}
}

// forwardingScheduled is BP_TASK_FORWARDING_SCHEDULED: the router accepted
// the bundle and a contact handoff is in flight. No state change beyond what
// forward() already set; this exists so a future scheduler hook has
// somewhere to attach (e.g. cancelling a reschedule timer).
func (p *Processor) forwardingScheduled(b *bundle.Bundle) {
	nlog.Infof("proc: bundle %d scheduled for forwarding", b.ID)
}

// forwardingSuccess is BP_TASK_FORWARDING_SUCCESS (RFC 5050 §5.4): all
// contacts assigned to this bundle finished transmitting it successfully.
func (p *Processor) forwardingSuccess(b *bundle.Bundle) {
	if b.Flags.Has(bundle.StatusRequestForward) {
		p.sendStatusReport(b, bundle.StatusForwarded, dtnerr.ReasonNoInformation)
	}
	b.Retain &^= bundle.ForwardPending
	b.Retain &^= bundle.Own
	p.maybeDelete(b)
}

// forwardingContraindicated is BP_TASK_FORWARDING_CONTRAINDICATED: the
// router or a CLA refused to even attempt transmission (no route, an
// unsupported block, etc).
func (p *Processor) forwardingContraindicated(b *bundle.Bundle, reason string) {
	p.retryOrGiveUp(b, reason)
}

// forwardingFailed is BP_TASK_TRANSMISSION_FAILURE: a CLA accepted the
// bundle for transmission but the link dropped it before completion.
func (p *Processor) forwardingFailed(b *bundle.Bundle, reason string) {
	if reason == "" {
		reason = dtnerr.ReasonNoInformation
	}
	p.retryOrGiveUp(b, reason)
}

func (p *Processor) retryOrGiveUp(b *bundle.Bundle, reason string) {
	if p.isExpired(b, p.Now()) {
		p.delete(b, dtnerr.ReasonLifetimeExpired)
		return
	}
	if p.cfg.FailedForward == DropIfNoCustody && !b.Retain.Has(bundle.CustodyAccepted) {
		p.delete(b, reason)
		return
	}
	p.dangling(b)
}

// dangling is BP_TASK_RESCHEDULE: the bundle stays forward-pending and goes
// back to the router for another attempt.
func (p *Processor) dangling(b *bundle.Bundle) {
	if p.isExpired(b, p.Now()) {
		p.delete(b, dtnerr.ReasonLifetimeExpired)
		return
	}
	select {
	case p.RouteRequests <- uint64(b.ID):
	default:
		nlog.Warningf("proc: route request queue full, bundle %d stays pending", b.ID)
	}
}

// deliverLocal is BP_TASK_DELIVER (RFC 5050 §5.6): reassembles fragments,
// suppresses duplicates via the known-bundle list, then hands the ADU to
// the destination's registered agent.
func (p *Processor) deliverLocal(b *bundle.Bundle, agentID string) {
	now := p.Now()

	if b.HasFragmentation() {
		b.Retain |= bundle.ReassemblyPending
		adu, fragments, duplicate, err := p.reassembly.attempt(b)
		if err != nil {
			nlog.Errorf("proc: reassembly of bundle %d failed: %v", b.ID, err)
			p.delete(b, dtnerr.ReasonUnintelligible)
			return
		}
		if duplicate {
			p.discard(b)
			return
		}
		if adu == nil {
			// Slot still incomplete: this fragment stays in the store
			// under ReassemblyPending until the rest arrive.
			return
		}
		deadline := adu.CreationTimestamp + adu.LifetimeSeconds
		if p.known.isReassembledKnown(adu.ADUIdentity(), adu.TotalADULength, now) {
			p.releaseFragments(fragments)
			return
		}
		p.known.addReassembledAsKnown(adu.ADUIdentity(), adu.TotalADULength, deadline)
		p.releaseFragments(fragments)
		p.deliverADU(adu, agentID)
		return
	}

	deadline := b.CreationTimestamp + b.LifetimeSeconds
	if p.known.addAndCheckKnown(b.Identity(), deadline, now) {
		p.discard(b)
		return
	}
	p.deliverADU(b, agentID)
}

// deliverADU hands a complete (possibly reassembled) ADU to its agent,
// reports delivery if requested, and releases b from the store.
func (p *Processor) deliverADU(b *bundle.Bundle, agentID string) {
	if p.AgentForward != nil {
		if err := p.AgentForward(agentID, b); err != nil {
			nlog.Warningf("proc: local delivery of bundle %d to agent %q failed: %v", b.ID, agentID, err)
		}
	}
	if b.Flags.Has(bundle.StatusRequestDelivery) {
		p.sendStatusReport(b, bundle.StatusDelivered, dtnerr.ReasonNoInformation)
	}
	b.Retain &^= bundle.DispatchPending
	b.Retain &^= bundle.ReassemblyPending
	p.maybeDelete(b)
}

// releaseFragments removes consumed fragments from the store once their
// ADU has been reassembled.
func (p *Processor) releaseFragments(fragments []*bundle.Bundle) {
	for _, f := range fragments {
		f.Retain = 0
		p.Store.Delete(f.ID)
	}
}

// custodyAccept is RFC 5050 §5.10.1: BP6-only. Accepts custody when
// StorageIsAcceptable, else sends a refusal signal without taking custody.
func (p *Processor) custodyAccept(b *bundle.Bundle) {
	if b.Version != bundle.Version6 {
		return
	}
	if p.Custody.HasRedundantBundle(b) {
		return
	}
	if !p.Custody.StorageIsAcceptable(b, b.SerializedSizeHint()) {
		p.sendCustodySignal(b, b.Custodian, bundle.CustodyRefusal, dtnerr.ReasonDepletedStorage)
		return
	}
	prevCustodian := b.Custodian
	if err := p.Custody.Accept(b); err != nil {
		nlog.Warningf("proc: custody accept of bundle %d failed: %v", b.ID, err)
		return
	}
	p.sendCustodySignal(b, prevCustodian, bundle.CustodyAcceptance, dtnerr.ReasonNoInformation)
}

// handleAdminRecord routes an incoming administrative record addressed to
// this node: custody signals update the referenced bundle's custody state,
// status reports are logged (no further automatic action, spec §4.9).
func (p *Processor) handleAdminRecord(b *bundle.Bundle) {
	payload := b.Payload()
	var recordType bundle.AdminRecordType
	var err error
	if b.Version == bundle.Version6 {
		recordType, err = bpv6.RecordType(payload)
	} else {
		recordType, err = bpv7.RecordType(payload)
	}
	if err != nil {
		nlog.Warningf("proc: malformed administrative record on bundle %d: %v", b.ID, err)
		p.discard(b)
		return
	}

	switch recordType {
	case bundle.AdminCustodySignal:
		p.handleCustodySignal(b, payload)
	case bundle.AdminStatusReport:
		nlog.Infof("proc: status report received on bundle %d", b.ID)
	default:
		nlog.Warningf("proc: unknown administrative record type %d on bundle %d", recordType, b.ID)
	}
	p.discard(b)
}

func (p *Processor) handleCustodySignal(b *bundle.Bundle, payload []byte) {
	var cs *bundle.CustodySignal
	var err error
	if b.Version == bundle.Version6 {
		cs, err = bpv6.DecodeCustodySignal(payload)
	} else {
		cs, err = bpv7.DecodeCustodySignal(payload)
	}
	if err != nil {
		nlog.Warningf("proc: malformed custody signal on bundle %d: %v", b.ID, err)
		return
	}

	id := bundle.Identity{
		Source:         cs.SourceEID,
		CreationTS:     cs.CreationTimestamp,
		SequenceNumber: cs.SequenceNumber,
	}
	if cs.HasFragment {
		id.FragmentOffset = cs.FragmentOffset
		id.PayloadLength = cs.FragmentLength
	}
	orig, ok := p.Custody.GetByIdentity(id)
	if !ok {
		nlog.Warningf("proc: custody signal for unknown bundle (source %s)", cs.SourceEID)
		return
	}

	fullyReleased := p.Custody.Release(orig)
	switch cs.Type {
	case bundle.CustodyAcceptance:
		if fullyReleased {
			p.Store.Delete(orig.ID)
		}
	case bundle.CustodyRefusal:
		p.dangling(orig)
	}
}

// delete is BP_TASK_DELETE (RFC 5050 §5.13): reports deletion if requested,
// releases custody if held, and removes the bundle from the store.
func (p *Processor) delete(b *bundle.Bundle, reason string) {
	if b.Flags.Has(bundle.StatusRequestDeletion) {
		p.sendStatusReport(b, bundle.StatusDeleted, reason)
	}
	if b.Retain.Has(bundle.CustodyAccepted) {
		p.Custody.Release(b)
	}
	b.Retain = 0
	p.Store.Delete(b.ID)
}

// discard silently drops b (duplicate suppression, malformed administrative
// records): no status report, no custody release.
func (p *Processor) discard(b *bundle.Bundle) {
	b.Retain = 0
	p.Store.Delete(b.ID)
}

func (p *Processor) maybeDelete(b *bundle.Bundle) {
	if b.Retain == 0 {
		p.Store.Delete(b.ID)
	}
}

func (p *Processor) isExpired(b *bundle.Bundle, now uint64) bool {
	return b.CreationTimestamp+b.LifetimeSeconds < now
}

// checkHopCount increments and validates a BP7-style hop-count extension
// block if one is present; bundles without one are unconstrained (spec §4.3
// hop count is optional on both protocol versions).
func (p *Processor) checkHopCount(b *bundle.Bundle) bool {
	for i, blk := range b.Blocks {
		if blk.Type != bundle.BlockHopCount {
			continue
		}
		hc, err := bpv7.DecodeHopCount(blk.Data)
		if err != nil {
			nlog.Warningf("proc: malformed hop count block on bundle %d: %v", b.ID, err)
			return true
		}
		hc.Count++
		b.Blocks[i].Data = bpv7.EncodeHopCount(hc)
		if hc.Count > hc.Limit {
			return false
		}
		return true
	}
	return true
}

// getAgentID reports whether dest is this node's own endpoint and, if so,
// the registered-application-agent suffix to deliver to (spec §4.9
// "get_agent_id").
func (p *Processor) getAgentID(dest eid.EndpointID) (agentID string, local bool) {
	node, appID := dest.NodePart()
	if node != p.localEID {
		return "", false
	}
	return appID, true
}

// sendStatusReport builds and forwards a status report administrative
// record for orig, addressed to orig's report-to EID (RFC 5050 §6.1).
func (p *Processor) sendStatusReport(orig *bundle.Bundle, flag bundle.StatusReportFlags, reason string) {
	if !p.cfg.StatusReporting || orig.ReportTo.IsNone() {
		return
	}
	sr := &bundle.StatusReport{
		Flags:             flag,
		Reason:            reason,
		SourceEID:         orig.Source.String(),
		CreationTimestamp: orig.CreationTimestamp,
		SequenceNumber:    orig.SequenceNumber,
		Time:              p.Now(),
	}
	if orig.HasFragmentation() {
		sr.HasFragment = true
		sr.FragmentOffset = orig.FragmentOffset
		sr.FragmentLength = uint64(len(orig.Payload()))
	}

	var payload []byte
	var err error
	if orig.Version == bundle.Version6 {
		payload = bpv6.EncodeStatusReport(sr)
	} else {
		payload, err = bpv7.EncodeStatusReport(sr)
	}
	if err != nil {
		nlog.Warningf("proc: encoding status report for bundle %d failed: %v", orig.ID, err)
		return
	}
	p.sendAdminRecord(orig.Version, orig.ReportTo, payload)
}

// sendCustodySignal builds and forwards a custody signal administrative
// record addressed to dest (RFC 5050 §6.2), normally the bundle's previous
// custodian.
func (p *Processor) sendCustodySignal(orig *bundle.Bundle, dest eid.EndpointID, kind bundle.CustodySignalType, reason string) {
	if dest.IsNone() {
		dest = orig.ReportTo
	}
	if dest.IsNone() {
		return
	}
	cs := &bundle.CustodySignal{
		Type:              kind,
		Reason:            reason,
		SourceEID:         orig.Source.String(),
		CreationTimestamp: orig.CreationTimestamp,
		SequenceNumber:    orig.SequenceNumber,
		Time:              p.Now(),
	}
	if orig.HasFragmentation() {
		cs.HasFragment = true
		cs.FragmentOffset = orig.FragmentOffset
		cs.FragmentLength = uint64(len(orig.Payload()))
	}

	var payload []byte
	var err error
	if orig.Version == bundle.Version6 {
		payload = bpv6.EncodeCustodySignal(cs)
	} else {
		payload, err = bpv7.EncodeCustodySignal(cs)
	}
	if err != nil {
		nlog.Warningf("proc: encoding custody signal for bundle %d failed: %v", orig.ID, err)
		return
	}
	p.sendAdminRecord(orig.Version, dest, payload)
}

// sendAdminRecord wraps payload in a new, locally-originated administrative
// bundle and submits it for forwarding.
func (p *Processor) sendAdminRecord(version bundle.Version, dest eid.EndpointID, payload []byte) {
	admin := &bundle.Bundle{
		Version:           version,
		Flags:             bundle.AdministrativeRecord | bundle.IsSingleton,
		Source:            p.localEID,
		Dest:              dest,
		ReportTo:          eid.None(),
		CreationTimestamp: p.Now(),
		LifetimeSeconds:   3600,
		Retain:            bundle.ForwardPending | bundle.Own,
		Blocks: []bundle.ExtensionBlock{{
			Type:        bundle.BlockPayload,
			BlockNumber: 1,
			Data:        payload,
		}},
	}
	if id := p.Store.Add(admin); id != store.Invalid {
		p.forward(admin)
	}
}
