// Package agent wires the individually-testable subsystems (store, routing
// table, router, optimizer, contact manager, custody manager, bundle
// processor, AAP server) into one running node (spec §5 "task set"),
// grounded on how the teacher's top-level packages are composed by a
// binary's main rather than importing each other directly.
package agent

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/dtncore/agent/aap"
	"github.com/dtncore/agent/bundle"
	"github.com/dtncore/agent/cla"
	"github.com/dtncore/agent/contact"
	"github.com/dtncore/agent/custody"
	"github.com/dtncore/agent/internal/config"
	"github.com/dtncore/agent/internal/nlog"
	"github.com/dtncore/agent/optimizer"
	"github.com/dtncore/agent/proc"
	"github.com/dtncore/agent/router"
	"github.com/dtncore/agent/routing"
	"github.com/dtncore/agent/store"
)

// Agent owns every long-running subsystem of a node and the channels that
// connect them (spec §5's task diagram, collapsed into one process).
type Agent struct {
	Config config.Config

	Store    *store.Store
	Table    *routing.Table
	Router   *router.Router
	Opt      *optimizer.Optimizer
	Custody  *custody.Manager
	Contact  *contact.Manager
	Proc     *proc.Processor
	AAP      *aap.Server
	Registry *aap.Registry

	metrics *metricsSet
}

// New assembles an Agent from cfg. dialer supplies convergence-layer
// connections for the contact manager (spec §4.8); a caller with no real
// transport yet may pass a no-op Dialer for testing.
func New(cfg config.Config, dialer cla.Dialer) *Agent {
	st := store.New()
	table := routing.NewTable()
	if cfg.MaxConcurrentContacts > 0 {
		routing.MaxConcurrentContacts = cfg.MaxConcurrentContacts
	}

	rcfg := router.DefaultConfig()
	rcfg.MinProbability = cfg.RouterMinProbability
	rcfg.DeterministicThreshold = cfg.RouterDeterministicThreshold
	rcfg.FragmentMinPayload = cfg.RouterFragmentMinPayload
	rcfg.MaxContacts = cfg.RouterMaxContacts
	rt := router.New(table, rcfg)

	ocfg := optimizer.DefaultConfig()
	ocfg.MinIdleTime = cfg.OptMinTime
	ocfg.MaxPreemptBundlesTotal = cfg.OptMaxPreBundles
	ocfg.MaxPreemptBundlesContact = cfg.OptMaxPreBundlesPerContact
	opt := optimizer.New(table, rt, ocfg)

	ccfg := custody.DefaultConfig()
	ccfg.MaxBundleCount = cfg.CustodyMaxBundleCount
	ccfg.MaxBundleSize = cfg.CustodyMaxBundleSize
	cm := custody.New(cfg.LocalEID, ccfg)

	cman := contact.New(table, dialer)
	cman.MaxCheckPeriod = cfg.ContactCheckingMaxPeriod

	pcfg := proc.DefaultConfig(cfg.LocalEID)
	pcfg.StatusReporting = cfg.StatusReporting
	p := proc.New(st, cm, pcfg, cman.Now)

	registry := aap.NewRegistry()
	acfg := aap.Config{
		LocalEID:         cfg.LocalEID,
		BPVersion:        bundle.Version(cfg.BPVersion),
		BundleLifetime:   cfg.AAPBundleLifetime,
		MaxPayloadLength: cfg.AAPMaxPayloadLength,
		IdleTimeout:      cfg.AAPIdleTimeout,
	}
	aapSrv := aap.NewServer(registry, st, p, acfg)

	a := &Agent{
		Config:   cfg,
		Store:    st,
		Table:    table,
		Router:   rt,
		Opt:      opt,
		Custody:  cm,
		Contact:  cman,
		Proc:     p,
		AAP:      aapSrv,
		Registry: registry,
		metrics:  newMetricsSet(),
	}

	p.AgentForward = a.forwardToAgent
	cman.Handoff = a.handoffToCLA

	return a
}


// handoffToCLA wires contact.Manager's TXHandoff to a CLA Handle's Send,
// serializing the bundle with the codec matching its wire version (spec
// §4.8 "hand each queued bundle to the CLA").
func (a *Agent) handoffToCLA(ctx context.Context, c *routing.Contact, bundleID uint64) error {
	b := a.Store.Get(uint16(bundleID))
	if b == nil {
		return fmt.Errorf("agent: handoff of unknown bundle %d", bundleID)
	}
	data, err := serialize(b)
	if err != nil {
		a.Proc.Submit(proc.Signal{Type: proc.TransmissionFailure, BundleID: b.ID, Reason: err.Error()})
		return err
	}

	handle, err := a.Contact.HandleFor(c.Node.EID)
	if err != nil {
		a.Proc.Submit(proc.Signal{Type: proc.TransmissionFailure, BundleID: b.ID, Reason: err.Error()})
		return err
	}
	if err := handle.Send(ctx, data); err != nil {
		a.metrics.bundlesDropped.Inc()
		a.Proc.Submit(proc.Signal{Type: proc.TransmissionFailure, BundleID: b.ID, Reason: err.Error()})
		return err
	}
	a.metrics.bundlesForwarded.Inc()
	a.Proc.Submit(proc.Signal{Type: proc.TransmissionSuccess, BundleID: b.ID})
	return nil
}

// Run starts every subsystem task and blocks until ctx is cancelled or one
// task fails, at which point the rest are cancelled too (spec §5's task set,
// grounded on dsort.Manager's errgroup.WithContext supervision style).
func (a *Agent) Run(ctx context.Context, claListener net.Listener, aapListener net.Listener) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.Proc.Run(ctx)
	})
	group.Go(func() error {
		return a.Contact.Run(ctx)
	})
	group.Go(func() error {
		return a.runRouteLoop(ctx)
	})
	group.Go(func() error {
		return a.runOptimizerLoop(ctx)
	})
	if aapListener != nil {
		group.Go(func() error {
			return a.AAP.Serve(ctx, aapListener)
		})
	}
	if claListener != nil {
		group.Go(func() error {
			return a.serveCLA(ctx, claListener)
		})
	}

	nlog.Infof("agent: running as %s", a.Config.LocalEID)
	return group.Wait()
}

func serialize(b *bundle.Bundle) ([]byte, error) {
	return bpCodecFor(b.Version).serialize(b)
}
