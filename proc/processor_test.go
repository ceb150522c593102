package proc_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/dtncore/agent/bpv7"
	"github.com/dtncore/agent/bundle"
	"github.com/dtncore/agent/custody"
	"github.com/dtncore/agent/eid"
	"github.com/dtncore/agent/proc"
	"github.com/dtncore/agent/store"
)

func newBundle(version bundle.Version, source, dest, reportTo string, created, lifetime uint64, payload string) *bundle.Bundle {
	src, _ := eid.Parse(source)
	dst, _ := eid.Parse(dest)
	rpt := eid.None()
	if reportTo != "" {
		rpt, _ = eid.Parse(reportTo)
	}
	return &bundle.Bundle{
		Version:           version,
		Flags:             bundle.IsSingleton,
		Source:            src,
		Dest:              dst,
		ReportTo:          rpt,
		Custodian:         eid.None(),
		CreationTimestamp: created,
		LifetimeSeconds:   lifetime,
		Retain:            bundle.DispatchPending,
		Blocks: []bundle.ExtensionBlock{{
			Type:        bundle.BlockPayload,
			BlockNumber: 1,
			Data:        []byte(payload),
		}},
	}
}

var _ = Describe("Processor", func() {
	const localEID = "dtn:node1"

	var (
		st  *store.Store
		cm  *custody.Manager
		now uint64
		p   *proc.Processor
		ctx context.Context
		cnl context.CancelFunc
	)

	BeforeEach(func() {
		st = store.New()
		cm = custody.New(localEID, custody.DefaultConfig())
		now = 1000
		cfg := proc.DefaultConfig(localEID)
		p = proc.New(st, cm, cfg, func() uint64 { return now })
		ctx, cnl = context.WithCancel(context.Background())
		go func() { _ = p.Run(ctx) }()
	})

	AfterEach(func() { cnl() })

	It("delivers a non-fragmented local bundle to its agent", func() {
		delivered := make(chan string, 1)
		p.AgentForward = func(agentID string, adu *bundle.Bundle) error {
			delivered <- agentID + ":" + string(adu.Payload())
			return nil
		}

		b := newBundle(bundle.Version7, "dtn:src", localEID+"/app1", "", now, 3600, "hello")
		id := st.Add(b)
		p.Submit(proc.Signal{Type: proc.Incoming, BundleID: id})

		Eventually(delivered, time.Second).Should(Receive(Equal("app1:hello")))
		Eventually(func() bool { return st.Contains(id) }, time.Second).Should(BeFalse())
	})

	It("forwards a bundle addressed to a remote node", func() {
		b := newBundle(bundle.Version7, "dtn:src", "dtn:other/app", "", now, 3600, "hi")
		id := st.Add(b)
		p.Submit(proc.Signal{Type: proc.Incoming, BundleID: id})

		Eventually(p.RouteRequests, time.Second).Should(Receive(Equal(uint64(id))))
		Expect(st.Get(id).Retain.Has(bundle.ForwardPending)).To(BeTrue())
	})

	It("deletes a bundle whose lifetime has already expired", func() {
		b := newBundle(bundle.Version7, "dtn:src", "dtn:other/app", "", 0, 1, "stale")
		id := st.Add(b)
		p.Submit(proc.Signal{Type: proc.Incoming, BundleID: id})

		Eventually(func() bool { return st.Contains(id) }, time.Second).Should(BeFalse())
	})

	It("deletes a bundle whose hop count exceeds its limit", func() {
		b := newBundle(bundle.Version7, "dtn:src", "dtn:other/app", "", now, 3600, "hop")
		b.Blocks = append([]bundle.ExtensionBlock{{
			Type:        bundle.BlockHopCount,
			BlockNumber: 2,
			Data:        bpv7.EncodeHopCount(bpv7.HopCount{Limit: 1, Count: 1}),
		}}, b.Blocks...)
		id := st.Add(b)
		p.Submit(proc.Signal{Type: proc.Incoming, BundleID: id})

		Eventually(func() bool { return st.Contains(id) }, time.Second).Should(BeFalse())
	})

	It("accepts custody of a BP6 bundle requesting it and delivers it locally", func() {
		b := newBundle(bundle.Version6, "dtn:src", localEID, "", now, 3600, "custodied")
		b.Flags |= bundle.CustodyRequested
		id := st.Add(b)
		p.Submit(proc.Signal{Type: proc.Incoming, BundleID: id})

		Eventually(func() bool { return cm.HasAccepted(b) }, time.Second).Should(BeTrue())
	})

	It("reassembles two fragments before delivering the ADU", func() {
		delivered := make(chan string, 1)
		p.AgentForward = func(agentID string, adu *bundle.Bundle) error {
			delivered <- string(adu.Payload())
			return nil
		}

		whole := newBundle(bundle.Version7, "dtn:src", localEID+"/app1", "", now, 3600, "helloworld")
		before, after := whole.SortBlocksByReplication()
		frag1, err := bundle.Fragment(whole, 0, 5, before, after)
		Expect(err).NotTo(HaveOccurred())
		frag2, err := bundle.Fragment(whole, 5, 5, before, after)
		Expect(err).NotTo(HaveOccurred())

		id1 := st.Add(frag1)
		p.Submit(proc.Signal{Type: proc.Incoming, BundleID: id1})
		Consistently(delivered, 100*time.Millisecond).ShouldNot(Receive())

		id2 := st.Add(frag2)
		p.Submit(proc.Signal{Type: proc.Incoming, BundleID: id2})

		Eventually(delivered, time.Second).Should(Receive(Equal("helloworld")))
	})
})
