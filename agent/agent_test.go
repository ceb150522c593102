package agent_test

import (
	"context"
	"encoding/binary"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/dtncore/agent/aap"
	"github.com/dtncore/agent/agent"
	"github.com/dtncore/agent/bundle"
	"github.com/dtncore/agent/cla"
	"github.com/dtncore/agent/eid"
	"github.com/dtncore/agent/internal/config"
	"github.com/dtncore/agent/proc"
)

func procSignal(id uint16) proc.Signal {
	return proc.Signal{Type: proc.LocalDispatch, BundleID: id}
}

func newTestAgent(localEID string, dialer cla.Dialer) *agent.Agent {
	cfg := config.Default()
	cfg.LocalEID = localEID
	cfg.ContactCheckingMaxPeriod = 10 * time.Millisecond
	return agent.New(cfg, dialer)
}

func localSinkBundle(localEID, sink string, payload []byte, now uint64) *bundle.Bundle {
	dst, _ := eid.Parse(localEID + "/" + sink)
	src := eid.None()
	return &bundle.Bundle{
		Version:           bundle.Version7,
		Source:            src,
		Dest:              dst,
		ReportTo:          eid.None(),
		Custodian:         eid.None(),
		CreationTimestamp: now,
		LifetimeSeconds:   3600,
		Retain:            bundle.DispatchPending,
		Blocks: []bundle.ExtensionBlock{{
			Type:        bundle.BlockPayload,
			BlockNumber: 1,
			Data:        payload,
		}},
	}
}

var _ = Describe("Agent", func() {
	It("applies a config-sink ADU to the routing table", func() {
		a := newTestAgent("dtn:node1", cla.NewMemoryDialer())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = a.Proc.Run(ctx) }()

		cmd := []byte("1(dtn://peer:0.9:tcp://10.0.0.2:4556):[]:[{100,200,1000,[]}];")
		b := localSinkBundle("dtn:node1", "config", cmd, 1)
		id := a.Store.Add(b)
		a.Proc.Submit(procSignal(id))

		Eventually(func() int {
			return len(a.Table.AllContacts())
		}, time.Second, 5*time.Millisecond).Should(Equal(1))
		Expect(a.Table.LookupEID("dtn://peer")).To(HaveLen(1))
	})

	It("applies a SET_TIME management command", func() {
		a := newTestAgent("dtn:node1", cla.NewMemoryDialer())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = a.Proc.Run(ctx) }()

		payload := make([]byte, 9)
		payload[0] = 0x01
		binary.BigEndian.PutUint64(payload[1:], 5_000_000)

		b := localSinkBundle("dtn:node1", "management", payload, 1)
		id := a.Store.Add(b)
		a.Proc.Submit(procSignal(id))

		Eventually(func() uint64 {
			return a.Contact.Now()
		}, time.Second, 5*time.Millisecond).Should(BeNumerically(">=", 5_000_000))
	})

	It("forwards a bundle to a registered AAP sink", func() {
		a := newTestAgent("dtn:node1", cla.NewMemoryDialer())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = a.Proc.Run(ctx) }()

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		go func() { _ = a.AAP.Serve(ctx, ln) }()

		conn, err := net.Dial("tcp", ln.Addr().String())
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()
		parser := aap.NewParser(conn, 1<<20)

		_, err = parser.ReadMessage() // WELCOME
		Expect(err).NotTo(HaveOccurred())

		_, err = conn.Write(aap.Encode(&aap.Message{Type: aap.Register, EID: "app1"}))
		Expect(err).NotTo(HaveOccurred())
		_, err = parser.ReadMessage() // ACK
		Expect(err).NotTo(HaveOccurred())

		b := localSinkBundle("dtn:node1", "app1", []byte("payload"), 1)
		id := a.Store.Add(b)
		a.Proc.Submit(procSignal(id))

		msg, err := parser.ReadMessage()
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.Type).To(Equal(aap.RecvBundle))
		Expect(string(msg.Payload)).To(Equal("payload"))
	})
})
