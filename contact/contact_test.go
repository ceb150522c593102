package contact_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/dtncore/agent/cla"
	"github.com/dtncore/agent/contact"
	"github.com/dtncore/agent/routing"
)

func addNode(t *routing.Table, eid, claAddr string, windows [][2]uint64) {
	cmd := &routing.Command{
		Type:        routing.CmdAddNode,
		NodeEID:     eid,
		Reliability: 1.0,
		CLAAddr:     claAddr,
	}
	for _, w := range windows {
		cmd.Contacts = append(cmd.Contacts, routing.ContactSpec{From: w[0], To: w[1], Bitrate: 1000})
	}
	cmd.Apply(t)
}

var _ = Describe("Manager", func() {
	It("activates a contact whose window has opened and dials its CLA address", func() {
		table := routing.NewTable()
		dialer := cla.NewMemoryDialer()
		inbound := dialer.Register("tcp://n1")
		addNode(table, "dtn://n1", "tcp://n1", [][2]uint64{{0, 1000}})

		m := contact.New(table, dialer)
		m.SetTime(10)

		wait := m.Tick(context.Background())
		Expect(wait).To(BeNumerically(">", 0))

		contacts := table.LookupEID("dtn://n1")
		Expect(contacts).To(HaveLen(1))
		Expect(contacts[0].Active).To(BeTrue())

		select {
		case <-inbound:
			Fail("no bundle was queued, should not have received anything")
		default:
		}
	})

	It("deactivates a contact once its window has closed and fires OnContactOver", func() {
		table := routing.NewTable()
		dialer := cla.NewMemoryDialer()
		dialer.Register("tcp://n1")
		addNode(table, "dtn://n1", "tcp://n1", [][2]uint64{{0, 10}})

		m := contact.New(table, dialer)
		var over *routing.Contact
		m.OnContactOver = func(c *routing.Contact) { over = c }

		m.SetTime(5)
		m.Tick(context.Background())
		Expect(table.LookupEID("dtn://n1")[0].Active).To(BeTrue())

		m.SetTime(20)
		m.Tick(context.Background())
		Expect(table.LookupEID("dtn://n1")[0].Active).To(BeFalse())
		Expect(over).NotTo(BeNil())
	})

	It("hands off queued bundles to the CLA when a contact activates", func() {
		table := routing.NewTable()
		dialer := cla.NewMemoryDialer()
		dialer.Register("tcp://n1")
		addNode(table, "dtn://n1", "tcp://n1", [][2]uint64{{0, 1000}})
		table.LookupEID("dtn://n1")[0].Queue = []uint64{7, 8}

		m := contact.New(table, dialer)
		m.SetTime(1)

		var handed []uint64
		m.Handoff = func(_ context.Context, _ *routing.Contact, bundleID uint64) error {
			handed = append(handed, bundleID)
			return nil
		}

		m.Tick(context.Background())
		Expect(handed).To(ConsistOf(uint64(7), uint64(8)))
	})

	It("reports CheckingMaxPeriod as the wait when no contact is scheduled", func() {
		table := routing.NewTable()
		dialer := cla.NewMemoryDialer()
		m := contact.New(table, dialer)

		wait := m.Tick(context.Background())
		Expect(wait).To(Equal(contact.CheckingMaxPeriod))
	})

	It("Now reflects the offset applied by SetTime", func() {
		table := routing.NewTable()
		dialer := cla.NewMemoryDialer()
		m := contact.New(table, dialer)

		m.SetTime(123456)
		Expect(m.Now()).To(BeNumerically("~", uint64(123456), 1))

		time.Sleep(time.Millisecond)
		Expect(m.Now()).To(BeNumerically("~", uint64(123456), 1))
	})
})
