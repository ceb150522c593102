package router_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/dtncore/agent/bundle"
	"github.com/dtncore/agent/router"
	"github.com/dtncore/agent/routing"
)

func addNode(t *routing.Table, eid string, reliability float64, windows [][3]uint64) {
	cmd := &routing.Command{
		Type:        routing.CmdAddNode,
		NodeEID:     eid,
		Reliability: reliability,
		CLAAddr:     "tcp://test",
	}
	for _, w := range windows {
		cmd.Contacts = append(cmd.Contacts, routing.ContactSpec{From: w[0], To: w[1], Bitrate: w[2]})
	}
	cmd.Apply(t)
}

var _ = Describe("Router", func() {
	It("chooses a single-fragment route and debits capacity on the one matching contact", func() {
		table := routing.NewTable()
		addNode(table, "dtn://n1", 1.0, [][3]uint64{{10, 110, 1000}})

		rt := router.New(table, router.DefaultConfig())
		route, err := rt.Route("dtn://n1", 500, bundle.PriorityNormal, 5, false, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(route.Fragments).To(HaveLen(1))
		Expect(route.Fragments[0].Length).To(BeEquivalentTo(500))

		contacts := table.LookupEID("dtn://n1")
		Expect(contacts).To(HaveLen(1))
		Expect(contacts[0].TotalCapacity).To(BeEquivalentTo(100000))
		Expect(contacts[0].Remaining[bundle.PriorityNormal]).To(BeEquivalentTo(100000 - 500))
	})

	It("splits a bundle across three contacts when no single one has enough capacity", func() {
		table := routing.NewTable()
		addNode(table, "dtn://n1", 1.0, [][3]uint64{
			{0, 150, 10},
			{150, 300, 10},
			{300, 450, 10},
		})

		rt := router.New(table, router.DefaultConfig())
		route, err := rt.Route("dtn://n1", 4000, bundle.PriorityNormal, 0, false, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(route.Fragments).To(HaveLen(3))

		var total uint64
		offset := uint64(0)
		for _, f := range route.Fragments {
			Expect(f.Offset).To(Equal(offset))
			total += f.Length
			offset += f.Length
			Expect(f.Contacts).To(HaveLen(1))
		}
		Expect(total).To(BeEquivalentTo(4000))
		Expect(offset).To(BeEquivalentTo(4000))
	})

	It("reports no-route when the destination is unknown", func() {
		table := routing.NewTable()
		rt := router.New(table, router.DefaultConfig())
		_, err := rt.Route("dtn://nowhere", 100, bundle.PriorityNormal, 0, false, 1)
		Expect(err).To(HaveOccurred())
	})

	It("Verify rejects a route whose contact has since expired", func() {
		table := routing.NewTable()
		addNode(table, "dtn://n1", 1.0, [][3]uint64{{10, 110, 1000}})
		rt := router.New(table, router.DefaultConfig())
		route, err := rt.Route("dtn://n1", 500, bundle.PriorityNormal, 5, false, 1)
		Expect(err).NotTo(HaveOccurred())

		Expect(rt.Verify(route, "dtn://n1", 200, 1000, bundle.PriorityNormal)).To(BeFalse())
		Expect(rt.Verify(route, "dtn://n1", 20, 1000, bundle.PriorityNormal)).To(BeTrue())
	})
})
