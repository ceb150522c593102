package optimizer_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/dtncore/agent/bundle"
	"github.com/dtncore/agent/optimizer"
	"github.com/dtncore/agent/router"
	"github.com/dtncore/agent/routing"
)

func addNode(t *routing.Table, eid string, windows [][3]uint64) {
	cmd := &routing.Command{Type: routing.CmdAddNode, NodeEID: eid, Reliability: 1.0, CLAAddr: "tcp://test"}
	for _, w := range windows {
		cmd.Contacts = append(cmd.Contacts, routing.ContactSpec{From: w[0], To: w[1], Bitrate: w[2]})
	}
	cmd.Apply(t)
}

var _ = Describe("Optimizer.ShouldRun", func() {
	var table *routing.Table
	var rt *router.Router
	var opt *optimizer.Optimizer

	BeforeEach(func() {
		table = routing.NewTable()
		rt = router.New(table, router.DefaultConfig())
		opt = optimizer.New(table, rt, optimizer.DefaultConfig())
	})

	It("does not run while a contact is active", func() {
		Expect(opt.ShouldRun(0, 1, 1000, true)).To(BeFalse())
	})

	It("does not run if the next contact is too close", func() {
		Expect(opt.ShouldRun(0, 0, 10, true)).To(BeFalse())
	})

	It("runs when idle and the next contact is far off", func() {
		Expect(opt.ShouldRun(0, 0, 1000, true)).To(BeTrue())
	})

	It("runs when idle with no scheduled contact at all", func() {
		Expect(opt.ShouldRun(0, 0, 0, false)).To(BeTrue())
	})
})

var _ = Describe("Optimizer.Run", func() {
	It("resorts a contact's FIFO by priority descending", func() {
		table := routing.NewTable()
		addNode(table, "dtn://n1", [][3]uint64{{0, 1000, 1000}})
		rt := router.New(table, router.DefaultConfig())

		_, err := rt.Route("dtn://n1", 10, bundle.PriorityBulk, 0, false, 1)
		Expect(err).NotTo(HaveOccurred())
		_, err = rt.Route("dtn://n1", 10, bundle.PriorityNormal, 0, false, 2)
		Expect(err).NotTo(HaveOccurred())
		_, err = rt.Route("dtn://n1", 10, bundle.PriorityExpedited, 0, false, 3)
		Expect(err).NotTo(HaveOccurred())

		opt := optimizer.New(table, rt, optimizer.DefaultConfig())
		opt.Run()

		contacts := table.LookupEID("dtn://n1")
		Expect(contacts).To(HaveLen(1))
		Expect(contacts[0].Queue).To(Equal([]uint64{3, 2, 1}))
	})

	It("returns 0 when nothing is routed yet", func() {
		table := routing.NewTable()
		rt := router.New(table, router.DefaultConfig())
		opt := optimizer.New(table, rt, optimizer.DefaultConfig())
		Expect(opt.Run()).To(Equal(0))
	})
})
