package routing_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/dtncore/agent/routing"
)

var _ = Describe("Table", func() {
	It("looks up a node by its own EID after AddNode", func() {
		t := routing.NewTable()
		cmd, err := routing.ParseConfigCommand([]byte(
			"1(dtn://n1:0.9:tcp://10.0.0.1:4556):[(dtn://n1/app)]:[{10,110,1000,[]}];"))
		Expect(err).NotTo(HaveOccurred())
		cmd.Apply(t)

		contacts := t.LookupEID("dtn://n1")
		Expect(contacts).To(HaveLen(1))
		Expect(contacts[0].From).To(BeEquivalentTo(10))
		Expect(contacts[0].To).To(BeEquivalentTo(110))
		Expect(contacts[0].TotalCapacity).To(BeEquivalentTo(100000))
	})

	It("resolves reachability through a node's extra endpoints", func() {
		t := routing.NewTable()
		cmd, _ := routing.ParseConfigCommand([]byte(
			"1(dtn://n1:0.5:tcp://addr):[(dtn://n1/app)]:[{0,100,10,[]}];"))
		cmd.Apply(t)

		Expect(t.LookupEID("dtn://n1/app")).To(HaveLen(1))
	})

	It("rejects a contact overlapping an existing contact of the same node", func() {
		t := routing.NewTable()
		add, _ := routing.ParseConfigCommand([]byte(
			"1(dtn://n1:0.5:addr):[]:[{0,100,10,[]}];"))
		add.Apply(t)

		update, _ := routing.ParseConfigCommand([]byte(
			"2(dtn://n1:0.5:addr):[]:[{0,100,10,[]},{50,150,20,[]}];"))
		update.Apply(t)

		contacts := t.LookupEID("dtn://n1")
		Expect(contacts).To(HaveLen(1), "overlapping window must be rejected")
	})

	It("removes the whole node on an empty-body delete", func() {
		t := routing.NewTable()
		add, _ := routing.ParseConfigCommand([]byte(
			"1(dtn://n1:0.5:addr):[]:[{0,100,10,[]}];"))
		add.Apply(t)

		del, err := routing.ParseConfigCommand([]byte("3(dtn://n1::):[]:[];"))
		Expect(err).NotTo(HaveOccurred())
		del.Apply(t)

		Expect(t.LookupEID("dtn://n1")).To(BeEmpty())
	})
})

var _ = Describe("ParseConfigCommand", func() {
	It("parses a multi-endpoint, multi-contact add command", func() {
		cmd, err := routing.ParseConfigCommand([]byte(
			"1(dtn://n1:0.75:tcp://1.2.3.4:4556):[(dtn://n1/a),(dtn://n1/b)]:" +
				"[{10,110,1200,[(dtn://n1/a)]},{200,300,500,[]}];"))
		Expect(err).NotTo(HaveOccurred())
		Expect(cmd.Type).To(Equal(routing.CmdAddNode))
		Expect(cmd.NodeEID).To(Equal("dtn://n1"))
		Expect(cmd.Reliability).To(Equal(0.75))
		Expect(cmd.CLAAddr).To(Equal("tcp://1.2.3.4:4556"))
		Expect(cmd.Endpoints).To(Equal([]string{"dtn://n1/a", "dtn://n1/b"}))
		Expect(cmd.Contacts).To(HaveLen(2))
		Expect(cmd.Contacts[0].From).To(BeEquivalentTo(10))
		Expect(cmd.Contacts[0].Endpoints).To(Equal([]string{"dtn://n1/a"}))
	})

	It("rejects an unknown command byte", func() {
		_, err := routing.ParseConfigCommand([]byte("9(dtn://n1::):[]:[];"))
		Expect(err).To(HaveOccurred())
	})

	It("rejects a truncated command", func() {
		_, err := routing.ParseConfigCommand([]byte("1(dtn://n1:0.5:addr):[]"))
		Expect(err).To(HaveOccurred())
	})
})
