package custody_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/dtncore/agent/bundle"
	"github.com/dtncore/agent/custody"
	"github.com/dtncore/agent/eid"
)

func newBPv6Bundle(source string, seq, ts uint64, payload string, singleton bool) *bundle.Bundle {
	src, _ := eid.Parse(source)
	b := &bundle.Bundle{
		Version:           bundle.Version6,
		Source:            src,
		CreationTimestamp: ts,
		SequenceNumber:    seq,
	}
	if singleton {
		b.Flags |= bundle.IsSingleton
	}
	b.Blocks = append(b.Blocks, bundle.ExtensionBlock{
		Type:        bundle.BlockPayload,
		BlockNumber: 1,
		Data:        []byte(payload),
	})
	return b
}

var _ = Describe("Manager", func() {
	var m *custody.Manager

	BeforeEach(func() {
		m = custody.New("dtn://local", custody.DefaultConfig())
	})

	It("accepts a singleton BP6 bundle and sets the custodian", func() {
		b := newBPv6Bundle("dtn://src", 1, 100, "hi", true)
		Expect(m.HasRedundantBundle(b)).To(BeFalse())
		Expect(m.StorageIsAcceptable(b, 64)).To(BeTrue())

		Expect(m.Accept(b)).To(Succeed())
		Expect(b.Retain.Has(bundle.CustodyAccepted)).To(BeTrue())
		Expect(b.Custodian.String()).To(Equal("dtn://local"))
		Expect(m.HasAccepted(b)).To(BeTrue())
	})

	It("rejects storage acceptability for a non-singleton BP6 bundle", func() {
		b := newBPv6Bundle("dtn://src", 1, 100, "hi", false)
		Expect(m.StorageIsAcceptable(b, 64)).To(BeFalse())
	})

	It("detects a redundant bundle sharing the same identity tuple", func() {
		b1 := newBPv6Bundle("dtn://src", 1, 100, "hi", true)
		Expect(m.Accept(b1)).To(Succeed())

		b2 := newBPv6Bundle("dtn://src", 1, 100, "hi", true)
		Expect(m.HasRedundantBundle(b2)).To(BeTrue())
	})

	It("rejects storage once the configured bundle count is reached", func() {
		small := custody.New("dtn://local", custody.Config{MaxBundleCount: 1, MaxBundleSize: 1 << 20})
		b1 := newBPv6Bundle("dtn://src1", 1, 100, "hi", true)
		Expect(small.Accept(b1)).To(Succeed())

		b2 := newBPv6Bundle("dtn://src2", 1, 100, "hi", true)
		Expect(small.StorageIsAcceptable(b2, 64)).To(BeFalse())
	})

	It("rejects storage for a bundle over the configured size limit", func() {
		small := custody.New("dtn://local", custody.Config{MaxBundleCount: 10, MaxBundleSize: 10})
		b := newBPv6Bundle("dtn://src", 1, 100, "hi", true)
		Expect(small.StorageIsAcceptable(b, 100)).To(BeFalse())
	})

	It("releases custody, clearing the retention constraint when nothing else holds it", func() {
		b := newBPv6Bundle("dtn://src", 1, 100, "hi", true)
		Expect(m.Accept(b)).To(Succeed())

		fullyReleased := m.Release(b)
		Expect(fullyReleased).To(BeTrue())
		Expect(b.Retain.Has(bundle.CustodyAccepted)).To(BeFalse())
		Expect(m.HasAccepted(b)).To(BeFalse())
	})

	It("keeps a bundle alive on release if another retention constraint remains", func() {
		b := newBPv6Bundle("dtn://src", 1, 100, "hi", true)
		Expect(m.Accept(b)).To(Succeed())
		b.Retain |= bundle.ForwardPending

		fullyReleased := m.Release(b)
		Expect(fullyReleased).To(BeFalse())
	})

	It("rejects Accept for a BP7 bundle", func() {
		src, _ := eid.Parse("dtn://src")
		b := &bundle.Bundle{Version: bundle.Version7, Source: src}
		Expect(m.Accept(b)).To(HaveOccurred())
	})

	It("finds an accepted bundle by identity", func() {
		b := newBPv6Bundle("dtn://src", 1, 100, "hi", true)
		Expect(m.Accept(b)).To(Succeed())

		got, ok := m.GetByIdentity(b.Identity())
		Expect(ok).To(BeTrue())
		Expect(got).To(BeIdenticalTo(b))
	})
})
