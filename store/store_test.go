package store_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/dtncore/agent/bundle"
	"github.com/dtncore/agent/eid"
	"github.com/dtncore/agent/store"
)

func newTestBundle(payload string) *bundle.Bundle {
	dest, _ := eid.Parse("dtn:peer")
	b := &bundle.Bundle{
		Version: bundle.Version7,
		Dest:    dest,
	}
	b.Blocks = append(b.Blocks, bundle.ExtensionBlock{
		Type:        bundle.BlockPayload,
		BlockNumber: 1,
		Data:        []byte(payload),
	})
	return b
}

var _ = Describe("Store", func() {
	var s *store.Store

	BeforeEach(func() {
		s = store.New()
	})

	It("assigns non-zero monotonic ids", func() {
		id1 := s.Add(newTestBundle("a"))
		id2 := s.Add(newTestBundle("bb"))
		Expect(id1).NotTo(Equal(store.Invalid))
		Expect(id2).NotTo(Equal(store.Invalid))
		Expect(id2).To(BeNumerically(">", id1))
	})

	It("round-trips a bundle through add/get/contains/delete", func() {
		b := newTestBundle("hello")
		id := s.Add(b)

		Expect(s.Contains(id)).To(BeTrue())
		Expect(s.Get(id)).To(BeIdenticalTo(b))

		got, ok := s.Delete(id)
		Expect(ok).To(BeTrue())
		Expect(got).To(BeIdenticalTo(b))
		Expect(s.Contains(id)).To(BeFalse())
		Expect(s.Get(id)).To(BeNil())
	})

	It("keeps advancing the id counter instead of reusing a freed id", func() {
		id1 := s.Add(newTestBundle("a"))
		_, _ = s.Delete(id1)
		id2 := s.Add(newTestBundle("b"))
		Expect(id2).To(Equal(id1 + 1))
	})

	It("tracks byte usage as payloads are added and removed", func() {
		id1 := s.Add(newTestBundle("abc"))
		id2 := s.Add(newTestBundle("de"))
		Expect(s.BytesUsed()).To(BeEquivalentTo(5))

		_, _ = s.Delete(id1)
		Expect(s.BytesUsed()).To(BeEquivalentTo(2))

		_, _ = s.Delete(id2)
		Expect(s.BytesUsed()).To(BeEquivalentTo(0))
	})

	It("rejects an add that would exceed the configured byte cap", func() {
		_, err := s.AddWithCapacity(newTestBundle("0123456789"), 5)
		Expect(err).To(HaveOccurred())
		Expect(s.Len()).To(Equal(0))
	})

	It("accepts an add within the configured byte cap", func() {
		id, err := s.AddWithCapacity(newTestBundle("ab"), 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(id).NotTo(Equal(store.Invalid))
	})

	It("visits every stored bundle via Each", func() {
		s.Add(newTestBundle("a"))
		s.Add(newTestBundle("b"))
		s.Add(newTestBundle("c"))

		seen := 0
		s.Each(func(id uint16, b *bundle.Bundle) bool {
			seen++
			return true
		})
		Expect(seen).To(Equal(3))
	})
})
