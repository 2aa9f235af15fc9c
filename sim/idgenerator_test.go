package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("IDGenerator", func() {
	It("should count from one with a prefix", func() {
		g := NewSequentialIDGenerator("w")

		Expect(g.Generate()).To(Equal("w1"))
		Expect(g.Generate()).To(Equal("w2"))
	})

	It("should generate distinct xids", func() {
		g := NewXIDGenerator()

		Expect(g.Generate()).NotTo(Equal(g.Generate()))
	})

	It("should share one xid generator by default", func() {
		Expect(GetIDGenerator()).To(Equal(NewXIDGenerator()))
		Expect(GetIDGenerator()).To(BeIdenticalTo(GetIDGenerator()))
	})
})
