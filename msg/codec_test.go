package msg_test

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/ossim/msg"
)

var _ = Describe("Codec", func() {
	It("should lay out slot, action and resource in order", func() {
		buf := msg.Encode(msg.NewRelease(7, 3))

		Expect(buf).To(HaveLen(msg.FrameSize))
		Expect(binary.LittleEndian.Uint32(buf[0:])).To(Equal(uint32(7)))
		Expect(binary.LittleEndian.Uint32(buf[4:])).To(Equal(uint32(1)))
		Expect(binary.LittleEndian.Uint32(buf[8:])).To(Equal(uint32(3)))
	})

	It("should decode what it encodes", func() {
		m, err := msg.Decode(msg.Encode(msg.NewTerminate(4)))

		Expect(err).ToNot(HaveOccurred())
		Expect(m).To(Equal(msg.NewTerminate(4)))
	})

	It("should reject unknown actions", func() {
		buf := msg.Encode(msg.NewRequest(1, 1))
		binary.LittleEndian.PutUint32(buf[4:], 9)

		_, err := msg.Decode(buf)

		Expect(err).To(MatchError(msg.ErrUnknownAction))
	})

	It("should reject short frames", func() {
		_, err := msg.Decode([]byte{1, 2, 3})
		Expect(err).To(MatchError(msg.ErrShortFrame))
	})

	It("should carry the sender when marshaled", func() {
		in := msg.NewRequest(2, 9).From("worker-a")

		out, err := msg.Unmarshal(msg.Marshal(in))

		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(Equal(in))
	})

	It("should reject a truncated sender", func() {
		buf := msg.Marshal(msg.NewRequest(2, 9).From("worker-a"))

		_, err := msg.Unmarshal(buf[:len(buf)-3])

		Expect(err).To(MatchError(msg.ErrShortFrame))
	})

	It("should name actions", func() {
		Expect(msg.Request.String()).To(Equal("request"))
		Expect(msg.Action(5).String()).To(Equal("action(5)"))
		Expect(msg.Action(5).Valid()).To(BeFalse())
		Expect(msg.NewRequest(1, 2).String()).To(Equal("request{slot 1, resource 2}"))
		Expect(msg.NewTerminate(1).String()).To(Equal("terminate{slot 1}"))
	})
})
