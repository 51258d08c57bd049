package monitor_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/zamlet/monitor"
)

var _ = Describe("Tracer", func() {
	It("builds an append-only parent/child tree", func() {
		tr := monitor.NewTracer()
		root := tr.StartSpan(0, "vload", nil)
		child := tr.StartSpan(1, "witem-wait", root)

		Expect(root.Children).To(ConsistOf(child))
		Expect(child.Parent).To(Equal(root))
		Expect(tr.Roots()).To(ConsistOf(root))
	})

	It("records end detail and ignores a second End", func() {
		tr := monitor.NewTracer()
		s := tr.StartSpan(0, "wait", nil)
		Expect(s.Closed()).To(BeFalse())

		tr.EndSpan(5, s, "fault")
		Expect(s.Closed()).To(BeTrue())
		Expect(s.Detail()).To(Equal("fault"))

		tr.EndSpan(6, s, "ok")
		Expect(s.Detail()).To(Equal("fault"))
	})

	It("logs to the configured writer", func() {
		var buf bytes.Buffer
		tr := monitor.NewTracer(monitor.WithOutput(&buf))
		s := tr.StartSpan(3, "vstore", nil)
		tr.EndSpan(4, s, "ok")

		Expect(buf.String()).To(ContainSubstring("start"))
		Expect(buf.String()).To(ContainSubstring("vstore"))
		Expect(buf.String()).To(ContainSubstring("end"))
	})
})
