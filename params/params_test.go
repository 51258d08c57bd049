package params_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/zamlet/params"
)

var _ = Describe("LamletParams", func() {
	It("computes derived geometry from Default()", func() {
		p := params.Default()
		Expect(p.JInK()).To(Equal(2))
		Expect(p.KCount()).To(Equal(2))
		Expect(p.JInL()).To(Equal(4))
		Expect(p.VlineBytes()).To(Equal(4 * 8))
		Expect(p.NSlots()).To(Equal(8))
	})

	It("validates successfully for Default()", func() {
		Expect(params.Default().Validate()).To(Succeed())
	})

	It("rejects a cache line size that doesn't divide evenly by j_in_k", func() {
		p := params.Default()
		p.JCols = 3
		p.CacheLineBytes = 64
		Expect(p.Validate()).To(HaveOccurred())
	})

	It("accepts the current schema version", func() {
		Expect(params.CheckSchemaVersion(params.SchemaVersion)).To(Succeed())
	})

	It("rejects an out-of-range schema version", func() {
		Expect(params.CheckSchemaVersion("99.0.0")).To(HaveOccurred())
	})

	It("round-trips through YAML", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "params.yaml")

		p := params.Default()
		Expect(params.SaveParams(path, p)).To(Succeed())

		loaded, err := params.LoadParams(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(Equal(p))
	})

	It("fails to load a missing file", func() {
		_, err := params.LoadParams(filepath.Join(os.TempDir(), "does-not-exist-zamlet.yaml"))
		Expect(err).To(HaveOccurred())
	})
})
