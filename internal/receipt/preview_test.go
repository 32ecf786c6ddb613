package receipt

import (
	"os"
	"path/filepath"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = ginkgo.Describe("LocalPreviewStore", func() {
	var (
		store *LocalPreviewStore
		dir   string
	)

	ginkgo.BeforeEach(func() {
		dir = ginkgo.GinkgoT().TempDir()

		var err error
		store, err = NewLocalPreviewStore(dir)
		Expect(err).NotTo(HaveOccurred())
	})

	ginkgo.It("creates the base directory when missing", func() {
		nested := filepath.Join(dir, "a", "b")
		_, err := NewLocalPreviewStore(nested)
		Expect(err).NotTo(HaveOccurred())
		Expect(nested).To(BeADirectory())
	})

	ginkgo.Describe("Save", func() {
		ginkgo.It("writes the file and returns its path", func() {
			path, err := store.Save("id-1_receipt.jpg", []byte("image bytes"))
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(Equal("id-1_receipt.jpg"))

			data, err := os.ReadFile(filepath.Join(dir, "id-1_receipt.jpg"))
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("image bytes")))
		})
	})

	ginkgo.Describe("Get", func() {
		ginkgo.It("returns the stored bytes", func() {
			_, err := store.Save("id-1_receipt.jpg", []byte("image bytes"))
			Expect(err).NotTo(HaveOccurred())

			data, err := store.Get("id-1_receipt.jpg")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("image bytes")))
		})

		ginkgo.It("fails for an unknown path", func() {
			_, err := store.Get("missing.jpg")
			Expect(err).To(HaveOccurred())
		})
	})

	ginkgo.Describe("Delete", func() {
		ginkgo.It("removes the file", func() {
			_, err := store.Save("id-1_receipt.jpg", []byte("image bytes"))
			Expect(err).NotTo(HaveOccurred())

			Expect(store.Delete("id-1_receipt.jpg")).To(Succeed())
			Expect(filepath.Join(dir, "id-1_receipt.jpg")).NotTo(BeAnExistingFile())
		})

		ginkgo.It("fails for an unknown path", func() {
			Expect(store.Delete("missing.jpg")).To(HaveOccurred())
		})
	})
})
