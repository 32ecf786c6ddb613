package receipt

import (
	"path/filepath"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = ginkgo.Describe("BoltDB", func() {
	var db *BoltDB

	ginkgo.BeforeEach(func() {
		var err error
		db, err = NewBoltDB(filepath.Join(ginkgo.GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())
	})

	ginkgo.AfterEach(func() {
		Expect(db.Close()).To(Succeed())
	})

	ginkgo.It("round-trips a vocabulary", func() {
		values := []string{"Grocery", "Meal", "Traffic"}
		Expect(db.SaveVocabulary("categories", values)).To(Succeed())

		loaded, err := db.GetVocabulary("categories")
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(Equal(values))
	})

	ginkgo.It("returns nil for a vocabulary that was never saved", func() {
		loaded, err := db.GetVocabulary("categories")
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(BeNil())
	})

	ginkgo.It("overwrites on save", func() {
		Expect(db.SaveVocabulary("paid_by", []string{"Helen", "Tony"})).To(Succeed())
		Expect(db.SaveVocabulary("paid_by", []string{"Helen", "Tony", "Alice"})).To(Succeed())

		loaded, err := db.GetVocabulary("paid_by")
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(Equal([]string{"Helen", "Tony", "Alice"}))
	})
})
