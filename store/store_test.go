package store_test

import (
	"database/sql"
	"os"

	_ "github.com/mattn/go-sqlite3"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	. "github.com/planetarium/ncg-bridge/store"
)

var _ = Describe("Cursor store", func() {
	init := func() *sql.DB {
		sqlDB, err := sql.Open("sqlite3", "./test.db")
		Expect(err).NotTo(HaveOccurred())
		return sqlDB
	}

	cleanup := func(db *sql.DB) {
		Expect(db.Close()).To(Succeed())
		Expect(os.Remove("./test.db")).To(Succeed())
	}

	Context("when no cursor has been stored", func() {
		It("should return a zero location and ok = false", func() {
			sqlDB := init()
			defer cleanup(sqlDB)

			cursors := New(sqlDB)
			Expect(cursors.Init()).To(Succeed())

			location, ok, err := cursors.Load("nineChronicles")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(location).To(Equal(TransactionLocation{}))
		})
	})

	Context("when saving a cursor", func() {
		It("should load the same location back", func() {
			sqlDB := init()
			defer cleanup(sqlDB)

			cursors := New(sqlDB)
			Expect(cursors.Init()).To(Succeed())

			saved := TransactionLocation{
				BlockHash: "4582250d0da33b06779a8475d283d5dd210c683b9b999d74d03fac4f58fa6bce",
				TxID:      "96fd6a0c1e3a1b5a9e88d2cb57265e469ab0a62126b7eea5c3ffbdbdc4ab4e32",
			}
			Expect(cursors.Save("nineChronicles", saved)).To(Succeed())

			location, ok, err := cursors.Load("nineChronicles")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(location).To(Equal(saved))
		})

		It("should overwrite a previously stored location", func() {
			sqlDB := init()
			defer cleanup(sqlDB)

			cursors := New(sqlDB)
			Expect(cursors.Init()).To(Succeed())

			first := TransactionLocation{BlockHash: "aa", TxID: "01"}
			second := TransactionLocation{BlockHash: "bb", TxID: "02"}
			Expect(cursors.Save("ethereum", first)).To(Succeed())
			Expect(cursors.Save("ethereum", second)).To(Succeed())

			location, ok, err := cursors.Load("ethereum")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(location).To(Equal(second))
		})

		It("should keep cursors of different monitors independent", func() {
			sqlDB := init()
			defer cleanup(sqlDB)

			cursors := New(sqlDB)
			Expect(cursors.Init()).To(Succeed())

			ncLocation := TransactionLocation{BlockHash: "cc", TxID: "03"}
			ethLocation := TransactionLocation{BlockHash: "dd", TxID: "04"}
			Expect(cursors.Save("nineChronicles", ncLocation)).To(Succeed())
			Expect(cursors.Save("ethereum", ethLocation)).To(Succeed())

			location, ok, err := cursors.Load("nineChronicles")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(location).To(Equal(ncLocation))
		})
	})
})
