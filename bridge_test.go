package bridge_test

import (
	"math/big"
	"os"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/planetarium/ncg-bridge"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	_ "github.com/mattn/go-sqlite3"
	"github.com/planetarium/ncg-bridge/signer"
	"github.com/sirupsen/logrus"
)

var _ = Describe("Bridge", func() {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	newSigner := func() signer.Signer {
		key, err := crypto.GenerateKey()
		Expect(err).NotTo(HaveOccurred())
		return signer.NewMemory(key)
	}

	opts := func() bridge.Options {
		return bridge.DefaultOptions().
			WithNineChroniclesURLs([]string{"http://localhost:23061/graphql"}).
			WithEthereumURL("http://localhost:8545").
			WithEthereumChainID(big.NewInt(1)).
			WithWNCGContract(common.HexToAddress("0xf203ca1769ca8e9e8fe1da9d147db68b6c919817")).
			WithNCGMinter(common.HexToAddress("0x47d082a115c63e7b58b1532d20e631538eafadde")).
			WithHistoryDB("./history-test.db").
			WithCursorDB("./cursors-test.db")
	}

	AfterEach(func() {
		os.Remove("./history-test.db")
		os.Remove("./cursors-test.db")
	})

	Context("when constructing with incomplete options", func() {
		It("should reject missing endpoints", func() {
			_, err := bridge.New(logger, bridge.DefaultOptions(), newSigner(), newSigner(), nil)
			Expect(err).To(HaveOccurred())

			_, err = bridge.New(logger, bridge.DefaultOptions().WithNineChroniclesURLs([]string{"http://localhost:23061/graphql"}), newSigner(), newSigner(), nil)
			Expect(err).To(HaveOccurred())
		})

		It("should reject a missing wNCG contract address", func() {
			_, err := bridge.New(logger, opts().WithWNCGContract(common.Address{}), newSigner(), newSigner(), nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("wNCG contract"))
		})

		It("should reject a missing NCG minter address", func() {
			_, err := bridge.New(logger, opts().WithNCGMinter(common.Address{}), newSigner(), newSigner(), nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("minter address"))
		})
	})

	Context("when a signing backend derives an unexpected address", func() {
		It("should refuse to start", func() {
			mismatch := common.HexToAddress("0x9093dd96c4bb6b44A9E0A522e2DE49641F146223")

			_, err := bridge.New(logger, opts().WithExpectedNCGAddress(mismatch), newSigner(), newSigner(), nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("custodial key"))

			_, err = bridge.New(logger, opts().WithExpectedEthereumAddress(mismatch), newSigner(), newSigner(), nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("minter key"))
		})
	})

	Context("when constructing with complete options", func() {
		It("should wire both monitors", func() {
			_, err := bridge.New(logger, opts(), newSigner(), newSigner(), nil)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
