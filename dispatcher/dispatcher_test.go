package dispatcher_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	. "github.com/planetarium/ncg-bridge/dispatcher"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/planetarium/ncg-bridge/ninechronicles"
	"github.com/planetarium/ncg-bridge/signer"
	"github.com/planetarium/ncg-bridge/testutils"
	"github.com/renproject/phi"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var _ = Describe("Dispatcher", func() {
	minter := common.HexToAddress("0x47d082a115c63e7b58b1532d20e631538eafadde")
	recipient := common.HexToAddress("0x9093dd96c4bb6b44A9E0A522e2DE49641F146223")

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	newClient := func(node *testutils.MockNode) ninechronicles.Client {
		return ninechronicles.NewClient(ninechronicles.Options{
			Logger: logger,
			URL:    node.URL(),
			Retry: ninechronicles.RetryOptions{
				Base:        time.Millisecond,
				Max:         5 * time.Millisecond,
				Factor:      0.5,
				MaxAttempts: 2,
			},
		})
	}

	newDispatcher := func(primary *testutils.MockNode, others ...*testutils.MockNode) *Dispatcher {
		key, err := crypto.GenerateKey()
		Expect(err).NotTo(HaveOccurred())
		primaryClient := newClient(primary)
		stagers := []ninechronicles.Client{primaryClient}
		for _, node := range others {
			stagers = append(stagers, newClient(node))
		}
		return New(Options{Logger: logger, Minter: minter}, primaryClient, stagers, signer.NewMemory(key))
	}

	Context("when transferring", func() {
		It("should stage a signed transaction and return its id", func() {
			node := testutils.NewMockNode()
			defer node.Close()

			dispatcher := newDispatcher(node)
			txID, err := dispatcher.Transfer(context.Background(), recipient, decimal.RequireFromString("9.99"), "memo")
			Expect(err).NotTo(HaveOccurred())

			staged := node.Staged()
			Expect(staged).To(HaveLen(1))
			Expect(txID).To(Equal(testutils.TxIDOf(staged[0])))
		})

		It("should never build two unsigned transactions concurrently", func() {
			node := testutils.NewMockNode()
			defer node.Close()
			node.SetUnsignedLag(20 * time.Millisecond)

			dispatcher := newDispatcher(node)
			errs := make([]error, 8)
			phi.ParForAll(errs, func(i int) {
				_, errs[i] = dispatcher.Transfer(context.Background(), recipient, decimal.NewFromInt(int64(i+1)), "")
			})

			for _, err := range errs {
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(node.Staged()).To(HaveLen(8))
			Expect(node.MaxInFlightUnsigned()).To(Equal(1))
		})
	})

	Context("when staging to multiple nodes", func() {
		It("should succeed if at least one node accepts", func() {
			primary := testutils.NewMockNode()
			defer primary.Close()
			backup := testutils.NewMockNode()
			defer backup.Close()
			primary.RejectStage(true)

			dispatcher := newDispatcher(primary, backup)
			txID, err := dispatcher.Transfer(context.Background(), recipient, decimal.NewFromInt(5), "")
			Expect(err).NotTo(HaveOccurred())

			Expect(primary.Staged()).To(BeEmpty())
			staged := backup.Staged()
			Expect(staged).To(HaveLen(1))
			Expect(txID).To(Equal(testutils.TxIDOf(staged[0])))
		})

		It("should fail if every node rejects", func() {
			primary := testutils.NewMockNode()
			defer primary.Close()
			backup := testutils.NewMockNode()
			defer backup.Close()
			primary.RejectStage(true)
			backup.RejectStage(true)

			dispatcher := newDispatcher(primary, backup)
			_, err := dispatcher.Transfer(context.Background(), recipient, decimal.NewFromInt(5), "")
			Expect(err).To(Equal(ErrStageFailed))
		})
	})
})
