package ethereum_test

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	. "github.com/planetarium/ncg-bridge/ethereum"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/planetarium/ncg-bridge/gasprice"
	"github.com/planetarium/ncg-bridge/signer"
	"github.com/planetarium/ncg-bridge/watcher"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var burnTopic = crypto.Keccak256Hash([]byte("Burn(address,bytes32,uint256)"))

type mockBackend struct {
	mu       sync.Mutex
	tip      uint64
	headers  map[uint64]*types.Header
	logs     map[uint64][]types.Log
	gasPrice *big.Int
	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
	failures int
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		headers:  map[uint64]*types.Header{},
		logs:     map[uint64][]types.Log{},
		gasPrice: big.NewInt(20000000000),
		receipts: map[common.Hash]*types.Receipt{},
	}
}

// fail makes the next n RPCs against the backend return a transport error.
func (backend *mockBackend) fail(n int) {
	backend.mu.Lock()
	defer backend.mu.Unlock()
	backend.failures = n
}

func (backend *mockBackend) transportErr() error {
	if backend.failures > 0 {
		backend.failures--
		return fmt.Errorf("dial tcp: connection refused")
	}
	return nil
}

func (backend *mockBackend) BlockNumber(ctx context.Context) (uint64, error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if err := backend.transportErr(); err != nil {
		return 0, err
	}
	return backend.tip, nil
}

func (backend *mockBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()
	header, ok := backend.headers[number.Uint64()]
	if !ok {
		return nil, geth.NotFound
	}
	return header, nil
}

func (backend *mockBackend) HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if err := backend.transportErr(); err != nil {
		return nil, err
	}
	for _, header := range backend.headers {
		if header.Hash() == hash {
			return header, nil
		}
	}
	return nil, geth.NotFound
}

func (backend *mockBackend) FilterLogs(ctx context.Context, query geth.FilterQuery) ([]types.Log, error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()
	return backend.logs[query.FromBlock.Uint64()], nil
}

func (backend *mockBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return backend.gasPrice, nil
}

func (backend *mockBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if err := backend.transportErr(); err != nil {
		return 0, err
	}
	return 3, nil
}

func (backend *mockBackend) EstimateGas(ctx context.Context, call geth.CallMsg) (uint64, error) {
	return 60000, nil
}

func (backend *mockBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	backend.mu.Lock()
	defer backend.mu.Unlock()
	backend.sent = append(backend.sent, tx)
	backend.receipts[tx.Hash()] = &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		TxHash: tx.Hash(),
	}
	return nil
}

func (backend *mockBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()
	receipt, ok := backend.receipts[txHash]
	if !ok {
		return nil, geth.NotFound
	}
	return receipt, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// newTestClient builds a client with retry intervals short enough for tests.
func newTestClient(backend *mockBackend, contract common.Address) Client {
	return NewClient(ClientOptions{
		Logger:   quietLogger(),
		Contract: contract,
		Timeout:  time.Second,
		Retry: RetryOptions{
			Base:        time.Millisecond,
			Max:         5 * time.Millisecond,
			Factor:      0.6,
			MaxAttempts: 4,
		},
	}, backend)
}

var _ = Describe("Ethereum client", func() {
	contract := common.HexToAddress("0xf203ca1769ca8e9e8fe1da9d147db68b6c919817")

	Context("when reading the chain", func() {
		It("should resolve tips, hashes and indices", func() {
			backend := newMockBackend()
			header := &types.Header{Number: big.NewInt(12), Difficulty: big.NewInt(0)}
			backend.headers[12] = header
			backend.tip = 30

			client := newTestClient(backend, contract)
			ctx := context.Background()

			tip, err := client.TipIndex(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(tip).To(Equal(uint64(30)))

			hash, err := client.BlockHash(ctx, 12)
			Expect(err).NotTo(HaveOccurred())
			Expect(hash).To(Equal(header.Hash().Hex()))

			index, err := client.BlockIndex(ctx, header.Hash().Hex())
			Expect(err).NotTo(HaveOccurred())
			Expect(index).To(Equal(uint64(12)))
		})

		It("should retry transient transport failures before giving up", func() {
			backend := newMockBackend()
			backend.tip = 42
			backend.fail(3)

			client := newTestClient(backend, contract)
			tip, err := client.TipIndex(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(tip).To(Equal(uint64(42)))
		})

		It("should return the last error once the attempts are exhausted", func() {
			backend := newMockBackend()
			backend.tip = 42
			backend.fail(10)

			client := newTestClient(backend, contract)
			_, err := client.TipIndex(context.Background())
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("connection refused"))
		})

		It("should report an unknown block hash as not found without retrying", func() {
			backend := newMockBackend()
			client := newTestClient(backend, contract)

			_, err := client.BlockIndex(context.Background(), common.HexToHash("0xdeadbeef").Hex())
			Expect(err).To(MatchError(watcher.ErrBlockNotFound))
		})

		It("should distinguish a transport failure from a missing block", func() {
			backend := newMockBackend()
			backend.fail(10)

			client := newTestClient(backend, contract)
			_, err := client.BlockIndex(context.Background(), common.HexToHash("0xdeadbeef").Hex())
			Expect(err).To(HaveOccurred())
			Expect(err).NotTo(MatchError(watcher.ErrBlockNotFound))
		})
	})

	Context("when fetching burn events", func() {
		It("should parse the sender, amount, recipient word and log index", func() {
			backend := newMockBackend()
			sender := common.HexToAddress("0xD03C4C1d059151843B76C0F00B1c2E5F0FD3a253")
			to := common.HexToHash("0x1000000000019093dd96c4bb6b44a9e0a522e2de49641f146223000000000000")
			amount := new(big.Int).Mul(big.NewInt(10), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

			backend.logs[77] = []types.Log{{
				Address:   contract,
				Topics:    []common.Hash{burnTopic, common.BytesToHash(sender.Bytes()), to},
				Data:      common.LeftPadBytes(amount.Bytes(), 32),
				TxHash:    common.HexToHash("0xabc123"),
				BlockHash: common.HexToHash("0xblock"),
				Index:     2,
			}}

			client := newTestClient(backend, contract)
			events, err := client.EventsIn(context.Background(), 77)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(1))
			Expect(events[0].Sender).To(Equal(sender))
			Expect(events[0].Amount.Cmp(amount)).To(Equal(0))
			Expect([32]byte(events[0].To)).To(Equal([32]byte(to)))
			Expect(events[0].LogIndex).To(Equal(uint(2)))
		})

		It("should return no events for an empty block", func() {
			backend := newMockBackend()
			client := newTestClient(backend, contract)
			events, err := client.EventsIn(context.Background(), 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(BeEmpty())
		})
	})
})

var _ = Describe("Minter", func() {
	contract := common.HexToAddress("0xf203ca1769ca8e9e8fe1da9d147db68b6c919817")

	Context("when minting", func() {
		It("should send a mined dynamic-fee transaction capped by the gas policy", func() {
			key, err := crypto.GenerateKey()
			Expect(err).NotTo(HaveOccurred())

			backend := newMockBackend()
			backend.gasPrice = big.NewInt(100)

			policy := gasprice.NewComposite(
				gasprice.NewTip(decimal.RequireFromString("1.5")),
				gasprice.NewLimit(decimal.NewFromInt(120)),
			)
			minter, err := NewMinter(MinterOptions{
				Logger:              quietLogger(),
				Contract:            contract,
				ChainID:             big.NewInt(1),
				GasPolicy:           policy,
				PriorityFee:         big.NewInt(10),
				ReceiptPollInterval: time.Millisecond,
				Retry:               RetryOptions{Base: time.Millisecond, Max: 5 * time.Millisecond, Factor: 0.6, MaxAttempts: 4},
			}, backend, signer.NewMemory(key))
			Expect(err).NotTo(HaveOccurred())

			to := common.HexToAddress("0x9093dd96c4bb6b44A9E0A522e2DE49641F146223")
			amount := new(big.Int).Mul(big.NewInt(99), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

			txHash, err := minter.Mint(context.Background(), to, amount)
			Expect(err).NotTo(HaveOccurred())

			backend.mu.Lock()
			defer backend.mu.Unlock()
			Expect(backend.sent).To(HaveLen(1))
			tx := backend.sent[0]
			Expect(tx.Hash().Hex()).To(Equal(txHash))
			// floor(100 * 1.5) = 150, capped at 120.
			Expect(tx.GasFeeCap().Cmp(big.NewInt(120))).To(Equal(0))
			Expect(tx.GasTipCap().Cmp(big.NewInt(10))).To(Equal(0))
			Expect(tx.To()).To(Equal(&contract))

			sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), tx)
			Expect(err).NotTo(HaveOccurred())
			Expect(sender).To(Equal(crypto.PubkeyToAddress(key.PublicKey)))
		})

		It("should retry transient RPC failures while building the transaction", func() {
			key, err := crypto.GenerateKey()
			Expect(err).NotTo(HaveOccurred())

			backend := newMockBackend()
			backend.gasPrice = big.NewInt(100)
			backend.fail(2)

			policy := gasprice.NewLimit(decimal.NewFromInt(120))
			minter, err := NewMinter(MinterOptions{
				Logger:              quietLogger(),
				Contract:            contract,
				ChainID:             big.NewInt(1),
				GasPolicy:           policy,
				PriorityFee:         big.NewInt(10),
				ReceiptPollInterval: time.Millisecond,
				Retry:               RetryOptions{Base: time.Millisecond, Max: 5 * time.Millisecond, Factor: 0.6, MaxAttempts: 4},
			}, backend, signer.NewMemory(key))
			Expect(err).NotTo(HaveOccurred())

			to := common.HexToAddress("0x9093dd96c4bb6b44A9E0A522e2DE49641F146223")
			txHash, err := minter.Mint(context.Background(), to, big.NewInt(7))
			Expect(err).NotTo(HaveOccurred())

			backend.mu.Lock()
			defer backend.mu.Unlock()
			Expect(backend.sent).To(HaveLen(1))
			Expect(backend.sent[0].Hash().Hex()).To(Equal(txHash))
		})
	})
})
