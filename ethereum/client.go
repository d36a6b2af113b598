// Package ethereum is the client of the EVM chain carrying the wrapped
// token. It fetches Burn logs from the wNCG contract for the monitor and
// submits mint transactions signed by the custodial minter key.
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/planetarium/ncg-bridge/watcher"
	"github.com/sirupsen/logrus"
)

// Backend is the subset of an Ethereum RPC client used by the bridge. It is
// implemented by *ethclient.Client.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error)
	FilterLogs(ctx context.Context, query geth.FilterQuery) ([]types.Log, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, call geth.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// RetryOptions are used for retrying failed RPCs.
type RetryOptions struct {
	Base        time.Duration // Time interval before first retry.
	Max         time.Duration // Maximum time interval between two retries.
	Factor      float64       // next_interval = previous_interval * (1 + factor)
	MaxAttempts int
}

// DefaultRetryOptions are the recommended retry settings.
var DefaultRetryOptions = RetryOptions{
	Base:        time.Second,
	Max:         10 * time.Second,
	Factor:      0.6,
	MaxAttempts: 5,
}

// DefaultCallTimeout is the recommended timeout for a single RPC.
var DefaultCallTimeout = 30 * time.Second

// burnTopic is the topic of the wNCG Burn(address,bytes32,uint256) event.
var burnTopic = crypto.Keccak256Hash([]byte("Burn(address,bytes32,uint256)"))

// BurnEvent is a burn of wrapped token observed on the wNCG contract. The To
// word packs the planet id and the Nine Chronicles recipient address.
type BurnEvent struct {
	TxHash    string
	BlockHash string
	Sender    common.Address
	Amount    *big.Int
	To        [32]byte
	LogIndex  uint
}

// TxID implements the watcher.Event interface.
func (event BurnEvent) TxID() string {
	return event.TxHash
}

// ClientOptions to configure a Client.
type ClientOptions struct {
	Logger   logrus.FieldLogger
	Contract common.Address
	Timeout  time.Duration
	Retry    RetryOptions
}

// Client reads blocks and Burn logs. Its methods implement the watcher
// fetcher for burn events.
type Client struct {
	opts    ClientOptions
	backend Backend
}

// NewClient returns a new Client watching the given wNCG contract.
func NewClient(opts ClientOptions, backend Backend) Client {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultCallTimeout
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryOptions
	}
	return Client{
		opts:    opts,
		backend: backend,
	}
}

// TipIndex returns the number of the chain head.
func (client Client) TipIndex(ctx context.Context) (uint64, error) {
	var tip uint64
	err := client.call(ctx, func(ctx context.Context) error {
		var err error
		tip, err = client.backend.BlockNumber(ctx)
		return err
	})
	return tip, err
}

// BlockHash returns the hash of the block at the given number.
func (client Client) BlockHash(ctx context.Context, index uint64) (string, error) {
	var hash string
	err := client.call(ctx, func(ctx context.Context) error {
		header, err := client.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(index))
		if err != nil {
			return err
		}
		hash = header.Hash().Hex()
		return nil
	})
	return hash, err
}

// BlockIndex returns the number of the block with the given hash. A block
// the node does not know is reported as watcher.ErrBlockNotFound; transport
// failures are returned as-is after the retries are exhausted.
func (client Client) BlockIndex(ctx context.Context, hash string) (uint64, error) {
	var index uint64
	err := client.call(ctx, func(ctx context.Context) error {
		header, err := client.backend.HeaderByHash(ctx, common.HexToHash(hash))
		if err != nil {
			return err
		}
		index = header.Number.Uint64()
		return nil
	})
	if errors.Is(err, geth.NotFound) {
		return 0, fmt.Errorf("%w: no header with hash %v", watcher.ErrBlockNotFound, hash)
	}
	return index, err
}

// EventsIn returns the Burn events emitted by the wNCG contract in the block
// at the given number, in log order.
func (client Client) EventsIn(ctx context.Context, index uint64) ([]BurnEvent, error) {
	number := new(big.Int).SetUint64(index)
	var logs []types.Log
	err := client.call(ctx, func(ctx context.Context) error {
		var err error
		logs, err = client.backend.FilterLogs(ctx, geth.FilterQuery{
			FromBlock: number,
			ToBlock:   number,
			Addresses: []common.Address{client.opts.Contract},
			Topics:    [][]common.Hash{{burnTopic}},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	events := make([]BurnEvent, 0, len(logs))
	for _, log := range logs {
		if len(log.Topics) != 3 {
			return nil, fmt.Errorf("unexpected burn log in tx %v: %v topics", log.TxHash.Hex(), len(log.Topics))
		}
		event := BurnEvent{
			TxHash:    log.TxHash.Hex(),
			BlockHash: log.BlockHash.Hex(),
			Sender:    common.BytesToAddress(log.Topics[1].Bytes()),
			Amount:    new(big.Int).SetBytes(log.Data),
			To:        [32]byte(log.Topics[2]),
			LogIndex:  log.Index,
		}
		events = append(events, event)
	}
	return events, nil
}

func (client Client) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return call(ctx, client.opts.Logger, client.opts.Timeout, client.opts.Retry, fn)
}

// call runs fn with a per-attempt timeout, retrying with exponential backoff
// up to the configured number of attempts. A not-found answer is a real
// answer and is returned without retrying.
func call(ctx context.Context, logger logrus.FieldLogger, timeout time.Duration, retry RetryOptions, fn func(ctx context.Context) error) error {
	interval := retry.Base
	var err error
	for attempt := 0; attempt < retry.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err = fn(callCtx)
		cancel()
		if err == nil || errors.Is(err, geth.NotFound) {
			return err
		}
		if logger != nil {
			logger.Warnf("[ethereum] rpc attempt %v failed: %v", attempt+1, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%v, last error = %v", ctx.Err(), err)
		case <-time.After(interval):
		}
		interval = time.Duration(float64(interval) * (1 + retry.Factor))
		if interval > retry.Max {
			interval = retry.Max
		}
	}
	return err
}
