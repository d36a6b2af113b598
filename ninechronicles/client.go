// Package ninechronicles is the client of a Nine Chronicles GraphQL node. It
// covers the read side consumed by the monitor (tip, blocks, transfer
// events) and the write side consumed by the dispatcher (unsigned
// transaction building, signature attachment, staging).
package ninechronicles

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/machinebox/graphql"
	"github.com/planetarium/ncg-bridge/watcher"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RetryOptions are used for retrying failed queries.
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

// DefaultCallTimeout is the recommended timeout for a single query.
var DefaultCallTimeout = 30 * time.Second

// TransferEvent is a transfer of the native asset into the custodial address.
type TransferEvent struct {
	TxHash    string
	BlockHash string
	Sender    common.Address
	Amount    decimal.Decimal
	Memo      string
}

// TxID implements the watcher.Event interface.
func (event TransferEvent) TxID() string {
	return event.TxHash
}

// Options to configure a Client.
type Options struct {
	Logger    logrus.FieldLogger
	URL       string
	Recipient common.Address // The custodial address whose deposits are watched.
	Timeout   time.Duration
	Retry     RetryOptions
}

// Client is a Nine Chronicles GraphQL client. Its read-side methods implement
// the watcher fetcher for transfer events.
type Client struct {
	logger    logrus.FieldLogger
	url       string
	recipient common.Address
	timeout   time.Duration
	retry     RetryOptions
	gql       *graphql.Client
}

// NewClient returns a new Client.
func NewClient(options Options) Client {
	if options.Timeout == 0 {
		options.Timeout = DefaultCallTimeout
	}
	if options.Retry.MaxAttempts == 0 {
		options.Retry = DefaultRetryOptions
	}
	return Client{
		logger:    options.Logger,
		url:       options.URL,
		recipient: options.Recipient,
		timeout:   options.Timeout,
		retry:     options.Retry,
		gql:       graphql.NewClient(options.URL),
	}
}

// URL returns the node endpoint of the client.
func (client Client) URL() string {
	return client.url
}

// TipIndex returns the index of the chain tip.
func (client Client) TipIndex(ctx context.Context) (uint64, error) {
	req := graphql.NewRequest(`
		query {
			chainQuery {
				blockQuery {
					blocks(desc: true, limit: 1) {
						index
					}
				}
			}
		}`)

	var resp struct {
		ChainQuery struct {
			BlockQuery struct {
				Blocks []struct {
					Index uint64 `json:"index"`
				} `json:"blocks"`
			} `json:"blockQuery"`
		} `json:"chainQuery"`
	}
	if err := client.run(ctx, req, &resp); err != nil {
		return 0, err
	}
	if len(resp.ChainQuery.BlockQuery.Blocks) == 0 {
		return 0, fmt.Errorf("empty chain")
	}
	return resp.ChainQuery.BlockQuery.Blocks[0].Index, nil
}

// BlockHash returns the hash of the block at the given index.
func (client Client) BlockHash(ctx context.Context, index uint64) (string, error) {
	req := graphql.NewRequest(`
		query($index: ID!) {
			chainQuery {
				blockQuery {
					block(index: $index) {
						hash
					}
				}
			}
		}`)
	req.Var("index", index)

	var resp struct {
		ChainQuery struct {
			BlockQuery struct {
				Block *struct {
					Hash string `json:"hash"`
				} `json:"block"`
			} `json:"blockQuery"`
		} `json:"chainQuery"`
	}
	if err := client.run(ctx, req, &resp); err != nil {
		return "", err
	}
	if resp.ChainQuery.BlockQuery.Block == nil {
		return "", fmt.Errorf("no block at index %v", index)
	}
	return resp.ChainQuery.BlockQuery.Block.Hash, nil
}

// BlockIndex returns the index of the block with the given hash. A block the
// node does not know is reported as watcher.ErrBlockNotFound; transport
// failures are returned as-is after the retries are exhausted.
func (client Client) BlockIndex(ctx context.Context, hash string) (uint64, error) {
	req := graphql.NewRequest(`
		query($hash: ID!) {
			chainQuery {
				blockQuery {
					block(hash: $hash) {
						index
					}
				}
			}
		}`)
	req.Var("hash", hash)

	var resp struct {
		ChainQuery struct {
			BlockQuery struct {
				Block *struct {
					Index uint64 `json:"index"`
				} `json:"block"`
			} `json:"blockQuery"`
		} `json:"chainQuery"`
	}
	if err := client.run(ctx, req, &resp); err != nil {
		return 0, err
	}
	if resp.ChainQuery.BlockQuery.Block == nil {
		return 0, fmt.Errorf("%w: no block with hash %v", watcher.ErrBlockNotFound, hash)
	}
	return resp.ChainQuery.BlockQuery.Block.Index, nil
}

// EventsIn returns the transfers of the native asset to the custodial address
// in the block at the given index, in intra-block order.
func (client Client) EventsIn(ctx context.Context, index uint64) ([]TransferEvent, error) {
	hash, err := client.BlockHash(ctx, index)
	if err != nil {
		return nil, err
	}
	return client.TransferEvents(ctx, hash)
}

// TransferEvents returns the transfers of the native asset to the custodial
// address in the block with the given hash.
func (client Client) TransferEvents(ctx context.Context, blockHash string) ([]TransferEvent, error) {
	req := graphql.NewRequest(`
		query($blockHash: ByteString!, $recipient: Address!) {
			transferNCGHistories(blockHash: $blockHash, recipient: $recipient) {
				txId
				blockHash
				sender
				amount
				memo
			}
		}`)
	req.Var("blockHash", blockHash)
	req.Var("recipient", client.recipient.Hex())

	var resp struct {
		TransferNCGHistories []struct {
			TxID      string `json:"txId"`
			BlockHash string `json:"blockHash"`
			Sender    string `json:"sender"`
			Amount    string `json:"amount"`
			Memo      string `json:"memo"`
		} `json:"transferNCGHistories"`
	}
	if err := client.run(ctx, req, &resp); err != nil {
		return nil, err
	}

	events := make([]TransferEvent, 0, len(resp.TransferNCGHistories))
	for _, history := range resp.TransferNCGHistories {
		amount, err := decimal.NewFromString(history.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %v in tx %v: %v", history.Amount, history.TxID, err)
		}
		events = append(events, TransferEvent{
			TxHash:    history.TxID,
			BlockHash: history.BlockHash,
			Sender:    common.HexToAddress(history.Sender),
			Amount:    amount,
			Memo:      history.Memo,
		})
	}
	return events, nil
}

// CreateUnsignedTx asks the node to build an unsigned transaction wrapping
// the given action. The node assigns the nonce of the sender account, which
// is why unsigned transaction builds must be serialized by the caller.
func (client Client) CreateUnsignedTx(ctx context.Context, plainValue []byte, publicKey []byte) ([]byte, error) {
	req := graphql.NewRequest(`
		query($publicKey: String!, $plainValue: String!) {
			transaction {
				createUnsignedTx(publicKey: $publicKey, plainValue: $plainValue)
			}
		}`)
	req.Var("publicKey", base64.StdEncoding.EncodeToString(publicKey))
	req.Var("plainValue", base64.StdEncoding.EncodeToString(plainValue))

	var resp struct {
		Transaction struct {
			CreateUnsignedTx string `json:"createUnsignedTx"`
		} `json:"transaction"`
	}
	if err := client.run(ctx, req, &resp); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(resp.Transaction.CreateUnsignedTx)
}

// AttachSignature asks the node to combine an unsigned transaction with a
// DER-encoded signature into a signed transaction.
func (client Client) AttachSignature(ctx context.Context, unsignedTx, signature []byte) ([]byte, error) {
	req := graphql.NewRequest(`
		query($unsignedTransaction: String!, $signature: String!) {
			transaction {
				attachSignature(unsignedTransaction: $unsignedTransaction, signature: $signature)
			}
		}`)
	req.Var("unsignedTransaction", base64.StdEncoding.EncodeToString(unsignedTx))
	req.Var("signature", base64.StdEncoding.EncodeToString(signature))

	var resp struct {
		Transaction struct {
			AttachSignature string `json:"attachSignature"`
		} `json:"transaction"`
	}
	if err := client.run(ctx, req, &resp); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(resp.Transaction.AttachSignature)
}

// StageTransaction submits a signed transaction to the node's mempool. It
// returns whether the node accepted it.
func (client Client) StageTransaction(ctx context.Context, signedTx []byte) (bool, error) {
	req := graphql.NewRequest(`
		mutation($payload: String!) {
			stageTransaction(payload: $payload)
		}`)
	req.Var("payload", base64.StdEncoding.EncodeToString(signedTx))

	var resp struct {
		StageTransaction bool `json:"stageTransaction"`
	}
	if err := client.run(ctx, req, &resp); err != nil {
		return false, err
	}
	return resp.StageTransaction, nil
}

// run executes the request with a per-call timeout, retrying with
// exponential backoff up to the configured number of attempts.
func (client Client) run(ctx context.Context, req *graphql.Request, resp interface{}) error {
	interval := client.retry.Base
	var err error
	for attempt := 0; attempt < client.retry.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, client.timeout)
		err = client.gql.Run(callCtx, req, resp)
		cancel()
		if err == nil {
			return nil
		}
		if client.logger != nil {
			client.logger.Warnf("[ninechronicles] query attempt %v against %v failed: %v", attempt+1, client.url, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%v, last error = %v", ctx.Err(), err)
		case <-time.After(interval):
		}
		interval = time.Duration(float64(interval) * (1 + client.retry.Factor))
		if interval > client.retry.Max {
			interval = client.retry.Max
		}
	}
	return err
}
