package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/planetarium/ncg-bridge/gasprice"
	"github.com/planetarium/ncg-bridge/signer"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// wncgABI is the subset of the wNCG contract surface used by the bridge.
const wncgABI = `[
	{"inputs":[{"name":"_to","type":"address"},{"name":"_amount","type":"uint256"}],"name":"mint","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"_sender","type":"address"},{"indexed":true,"name":"_to","type":"bytes32"},{"indexed":false,"name":"_amount","type":"uint256"}],"name":"Burn","type":"event"}
]`

var DefaultReceiptPollInterval = 5 * time.Second

// MinterOptions to configure a Minter.
type MinterOptions struct {
	Logger              logrus.FieldLogger
	Contract            common.Address
	ChainID             *big.Int
	GasPolicy           gasprice.Policy
	PriorityFee         *big.Int
	ReceiptPollInterval time.Duration
	Timeout             time.Duration
	Retry               RetryOptions
}

// Minter submits mint transactions to the wNCG contract and blocks until
// they are mined.
type Minter struct {
	opts    MinterOptions
	backend Backend
	signer  signer.Signer
	abi     abi.ABI
}

// NewMinter returns a new Minter.
func NewMinter(opts MinterOptions, backend Backend, signer signer.Signer) (Minter, error) {
	parsed, err := abi.JSON(strings.NewReader(wncgABI))
	if err != nil {
		return Minter{}, err
	}
	if opts.ReceiptPollInterval == 0 {
		opts.ReceiptPollInterval = DefaultReceiptPollInterval
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultCallTimeout
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryOptions
	}
	return Minter{
		opts:    opts,
		backend: backend,
		signer:  signer,
		abi:     parsed,
	}, nil
}

// Mint mints the given base-unit amount of wNCG to the recipient. It blocks
// until the transaction is mined and returns its hash.
func (minter Minter) Mint(ctx context.Context, to common.Address, amount *big.Int) (string, error) {
	from := minter.signer.Address()

	var nonce uint64
	if err := minter.call(ctx, func(ctx context.Context) error {
		var err error
		nonce, err = minter.backend.PendingNonceAt(ctx, from)
		return err
	}); err != nil {
		return "", fmt.Errorf("cannot fetch nonce: %v", err)
	}
	var suggested *big.Int
	if err := minter.call(ctx, func(ctx context.Context) error {
		var err error
		suggested, err = minter.backend.SuggestGasPrice(ctx)
		return err
	}); err != nil {
		return "", fmt.Errorf("cannot fetch gas price: %v", err)
	}
	feeCap := minter.opts.GasPolicy.Apply(decimal.NewFromBigInt(suggested, 0)).BigInt()
	tipCap := minter.opts.PriorityFee
	if tipCap.Cmp(feeCap) > 0 {
		tipCap = feeCap
	}

	data, err := minter.abi.Pack("mint", to, amount)
	if err != nil {
		return "", fmt.Errorf("cannot pack mint call: %v", err)
	}
	var gas uint64
	if err := minter.call(ctx, func(ctx context.Context) error {
		var err error
		gas, err = minter.backend.EstimateGas(ctx, geth.CallMsg{
			From: from,
			To:   &minter.opts.Contract,
			Data: data,
		})
		return err
	}); err != nil {
		return "", fmt.Errorf("cannot estimate gas: %v", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   minter.opts.ChainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &minter.opts.Contract,
		Data:      data,
	})
	signed, err := signer.SignTx(ctx, minter.signer, tx, minter.opts.ChainID)
	if err != nil {
		return "", fmt.Errorf("cannot sign mint tx: %v", err)
	}
	// Resending an identical signed transaction is idempotent, so the send
	// is retried like any other RPC.
	if err := minter.call(ctx, func(ctx context.Context) error {
		return minter.backend.SendTransaction(ctx, signed)
	}); err != nil {
		return "", fmt.Errorf("cannot send mint tx: %v", err)
	}
	minter.opts.Logger.Infof("[ethereum] mint of %v to %v sent as %v", amount, to.Hex(), signed.Hash().Hex())

	receipt, err := minter.waitMined(ctx, signed.Hash())
	if err != nil {
		return "", err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("mint tx %v reverted", signed.Hash().Hex())
	}
	return signed.Hash().Hex(), nil
}

func (minter Minter) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return call(ctx, minter.opts.Logger, minter.opts.Timeout, minter.opts.Retry, fn)
}

// waitMined polls for the receipt of the transaction until it is mined or
// the context expires. The poll loop is its own retry, so each fetch only
// carries the per-call timeout.
func (minter Minter) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	for {
		callCtx, cancel := context.WithTimeout(ctx, minter.opts.Timeout)
		receipt, err := minter.backend.TransactionReceipt(callCtx, txHash)
		cancel()
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, geth.NotFound) {
			minter.opts.Logger.Warnf("[ethereum] error fetching receipt of %v: %v", txHash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%v while waiting for receipt of %v", ctx.Err(), txHash.Hex())
		case <-time.After(minter.opts.ReceiptPollInterval):
		}
	}
}
