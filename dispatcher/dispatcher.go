// Package dispatcher builds, signs and stages Nine Chronicles transactions.
// The node assigns account nonces when building unsigned transactions, so
// every transfer holds a mutex across the build-sign-stage round trip to keep
// nonces strictly increasing.
package dispatcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/planetarium/ncg-bridge/ninechronicles"
	"github.com/planetarium/ncg-bridge/signer"
	"github.com/renproject/phi"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrStageFailed is returned when no node accepts a signed transaction.
var ErrStageFailed = fmt.Errorf("no node accepted the transaction")

// Options to configure a Dispatcher.
type Options struct {
	Logger logrus.FieldLogger

	// Minter of the NCG currency, part of the transfer action encoding.
	Minter common.Address
}

// Dispatcher serializes outgoing Nine Chronicles transfers. Unsigned
// transactions are built against the primary node; signed transactions are
// staged to every node.
type Dispatcher struct {
	opts    Options
	primary ninechronicles.Client
	stagers []ninechronicles.Client
	signer  signer.Signer

	mu sync.Mutex
}

// New returns a new Dispatcher. The stagers must include the primary node if
// it should also receive signed transactions.
func New(opts Options, primary ninechronicles.Client, stagers []ninechronicles.Client, signer signer.Signer) *Dispatcher {
	return &Dispatcher{
		opts:    opts,
		primary: primary,
		stagers: stagers,
		signer:  signer,
	}
}

// Address returns the address of the signing key, which is the sender of
// every dispatched transfer.
func (dispatcher *Dispatcher) Address() common.Address {
	return dispatcher.signer.Address()
}

// Transfer sends NCG from the custodial address to the recipient. It returns
// the id of the staged transaction. At most one transfer is in flight at any
// time.
func (dispatcher *Dispatcher) Transfer(ctx context.Context, recipient common.Address, amount decimal.Decimal, memo string) (string, error) {
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()

	plainValue, err := ninechronicles.EncodeTransferAsset(dispatcher.signer.Address(), recipient, dispatcher.opts.Minter, amount, memo)
	if err != nil {
		return "", fmt.Errorf("cannot encode transfer action: %v", err)
	}
	unsigned, err := dispatcher.primary.CreateUnsignedTx(ctx, plainValue, dispatcher.signer.PublicKey())
	if err != nil {
		return "", fmt.Errorf("cannot build unsigned tx: %v", err)
	}

	digest := sha256.Sum256(unsigned)
	r, s, err := dispatcher.signer.SignDigest(ctx, digest[:])
	if err != nil {
		return "", fmt.Errorf("cannot sign tx: %v", err)
	}
	signature, err := signer.EncodeDER(r, s)
	if err != nil {
		return "", fmt.Errorf("cannot encode signature: %v", err)
	}
	signed, err := dispatcher.primary.AttachSignature(ctx, unsigned, signature)
	if err != nil {
		return "", fmt.Errorf("cannot attach signature: %v", err)
	}

	txID := sha256.Sum256(signed)
	if err := dispatcher.stage(ctx, signed); err != nil {
		return "", err
	}
	return hex.EncodeToString(txID[:]), nil
}

// stage submits the signed transaction to every node in parallel. Staging
// succeeds if at least one node accepts the transaction.
func (dispatcher *Dispatcher) stage(ctx context.Context, signedTx []byte) error {
	accepted := make([]bool, len(dispatcher.stagers))
	phi.ParForAll(dispatcher.stagers, func(i int) {
		client := dispatcher.stagers[i]
		ok, err := client.StageTransaction(ctx, signedTx)
		if err != nil {
			dispatcher.opts.Logger.Warnf("[dispatcher] cannot stage tx to %v: %v", client.URL(), err)
			return
		}
		if !ok {
			dispatcher.opts.Logger.Warnf("[dispatcher] node %v rejected tx", client.URL())
			return
		}
		accepted[i] = true
	})

	for _, ok := range accepted {
		if ok {
			return nil
		}
	}
	return ErrStageFailed
}
