// Package observer turns confirmed chain events into exchange actions. Each
// observer consumes one monitor's envelopes, deduplicates events against the
// history database, applies the exchange policies and emits the counter-chain
// transaction.
//
// A history record is always inserted before the counter-chain transaction is
// emitted. A crash between the two leaves a record without a counter tx id;
// the event is never retried automatically and the operator resolves it from
// the page.
package observer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/planetarium/ncg-bridge/db"
	"github.com/planetarium/ncg-bridge/ethereum"
	"github.com/planetarium/ncg-bridge/ninechronicles"
	"github.com/planetarium/ncg-bridge/validator"
	"github.com/planetarium/ncg-bridge/watcher"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Transferor sends NCG from the custodial address. It is implemented by the
// dispatcher.
type Transferor interface {
	Address() common.Address
	Transfer(ctx context.Context, recipient common.Address, amount decimal.Decimal, memo string) (string, error)
}

// Minter mints wNCG to an Ethereum address.
type Minter interface {
	Mint(ctx context.Context, to common.Address, amount *big.Int) (string, error)
}

// Alerter pushes operator-facing signals: chat notifications for routine
// exchanges, pages for conditions needing intervention, and audit documents
// for every completed exchange.
type Alerter interface {
	Notify(text string)
	Page(summary string, details map[string]interface{})
	Audit(document map[string]interface{})
}

// NCGObserver handles confirmed NCG deposits to the custodial address by
// minting wNCG to the address named in the deposit memo.
type NCGObserver struct {
	logger     logrus.FieldLogger
	db         db.DB
	validator  validator.Validator
	minter     Minter
	transferor Transferor
	alerter    Alerter
}

// NewNCGObserver returns a new NCGObserver. The transferor is used for
// refunding rejected or clamped deposits.
func NewNCGObserver(logger logrus.FieldLogger, database db.DB, validator validator.Validator, minter Minter, transferor Transferor, alerter Alerter) *NCGObserver {
	return &NCGObserver{
		logger:     logger,
		db:         database,
		validator:  validator,
		minter:     minter,
		transferor: transferor,
		alerter:    alerter,
	}
}

// ObserveBlock implements the watcher observer for NCG transfer events.
func (observer *NCGObserver) ObserveBlock(ctx context.Context, envelope watcher.Envelope[ninechronicles.TransferEvent]) error {
	for _, event := range envelope.Events {
		if err := observer.observe(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (observer *NCGObserver) observe(ctx context.Context, event ninechronicles.TransferEvent) error {
	seen, err := observer.db.Has(db.NetworkNineChronicles, event.TxHash)
	if err != nil {
		return fmt.Errorf("cannot check history of tx %v: %v", event.TxHash, err)
	}
	if seen {
		observer.logger.Infof("[observer] deposit %v already processed, skipping", event.TxHash)
		return nil
	}

	amount := validator.Floor(event.Amount)

	if observer.validator.IsBanned(event.Sender) {
		// Deliberately no refund: funds from banned accounts stay frozen in
		// the custodial address until manually resolved.
		observer.logger.Warnf("[observer] deposit %v from banned account %v", event.TxHash, event.Sender.Hex())
		if err := observer.db.Insert(db.Record{
			SourceNetwork: db.NetworkNineChronicles,
			SourceTxID:    event.TxHash,
			Requested:     amount,
			Sent:          decimal.Zero,
			Refunded:      decimal.Zero,
			Status:        db.RecordStatusRejected,
		}); err != nil {
			return fmt.Errorf("cannot record banned deposit %v: %v", event.TxHash, err)
		}
		observer.alerter.Notify(fmt.Sprintf("Rejected deposit %v: sender %v is banned", event.TxHash, event.Sender.Hex()))
		return nil
	}

	recipient, err := validator.ParseRecipient(event.Memo)
	if err != nil {
		observer.logger.Warnf("[observer] deposit %v has no usable recipient: %v", event.TxHash, err)
		return observer.refundAll(ctx, event, amount, fmt.Sprintf("I can't recognize the Ethereum address: %v", event.Memo))
	}
	if observer.validator.BelowMinimum(amount) {
		observer.logger.Warnf("[observer] deposit %v of %v NCG is below the minimum", event.TxHash, amount)
		return observer.refundAll(ctx, event, amount, fmt.Sprintf("The amount %v is less than the minimum", amount))
	}

	effective, excess := observer.validator.Clamp(amount)
	fee := observer.validator.Fee(effective)
	sent := effective.Sub(fee)

	if err := observer.db.Insert(db.Record{
		SourceNetwork: db.NetworkNineChronicles,
		SourceTxID:    event.TxHash,
		Sink:          recipient.Hex(),
		Requested:     amount,
		Sent:          sent,
		Refunded:      decimal.Zero,
		Status:        db.RecordStatusNil,
	}); err != nil {
		return fmt.Errorf("cannot record deposit %v: %v", event.TxHash, err)
	}

	mintTx, err := observer.minter.Mint(ctx, recipient, validator.ToBaseUnits(sent))
	if err != nil {
		// The mint may or may not have landed. Never retry from here, hand
		// the event to the operator instead.
		observer.logger.Errorf("[observer] cannot mint %v wNCG for deposit %v: %v", sent, event.TxHash, err)
		observer.alerter.Page("wNCG mint failed", map[string]interface{}{
			"txId":      event.TxHash,
			"sender":    event.Sender.Hex(),
			"recipient": recipient.Hex(),
			"amount":    sent.String(),
			"error":     err.Error(),
		})
		return nil
	}
	if err := observer.db.UpdateCounterTx(db.NetworkNineChronicles, event.TxHash, mintTx); err != nil {
		return fmt.Errorf("cannot record mint tx of deposit %v: %v", event.TxHash, err)
	}
	if err := observer.db.UpdateStatus(db.NetworkNineChronicles, event.TxHash, db.RecordStatusEmitted); err != nil {
		return fmt.Errorf("cannot update status of deposit %v: %v", event.TxHash, err)
	}

	observer.alerter.Notify(fmt.Sprintf("wNCG minted: %v NCG from %v to %v (fee %v, deposit %v, mint %v)",
		sent, event.Sender.Hex(), recipient.Hex(), fee, event.TxHash, mintTx))
	observer.alerter.Audit(map[string]interface{}{
		"network":     db.NetworkNineChronicles,
		"txId":        event.TxHash,
		"sender":      event.Sender.Hex(),
		"recipient":   recipient.Hex(),
		"requested":   amount.String(),
		"sent":        sent.String(),
		"fee":         fee.String(),
		"counterTxId": mintTx,
	})

	if excess.IsPositive() {
		observer.refund(ctx, event, excess, fmt.Sprintf("The amount %v exceeds the maximum; refunding the excess", amount))
	}
	return nil
}

// refundAll rejects the deposit and sends the full amount back to the sender.
func (observer *NCGObserver) refundAll(ctx context.Context, event ninechronicles.TransferEvent, amount decimal.Decimal, reason string) error {
	if err := observer.db.Insert(db.Record{
		SourceNetwork: db.NetworkNineChronicles,
		SourceTxID:    event.TxHash,
		Requested:     amount,
		Sent:          decimal.Zero,
		Refunded:      decimal.Zero,
		Status:        db.RecordStatusRejected,
	}); err != nil {
		return fmt.Errorf("cannot record rejected deposit %v: %v", event.TxHash, err)
	}
	observer.refund(ctx, event, amount, reason)
	return nil
}

// refund sends the amount back to the depositor and annotates the record with
// the refund leg. A failed refund pages the operator.
func (observer *NCGObserver) refund(ctx context.Context, event ninechronicles.TransferEvent, amount decimal.Decimal, reason string) {
	refundTx, err := observer.transferor.Transfer(ctx, event.Sender, amount, reason)
	if err != nil {
		observer.logger.Errorf("[observer] cannot refund %v NCG of deposit %v: %v", amount, event.TxHash, err)
		observer.alerter.Page("NCG refund failed", map[string]interface{}{
			"txId":   event.TxHash,
			"sender": event.Sender.Hex(),
			"amount": amount.String(),
			"error":  err.Error(),
		})
		return
	}
	if err := observer.db.UpdateRefund(db.NetworkNineChronicles, event.TxHash, refundTx, amount); err != nil {
		observer.logger.Errorf("[observer] cannot record refund of deposit %v: %v", event.TxHash, err)
		return
	}
	if err := observer.db.UpdateStatus(db.NetworkNineChronicles, event.TxHash, db.RecordStatusRefunded); err != nil {
		observer.logger.Errorf("[observer] cannot update status of deposit %v: %v", event.TxHash, err)
		return
	}
	observer.alerter.Notify(fmt.Sprintf("Refunded %v NCG to %v for deposit %v (refund %v)", amount, event.Sender.Hex(), event.TxHash, refundTx))
}

// BurnObserver handles confirmed wNCG burns by transferring NCG to the Nine
// Chronicles address packed in the burn's recipient word.
type BurnObserver struct {
	logger     logrus.FieldLogger
	db         db.DB
	validator  validator.Validator
	transferor Transferor
	alerter    Alerter
}

// NewBurnObserver returns a new BurnObserver.
func NewBurnObserver(logger logrus.FieldLogger, database db.DB, validator validator.Validator, transferor Transferor, alerter Alerter) *BurnObserver {
	return &BurnObserver{
		logger:     logger,
		db:         database,
		validator:  validator,
		transferor: transferor,
		alerter:    alerter,
	}
}

// ObserveBlock implements the watcher observer for wNCG burn events.
func (observer *BurnObserver) ObserveBlock(ctx context.Context, envelope watcher.Envelope[ethereum.BurnEvent]) error {
	for _, event := range envelope.Events {
		if err := observer.observe(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (observer *BurnObserver) observe(ctx context.Context, event ethereum.BurnEvent) error {
	// A single Ethereum transaction can carry several burns, so the log index
	// is part of the dedup key.
	key := fmt.Sprintf("%v/%v", event.TxHash, event.LogIndex)

	seen, err := observer.db.Has(db.NetworkEthereum, key)
	if err != nil {
		return fmt.Errorf("cannot check history of burn %v: %v", key, err)
	}
	if seen {
		observer.logger.Infof("[observer] burn %v already processed, skipping", key)
		return nil
	}

	amount := validator.FromBaseUnits(event.Amount)

	if observer.validator.IsBanned(event.Sender) {
		observer.logger.Warnf("[observer] burn %v from banned account %v", key, event.Sender.Hex())
		if err := observer.db.Insert(db.Record{
			SourceNetwork: db.NetworkEthereum,
			SourceTxID:    key,
			Requested:     amount,
			Sent:          decimal.Zero,
			Refunded:      decimal.Zero,
			Status:        db.RecordStatusRejected,
		}); err != nil {
			return fmt.Errorf("cannot record banned burn %v: %v", key, err)
		}
		observer.alerter.Notify(fmt.Sprintf("Rejected burn %v: sender %v is banned", key, event.Sender.Hex()))
		return nil
	}

	recipient, err := validator.ParseBurnRecipient(event.To)
	if err != nil {
		observer.logger.Errorf("[observer] burn %v has no usable recipient: %v", key, err)
		if err := observer.db.Insert(db.Record{
			SourceNetwork: db.NetworkEthereum,
			SourceTxID:    key,
			Requested:     amount,
			Sent:          decimal.Zero,
			Refunded:      decimal.Zero,
			Status:        db.RecordStatusRejected,
		}); err != nil {
			return fmt.Errorf("cannot record rejected burn %v: %v", key, err)
		}
		observer.alerter.Page("wNCG burn with unusable recipient", map[string]interface{}{
			"txId":   event.TxHash,
			"sender": event.Sender.Hex(),
			"to":     fmt.Sprintf("%x", event.To),
			"amount": event.Amount.String(),
		})
		return nil
	}

	if amount.IsZero() {
		// Burns below 0.01 NCG round down to nothing on the native chain.
		observer.logger.Warnf("[observer] burn %v of %v base units is dust", key, event.Amount)
		if err := observer.db.Insert(db.Record{
			SourceNetwork: db.NetworkEthereum,
			SourceTxID:    key,
			Sink:          recipient.Hex(),
			Requested:     amount,
			Sent:          decimal.Zero,
			Refunded:      decimal.Zero,
			Status:        db.RecordStatusRejected,
		}); err != nil {
			return fmt.Errorf("cannot record dust burn %v: %v", key, err)
		}
		observer.alerter.Notify(fmt.Sprintf("Rejected burn %v: amount %v wei rounds down to zero NCG", key, event.Amount))
		return nil
	}

	if err := observer.db.Insert(db.Record{
		SourceNetwork: db.NetworkEthereum,
		SourceTxID:    key,
		Sink:          recipient.Hex(),
		Requested:     amount,
		Sent:          amount,
		Refunded:      decimal.Zero,
		Status:        db.RecordStatusNil,
	}); err != nil {
		return fmt.Errorf("cannot record burn %v: %v", key, err)
	}

	transferTx, err := observer.transferor.Transfer(ctx, recipient, amount, event.TxHash)
	if err != nil {
		observer.logger.Errorf("[observer] cannot transfer %v NCG for burn %v: %v", amount, key, err)
		observer.alerter.Page("NCG transfer failed", map[string]interface{}{
			"txId":      event.TxHash,
			"sender":    event.Sender.Hex(),
			"recipient": recipient.Hex(),
			"amount":    amount.String(),
			"error":     err.Error(),
		})
		return nil
	}
	if err := observer.db.UpdateCounterTx(db.NetworkEthereum, key, transferTx); err != nil {
		return fmt.Errorf("cannot record transfer tx of burn %v: %v", key, err)
	}
	if err := observer.db.UpdateStatus(db.NetworkEthereum, key, db.RecordStatusEmitted); err != nil {
		return fmt.Errorf("cannot update status of burn %v: %v", key, err)
	}

	observer.alerter.Notify(fmt.Sprintf("NCG transferred: %v NCG from %v to %v (burn %v, transfer %v)",
		amount, event.Sender.Hex(), recipient.Hex(), event.TxHash, transferTx))
	observer.alerter.Audit(map[string]interface{}{
		"network":     db.NetworkEthereum,
		"txId":        key,
		"sender":      event.Sender.Hex(),
		"recipient":   recipient.Hex(),
		"requested":   amount.String(),
		"sent":        amount.String(),
		"counterTxId": transferTx,
	})
	return nil
}
