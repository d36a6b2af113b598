// Package watcher drives the confirmed-block loop of a single chain. A
// watcher advances block by block behind the chain tip by a configured
// confirmation depth, hands each block's events to an observer, and persists
// a (block hash, tx id) cursor after every observed block so that a restart
// resumes without skipping or re-emitting events.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/planetarium/ncg-bridge/store"
)

// Event is a single on-chain event observed by a watcher.
type Event interface {
	// TxID returns the id of the transaction that produced the event.
	TxID() string
}

// Envelope is one block's worth of events, delivered to the observer
// atomically and in on-chain intra-block order.
type Envelope[E Event] struct {
	BlockHash string
	Events    []E
}

// Fetcher provides the chain-specific primitives of the loop.
type Fetcher[E Event] interface {
	// TipIndex returns the current tip of the chain, before any confirmation
	// adjustment.
	TipIndex(ctx context.Context) (uint64, error)

	// BlockHash returns the hash of the block at the given index.
	BlockHash(ctx context.Context, index uint64) (string, error)

	// BlockIndex returns the index of the block with the given hash. It
	// returns an error wrapping ErrBlockNotFound if the chain answers that
	// the block is not canonical, and any other error on transport failure.
	BlockIndex(ctx context.Context, hash string) (uint64, error)

	// EventsIn returns the events in the block at the given index, in
	// intra-block order.
	EventsIn(ctx context.Context, index uint64) ([]E, error)
}

// Observer consumes the envelopes yielded by a watcher. Returning an error
// stops the cursor from advancing past the block; the same envelope is
// delivered again on the next poll, and the observer is expected to
// deduplicate events it has already acted on.
type Observer[E Event] interface {
	ObserveBlock(ctx context.Context, envelope Envelope[E]) error
}

// BlockPlanner maps a block index to the indices to actually process. The
// default is the identity; a chain can inject virtual sub-block steps.
type BlockPlanner func(index uint64) []uint64

// Pager fires a critical alert to the on-call operator.
type Pager interface {
	Page(summary string, details map[string]interface{})
}

// ErrBlockNotFound is wrapped by fetchers when the chain reports that a
// block is not on the canonical chain. It is the only BlockIndex error that
// condemns a stored cursor; everything else is a transport failure and is
// retried.
var ErrBlockNotFound = errors.New("block not found")

// ErrReorgedCursor is returned when the stored cursor points at a block (or a
// transaction) that is no longer on the canonical chain. A reorg deeper than
// the confirmation depth has occurred and operational intervention is
// required; the watcher does not try to recover on its own.
type ErrReorgedCursor struct {
	Name     string
	Location store.TransactionLocation
}

func (err ErrReorgedCursor) Error() string {
	return fmt.Sprintf("cursor of %v is no longer canonical: block = %v, tx = %v", err.Name, err.Location.BlockHash, err.Location.TxID)
}

// Watcher is the generic confirmed-block monitor.
type Watcher[E Event] struct {
	opts     Options
	fetcher  Fetcher[E]
	observer Observer[E]
	cursors  store.CursorStore

	next         uint64
	started      bool
	resumeBlock  uint64
	resumeTxID   string
	lastProgress time.Time
}

// New returns a new Watcher.
func New[E Event](opts Options, fetcher Fetcher[E], observer Observer[E], cursors store.CursorStore) *Watcher[E] {
	if opts.Planner == nil {
		opts.Planner = func(index uint64) []uint64 { return []uint64{index} }
	}
	return &Watcher[E]{
		opts:     opts,
		fetcher:  fetcher,
		observer: observer,
		cursors:  cursors,
	}
}

// Run starts the watcher until the context is canceled. Transient errors are
// logged and retried on the next poll; the only error returned is a reorged
// cursor, which requires operational intervention.
func (watcher *Watcher[E]) Run(ctx context.Context) error {
	ticker := time.NewTicker(watcher.opts.PollInterval)
	defer ticker.Stop()

	watcher.lastProgress = time.Now()
	for {
		if err := watcher.step(ctx); err != nil {
			var reorged ErrReorgedCursor
			if errors.As(err, &reorged) {
				watcher.opts.Logger.Errorf("[watcher] %v: %v", watcher.opts.Name, err)
				watcher.page(fmt.Sprintf("%v cursor reorged", watcher.opts.Name), map[string]interface{}{
					"blockHash": reorged.Location.BlockHash,
					"txId":      reorged.Location.TxID,
				})
				return err
			}
			if ctx.Err() == nil {
				watcher.opts.Logger.Errorf("[watcher] %v: %v", watcher.opts.Name, err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (watcher *Watcher[E]) step(ctx context.Context) error {
	if !watcher.started {
		if err := watcher.start(ctx); err != nil {
			return err
		}
		if !watcher.started {
			return nil
		}
	}

	tip, err := watcher.fetcher.TipIndex(ctx)
	if err != nil {
		return fmt.Errorf("cannot fetch tip: %v", err)
	}
	if tip < watcher.opts.Confirmations {
		return nil
	}
	confirmed := tip - watcher.opts.Confirmations

	if watcher.next > confirmed {
		// At tip. Page if the monitor has made no progress for too long.
		if time.Since(watcher.lastProgress) > watcher.opts.StallTimeout {
			watcher.opts.Logger.Errorf("[watcher] %v has made no progress before block %v", watcher.opts.Name, watcher.next)
			watcher.page(fmt.Sprintf("%v monitor stalled", watcher.opts.Name), map[string]interface{}{
				"nextBlock": watcher.next,
			})
			watcher.lastProgress = time.Now()
		}
		return nil
	}

	for block := watcher.next; block <= confirmed; block++ {
		for _, index := range watcher.opts.Planner(block) {
			if err := watcher.processBlock(ctx, index); err != nil {
				return err
			}
		}
		watcher.next = block + 1
		watcher.lastProgress = time.Now()

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// start resolves the initial position of the loop: resume one block past the
// stored cursor, replaying the remainder of the cursor's own block, or begin
// at the current confirmed tip if no cursor has been stored yet.
func (watcher *Watcher[E]) start(ctx context.Context) error {
	location, ok, err := watcher.cursors.Load(watcher.opts.Name)
	if err != nil {
		return fmt.Errorf("cannot load cursor: %v", err)
	}
	if ok {
		index, err := watcher.fetcher.BlockIndex(ctx, location.BlockHash)
		if err != nil {
			if errors.Is(err, ErrBlockNotFound) {
				return ErrReorgedCursor{Name: watcher.opts.Name, Location: location}
			}
			return fmt.Errorf("cannot resolve cursor block %v: %v", location.BlockHash, err)
		}
		watcher.next = index
		watcher.resumeBlock = index
		watcher.resumeTxID = location.TxID
		watcher.opts.Logger.Infof("[watcher] %v resuming from block %v, tx %v", watcher.opts.Name, index, location.TxID)
	} else {
		tip, err := watcher.fetcher.TipIndex(ctx)
		if err != nil {
			return fmt.Errorf("cannot fetch tip: %v", err)
		}
		if tip < watcher.opts.Confirmations {
			return nil
		}
		watcher.next = tip - watcher.opts.Confirmations + 1
		watcher.opts.Logger.Infof("[watcher] %v starting from block %v", watcher.opts.Name, watcher.next)
	}
	watcher.started = true
	return nil
}

func (watcher *Watcher[E]) processBlock(ctx context.Context, index uint64) error {
	hash, err := watcher.fetcher.BlockHash(ctx, index)
	if err != nil {
		return fmt.Errorf("cannot fetch hash of block %v: %v", index, err)
	}
	events, err := watcher.fetcher.EventsIn(ctx, index)
	if err != nil {
		return fmt.Errorf("cannot fetch events of block %v: %v", index, err)
	}

	if watcher.resumeTxID != "" && index == watcher.resumeBlock {
		events, err = dropThrough(events, watcher.resumeTxID)
		if err != nil {
			return ErrReorgedCursor{Name: watcher.opts.Name, Location: store.TransactionLocation{BlockHash: hash, TxID: watcher.resumeTxID}}
		}
	}

	envelope := Envelope[E]{BlockHash: hash, Events: events}
	if err := watcher.observer.ObserveBlock(ctx, envelope); err != nil {
		return fmt.Errorf("cannot observe block %v: %v", index, err)
	}

	if len(events) > 0 {
		location := store.TransactionLocation{BlockHash: hash, TxID: events[len(events)-1].TxID()}
		if err := watcher.cursors.Save(watcher.opts.Name, location); err != nil {
			return fmt.Errorf("cannot save cursor of block %v: %v", index, err)
		}
	}

	if watcher.resumeTxID != "" && index == watcher.resumeBlock {
		watcher.resumeTxID = ""
	}
	return nil
}

func (watcher *Watcher[E]) page(summary string, details map[string]interface{}) {
	if watcher.opts.Pager == nil {
		return
	}
	watcher.opts.Pager.Page(summary, details)
}

// dropThrough drops every event up to and including the one with the given tx
// id. The tx is expected to be present: the cursor was written from this very
// block, so its absence means the block's contents have changed.
func dropThrough[E Event](events []E, txID string) ([]E, error) {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].TxID() == txID {
			return events[i+1:], nil
		}
	}
	return nil, fmt.Errorf("tx %v not found", txID)
}
