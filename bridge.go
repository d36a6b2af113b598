// Package bridge wires the two-chain exchange daemon together: one monitor
// per chain feeding an observer, a dispatcher serializing the Nine
// Chronicles signing path, and a minter submitting wNCG mints.
package bridge

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/planetarium/ncg-bridge/db"
	"github.com/planetarium/ncg-bridge/dispatcher"
	"github.com/planetarium/ncg-bridge/ethereum"
	"github.com/planetarium/ncg-bridge/gasprice"
	"github.com/planetarium/ncg-bridge/ninechronicles"
	"github.com/planetarium/ncg-bridge/observer"
	"github.com/planetarium/ncg-bridge/signer"
	"github.com/planetarium/ncg-bridge/store"
	"github.com/planetarium/ncg-bridge/validator"
	"github.com/planetarium/ncg-bridge/watcher"
	"github.com/renproject/phi"
	"github.com/sirupsen/logrus"
)

// Monitor names. They key the stored cursors, so changing one resets the
// respective monitor.
const (
	NCGMonitor  = "nineChronicles"
	BurnMonitor = "ethereum"
)

// Bridge is the top-level daemon.
type Bridge struct {
	logger logrus.FieldLogger

	ncgWatcher  *watcher.Watcher[ninechronicles.TransferEvent]
	burnWatcher *watcher.Watcher[ethereum.BurnEvent]
}

// New wires a Bridge from the given options and signing backends. It opens
// the databases and verifies that the signing backends derive the expected
// custodial addresses.
func New(logger logrus.FieldLogger, opts Options, ncgSigner, ethSigner signer.Signer, alerter observer.Alerter) (Bridge, error) {
	if len(opts.NineChroniclesURLs) == 0 {
		return Bridge{}, fmt.Errorf("no Nine Chronicles endpoint configured")
	}
	if opts.EthereumURL == "" {
		return Bridge{}, fmt.Errorf("no Ethereum endpoint configured")
	}
	if opts.EthereumChainID == nil {
		return Bridge{}, fmt.Errorf("no Ethereum chain id configured")
	}
	if opts.WNCGContract == (common.Address{}) {
		return Bridge{}, fmt.Errorf("no wNCG contract configured")
	}
	if opts.NCGMinter == (common.Address{}) {
		return Bridge{}, fmt.Errorf("no NCG minter address configured")
	}

	if opts.ExpectedNCGAddress != (common.Address{}) && opts.ExpectedNCGAddress != ncgSigner.Address() {
		return Bridge{}, fmt.Errorf("custodial key derives %v, expected %v", ncgSigner.Address().Hex(), opts.ExpectedNCGAddress.Hex())
	}
	if opts.ExpectedEthereumAddress != (common.Address{}) && opts.ExpectedEthereumAddress != ethSigner.Address() {
		return Bridge{}, fmt.Errorf("minter key derives %v, expected %v", ethSigner.Address().Hex(), opts.ExpectedEthereumAddress.Hex())
	}

	historySQL, err := sql.Open(opts.DatabaseDriver, opts.HistoryDB)
	if err != nil {
		return Bridge{}, fmt.Errorf("cannot open history db: %v", err)
	}
	database := db.New(historySQL)
	if err := database.Init(); err != nil {
		return Bridge{}, fmt.Errorf("cannot initialise history db: %v", err)
	}

	cursorSQL, err := sql.Open(opts.DatabaseDriver, opts.CursorDB)
	if err != nil {
		return Bridge{}, fmt.Errorf("cannot open cursor db: %v", err)
	}
	cursors := store.New(cursorSQL)
	if err := cursors.Init(); err != nil {
		return Bridge{}, fmt.Errorf("cannot initialise cursor db: %v", err)
	}

	clients := make([]ninechronicles.Client, 0, len(opts.NineChroniclesURLs))
	for _, url := range opts.NineChroniclesURLs {
		clients = append(clients, ninechronicles.NewClient(ninechronicles.Options{
			Logger:    logger,
			URL:       url,
			Recipient: ncgSigner.Address(),
		}))
	}
	primary := clients[0]

	transferor := dispatcher.New(dispatcher.Options{
		Logger: logger,
		Minter: opts.NCGMinter,
	}, primary, clients, ncgSigner)

	backend, err := ethclient.Dial(opts.EthereumURL)
	if err != nil {
		return Bridge{}, fmt.Errorf("cannot dial %v: %v", opts.EthereumURL, err)
	}
	ethClient := ethereum.NewClient(ethereum.ClientOptions{
		Logger:   logger,
		Contract: opts.WNCGContract,
	}, backend)

	gasPolicy := gasprice.NewComposite(
		gasprice.NewTip(opts.GasTipRatio),
		gasprice.NewLimit(opts.GasPriceLimit),
	)
	minter, err := ethereum.NewMinter(ethereum.MinterOptions{
		Logger:      logger,
		Contract:    opts.WNCGContract,
		ChainID:     opts.EthereumChainID,
		GasPolicy:   gasPolicy,
		PriorityFee: opts.PriorityFee,
	}, backend, ethSigner)
	if err != nil {
		return Bridge{}, fmt.Errorf("cannot construct minter: %v", err)
	}

	policies := validator.New(validator.Options{
		BannedAccounts: opts.BannedAccounts,
		MinAmount:      opts.MinAmount,
		MaxAmount:      opts.MaxAmount,
		FeeRatio:       opts.FeeRatio,
	})

	ncgObserver := observer.NewNCGObserver(logger, database, policies, minter, transferor, alerter)
	burnObserver := observer.NewBurnObserver(logger, database, policies, transferor, alerter)

	ncgWatcher := watcher.New(
		watcher.DefaultOptions().
			WithName(NCGMonitor).
			WithLogger(logger).
			WithPollInterval(opts.NineChroniclesPollRate).
			WithConfirmations(opts.NineChroniclesConfirmations).
			WithStallTimeout(opts.StallTimeout).
			WithPager(alerter),
		primary, ncgObserver, cursors,
	)
	burnWatcher := watcher.New(
		watcher.DefaultOptions().
			WithName(BurnMonitor).
			WithLogger(logger).
			WithPollInterval(opts.EthereumPollRate).
			WithConfirmations(opts.EthereumConfirmations).
			WithStallTimeout(opts.StallTimeout).
			WithPager(alerter),
		ethClient, burnObserver, cursors,
	)

	return Bridge{
		logger:      logger,
		ncgWatcher:  ncgWatcher,
		burnWatcher: burnWatcher,
	}, nil
}

// Run starts both monitors and blocks until the context is cancelled or a
// monitor fails fatally.
func (bridge Bridge) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	phi.ParBegin(
		func() {
			defer cancel()
			if err := bridge.ncgWatcher.Run(ctx); err != nil {
				bridge.logger.Errorf("[bridge] deposit monitor stopped: %v", err)
			}
		},
		func() {
			defer cancel()
			if err := bridge.burnWatcher.Run(ctx); err != nil {
				bridge.logger.Errorf("[bridge] burn monitor stopped: %v", err)
			}
		},
	)
}
