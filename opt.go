package bridge

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/planetarium/ncg-bridge/watcher"
	"github.com/shopspring/decimal"
)

// Enumerate default options.
var (
	DefaultDatabaseDriver              = "sqlite3"
	DefaultHistoryDB                   = "./history.db"
	DefaultCursorDB                    = "./cursors.db"
	DefaultNineChroniclesPollRate      = 15 * time.Second
	DefaultNineChroniclesConfirmations = uint64(30)
	DefaultEthereumPollRate            = 15 * time.Second
	DefaultEthereumConfirmations       = uint64(12)
	DefaultMinAmount                   = decimal.NewFromInt(100)
	DefaultMaxAmount                   = decimal.NewFromInt(100000)
	DefaultFeeRatio                    = decimal.RequireFromString("0.01")
	DefaultGasTipRatio                 = decimal.RequireFromString("1.3")
	DefaultGasPriceLimit               = decimal.RequireFromString("300000000000")
	DefaultPriorityFee                 = big.NewInt(2000000000)
	DefaultStallTimeout                = watcher.DefaultStallTimeout
)

// Options to configure the precise behaviour of the Bridge.
type Options struct {
	NineChroniclesURLs          []string
	NineChroniclesPollRate      time.Duration
	NineChroniclesConfirmations uint64

	EthereumURL           string
	EthereumPollRate      time.Duration
	EthereumConfirmations uint64
	EthereumChainID       *big.Int
	WNCGContract          common.Address

	// NCGMinter is the minter of the NCG currency, part of every transfer
	// action encoding.
	NCGMinter common.Address

	// Expected addresses of the custodial keys. When set, the bridge refuses
	// to start if a signing backend derives a different address.
	ExpectedNCGAddress      common.Address
	ExpectedEthereumAddress common.Address

	DatabaseDriver string
	HistoryDB      string
	CursorDB       string

	BannedAccounts []common.Address
	MinAmount      decimal.Decimal
	MaxAmount      decimal.Decimal
	FeeRatio       decimal.Decimal

	GasTipRatio   decimal.Decimal
	GasPriceLimit decimal.Decimal
	PriorityFee   *big.Int

	StallTimeout time.Duration
}

// DefaultOptions returns new options with default configurations that should
// work for the majority of use cases.
func DefaultOptions() Options {
	return Options{
		NineChroniclesPollRate:      DefaultNineChroniclesPollRate,
		NineChroniclesConfirmations: DefaultNineChroniclesConfirmations,
		EthereumPollRate:            DefaultEthereumPollRate,
		EthereumConfirmations:       DefaultEthereumConfirmations,
		DatabaseDriver:              DefaultDatabaseDriver,
		HistoryDB:                   DefaultHistoryDB,
		CursorDB:                    DefaultCursorDB,
		MinAmount:                   DefaultMinAmount,
		MaxAmount:                   DefaultMaxAmount,
		FeeRatio:                    DefaultFeeRatio,
		GasTipRatio:                 DefaultGasTipRatio,
		GasPriceLimit:               DefaultGasPriceLimit,
		PriorityFee:                 DefaultPriorityFee,
		StallTimeout:                DefaultStallTimeout,
	}
}

// WithNineChroniclesURLs updates the Nine Chronicles node endpoints. The
// first endpoint is the primary node.
func (opts Options) WithNineChroniclesURLs(urls []string) Options {
	opts.NineChroniclesURLs = urls
	return opts
}

// WithNineChroniclesPollRate updates the poll rate of the deposit monitor.
func (opts Options) WithNineChroniclesPollRate(pollRate time.Duration) Options {
	opts.NineChroniclesPollRate = pollRate
	return opts
}

// WithNineChroniclesConfirmations updates the confirmation depth of the
// deposit monitor.
func (opts Options) WithNineChroniclesConfirmations(confirmations uint64) Options {
	opts.NineChroniclesConfirmations = confirmations
	return opts
}

// WithEthereumURL updates the Ethereum RPC endpoint.
func (opts Options) WithEthereumURL(url string) Options {
	opts.EthereumURL = url
	return opts
}

// WithEthereumPollRate updates the poll rate of the burn monitor.
func (opts Options) WithEthereumPollRate(pollRate time.Duration) Options {
	opts.EthereumPollRate = pollRate
	return opts
}

// WithEthereumConfirmations updates the confirmation depth of the burn
// monitor.
func (opts Options) WithEthereumConfirmations(confirmations uint64) Options {
	opts.EthereumConfirmations = confirmations
	return opts
}

// WithEthereumChainID updates the chain id used for signing mint
// transactions.
func (opts Options) WithEthereumChainID(chainID *big.Int) Options {
	opts.EthereumChainID = chainID
	return opts
}

// WithWNCGContract updates the address of the wNCG contract.
func (opts Options) WithWNCGContract(contract common.Address) Options {
	opts.WNCGContract = contract
	return opts
}

// WithNCGMinter updates the minter of the NCG currency.
func (opts Options) WithNCGMinter(minter common.Address) Options {
	opts.NCGMinter = minter
	return opts
}

// WithExpectedNCGAddress updates the expected address of the Nine Chronicles
// custodial key.
func (opts Options) WithExpectedNCGAddress(address common.Address) Options {
	opts.ExpectedNCGAddress = address
	return opts
}

// WithExpectedEthereumAddress updates the expected address of the Ethereum
// minter key.
func (opts Options) WithExpectedEthereumAddress(address common.Address) Options {
	opts.ExpectedEthereumAddress = address
	return opts
}

// WithDatabaseDriver updates the SQL driver used for the history and cursor
// databases.
func (opts Options) WithDatabaseDriver(driver string) Options {
	opts.DatabaseDriver = driver
	return opts
}

// WithHistoryDB updates the data source of the history database.
func (opts Options) WithHistoryDB(dsn string) Options {
	opts.HistoryDB = dsn
	return opts
}

// WithCursorDB updates the data source of the cursor database.
func (opts Options) WithCursorDB(dsn string) Options {
	opts.CursorDB = dsn
	return opts
}

// WithBannedAccounts updates the set of accounts banned from exchanging.
func (opts Options) WithBannedAccounts(accounts []common.Address) Options {
	opts.BannedAccounts = accounts
	return opts
}

// WithMinAmount updates the minimum exchangeable amount.
func (opts Options) WithMinAmount(amount decimal.Decimal) Options {
	opts.MinAmount = amount
	return opts
}

// WithMaxAmount updates the maximum exchangeable amount.
func (opts Options) WithMaxAmount(amount decimal.Decimal) Options {
	opts.MaxAmount = amount
	return opts
}

// WithFeeRatio updates the exchange fee ratio.
func (opts Options) WithFeeRatio(ratio decimal.Decimal) Options {
	opts.FeeRatio = ratio
	return opts
}

// WithGasTipRatio updates the multiplier applied to the suggested gas price.
func (opts Options) WithGasTipRatio(ratio decimal.Decimal) Options {
	opts.GasTipRatio = ratio
	return opts
}

// WithGasPriceLimit updates the hard cap on the gas fee, in wei.
func (opts Options) WithGasPriceLimit(limit decimal.Decimal) Options {
	opts.GasPriceLimit = limit
	return opts
}

// WithPriorityFee updates the priority fee of mint transactions, in wei.
func (opts Options) WithPriorityFee(fee *big.Int) Options {
	opts.PriorityFee = fee
	return opts
}

// WithStallTimeout updates how long a monitor may make no progress before
// the on-call operator is paged.
func (opts Options) WithStallTimeout(timeout time.Duration) Options {
	opts.StallTimeout = timeout
	return opts
}
