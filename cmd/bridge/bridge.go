package main

import (
	"context"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evalphobia/logrus_sentry"
	"github.com/planetarium/ncg-bridge"
	"github.com/planetarium/ncg-bridge/integration"
	"github.com/planetarium/ncg-bridge/signer"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	// Setup logger and attach Sentry hook.
	name := os.Getenv("APP_NAME")
	sentryURL := os.Getenv("SENTRY_URL")
	logger := logrus.New()
	if sentryURL != "" {
		tags := map[string]string{
			"name": name,
		}

		hook, err := logrus_sentry.NewWithTagsSentryHook(sentryURL, tags, []logrus.Level{
			logrus.PanicLevel,
			logrus.FatalLevel,
			logrus.ErrorLevel,
			logrus.WarnLevel,
		})
		if err != nil {
			logger.Fatalf("cannot create a sentry hook: %v", err)
		}
		hook.Timeout = 500 * time.Millisecond
		logger.AddHook(hook)
	}

	// Retrieve environment variables. A daemon holding custodial keys must
	// not run on guessed defaults, so every required value is fatal when
	// missing or malformed.
	if os.Getenv("NCG_GRAPHQL_URLS") == "" {
		logger.Fatalf("NCG_GRAPHQL_URLS is not set")
	}
	ncgURLs := strings.Split(os.Getenv("NCG_GRAPHQL_URLS"), ",")
	ethereumURL := os.Getenv("ETHEREUM_URL")
	if ethereumURL == "" {
		logger.Fatalf("ETHEREUM_URL is not set")
	}
	wncgContract := os.Getenv("WNCG_CONTRACT")
	if !common.IsHexAddress(wncgContract) {
		logger.Fatalf("WNCG_CONTRACT is not a valid address: %q", wncgContract)
	}
	ncgMinter := os.Getenv("NCG_MINTER")
	if !common.IsHexAddress(ncgMinter) {
		logger.Fatalf("NCG_MINTER is not a valid address: %q", ncgMinter)
	}
	chainID, err := strconv.ParseInt(os.Getenv("ETHEREUM_CHAIN_ID"), 10, 64)
	if err != nil {
		logger.Fatalf("ETHEREUM_CHAIN_ID is not a valid chain id: %q", os.Getenv("ETHEREUM_CHAIN_ID"))
	}

	opts := bridge.DefaultOptions().
		WithNineChroniclesURLs(ncgURLs).
		WithEthereumURL(ethereumURL).
		WithEthereumChainID(big.NewInt(chainID)).
		WithWNCGContract(common.HexToAddress(wncgContract)).
		WithNCGMinter(common.HexToAddress(ncgMinter))

	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		opts = opts.WithDatabaseDriver(driver)
	}
	if dsn := os.Getenv("HISTORY_DB"); dsn != "" {
		opts = opts.WithHistoryDB(dsn)
	}
	if dsn := os.Getenv("CURSOR_DB"); dsn != "" {
		opts = opts.WithCursorDB(dsn)
	}
	if banned := os.Getenv("BANNED_ACCOUNTS"); banned != "" {
		accounts := []common.Address{}
		for _, account := range strings.Split(banned, ",") {
			accounts = append(accounts, common.HexToAddress(strings.TrimSpace(account)))
		}
		opts = opts.WithBannedAccounts(accounts)
	}
	if amount, err := decimal.NewFromString(os.Getenv("MIN_AMOUNT")); err == nil {
		opts = opts.WithMinAmount(amount)
	}
	if amount, err := decimal.NewFromString(os.Getenv("MAX_AMOUNT")); err == nil {
		opts = opts.WithMaxAmount(amount)
	}
	if ratio, err := decimal.NewFromString(os.Getenv("FEE_RATIO")); err == nil {
		opts = opts.WithFeeRatio(ratio)
	}
	if ratio, err := decimal.NewFromString(os.Getenv("GAS_TIP_RATIO")); err == nil {
		opts = opts.WithGasTipRatio(ratio)
	}
	if limit, err := decimal.NewFromString(os.Getenv("GAS_PRICE_LIMIT")); err == nil {
		opts = opts.WithGasPriceLimit(limit)
	}
	if fee, ok := new(big.Int).SetString(os.Getenv("PRIORITY_FEE"), 10); ok {
		opts = opts.WithPriorityFee(fee)
	}
	if confirmations, err := strconv.ParseUint(os.Getenv("NCG_CONFIRMATIONS"), 10, 64); err == nil {
		opts = opts.WithNineChroniclesConfirmations(confirmations)
	}
	if confirmations, err := strconv.ParseUint(os.Getenv("ETHEREUM_CONFIRMATIONS"), 10, 64); err == nil {
		opts = opts.WithEthereumConfirmations(confirmations)
	}
	// Specified in seconds.
	if pollRate, err := strconv.Atoi(os.Getenv("NCG_POLL_RATE")); err == nil {
		opts = opts.WithNineChroniclesPollRate(time.Duration(pollRate) * time.Second)
	}
	if pollRate, err := strconv.Atoi(os.Getenv("ETHEREUM_POLL_RATE")); err == nil {
		opts = opts.WithEthereumPollRate(time.Duration(pollRate) * time.Second)
	}
	if address := os.Getenv("EXPECTED_NCG_ADDRESS"); address != "" {
		opts = opts.WithExpectedNCGAddress(common.HexToAddress(address))
	}
	if address := os.Getenv("EXPECTED_ETHEREUM_ADDRESS"); address != "" {
		opts = opts.WithExpectedEthereumAddress(common.HexToAddress(address))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Custodial keys live in KMS; the daemon only ever submits digests.
	region := os.Getenv("KMS_REGION")
	ncgSigner, err := signer.NewKMS(ctx, os.Getenv("NCG_KMS_KEY_ID"), region)
	if err != nil {
		logger.Fatalf("cannot load the Nine Chronicles signing key: %v", err)
	}
	ethSigner, err := signer.NewKMS(ctx, os.Getenv("ETHEREUM_KMS_KEY_ID"), region)
	if err != nil {
		logger.Fatalf("cannot load the Ethereum signing key: %v", err)
	}

	alerter, err := integration.New(integration.Options{
		Logger:          logger,
		SlackToken:      os.Getenv("SLACK_TOKEN"),
		SlackChannel:    os.Getenv("SLACK_CHANNEL"),
		PagerDutyKey:    os.Getenv("PAGERDUTY_KEY"),
		OpenSearchURL:   os.Getenv("OPENSEARCH_URL"),
		OpenSearchIndex: os.Getenv("OPENSEARCH_INDEX"),
	})
	if err != nil {
		logger.Fatalf("cannot construct integrations: %v", err)
	}

	// Start running the bridge.
	daemon, err := bridge.New(logger, opts, ncgSigner, ethSigner, alerter)
	if err != nil {
		logger.Fatalf("cannot construct the bridge: %v", err)
	}
	logger.Infof("bridging %v and the wNCG contract %v", ncgSigner.Address().Hex(), wncgContract)
	daemon.Run(ctx)
}
