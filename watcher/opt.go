package watcher

import (
	"time"

	"github.com/sirupsen/logrus"
)

var (
	DefaultPollInterval  = 15 * time.Second
	DefaultConfirmations = uint64(10)
	DefaultStallTimeout  = 5 * time.Minute
)

// Options to configure the precise behaviour of the watcher.
type Options struct {
	Name          string
	Logger        logrus.FieldLogger
	PollInterval  time.Duration
	Confirmations uint64
	StallTimeout  time.Duration
	Planner       BlockPlanner
	Pager         Pager
}

// DefaultOptions returns new options with default configurations that should
// work for the majority of use cases.
func DefaultOptions() Options {
	return Options{
		Logger:        logrus.New(),
		PollInterval:  DefaultPollInterval,
		Confirmations: DefaultConfirmations,
		StallTimeout:  DefaultStallTimeout,
	}
}

// WithName updates the monitor name. The name keys the stored cursor.
func (opts Options) WithName(name string) Options {
	opts.Name = name
	return opts
}

// WithLogger updates the logger.
func (opts Options) WithLogger(logger logrus.FieldLogger) Options {
	opts.Logger = logger
	return opts
}

// WithPollInterval updates the interval between polls of the chain tip.
func (opts Options) WithPollInterval(interval time.Duration) Options {
	opts.PollInterval = interval
	return opts
}

// WithConfirmations updates the confirmation depth. No block shallower than
// this depth from the tip is processed.
func (opts Options) WithConfirmations(confirmations uint64) Options {
	opts.Confirmations = confirmations
	return opts
}

// WithStallTimeout updates how long the watcher may make no progress before
// the pager is fired.
func (opts Options) WithStallTimeout(timeout time.Duration) Options {
	opts.StallTimeout = timeout
	return opts
}

// WithPlanner updates the block planner.
func (opts Options) WithPlanner(planner BlockPlanner) Options {
	opts.Planner = planner
	return opts
}

// WithPager updates the pager used for stall and reorg alerts.
func (opts Options) WithPager(pager Pager) Options {
	opts.Pager = pager
	return opts
}
