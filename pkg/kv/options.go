package kv

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/eigerco/flashkv/internal/constants"
	"github.com/eigerco/flashkv/pkg/log"
	"github.com/eigerco/flashkv/pkg/native"
)

// PoolDeletion selects when DeletePool and DeleteAllPools return.
type PoolDeletion uint8

const (
	// PoolDeletionAsync returns as soon as the engine accepted the deletion.
	// The pool is unusable at once but Info may keep counting it for a while.
	PoolDeletionAsync PoolDeletion = iota
	// PoolDeletionSync additionally waits until Info no longer counts the
	// deleted pools.
	PoolDeletionSync
)

const (
	DefaultPollInterval = 10 * time.Millisecond
	DefaultPollTimeout  = 30 * time.Second
)

type options struct {
	version       uint32
	expiryMode    native.ExpiryMode
	expirySeconds uint32
	maxPools      uint32
	maxBatchSize  int
	poolDeletion  PoolDeletion
	pollInterval  time.Duration
	pollTimeout   time.Duration
	logger        *zerolog.Logger
}

func defaultOptions() options {
	return options{
		version:      constants.APIVersion,
		expiryMode:   native.ExpiryDisabled,
		maxPools:     constants.MaxPools,
		maxBatchSize: constants.MaxBatchSize,
		poolDeletion: PoolDeletionAsync,
		pollInterval: DefaultPollInterval,
		pollTimeout:  DefaultPollTimeout,
	}
}

// Option configures a Store.
type Option func(*options)

// WithVersion sets the store version requested at open.
func WithVersion(version uint32) Option {
	return func(o *options) {
		o.version = version
	}
}

// WithExpiry sets the expiry mode. seconds is the store-wide expiry and only
// matters with ExpiryGlobal.
func WithExpiry(mode ExpiryMode, seconds uint32) Option {
	return func(o *options) {
		o.expiryMode = mode
		o.expirySeconds = seconds
	}
}

func WithMaxPools(n uint32) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPools = n
		}
	}
}

// WithMaxBatchSize lowers the number of pairs a batch call accepts. Values
// outside [1, 16] are clamped.
func WithMaxBatchSize(n int) Option {
	return func(o *options) {
		o.maxBatchSize = min(max(n, 1), constants.MaxBatchSize)
	}
}

func WithPoolDeletion(mode PoolDeletion) Option {
	return func(o *options) {
		o.poolDeletion = mode
	}
}

// WithDeletionPolling sets how often and for how long PoolDeletionSync polls
// the store.
func WithDeletionPolling(interval, timeout time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.pollInterval = interval
		}
		if timeout > 0 {
			o.pollTimeout = timeout
		}
	}
}

// WithLogger replaces the store logger, log.Store by default.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &l
	}
}

func (o options) openConfig() native.OpenConfig {
	return native.OpenConfig{
		Version:       o.version,
		ExpiryMode:    o.expiryMode,
		ExpirySeconds: o.expirySeconds,
		MaxPools:      o.maxPools,
	}
}

func (o options) baseLogger() zerolog.Logger {
	if o.logger != nil {
		return *o.logger
	}
	return log.Store
}
