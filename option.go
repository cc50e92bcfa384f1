package chainverify

import (
	"github.com/paylinc/chainverify/chains"
	"github.com/paylinc/chainverify/ledger"
	"github.com/paylinc/chainverify/logger"
	"github.com/paylinc/chainverify/metrics"
)

type Option func(*Engine)

// WithLogger attaches a logger; the default is silent.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithMetrics attaches a metrics recorder; the default records nothing.
func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) {
		e.metrics = r
	}
}

// WithLedger attaches the payment ledger. Production embedders pass
// ledger.NewPostgres; the default is an in-memory store.
func WithLedger(l ledger.Ledger) Option {
	return func(e *Engine) {
		e.ledger = l
	}
}

// WithChainSource replaces the default per-chain RPC registry. Useful
// for tests and for embedders with custom transports.
func WithChainSource(src chains.Source) Option {
	return func(e *Engine) {
		e.source = src
	}
}
