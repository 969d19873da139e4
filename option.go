package x402

import (
	"time"

	"github.com/settld-labs/x402/logger"
	"github.com/settld-labs/x402/metrics"
	"github.com/settld-labs/x402/noncestore"
)

type Option func(*X402)

func WithLogger(l logger.Logger) Option {
	return func(x *X402) {
		if l != nil {
			x.log = l
		}
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(x *X402) {
		if r != nil {
			x.rec = r
		}
	}
}

// WithTimeout bounds how long a settlement waits on external confirmation.
func WithTimeout(d time.Duration) Option {
	return func(x *X402) {
		if d > 0 {
			x.timeout = d
		}
	}
}

// WithNonceStore replaces the in-memory nonce ledger. Deployments with more
// than one instance need a shared store, e.g. noncestore.SQLStore.
func WithNonceStore(store noncestore.Store) Option {
	return func(x *X402) {
		if store != nil {
			x.store = store
		}
	}
}
