// Package x402 implements the x402 payment protocol for HTTP resources:
// a server answers unpaid requests with a signed-payment challenge, the
// client responds with an EIP-3009 transfer authorization, and the server
// verifies, reserves the nonce and settles on the external ledger before
// admitting the request.
package x402

import (
	"context"
	"time"

	"github.com/settld-labs/x402/challenge"
	"github.com/settld-labs/x402/gate"
	"github.com/settld-labs/x402/ledger"
	"github.com/settld-labs/x402/logger"
	"github.com/settld-labs/x402/metrics"
	"github.com/settld-labs/x402/noncestore"
	"github.com/settld-labs/x402/settlement"
	"github.com/settld-labs/x402/types"
)

const (
	Version         = "1.0.0"
	ProtocolVersion = 1
)

// X402 bundles the protocol components behind one entry point: challenge
// issuance, payment verification, settlement and resource gating.
type X402 struct {
	log      logger.Logger
	rec      metrics.Recorder
	timeout  time.Duration
	store    noncestore.Store
	executor ledger.Executor

	issuer *challenge.Issuer
	engine *settlement.Engine
}

// New wires an instance around the given ledger executor. The zero
// configuration settles through an in-memory nonce store with no logging;
// production deployments supply WithNonceStore and WithLogger.
func New(executor ledger.Executor, opts ...Option) *X402 {
	x := &X402{
		log:      logger.NoopLogger{},
		rec:      metrics.NoopRecorder{},
		timeout:  settlement.DefaultTimeout,
		store:    noncestore.NewMemoryStore(),
		executor: executor,
	}
	for _, opt := range opts {
		opt(x)
	}

	x.issuer = challenge.NewIssuer(x.log)
	x.engine = settlement.NewEngine(x.store, x.executor,
		settlement.WithTimeout(x.timeout),
		settlement.WithLogger(x.log),
		settlement.WithMetrics(x.rec),
	)
	return x
}

// IssueChallenge mints a fresh payment requirement for a protected
// resource.
func (x *X402) IssueChallenge(desc challenge.ResourceDescriptor) (*types.PaymentRequirement, error) {
	return x.issuer.Issue(desc)
}

// Verify checks a payment payload against a requirement without consuming
// its nonce or touching the external ledger.
func (x *X402) Verify(payload *types.PaymentPayload, req *types.PaymentRequirement) *types.VerifyResult {
	return x.engine.Verify(payload, req)
}

// Settle runs the full settlement pipeline for a payment payload.
func (x *X402) Settle(
	ctx context.Context,
	payload *types.PaymentPayload,
	req *types.PaymentRequirement,
) (*types.SettlementRecord, error) {
	return x.engine.Settle(ctx, payload, req)
}

// Gate returns a resource gate backed by this instance's engine. The
// config's Logger and Metrics default to the instance's own.
func (x *X402) Gate(cfg gate.Config) *gate.Gate {
	if cfg.Logger == nil {
		cfg.Logger = x.log
	}
	if cfg.Metrics == nil {
		cfg.Metrics = x.rec
	}
	return gate.New(x.engine, cfg)
}

// Supported lists the scheme/network pairs this instance can settle.
func (x *X402) Supported() *types.SupportedResponse {
	return &types.SupportedResponse{Kinds: x.engine.Supported()}
}

// Close releases the executor's connections, if it holds any.
func (x *X402) Close() {
	if closer, ok := x.executor.(interface{ Close() }); ok {
		closer.Close()
	}
}
