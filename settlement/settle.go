// Package settlement implements the settle pipeline: parameter matching,
// validity windows, signature verification, nonce reservation and finally
// the external transfer. Steps run in that order; nothing is reserved or
// submitted until everything local has passed.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/settld-labs/x402/ledger"
	"github.com/settld-labs/x402/logger"
	"github.com/settld-labs/x402/metrics"
	"github.com/settld-labs/x402/noncestore"
	"github.com/settld-labs/x402/types"
	"github.com/settld-labs/x402/utils"
	"github.com/settld-labs/x402/verification"
)

// DefaultTimeout bounds the wait on external confirmation. Attempts that
// outlive it come back as pending, never as a blocked caller.
const DefaultTimeout = 30 * time.Second

// Engine drives a payment authorization from received to confirmed, failed
// or pending. Failures before the nonce is reserved leave it available for
// a corrected resubmission; once the transfer has been submitted the
// reservation is never rolled back, because the ledger may still confirm.
type Engine struct {
	store    noncestore.Store
	executor ledger.Executor
	verifier *verification.Service
	timeout  time.Duration
	log      logger.Logger
	rec      metrics.Recorder
	now      func() time.Time
}

type Option func(*Engine)

func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithLogger(log logger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
			e.verifier = verification.NewService(log)
		}
	}
}

func WithMetrics(rec metrics.Recorder) Option {
	return func(e *Engine) {
		if rec != nil {
			e.rec = rec
		}
	}
}

// WithClock overrides the engine's time source for window checks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(store noncestore.Store, executor ledger.Executor, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		executor: executor,
		verifier: verification.NewService(nil),
		timeout:  DefaultTimeout,
		log:      logger.NoopLogger{},
		rec:      metrics.NoopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Settle runs the full pipeline for one authorization. A confirmed record
// comes back with a nil error; every other outcome pairs the record with a
// *types.PaymentError carrying the rejection code, so callers can branch on
// either. Pending means the transfer was submitted but not confirmed within
// the timeout; its nonce stays consumed and the external reference, when
// known, is included for reconciliation.
func (e *Engine) Settle(
	ctx context.Context,
	payload *types.PaymentPayload,
	req *types.PaymentRequirement,
) (*types.SettlementRecord, error) {
	start := e.now()

	if err := e.check(payload, req); err != nil {
		return e.reject(payload, req, err)
	}

	payer, err := e.verifier.VerifyPayment(payload, req)
	if err != nil {
		return e.reject(payload, req, err)
	}

	auth := payload.Payload.Authorization

	reserved, err := e.store.TryReserve(ctx, auth.From, auth.Nonce)
	if err != nil {
		return e.reject(payload, req, types.NewPaymentError(types.ErrConfigError,
			fmt.Sprintf("nonce store unavailable: %v", err)))
	}
	if !reserved {
		return e.reject(payload, req, &types.PaymentError{
			Code:    types.ErrNonceAlreadyUsed,
			Message: "authorization nonce already consumed",
			Data:    map[string]string{"from": auth.From, "nonce": auth.Nonce},
		})
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ref, err := e.executor.ExecuteTransfer(execCtx, ledger.TransferRequest{
		Network:       payload.Network,
		Asset:         req.Asset,
		Authorization: auth,
		Signature:     payload.Payload.Signature,
	})

	switch {
	case err == nil:
		record := &types.SettlementRecord{
			Status:            types.SettlementConfirmed,
			Network:           payload.Network,
			PaymentID:         payload.PaymentID,
			Payer:             payer,
			ExternalReference: ref,
			SettledAmount:     auth.Value,
			SettledAt:         e.now(),
		}
		e.log.Info("settlement confirmed", map[string]any{
			"paymentId": payload.PaymentID,
			"payer":     payer,
			"reference": ref,
		})
		e.observe(payload, types.SettlementConfirmed, start)
		return record, nil

	case errors.Is(err, ledger.ErrConfirmationTimeout):
		// Submitted but unconfirmed. The reservation must stand: releasing
		// it here would allow a second payment if the ledger later confirms.
		record := &types.SettlementRecord{
			Status:            types.SettlementPending,
			Network:           payload.Network,
			PaymentID:         payload.PaymentID,
			Payer:             payer,
			ExternalReference: ref,
			ErrorReason:       types.ErrExternalExecutionTimeout,
		}
		e.log.Warn("settlement pending, confirmation deadline passed", map[string]any{
			"paymentId": payload.PaymentID,
			"reference": ref,
		})
		e.observe(payload, types.SettlementPending, start)
		return record, &types.PaymentError{
			Code:    types.ErrExternalExecutionTimeout,
			Message: "transfer submitted but unconfirmed within deadline",
			Data:    map[string]string{"externalReference": ref},
		}

	default:
		// Nothing was submitted, so the nonce can be handed back.
		if relErr := e.store.Release(ctx, auth.From, auth.Nonce); relErr != nil {
			e.log.Error("failed to release nonce reservation", map[string]any{
				"from":  auth.From,
				"nonce": auth.Nonce,
				"error": relErr.Error(),
			})
		}
		return e.reject(payload, req, types.NewPaymentError(types.ErrExternalExecutionFailed,
			fmt.Sprintf("external transfer failed: %v", err)))
	}
}

// Verify runs the local half of the pipeline, structural checks through
// signature recovery, without touching the nonce store or the ledger. It
// answers "would this settle, as far as we can tell without spending it".
func (e *Engine) Verify(payload *types.PaymentPayload, req *types.PaymentRequirement) *types.VerifyResult {
	if err := e.check(payload, req); err != nil {
		return &types.VerifyResult{IsValid: false, InvalidReason: types.CodeOf(err)}
	}
	payer, err := e.verifier.VerifyPayment(payload, req)
	if err != nil {
		return &types.VerifyResult{IsValid: false, InvalidReason: types.CodeOf(err)}
	}
	return &types.VerifyResult{IsValid: true, Payer: payer}
}

// Supported lists the scheme/network pairs this engine can settle.
func (e *Engine) Supported() []types.SupportedItem {
	var items []types.SupportedItem
	for _, scheme := range e.verifier.Supported() {
		for _, network := range types.Networks() {
			items = append(items, types.SupportedItem{
				X402Version: int(types.X402Version1),
				Scheme:      string(scheme),
				Network:     string(network),
			})
		}
	}
	return items
}

// check covers everything before signature verification: structure,
// requirement/authorization parameter equality and both validity windows.
func (e *Engine) check(payload *types.PaymentPayload, req *types.PaymentRequirement) error {
	if payload == nil || req == nil {
		return types.NewPaymentError(types.ErrMalformedPayload, "payload and requirement are required")
	}
	if err := payload.Validate(); err != nil {
		return types.NewPaymentError(types.ErrMalformedPayload, err.Error())
	}
	if err := req.Validate(); err != nil {
		return types.NewPaymentError(types.ErrConfigError, err.Error())
	}
	if err := matchParameters(payload, req); err != nil {
		return err
	}
	return e.checkWindows(payload, req)
}

func matchParameters(payload *types.PaymentPayload, req *types.PaymentRequirement) error {
	mismatch := func(field string) error {
		return &types.PaymentError{
			Code:    types.ErrParameterMismatch,
			Message: fmt.Sprintf("authorization %s does not match requirement", field),
			Data:    map[string]string{"field": field},
		}
	}

	if payload.Scheme != req.Scheme {
		return mismatch("scheme")
	}
	if payload.Network != req.Network {
		return mismatch("network")
	}

	auth := payload.Payload.Authorization
	if !strings.EqualFold(auth.To, req.PayTo) {
		return mismatch("payTo")
	}

	value, err := utils.ParseAtomicAmount(auth.Value)
	if err != nil {
		return types.NewPaymentError(types.ErrMalformedPayload,
			fmt.Sprintf("invalid authorization value: %v", err))
	}
	amount, err := utils.ParseAtomicAmount(req.Amount)
	if err != nil {
		return types.NewPaymentError(types.ErrConfigError,
			fmt.Sprintf("invalid requirement amount: %v", err))
	}
	if value.Cmp(amount) != 0 {
		return mismatch("value")
	}
	return nil
}

// checkWindows pins both boundaries as exclusive: an authorization with
// validBefore == now is already dead, validBefore == now+1 still settles.
// The same holds for the requirement's expiry.
func (e *Engine) checkWindows(payload *types.PaymentPayload, req *types.PaymentRequirement) error {
	now := e.now().Unix()
	auth := payload.Payload.Authorization

	if now < auth.ValidAfter {
		return types.NewPaymentError(types.ErrParameterMismatch,
			fmt.Sprintf("authorization is not valid until %d (now %d)", auth.ValidAfter, now))
	}
	if now >= auth.ValidBefore {
		return types.NewPaymentError(types.ErrChallengeExpired,
			fmt.Sprintf("authorization validity window elapsed at %d (now %d)", auth.ValidBefore, now))
	}
	if now >= req.Expiry {
		return types.NewPaymentError(types.ErrChallengeExpired,
			fmt.Sprintf("payment requirement expired at %d (now %d)", req.Expiry, now))
	}
	return nil
}

func (e *Engine) reject(payload *types.PaymentPayload, req *types.PaymentRequirement, err error) (*types.SettlementRecord, error) {
	record := &types.SettlementRecord{
		Status:      types.SettlementFailed,
		ErrorReason: types.CodeOf(err),
	}
	if payload != nil {
		record.Network = payload.Network
		record.PaymentID = payload.PaymentID
	} else if req != nil {
		record.Network = req.Network
		record.PaymentID = req.PaymentID
	}

	e.log.Warn("settlement rejected", map[string]any{
		"paymentId": record.PaymentID,
		"code":      record.ErrorReason,
		"error":     err.Error(),
	})
	e.rec.IncCounter("settle_total", map[string]string{
		"network": record.Network,
		"status":  string(types.SettlementFailed),
		"code":    record.ErrorReason,
	})
	return record, err
}

func (e *Engine) observe(payload *types.PaymentPayload, status types.SettlementStatus, start time.Time) {
	labels := map[string]string{
		"network": payload.Network,
		"status":  string(status),
	}
	e.rec.IncCounter("settle_total", labels)
	e.rec.ObserveLatency("settle_duration", e.now().Sub(start), map[string]string{
		"network": payload.Network,
	})
}
