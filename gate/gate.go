// Package gate is the resource-side enforcement point: an http middleware
// that answers unpaid requests with a 402 payment requirement and admits a
// request only once its payment has settled.
package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/settld-labs/x402/challenge"
	"github.com/settld-labs/x402/codec"
	"github.com/settld-labs/x402/logger"
	"github.com/settld-labs/x402/metrics"
	"github.com/settld-labs/x402/settlement"
	"github.com/settld-labs/x402/types"
)

const (
	// HeaderPayment carries the base64-encoded payment payload on a
	// retried request.
	HeaderPayment = "X-PAYMENT"

	// HeaderPaymentResponse carries the base64-encoded settlement record
	// on an admitted response.
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
)

type contextKey string

const recordContextKey = contextKey("x402_settlement_record")

// RecordFromContext returns the settlement record attached to an admitted
// request, if any.
func RecordFromContext(ctx context.Context) (*types.SettlementRecord, bool) {
	record, ok := ctx.Value(recordContextKey).(*types.SettlementRecord)
	return record, ok
}

// Config describes one protected resource and how strictly to gate it.
type Config struct {
	// Resource is what the payment buys, priced in server configuration.
	Resource challenge.ResourceDescriptor

	// OptimisticAdmission admits requests whose settlement is still
	// pending. Off by default: pending means the external ledger has not
	// confirmed, and admitting on it trades certainty of payment for
	// latency. Deployments that opt in need their own reconciliation.
	OptimisticAdmission bool

	Logger  logger.Logger
	Metrics metrics.Recorder
}

// Gate wires a settlement engine in front of a protected handler.
type Gate struct {
	engine *settlement.Engine
	issuer *challenge.Issuer
	cfg    Config
	log    logger.Logger
	rec    metrics.Recorder

	// settled remembers confirmed payments by paymentId so an HTTP-level
	// retry of an already-settled request is admitted without charging
	// the payer's nonce a second time.
	mu      sync.Mutex
	settled map[string]settledEntry
}

type settledEntry struct {
	nonce  string
	record *types.SettlementRecord
}

func New(engine *settlement.Engine, cfg Config) *Gate {
	if cfg.Logger == nil {
		cfg.Logger = logger.NoopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoopRecorder{}
	}
	return &Gate{
		engine:  engine,
		issuer:  challenge.NewIssuer(cfg.Logger),
		cfg:     cfg,
		log:     cfg.Logger,
		rec:     cfg.Metrics,
		settled: make(map[string]settledEntry),
	}
}

// Middleware gates next behind payment. Unpaid requests get a 402 carrying
// the requirement; paid requests are settled inline and admitted only on a
// confirmed outcome, with the settlement record in the request context and
// in the X-PAYMENT-RESPONSE header.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(HeaderPayment)
		if header == "" {
			g.paymentRequired(w, r, "")
			return
		}

		payload, err := codec.DecodePayment(header)
		if err != nil {
			g.log.Warn("rejected unparseable payment header", map[string]any{
				"path":  r.URL.Path,
				"error": err.Error(),
			})
			g.paymentRequired(w, r, types.CodeOf(err))
			return
		}

		if record, ok := g.alreadySettled(payload); ok {
			g.log.Debug("admitting replay of settled payment", map[string]any{
				"paymentId": payload.PaymentID,
			})
			g.admit(w, r, next, record)
			return
		}

		req, err := g.requirement(payload.PaymentID)
		if err != nil {
			g.log.Error("failed to build payment requirement", map[string]any{
				"error": err.Error(),
			})
			http.Error(w, "payment configuration error", http.StatusInternalServerError)
			return
		}

		record, err := g.engine.Settle(r.Context(), payload, req)
		switch {
		case record != nil && record.Status == types.SettlementConfirmed:
			g.remember(payload, record)
			g.admit(w, r, next, record)

		case record != nil && record.Status == types.SettlementPending && g.cfg.OptimisticAdmission:
			g.log.Warn("optimistically admitting pending settlement", map[string]any{
				"paymentId": record.PaymentID,
				"reference": record.ExternalReference,
			})
			g.admit(w, r, next, record)

		default:
			g.log.Info("payment rejected", map[string]any{
				"path": r.URL.Path,
				"code": types.CodeOf(err),
			})
			g.paymentRequired(w, r, types.CodeOf(err))
		}
	})
}

func (g *Gate) admit(w http.ResponseWriter, r *http.Request, next http.Handler, record *types.SettlementRecord) {
	if encoded, err := codec.EncodeSettlement(record); err == nil {
		w.Header().Set(HeaderPaymentResponse, encoded)
	}
	g.rec.IncCounter("gate_admitted", map[string]string{"network": record.Network})

	ctx := context.WithValue(r.Context(), recordContextKey, record)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// paymentRequired answers with a fresh requirement. code is empty when no
// payment was attached at all.
func (g *Gate) paymentRequired(w http.ResponseWriter, r *http.Request, code string) {
	req, err := g.requirement("")
	if err != nil {
		g.log.Error("failed to issue payment requirement", map[string]any{
			"error": err.Error(),
		})
		http.Error(w, "payment configuration error", http.StatusInternalServerError)
		return
	}

	body := types.PaymentRequiredResponse{
		X402Version: req.X402Version,
		Accepts:     []types.PaymentRequirement{*req},
		Error:       code,
	}

	g.rec.IncCounter("gate_challenged", map[string]string{"network": req.Network})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.log.Error("failed to write 402 response", map[string]any{
			"path":  r.URL.Path,
			"error": err.Error(),
		})
	}
}

// requirement mints a requirement from the configured descriptor. The gate
// keeps no record of what it issued: the payer-signed validity window and
// the nonce ledger are the enforcement, so a resubmitted payload is checked
// against the descriptor's current terms, not a stored challenge.
func (g *Gate) requirement(paymentID string) (*types.PaymentRequirement, error) {
	req, err := g.issuer.Issue(g.cfg.Resource)
	if err != nil {
		return nil, err
	}
	if paymentID != "" {
		req.PaymentID = paymentID
	}
	return req, nil
}

func (g *Gate) alreadySettled(payload *types.PaymentPayload) (*types.SettlementRecord, bool) {
	if payload.PaymentID == "" {
		return nil, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.settled[payload.PaymentID]
	if !ok || entry.nonce != payload.Payload.Authorization.Nonce {
		return nil, false
	}
	return entry.record, true
}

func (g *Gate) remember(payload *types.PaymentPayload, record *types.SettlementRecord) {
	if payload.PaymentID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settled[payload.PaymentID] = settledEntry{
		nonce:  payload.Payload.Authorization.Nonce,
		record: record,
	}
}
