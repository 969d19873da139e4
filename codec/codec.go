// Package codec is the structural (de)serialization boundary of the
// protocol. Requirements, payment payloads and settlement records travel as
// base64-encoded JSON in HTTP header values; decoding here rejects anything
// malformed before cryptographic work is attempted. Business validation
// (windows, nonce freshness) belongs to the settlement engine, not here.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/settld-labs/x402/types"
	"github.com/settld-labs/x402/utils"
)

// EncodeRequirement renders a requirement for the 402 response header.
func EncodeRequirement(req *types.PaymentRequirement) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal requirement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeRequirement is the payer-side mirror of EncodeRequirement.
func DecodeRequirement(encoded string) (*types.PaymentRequirement, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, malformed("invalid base64: %v", err)
	}

	var req types.PaymentRequirement
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, malformed("invalid requirement JSON: %v", err)
	}
	if err := req.Validate(); err != nil {
		return nil, malformed("%v", err)
	}
	if _, err := utils.ParseAtomicAmount(req.Amount); err != nil {
		return nil, malformed("%v", err)
	}
	return &req, nil
}

// EncodePayment renders a signed payment payload for the X-PAYMENT header.
func EncodePayment(payload *types.PaymentPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePayment decodes and structurally validates a submitted payment.
// Amount fields must be unsigned base-10 integers and the nonce a 32-byte
// hex value; anything else is a hard failure, never a coercion. Unknown
// schemes are rejected by the Scheme unmarshaler inside json.Unmarshal.
func DecodePayment(encoded string) (*types.PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, malformed("invalid base64: %v", err)
	}

	var payload types.PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, malformed("invalid payment JSON: %v", err)
	}
	if err := payload.Validate(); err != nil {
		return nil, malformed("%v", err)
	}

	auth := payload.Payload.Authorization
	if _, err := utils.ParseAtomicAmount(auth.Value); err != nil {
		return nil, malformed("%v", err)
	}
	if _, err := utils.ParseNonce(auth.Nonce); err != nil {
		return nil, malformed("%v", err)
	}
	if auth.ValidAfter < 0 || auth.ValidBefore <= 0 {
		return nil, malformed("authorization window timestamps must be positive")
	}
	return &payload, nil
}

// EncodeSettlement renders a settlement record for the X-PAYMENT-RESPONSE
// header. Informational only; the nonce ledger and the external ledger
// remain the sources of truth.
func EncodeSettlement(rec *types.SettlementRecord) (string, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSettlement is the client-side mirror of EncodeSettlement.
func DecodeSettlement(encoded string) (*types.SettlementRecord, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, malformed("invalid base64: %v", err)
	}

	var rec types.SettlementRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, malformed("invalid settlement JSON: %v", err)
	}
	return &rec, nil
}

func malformed(format string, args ...any) *types.PaymentError {
	return types.NewPaymentError(types.ErrMalformedPayload, fmt.Sprintf(format, args...))
}
