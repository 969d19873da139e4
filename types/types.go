package types

import (
	"fmt"
	"time"
)

// X402Version is the protocol version carried in every wire structure.
type X402Version int

const (
	X402Version1 X402Version = 1
)

// PaymentRequirement is the challenge issued by a resource server when a
// protected resource is requested without valid payment. It describes exactly
// what payment the server accepts and how long the challenge is good for.
type PaymentRequirement struct {
	// Version of the x402 payment protocol.
	X402Version int `json:"x402Version"`

	// Scheme of the payment authorization (e.g. "exact").
	Scheme Scheme `json:"scheme"`

	// Network is the settlement domain the nonce and signature are scoped to.
	Network string `json:"network"`

	// Amount required to pay for the resource, in atomic units of the asset.
	// Represented as a string because Go does not support uint256.
	Amount string `json:"amount"`

	// Asset is the address of the EIP-3009 compliant token contract.
	Asset string `json:"asset"`

	// PayTo is the address the payment must be sent to.
	PayTo string `json:"payTo"`

	// Expiry is the unix timestamp after which this requirement is void.
	Expiry int64 `json:"expiry"`

	// PaymentID is a server-generated correlation id, unique per requirement.
	PaymentID string `json:"paymentId"`

	// Facilitator is the endpoint of the settlement delegate, if any.
	Facilitator string `json:"facilitator,omitempty"`

	// Resource is the URL of the resource to pay for.
	Resource string `json:"resource,omitempty"`

	// Description of the resource being purchased.
	Description string `json:"description,omitempty"`

	// MaxTimeoutSeconds is the longest the server will wait for settlement.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds,omitempty"`

	// Extra carries scheme-specific details. For "exact" on EVM this holds
	// the EIP-712 domain `name` and `version` of the token contract.
	Extra map[string]string `json:"extra,omitempty"`
}

// Validate checks that the requirement is structurally complete.
func (r *PaymentRequirement) Validate() error {
	if r.X402Version <= 0 {
		return fmt.Errorf("x402Version must be greater than 0")
	}
	if r.Network == "" {
		return fmt.Errorf("requirement.network is required")
	}
	if r.Amount == "" {
		return fmt.Errorf("requirement.amount is required")
	}
	if r.PayTo == "" {
		return fmt.Errorf("requirement.payTo is required")
	}
	if r.Asset == "" {
		return fmt.Errorf("requirement.asset is required")
	}
	if r.PaymentID == "" {
		return fmt.Errorf("requirement.paymentId is required")
	}
	if r.Expiry <= 0 {
		return fmt.Errorf("requirement.expiry is required")
	}
	return nil
}

// Expired reports whether the requirement is void at the given instant.
// The boundary is exclusive: a requirement expiring exactly now is void.
func (r *PaymentRequirement) Expired(now time.Time) bool {
	return now.Unix() >= r.Expiry
}

// PaymentAuthorization is the payer-signed, single-use transfer instruction.
type PaymentAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`       // uint256, atomic units
	ValidAfter  int64  `json:"validAfter"`  // unix seconds
	ValidBefore int64  `json:"validBefore"` // unix seconds, exclusive
	Nonce       string `json:"nonce"`       // 0x-prefixed bytes32
}

// ExactPayload carries an authorization and the EIP-712 signature over it.
type ExactPayload struct {
	// Signature is the 65-byte ECDSA signature (r || s || v) in hex.
	Signature string `json:"signature"`

	Authorization PaymentAuthorization `json:"authorization"`
}

// PaymentPayload is the structure a payer submits back to the server,
// carried base64-encoded in the X-PAYMENT header.
type PaymentPayload struct {
	// Version of the x402 payment protocol.
	X402Version int `json:"x402Version"`

	Scheme Scheme `json:"scheme"`

	Network string `json:"network"`

	// PaymentID echoes the requirement this payload answers.
	PaymentID string `json:"paymentId,omitempty"`

	Payload ExactPayload `json:"payload"`
}

// Validate checks that the payload is structurally complete.
func (p *PaymentPayload) Validate() error {
	if p.X402Version <= 0 {
		return fmt.Errorf("x402Version must be greater than 0")
	}
	if p.Network == "" {
		return fmt.Errorf("payload.network is required")
	}
	a := p.Payload.Authorization
	if a.From == "" || a.To == "" {
		return fmt.Errorf("authorization.from and authorization.to are required")
	}
	if a.Value == "" {
		return fmt.Errorf("authorization.value is required")
	}
	if a.Nonce == "" {
		return fmt.Errorf("authorization.nonce is required")
	}
	if p.Payload.Signature == "" {
		return fmt.Errorf("payload.signature is required")
	}
	return nil
}

// PaymentRequiredResponse is the JSON body of a 402 response.
type PaymentRequiredResponse struct {
	// Version of the x402 payment protocol.
	X402Version int `json:"x402Version"`

	// Accepts lists the payment requirements the resource server accepts.
	Accepts []PaymentRequirement `json:"accepts"`

	// Error carries the rejection code when a submitted payment was refused.
	Error string `json:"error,omitempty"`
}

// SettlementStatus is the terminal (or in-flight) state of a settlement.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementConfirmed SettlementStatus = "confirmed"
	SettlementFailed    SettlementStatus = "failed"
)

// SettlementRecord is produced by the settlement engine. Only a confirmed
// record admits the protected resource; the external ledger remains the
// authority on whether funds actually moved.
type SettlementRecord struct {
	Status    SettlementStatus `json:"status"`
	Network   string           `json:"network"`
	PaymentID string           `json:"paymentId,omitempty"`
	Payer     string           `json:"payer,omitempty"`

	// ExternalReference is the opaque proof of execution on the external
	// ledger, e.g. a transaction hash.
	ExternalReference string `json:"externalReference,omitempty"`

	SettledAmount string    `json:"settledAmount,omitempty"`
	SettledAt     time.Time `json:"settledAt,omitempty"`

	// ErrorReason holds the rejection code for failed or pending outcomes.
	ErrorReason string `json:"errorReason,omitempty"`
}

// VerifyResult is the outcome of payment verification without settlement.
type VerifyResult struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SupportedItem describes one (version, scheme, network) tuple a server or
// facilitator can settle.
type SupportedItem struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

// SupportedResponse is the body of a capability discovery response.
type SupportedResponse struct {
	Kinds []SupportedItem `json:"kinds"`
}
