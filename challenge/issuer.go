// Package challenge builds the payment requirements a resource server
// issues when a protected resource is requested without valid payment.
package challenge

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/settld-labs/x402/logger"
	"github.com/settld-labs/x402/types"
	"github.com/settld-labs/x402/utils"
)

// DefaultWindow bounds how long an issued requirement stays valid. Minutes,
// not hours: an issued-but-unused requirement that leaks should go stale
// before it is worth replaying.
const DefaultWindow = 5 * time.Minute

var validate = validator.New()

// ResourceDescriptor describes a protected resource: what it costs, who is
// paid and on which settlement domain. It comes from server configuration;
// the issuer only stamps it into time-bounded requirements.
type ResourceDescriptor struct {
	Scheme  types.Scheme  `validate:"omitempty"`
	Network types.Network `validate:"required"`

	// Amount in atomic units of the asset. Must be a positive integer.
	Amount string `validate:"required"`

	// Asset is the token contract to pay in.
	Asset string `validate:"required"`

	// PayTo is the recipient of the payment.
	PayTo string `validate:"required"`

	// Facilitator is the settlement delegate endpoint, if settlement is
	// not performed in-process.
	Facilitator string

	Resource    string
	Description string

	// MaxTimeoutSeconds bounds how long settlement may take.
	MaxTimeoutSeconds int `validate:"omitempty,gt=0"`

	// Window overrides DefaultWindow for requirement expiry.
	Window time.Duration `validate:"omitempty,gt=0"`

	// Extra carries the EIP-712 domain name/version of the asset contract.
	Extra map[string]string
}

// Issuer mints payment requirements for configured resources.
type Issuer struct {
	log logger.Logger
	now func() time.Time
}

func NewIssuer(log logger.Logger) *Issuer {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Issuer{log: log, now: time.Now}
}

// Issue builds a fresh requirement for the descriptor. An invalid
// descriptor is a configuration error and fails fast.
func (i *Issuer) Issue(desc ResourceDescriptor) (*types.PaymentRequirement, error) {
	if err := validate.Struct(&desc); err != nil {
		return nil, types.NewPaymentError(types.ErrConfigError,
			fmt.Sprintf("invalid resource descriptor: %v", err))
	}

	amount, err := utils.ParseAtomicAmount(desc.Amount)
	if err != nil {
		return nil, types.NewPaymentError(types.ErrConfigError,
			fmt.Sprintf("invalid resource descriptor: %v", err))
	}
	if amount.Sign() <= 0 {
		return nil, types.NewPaymentError(types.ErrConfigError,
			"invalid resource descriptor: amount must be positive")
	}

	if _, ok := desc.Network.ChainID(); !ok {
		return nil, types.NewPaymentError(types.ErrUnsupportedNetwork,
			fmt.Sprintf("no chain binding for network %s", desc.Network))
	}

	scheme := desc.Scheme
	if scheme == "" {
		scheme = types.SchemeExact
	}
	window := desc.Window
	if window == 0 {
		window = DefaultWindow
	}

	paymentID, err := newPaymentID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate payment id: %w", err)
	}

	req := &types.PaymentRequirement{
		X402Version:       int(types.X402Version1),
		Scheme:            scheme,
		Network:           desc.Network.String(),
		Amount:            desc.Amount,
		Asset:             desc.Asset,
		PayTo:             desc.PayTo,
		Expiry:            i.now().Add(window).Unix(),
		PaymentID:         paymentID,
		Facilitator:       desc.Facilitator,
		Resource:          desc.Resource,
		Description:       desc.Description,
		MaxTimeoutSeconds: desc.MaxTimeoutSeconds,
		Extra:             desc.Extra,
	}

	i.log.Debug("issued payment requirement", map[string]any{
		"paymentId": req.PaymentID,
		"network":   req.Network,
		"amount":    req.Amount,
		"expiry":    req.Expiry,
	})

	return req, nil
}

func newPaymentID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return "pay_" + hex.EncodeToString(buf[:]), nil
}
