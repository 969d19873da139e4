// Package verification checks that a submitted payment authorization was
// signed by the claimed payer over the canonical structured tuple, bound to
// the requirement's settlement domain. Dispatch is per scheme through a
// closed registry so unsupported schemes fail before any cryptography.
package verification

import (
	"fmt"

	"github.com/settld-labs/x402/logger"
	"github.com/settld-labs/x402/types"
)

// SchemeVerifier verifies one authorization scheme. Implementations return
// the recovered payer address on success.
type SchemeVerifier interface {
	Verify(payload *types.ExactPayload, req *types.PaymentRequirement) (string, error)
}

// Service routes verification to the registered scheme verifiers.
type Service struct {
	verifiers map[types.Scheme]SchemeVerifier
	log       logger.Logger
}

// NewService builds a Service with the built-in schemes registered.
func NewService(log logger.Logger) *Service {
	if log == nil {
		log = logger.NoopLogger{}
	}
	s := &Service{
		verifiers: make(map[types.Scheme]SchemeVerifier),
		log:       log,
	}
	s.Register(types.SchemeExact, NewExactEVMVerifier())
	return s
}

// Register installs a verifier for a scheme, replacing any existing one.
func (s *Service) Register(scheme types.Scheme, v SchemeVerifier) {
	s.verifiers[scheme] = v
}

// VerifyPayment checks the payload's signature against the requirement.
// It returns the recovered payer address.
func (s *Service) VerifyPayment(payload *types.PaymentPayload, req *types.PaymentRequirement) (string, error) {
	v, ok := s.verifiers[payload.Scheme]
	if !ok {
		return "", types.NewPaymentError(types.ErrUnsupportedScheme,
			fmt.Sprintf("no verifier for scheme %s", payload.Scheme))
	}

	payer, err := v.Verify(&payload.Payload, req)
	if err != nil {
		s.log.Debug("signature verification failed", map[string]any{
			"network": req.Network,
			"scheme":  payload.Scheme.String(),
			"error":   err.Error(),
		})
		return "", err
	}
	return payer, nil
}

// Supported lists the registered schemes.
func (s *Service) Supported() []types.Scheme {
	out := make([]types.Scheme, 0, len(s.verifiers))
	for scheme := range s.verifiers {
		out = append(out, scheme)
	}
	return out
}
