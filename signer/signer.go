// Package signer builds and signs payment authorizations on the payer
// side. Key custody stays with the caller; the settlement core only ever
// consumes the resulting signature.
package signer

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/settld-labs/x402/types"
	"github.com/settld-labs/x402/verification"
)

// clockSkewBuffer backdates validAfter so a payment signed on a fast clock
// is not rejected by a server a few seconds behind.
const clockSkewBuffer = 5 * time.Second

// Signer turns a payment requirement into a signed payment payload.
type Signer interface {
	Sign(req *types.PaymentRequirement) (*types.PaymentPayload, error)
	Address() string
}

// PrivateKeySigner signs with a raw secp256k1 private key.
type PrivateKeySigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	now        func() time.Time
}

var _ Signer = (*PrivateKeySigner)(nil)

// NewPrivateKeySigner creates a signer from a hex-encoded private key.
func NewPrivateKeySigner(privateKeyHex string) (*PrivateKeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return FromKey(key), nil
}

// FromKey wraps an already-parsed private key.
func FromKey(key *ecdsa.PrivateKey) *PrivateKeySigner {
	return &PrivateKeySigner{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		now:        time.Now,
	}
}

func (s *PrivateKeySigner) Address() string {
	return s.address.Hex()
}

// Sign builds an authorization for the requirement with a fresh random
// nonce and signs it over the requirement's settlement domain. The
// authorization window closes at the requirement's expiry.
func (s *PrivateKeySigner) Sign(req *types.PaymentRequirement) (*types.PaymentPayload, error) {
	chainID, ok := types.Network(req.Network).ChainID()
	if !ok {
		return nil, types.NewPaymentError(types.ErrUnsupportedNetwork,
			fmt.Sprintf("no chain binding for network %s", req.Network))
	}

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := s.now()
	validBefore := req.Expiry
	if validBefore == 0 {
		validBefore = now.Add(challengeFallbackWindow(req)).Unix()
	}

	auth := types.PaymentAuthorization{
		From:        s.address.Hex(),
		To:          common.HexToAddress(req.PayTo).Hex(),
		Value:       req.Amount,
		ValidAfter:  now.Add(-clockSkewBuffer).Unix(),
		ValidBefore: validBefore,
		Nonce:       nonce,
	}

	digest, err := verification.AuthorizationDigest(
		auth, chainID, req.Asset, domainName(req), domainVersion(req))
	if err != nil {
		return nil, fmt.Errorf("failed to build authorization digest: %w", err)
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign authorization: %w", err)
	}
	signature[64] += 27

	return &types.PaymentPayload{
		X402Version: req.X402Version,
		Scheme:      req.Scheme,
		Network:     req.Network,
		PaymentID:   req.PaymentID,
		Payload: types.ExactPayload{
			Signature:     "0x" + hex.EncodeToString(signature),
			Authorization: auth,
		},
	}, nil
}

// GenerateNonce returns a fresh 32-byte high-entropy nonce in hex.
func GenerateNonce() (string, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(nonce[:]), nil
}

func challengeFallbackWindow(req *types.PaymentRequirement) time.Duration {
	if req.MaxTimeoutSeconds > 0 {
		return time.Duration(req.MaxTimeoutSeconds) * time.Second
	}
	return 5 * time.Minute
}

func domainName(req *types.PaymentRequirement) string {
	if v, ok := req.Extra["name"]; ok && v != "" {
		return v
	}
	return verification.DefaultDomainName
}

func domainVersion(req *types.PaymentRequirement) string {
	if v, ok := req.Extra["version"]; ok && v != "" {
		return v
	}
	return verification.DefaultDomainVersion
}
