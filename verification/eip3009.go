package verification

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/settld-labs/x402/types"
	"github.com/settld-labs/x402/utils"
)

// EIP-712 domain defaults for USDC deployments that predate per-chain
// metadata in the requirement's extra map.
const (
	DefaultDomainName    = "USD Coin"
	DefaultDomainVersion = "2"
)

// ExactEVMVerifier verifies "exact" authorizations: EIP-3009
// TransferWithAuthorization signatures over the EIP-712 domain of the
// asset contract.
type ExactEVMVerifier struct{}

var _ SchemeVerifier = (*ExactEVMVerifier)(nil)

func NewExactEVMVerifier() *ExactEVMVerifier {
	return &ExactEVMVerifier{}
}

// Verify recovers the signer of the authorization and requires it to match
// the claimed from address. The digest is constructed from the
// requirement's chain binding and asset, so a signature minted for another
// settlement domain cannot recover to the payer here.
func (v *ExactEVMVerifier) Verify(payload *types.ExactPayload, req *types.PaymentRequirement) (string, error) {
	auth := payload.Authorization

	if !common.IsHexAddress(auth.From) || !common.IsHexAddress(auth.To) {
		return "", invalidSignature("authorization addresses are not valid hex addresses")
	}
	if !common.IsHexAddress(req.Asset) {
		return "", invalidSignature("requirement asset is not a valid contract address")
	}

	chainID, ok := types.Network(req.Network).ChainID()
	if !ok {
		return "", types.NewPaymentError(types.ErrUnsupportedNetwork,
			fmt.Sprintf("no chain binding for network %s", req.Network))
	}

	digest, err := AuthorizationDigest(auth, chainID, req.Asset, domainName(req), domainVersion(req))
	if err != nil {
		return "", invalidSignature(err.Error())
	}

	signature, err := hex.DecodeString(strings.TrimPrefix(payload.Signature, "0x"))
	if err != nil {
		return "", invalidSignature(fmt.Sprintf("bad signature hex: %v", err))
	}
	if len(signature) != 65 {
		return "", invalidSignature(fmt.Sprintf("signature must be 65 bytes, got %d", len(signature)))
	}

	// normalize V 27/28 to the 0/1 recovery id
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] == 27 || sig[64] == 28 {
		sig[64] -= 27
	}

	pubkey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return "", invalidSignature(fmt.Sprintf("signature recovery failed: %v", err))
	}

	recovered := crypto.PubkeyToAddress(*pubkey)
	if recovered != common.HexToAddress(auth.From) {
		return "", invalidSignature(fmt.Sprintf("recovered signer %s does not match from %s",
			recovered.Hex(), auth.From))
	}

	return recovered.Hex(), nil
}

// AuthorizationTypedData builds the canonical EIP-712 structure for a
// TransferWithAuthorization. The payer signs exactly this structure; any
// divergence between signing and verification is a protocol bug.
func AuthorizationTypedData(auth types.PaymentAuthorization, chainID *big.Int, asset, name, version string) (apitypes.TypedData, error) {
	value, err := utils.ParseAtomicAmount(auth.Value)
	if err != nil {
		return apitypes.TypedData{}, err
	}

	nonce, err := utils.ParseNonce(auth.Nonce)
	if err != nil {
		return apitypes.TypedData{}, err
	}

	hexChainID := math.HexOrDecimal256(*chainID)

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           &hexChainID,
			VerifyingContract: asset,
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From,
			"to":          auth.To,
			"value":       value,
			"validAfter":  big.NewInt(auth.ValidAfter),
			"validBefore": big.NewInt(auth.ValidBefore),
			"nonce":       nonce,
		},
	}, nil
}

// AuthorizationDigest computes the final EIP-712 digest for the
// authorization tuple bound to the given settlement domain.
func AuthorizationDigest(auth types.PaymentAuthorization, chainID *big.Int, asset, name, version string) ([]byte, error) {
	typedData, err := AuthorizationTypedData(auth, chainID, asset, name, version)
	if err != nil {
		return nil, err
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := append(append([]byte("\x19\x01"), domainSeparator...), messageHash...)
	return crypto.Keccak256(rawData), nil
}

func domainName(req *types.PaymentRequirement) string {
	if v, ok := req.Extra["name"]; ok && v != "" {
		return v
	}
	return DefaultDomainName
}

func domainVersion(req *types.PaymentRequirement) string {
	if v, ok := req.Extra["version"]; ok && v != "" {
		return v
	}
	return DefaultDomainVersion
}

func invalidSignature(msg string) *types.PaymentError {
	return types.NewPaymentError(types.ErrInvalidSignature, msg)
}
