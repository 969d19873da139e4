package verification

import (
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settld-labs/x402/types"
	"github.com/settld-labs/x402/utils"
)

const (
	testAsset = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	testPayTo = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	testNonce = "0x2222222222222222222222222222222222222222222222222222222222222222"
)

func testRequirement(network string) *types.PaymentRequirement {
	return &types.PaymentRequirement{
		X402Version: 1,
		Scheme:      types.SchemeExact,
		Network:     network,
		Amount:      "1000000",
		Asset:       testAsset,
		PayTo:       testPayTo,
		Expiry:      time.Now().Add(5 * time.Minute).Unix(),
		PaymentID:   "pay_test",
		Extra:       map[string]string{"name": "USDC", "version": "2"},
	}
}

// signAuthorization produces a real signature the way a payer wallet would.
func signAuthorization(t *testing.T, auth types.PaymentAuthorization, req *types.PaymentRequirement) (string, string) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	chainID, ok := types.Network(req.Network).ChainID()
	require.True(t, ok)

	auth.From = crypto.PubkeyToAddress(key.PublicKey).Hex()

	digest, err := AuthorizationDigest(auth, chainID, req.Asset, "USDC", "2")
	require.NoError(t, err)

	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)
	sig[64] += 27

	return "0x" + hex.EncodeToString(sig), auth.From
}

func signedPayload(t *testing.T, req *types.PaymentRequirement) *types.ExactPayload {
	t.Helper()

	auth := types.PaymentAuthorization{
		To:          req.PayTo,
		Value:       req.Amount,
		ValidAfter:  time.Now().Add(-time.Minute).Unix(),
		ValidBefore: time.Now().Add(5 * time.Minute).Unix(),
		Nonce:       testNonce,
	}
	sig, from := signAuthorization(t, auth, req)
	auth.From = from

	return &types.ExactPayload{Signature: sig, Authorization: auth}
}

func TestExactEVMVerifyValidSignature(t *testing.T) {
	req := testRequirement("base-sepolia")
	payload := signedPayload(t, req)

	payer, err := NewExactEVMVerifier().Verify(payload, req)
	require.NoError(t, err)
	assert.Equal(t, payload.Authorization.From, payer)
}

func TestExactEVMVerifyNormalizesLegacyV(t *testing.T) {
	req := testRequirement("base-sepolia")
	payload := signedPayload(t, req)

	// rewrite v from 27/28 to the raw 0/1 recovery id
	raw, err := hex.DecodeString(strings.TrimPrefix(payload.Signature, "0x"))
	require.NoError(t, err)
	raw[64] -= 27
	payload.Signature = "0x" + hex.EncodeToString(raw)

	payer, err := NewExactEVMVerifier().Verify(payload, req)
	require.NoError(t, err)
	assert.Equal(t, payload.Authorization.From, payer)
}

func TestExactEVMVerifyRejectsTamperedValue(t *testing.T) {
	req := testRequirement("base-sepolia")
	payload := signedPayload(t, req)
	payload.Authorization.Value = "2000000"

	_, err := NewExactEVMVerifier().Verify(payload, req)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidSignature, types.CodeOf(err))
}

func TestExactEVMVerifyRejectsWrongFrom(t *testing.T) {
	req := testRequirement("base-sepolia")
	payload := signedPayload(t, req)
	payload.Authorization.From = testPayTo // not the key that signed

	_, err := NewExactEVMVerifier().Verify(payload, req)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidSignature, types.CodeOf(err))
}

func TestExactEVMVerifyCrossDomainReplay(t *testing.T) {
	reqA := testRequirement("base-sepolia")
	payload := signedPayload(t, reqA)

	// identical fields, different settlement domain
	reqB := testRequirement("polygon-amoy")

	_, err := NewExactEVMVerifier().Verify(payload, reqB)
	require.Error(t, err, "signature bound to one chain must fail on another")
	assert.Equal(t, types.ErrInvalidSignature, types.CodeOf(err))
}

func TestExactEVMVerifyRejectsShortSignature(t *testing.T) {
	req := testRequirement("base-sepolia")
	payload := signedPayload(t, req)
	payload.Signature = "0x1234"

	_, err := NewExactEVMVerifier().Verify(payload, req)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidSignature, types.CodeOf(err))
}

func TestExactEVMVerifyUnknownNetwork(t *testing.T) {
	req := testRequirement("base-sepolia")
	payload := signedPayload(t, req)
	req.Network = "lightning"

	_, err := NewExactEVMVerifier().Verify(payload, req)
	require.Error(t, err)
	assert.Equal(t, types.ErrUnsupportedNetwork, types.CodeOf(err))
}

func TestAuthorizationDigestDeterministic(t *testing.T) {
	auth := types.PaymentAuthorization{
		From:        testPayTo,
		To:          testPayTo,
		Value:       "1000000",
		ValidAfter:  100,
		ValidBefore: 200,
		Nonce:       testNonce,
	}
	chainID, _ := types.NetworkBaseSepolia.ChainID()

	d1, err := AuthorizationDigest(auth, chainID, testAsset, "USDC", "2")
	require.NoError(t, err)
	d2, err := AuthorizationDigest(auth, chainID, testAsset, "USDC", "2")
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	// any field change moves the digest
	auth.Value = "1000001"
	d3, err := AuthorizationDigest(auth, chainID, testAsset, "USDC", "2")
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func TestServiceDispatch(t *testing.T) {
	svc := NewService(nil)
	req := testRequirement("base-sepolia")
	exact := signedPayload(t, req)

	payload := &types.PaymentPayload{
		X402Version: 1,
		Scheme:      types.SchemeExact,
		Network:     req.Network,
		Payload:     *exact,
	}

	payer, err := svc.VerifyPayment(payload, req)
	require.NoError(t, err)
	assert.Equal(t, exact.Authorization.From, payer)

	payload.Scheme = types.Scheme("stream")
	_, err = svc.VerifyPayment(payload, req)
	require.Error(t, err)
	assert.Equal(t, types.ErrUnsupportedScheme, types.CodeOf(err))
}

func TestParseNonceRejectsOddLength(t *testing.T) {
	_, err := utils.ParseNonce("0xabc")
	assert.Error(t, err)
}
