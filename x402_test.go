package x402

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settld-labs/x402/challenge"
	"github.com/settld-labs/x402/codec"
	"github.com/settld-labs/x402/gate"
	"github.com/settld-labs/x402/ledger"
	"github.com/settld-labs/x402/signer"
	"github.com/settld-labs/x402/types"
)

const testRef = "0xefefefefefefefefefefefefefefefefefefefefefefefefefefefefefefefef"

type recordingExecutor struct {
	calls int32
}

func (r *recordingExecutor) ExecuteTransfer(context.Context, ledger.TransferRequest) (string, error) {
	atomic.AddInt32(&r.calls, 1)
	return testRef, nil
}

func premiumResource() challenge.ResourceDescriptor {
	return challenge.ResourceDescriptor{
		Network:     "base-sepolia",
		Amount:      "1000000",
		Asset:       "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		PayTo:       "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		Resource:    "https://api.example.com/premium",
		Description: "premium data",
	}
}

func TestChallengeSignSettleRoundTrip(t *testing.T) {
	exec := &recordingExecutor{}
	x := New(exec, WithTimeout(5*time.Second))
	defer x.Close()

	req, err := x.IssueChallenge(premiumResource())
	require.NoError(t, err)
	assert.NotEmpty(t, req.PaymentID)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	payload, err := signer.FromKey(key).Sign(req)
	require.NoError(t, err)

	result := x.Verify(payload, req)
	require.True(t, result.IsValid, result.InvalidReason)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), result.Payer)

	record, err := x.Settle(context.Background(), payload, req)
	require.NoError(t, err)
	assert.Equal(t, types.SettlementConfirmed, record.Status)
	assert.Equal(t, testRef, record.ExternalReference)
	assert.Equal(t, req.PaymentID, record.PaymentID)

	// the authorization is single use
	_, err = x.Settle(context.Background(), payload, req)
	assert.Equal(t, types.ErrNonceAlreadyUsed, types.CodeOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&exec.calls))
}

func TestPaymentSurvivesHeaderTransport(t *testing.T) {
	x := New(&recordingExecutor{})
	defer x.Close()

	req, err := x.IssueChallenge(premiumResource())
	require.NoError(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	payload, err := signer.FromKey(key).Sign(req)
	require.NoError(t, err)

	header, err := codec.EncodePayment(payload)
	require.NoError(t, err)
	decoded, err := codec.DecodePayment(header)
	require.NoError(t, err)

	record, err := x.Settle(context.Background(), decoded, req)
	require.NoError(t, err)
	assert.Equal(t, types.SettlementConfirmed, record.Status)
}

func TestGatedResourceOverHTTP(t *testing.T) {
	x := New(&recordingExecutor{})
	defer x.Close()

	g := x.Gate(gate.Config{Resource: premiumResource()})
	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("premium data"))
	}))

	// first request is challenged
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/premium", nil))
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var body types.PaymentRequiredResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Accepts, 1)

	// pay and retry
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	payload, err := signer.FromKey(key).Sign(&body.Accepts[0])
	require.NoError(t, err)
	header, err := codec.EncodePayment(payload)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/premium", nil)
	r.Header.Set(gate.HeaderPayment, header)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "premium data", rec.Body.String())

	record, err := codec.DecodeSettlement(rec.Header().Get(gate.HeaderPaymentResponse))
	require.NoError(t, err)
	assert.Equal(t, types.SettlementConfirmed, record.Status)
}

func TestSupported(t *testing.T) {
	x := New(&recordingExecutor{})
	defer x.Close()

	resp := x.Supported()
	require.NotEmpty(t, resp.Kinds)
	for _, kind := range resp.Kinds {
		assert.Equal(t, ProtocolVersion, kind.X402Version)
		assert.Equal(t, string(types.SchemeExact), kind.Scheme)
	}
}
