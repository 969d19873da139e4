package ledger

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/settld-labs/x402/types"
	"github.com/settld-labs/x402/utils"
)

const eip3009ABI = `[{
	"type": "function",
	"name": "transferWithAuthorization",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "from", "type": "address"},
		{"name": "to", "type": "address"},
		{"name": "value", "type": "uint256"},
		{"name": "validAfter", "type": "uint256"},
		{"name": "validBefore", "type": "uint256"},
		{"name": "nonce", "type": "bytes32"},
		{"name": "v", "type": "uint8"},
		{"name": "r", "type": "bytes32"},
		{"name": "s", "type": "bytes32"}
	],
	"outputs": []
}]`

const receiptPollInterval = 2 * time.Second

// EVMExecutor submits transferWithAuthorization calls to an EVM chain with
// the facilitator's key and waits for inclusion.
type EVMExecutor struct {
	network  types.Network
	chainID  *big.Int
	client   *ethclient.Client
	key      *ecdsa.PrivateKey
	sender   common.Address
	abi      abi.ABI
	gasLimit uint64 // optional cap, 0 = unbounded
}

var _ Executor = (*EVMExecutor)(nil)

// NewEVMExecutor dials the RPC endpoint and prepares the facilitator key.
func NewEVMExecutor(network types.Network, rpcURL, privateKeyHex string) (*EVMExecutor, error) {
	chainID, ok := network.ChainID()
	if !ok {
		return nil, fmt.Errorf("no chain binding for network %s", network)
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid facilitator private key: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(eip3009ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	return &EVMExecutor{
		network: network,
		chainID: chainID,
		client:  client,
		key:     key,
		sender:  crypto.PubkeyToAddress(key.PublicKey),
		abi:     parsed,
	}, nil
}

// WithGasLimit caps the gas the executor will spend per transfer.
func (e *EVMExecutor) WithGasLimit(limit uint64) *EVMExecutor {
	e.gasLimit = limit
	return e
}

func (e *EVMExecutor) Network() types.Network {
	return e.network
}

func (e *EVMExecutor) Close() {
	e.client.Close()
}

// ExecuteTransfer packs the authorization into a transferWithAuthorization
// call, sends it as an EIP-1559 transaction and waits for the receipt
// within the context deadline.
func (e *EVMExecutor) ExecuteTransfer(ctx context.Context, req TransferRequest) (string, error) {
	txData, err := e.packTransfer(req)
	if err != nil {
		return "", err
	}

	contract := common.HexToAddress(req.Asset)

	txNonce, err := e.client.PendingNonceAt(ctx, e.sender)
	if err != nil {
		return "", fmt.Errorf("failed to get pending nonce: %w", err)
	}

	gasTipCap, err := e.client.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to suggest gas tip cap: %w", err)
	}

	header, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get block header: %w", err)
	}
	if header.BaseFee == nil {
		return "", fmt.Errorf("network %s does not support EIP-1559", e.network)
	}

	gasFeeCap := new(big.Int).Add(
		new(big.Int).Mul(header.BaseFee, big.NewInt(2)),
		gasTipCap,
	)

	gasLimit, err := e.client.EstimateGas(ctx, ethereum.CallMsg{
		From: e.sender,
		To:   &contract,
		Data: txData,
	})
	if err != nil {
		// estimation failure means the call would revert; nothing submitted
		return "", fmt.Errorf("%w: %v", ErrExecutionReverted, err)
	}

	// 20% buffer over the estimate
	gasLimit = gasLimit * 120 / 100
	if e.gasLimit > 0 && gasLimit > e.gasLimit {
		return "", fmt.Errorf("gas estimate %d exceeds configured limit %d", gasLimit, e.gasLimit)
	}

	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     txNonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &contract,
		Value:     big.NewInt(0),
		Data:      txData,
	})

	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewLondonSigner(e.chainID), e.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := e.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	txHash := signedTx.Hash().Hex()
	return e.waitForReceipt(ctx, signedTx.Hash(), txHash)
}

// Simulate runs the transfer as an eth_call without submitting anything.
// Used by the verification path to pre-check that settlement would not
// revert (nonce already consumed on-chain, insufficient balance, paused
// contract).
func (e *EVMExecutor) Simulate(ctx context.Context, req TransferRequest) error {
	txData, err := e.packTransfer(req)
	if err != nil {
		return err
	}

	contract := common.HexToAddress(req.Asset)
	_, err = e.client.CallContract(ctx, ethereum.CallMsg{
		From: e.sender,
		To:   &contract,
		Data: txData,
	}, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExecutionReverted, err)
	}
	return nil
}

// BalanceOf reads the payer's token balance for pre-checks.
func (e *EVMExecutor) BalanceOf(ctx context.Context, asset, account string) (*big.Int, error) {
	balanceABI, err := abi.JSON(strings.NewReader(`[{
		"type": "function",
		"name": "balanceOf",
		"stateMutability": "view",
		"inputs": [{"name": "account", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}]
	}]`))
	if err != nil {
		return nil, err
	}

	data, err := balanceABI.Pack("balanceOf", common.HexToAddress(account))
	if err != nil {
		return nil, err
	}

	contract := common.HexToAddress(asset)
	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	if len(out) != 32 {
		return nil, fmt.Errorf("unexpected balance result length %d", len(out))
	}
	return new(big.Int).SetBytes(out), nil
}

func (e *EVMExecutor) packTransfer(req TransferRequest) ([]byte, error) {
	auth := req.Authorization

	value, err := utils.ParseAtomicAmount(auth.Value)
	if err != nil {
		return nil, err
	}

	nonce, err := utils.ParseNonce(auth.Nonce)
	if err != nil {
		return nil, err
	}

	v, r, s, err := splitSignature(req.Signature)
	if err != nil {
		return nil, err
	}

	return e.abi.Pack(
		"transferWithAuthorization",
		common.HexToAddress(auth.From),
		common.HexToAddress(auth.To),
		value,
		big.NewInt(auth.ValidAfter),
		big.NewInt(auth.ValidBefore),
		nonce,
		v,
		r,
		s,
	)
}

func (e *EVMExecutor) waitForReceipt(ctx context.Context, hash common.Hash, txHash string) (string, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.client.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status == ethtypes.ReceiptStatusFailed {
				return txHash, ErrExecutionReverted
			}
			return txHash, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			// transient RPC error; keep polling until the deadline
			err = nil
		}

		select {
		case <-ctx.Done():
			// submitted; outcome unknown
			return txHash, ErrConfirmationTimeout
		case <-ticker.C:
		}
	}
}

// splitSignature decomposes a 65-byte hex signature into the contract's
// (v, r, s) form, converting raw 0/1 recovery ids to 27/28.
func splitSignature(sigHex string) (uint8, [32]byte, [32]byte, error) {
	var r, s [32]byte

	raw, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return 0, r, s, fmt.Errorf("bad signature hex: %w", err)
	}
	if len(raw) != 65 {
		return 0, r, s, fmt.Errorf("signature must be 65 bytes, got %d", len(raw))
	}

	copy(r[:], raw[0:32])
	copy(s[:], raw[32:64])
	v := raw[64]
	if v == 0 || v == 1 {
		v += 27
	}
	return v, r, s, nil
}
