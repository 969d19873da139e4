// Package ledger defines the narrow interface to the external settlement
// ledger and ships an EVM reference implementation. The core treats the
// executor as an atomic, idempotent-by-nonce transfer primitive; token
// contract semantics, fees and chain RPC details stay behind it.
package ledger

import (
	"context"
	"errors"

	"github.com/settld-labs/x402/types"
)

// ErrConfirmationTimeout reports that the transfer was submitted to the
// external ledger but not confirmed within the caller's deadline. The
// outcome is unknown, not negative: the reservation behind it must be kept
// and reconciled, never rolled back.
var ErrConfirmationTimeout = errors.New("transfer submitted but unconfirmed within deadline")

// ErrExecutionReverted reports that the ledger definitively rejected the
// transfer. No value moved.
var ErrExecutionReverted = errors.New("transfer rejected by external ledger")

// TransferRequest carries everything the external ledger needs to execute
// a signed authorization.
type TransferRequest struct {
	Network string
	Asset   string

	Authorization types.PaymentAuthorization

	// Signature is the authorization proof, hex encoded.
	Signature string
}

// Executor performs the actual value movement. ExecuteTransfer returns an
// opaque external reference (e.g. a transaction hash) once the transfer is
// confirmed. When submission succeeded but confirmation did not arrive in
// time it returns the reference together with ErrConfirmationTimeout; a
// reference paired with any other error means nothing was submitted.
type Executor interface {
	ExecuteTransfer(ctx context.Context, req TransferRequest) (string, error)
}
