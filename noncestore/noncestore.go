// Package noncestore implements the replay-protection ledger: a durable set
// of (signer, nonce) pairs already consumed by settlement. Reservation is
// the atomicity primitive the settlement engine is built on, so every
// implementation must be linearizable per (signer, nonce) key.
package noncestore

import "context"

// Store records consumed authorization nonces. It is the single authority
// for reservation decisions; no secondary caches.
type Store interface {
	// TryReserve atomically tests and sets (signer, nonce). It returns true
	// when the pair was newly reserved and false when it was already
	// present. Exactly one concurrent caller observes true for a given pair.
	TryReserve(ctx context.Context, signer, nonce string) (bool, error)

	// Release removes a reservation. It is the rollback path only, safe
	// strictly before external submission has been made.
	Release(ctx context.Context, signer, nonce string) error
}
