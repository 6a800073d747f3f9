package services

import "errors"

// Failure categories surfaced by the protocol services. Handlers map
// these onto HTTP statuses and callers branch with errors.Is; the
// wrapped detail carries the specifics.
var (
	// ErrInvalidInput means the caller supplied a malformed or
	// out-of-range value before any external call was made.
	ErrInvalidInput = errors.New("invalid input")

	// ErrWalletUnavailable means the session has no usable signing
	// identity.
	ErrWalletUnavailable = errors.New("wallet unavailable")

	// ErrNoCommitment means no stored position exists for the owner.
	ErrNoCommitment = errors.New("no commitment found for owner")

	// ErrPositionExists means the owner already holds an open position
	// and a second deposit would orphan the first.
	ErrPositionExists = errors.New("position already exists for owner")

	// ErrInsufficientHealth means the action would leave the position
	// below its minimum health factor. Raised locally, before any proof
	// is requested.
	ErrInsufficientHealth = errors.New("insufficient health factor")

	// ErrNullifierUsed means the ledger already consumed the nullifier
	// this action would spend.
	ErrNullifierUsed = errors.New("nullifier already used")

	// ErrActionInFlight means another submission for this owner and
	// action kind has not reached a terminal state yet.
	ErrActionInFlight = errors.New("action already in flight")

	// ErrRootMismatch means the cached witness could not be reconciled
	// with the live tree root.
	ErrRootMismatch = errors.New("merkle root mismatch")

	// ErrSubmissionFailed means the gateway rejected or reverted the
	// submitted transaction.
	ErrSubmissionFailed = errors.New("ledger submission failed")

	// ErrSubmissionTimeout means the transaction outcome was not
	// observed in time. The transaction may still land.
	ErrSubmissionTimeout = errors.New("ledger submission timed out")
)
