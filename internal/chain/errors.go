package chain

import "github.com/pkg/errors"

var (
	// ErrChainUnavailable means every configured endpoint failed after
	// bounded retries. Callers must not mutate ledgers on this path.
	ErrChainUnavailable = errors.New("chain unavailable")

	// ErrGasEstimation means the node could not produce a gas limit even
	// with a relaxed minimum-out.
	ErrGasEstimation = errors.New("gas estimation failed")

	// ErrReceiptTimeout means a receipt did not land within the wait
	// window. It is retryable and distinct from a failed transaction.
	ErrReceiptTimeout = errors.New("transaction receipt wait timed out")

	// ErrTxReverted means the transaction landed but reverted on-chain.
	ErrTxReverted = errors.New("transaction reverted")

	// ErrFillNotFound means no transfer to the wallet could be matched in
	// the receipt logs. Reconciliation never guesses an amount.
	ErrFillNotFound = errors.New("fill transfer not found in receipt")

	// ErrNoSigner means a signing operation was requested without a key.
	ErrNoSigner = errors.New("no private key configured")
)
