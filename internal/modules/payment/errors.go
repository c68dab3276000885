package payment

import "errors"

// Sentinel errors crossing the service boundary. The HTTP handler is the only
// place that maps these to status codes.
var (
	// ErrValidation covers missing or malformed initiate fields.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound means no transaction exists for the given id.
	ErrNotFound = errors.New("transaction not found")
	// ErrVerificationFailed means a webhook did not authenticate. No ledger
	// mutation happens behind this error.
	ErrVerificationFailed = errors.New("webhook verification failed")
	// ErrNoTransactionRef means an authentic webhook carried no resolvable
	// transaction identifier.
	ErrNoTransactionRef = errors.New("webhook carries no transaction reference")
	// ErrProvider wraps failures talking to the external provider API.
	ErrProvider = errors.New("provider call failed")
	// ErrPersistence wraps ledger write failures. When it follows a
	// successful provider call the caller must log it for reconciliation.
	ErrPersistence = errors.New("ledger persistence failed")
)
