package solana

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies a settlement failure. Codes are stable strings so they
// can be surfaced to API clients and matched in tests.
type ErrorCode string

const (
	// CodeUserCancelled means the wallet owner declined the signature prompt.
	// Terminal and never retried.
	CodeUserCancelled ErrorCode = "USER_CANCELLED"

	// CodeInsufficientFunds means the advisory pre-flight balance check failed.
	CodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"

	// CodeRateLimited means the RPC endpoint rejected us with 429 and the
	// retry budget was exhausted.
	CodeRateLimited ErrorCode = "RATE_LIMITED"

	// CodeStaleBlockhash means the transaction's blockhash expired before the
	// network accepted it.
	CodeStaleBlockhash ErrorCode = "STALE_BLOCKHASH"

	// CodeTimeout means an operation or the whole flow exceeded its deadline.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeConfirmation means every verification strategy and the polling
	// budget were exhausted without a positive signal. The transfer may still
	// have landed on-chain; callers should tell users to check their wallet
	// before retrying.
	CodeConfirmation ErrorCode = "CONFIRMATION_ERROR"

	// CodeAccountCreation means an associated token account creation
	// transaction could not be confirmed.
	CodeAccountCreation ErrorCode = "ACCOUNT_CREATION_ERROR"

	// CodeWallet means the signing collaborator is missing or misconfigured.
	CodeWallet ErrorCode = "WALLET_ERROR"

	// CodeOperationFailed is the generic wrapper for anything else; the
	// original message is preserved for diagnostics.
	CodeOperationFailed ErrorCode = "OPERATION_FAILED"
)

// TransferError is a classified settlement failure. The wrapped error keeps
// the original message for diagnostics.
type TransferError struct {
	Code ErrorCode
	Op   string // human-readable operation name, e.g. "transaction send"
	Err  error
}

func (e *TransferError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// newTransferError wraps err with a code and operation name.
func newTransferError(code ErrorCode, op string, err error) *TransferError {
	return &TransferError{Code: code, Op: op, Err: err}
}

// CodeOf extracts the classification from an error chain. Unclassified errors
// report CodeOperationFailed.
func CodeOf(err error) ErrorCode {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Code
	}
	return CodeOperationFailed
}

// ErrUserDeclined is returned by a Signer when the human rejects the
// signature prompt. It is the only genuine external cancellation signal in
// the flow and is never retried.
var ErrUserDeclined = errors.New("user declined signature request")

// isUserDeclined reports whether err is a signing rejection, either our own
// sentinel or a wallet adapter's message.
func isUserDeclined(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserDeclined) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "user rejected") || strings.Contains(msg, "user declined")
}

// isRateLimited reports whether err is an RPC rate-limit rejection. The RPC
// layer signals this either as an HTTP 429 or a "rate limit" message; we
// match on the message the way the transport surfaces it.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "rate limit")
}

// isStaleBlockhash reports whether err indicates the transaction's blockhash
// fell out of the validity window. This is a timing problem, not load, so the
// caller retries immediately with a fresh blockhash.
func isStaleBlockhash(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "blockhash not found") ||
		strings.Contains(msg, "blockhashnotfound") ||
		strings.Contains(msg, "404")
}
