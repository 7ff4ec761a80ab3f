package solana

import (
	"github.com/gagliardetto/solana-go"
)

// TransferParams describes one token transfer intent: move Amount (in the
// token's smallest unit) of Mint from the signing wallet to Recipient.
type TransferParams struct {
	// Mint is the token being transferred.
	Mint solana.PublicKey

	// Recipient is the destination wallet owner (not its token account; the
	// associated account is derived and created if needed).
	Recipient solana.PublicKey

	// Amount is the raw amount in the token's smallest unit. Must be > 0.
	Amount uint64

	// Wallet signs the transfer and pays the fee.
	Wallet Signer
}

// TransferResult is the terminal outcome of a settlement attempt.
// A user declining the signature prompt is a valid outcome, not an error, so
// callers can skip error styling in the UI.
type TransferResult struct {
	// Signature identifies the settled transaction. Zero when Cancelled.
	Signature solana.Signature

	// Cancelled is true when the user declined the signature prompt.
	Cancelled bool
}

// ConfirmationOutcome is the tri-state result of the confirmation verifier.
type ConfirmationOutcome int

const (
	// OutcomePending means no check has produced a definite answer yet.
	OutcomePending ConfirmationOutcome = iota

	// OutcomeConfirmed means at least one verification strategy positively
	// observed the transfer on-chain.
	OutcomeConfirmed

	// OutcomeExhausted means every strategy and the full polling budget were
	// spent without a positive signal. The transfer may still have landed;
	// this is inherent ambiguity, reported rather than resolved.
	OutcomeExhausted
)

func (o ConfirmationOutcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeExhausted:
		return "exhausted"
	default:
		return "pending"
	}
}

// Balance is a token balance read from the chain.
type Balance struct {
	// Raw is the amount in the token's smallest unit.
	Raw uint64

	// Decimals is the token's decimal precision.
	Decimals uint8

	// UI is the human-readable amount (Raw scaled by Decimals).
	UI float64
}
