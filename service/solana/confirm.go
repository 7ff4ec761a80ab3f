package solana

import (
	"context"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// VerifyParams tells the confirmation verifier what a positive balance
// signal looks like. Destination may be zero when the caller only knows the
// signature; the balance strategy is skipped in that case.
type VerifyParams struct {
	// Destination is the token account credited by the transfer.
	Destination solana.PublicKey

	// PreBalance is the destination's raw balance observed before the
	// transfer was submitted.
	PreBalance uint64

	// Expected is the raw amount the transfer should have credited.
	Expected uint64
}

// Verify determines whether the transaction identified by sig landed
// on-chain. A single confirmation RPC can itself time out, rate-limit, or
// return ambiguous status under congestion, so three independent strategies
// are tried in order, each capable of answering "confirmed" on its own:
//
//  1. signature status: non-error status at confirmed or finalized level
//  2. destination balance: current balance reached PreBalance + Expected
//  3. transaction history: any non-null record for the signature,
//     regardless of its parsed success field
//
// If the direct pass is inconclusive the same sequence repeats at a fixed
// interval up to the configured attempt cap, with one final best-effort pass
// after the loop. Transient per-check errors are logged and swallowed; only
// the caller's context can abort early. The result is tri-state collapsed to
// a terminal answer: OutcomeConfirmed or OutcomeExhausted.
func (c *Client) Verify(ctx context.Context, sig solana.Signature, p VerifyParams) ConfirmationOutcome {
	c.logger.InfoContext(ctx, "confirming transaction", "signature", sig.String())

	if c.verifyOnce(ctx, sig, p) {
		return OutcomeConfirmed
	}

	for attempt := 0; attempt < c.timeouts.ConfirmMaxAttempts; attempt++ {
		if err := c.sleep(ctx, c.timeouts.ConfirmInterval); err != nil {
			c.logger.WarnContext(ctx, "confirmation polling aborted",
				"signature", sig.String(),
				"error", err,
			)
			return OutcomeExhausted
		}

		c.logger.DebugContext(ctx, "confirmation polling",
			"signature", sig.String(),
			"attempt", attempt+1,
			"max_attempts", c.timeouts.ConfirmMaxAttempts,
		)
		if c.verifyOnce(ctx, sig, p) {
			return OutcomeConfirmed
		}
	}

	// One last look before declaring failure; the final sleep may have been
	// exactly the window the transaction needed.
	if c.verifyOnce(ctx, sig, p) {
		c.logger.InfoContext(ctx, "transaction confirmed on final check", "signature", sig.String())
		return OutcomeConfirmed
	}

	c.logger.WarnContext(ctx, "confirmation exhausted, transaction state unknown",
		"signature", sig.String(),
		"attempts", c.timeouts.ConfirmMaxAttempts,
	)
	return OutcomeExhausted
}

// verifyOnce runs one pass of the three strategies. Errors from individual
// checks are logged and treated as "no answer", never raised.
func (c *Client) verifyOnce(ctx context.Context, sig solana.Signature, p VerifyParams) bool {
	if c.statusCheck(ctx, sig) {
		return true
	}
	if !p.Destination.IsZero() && c.balanceCheck(ctx, sig, p) {
		return true
	}
	return c.historyCheck(ctx, sig)
}

// statusCheck queries the signature status and confirms on a non-error
// status at confirmed or finalized commitment.
func (c *Client) statusCheck(ctx context.Context, sig solana.Signature) bool {
	res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		c.logger.DebugContext(ctx, "status check failed",
			"signature", sig.String(),
			"error", err,
		)
		c.recordConfirmationCheck("status", "error")
		return false
	}
	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		c.recordConfirmationCheck("status", "pending")
		return false
	}

	status := res.Value[0]
	if status.Err != nil {
		c.recordConfirmationCheck("status", "pending")
		return false
	}
	if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
		status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
		c.logger.InfoContext(ctx, "transaction verified via status check",
			"signature", sig.String(),
			"confirmation_status", string(status.ConfirmationStatus),
		)
		c.recordConfirmationCheck("status", "confirmed")
		return true
	}

	c.recordConfirmationCheck("status", "pending")
	return false
}

// balanceCheck reads the destination token account and confirms when the
// balance has grown by at least the expected amount over what was observed
// before submission. Comparing deltas instead of a bare nonzero balance
// keeps a pre-existing credit from masquerading as this transfer.
func (c *Client) balanceCheck(ctx context.Context, sig solana.Signature, p VerifyParams) bool {
	res, err := c.rpc.GetTokenAccountBalance(ctx, p.Destination, rpc.CommitmentConfirmed)
	if err != nil {
		c.logger.DebugContext(ctx, "balance check failed",
			"signature", sig.String(),
			"account", p.Destination.String(),
			"error", err,
		)
		c.recordConfirmationCheck("balance", "error")
		return false
	}
	if res == nil || res.Value == nil {
		c.recordConfirmationCheck("balance", "pending")
		return false
	}

	amount, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		c.logger.WarnContext(ctx, "balance check returned unparseable amount",
			"account", p.Destination.String(),
			"amount", res.Value.Amount,
			"error", err,
		)
		c.recordConfirmationCheck("balance", "error")
		return false
	}

	if amount >= p.PreBalance+p.Expected {
		c.logger.InfoContext(ctx, "transaction verified via balance check",
			"signature", sig.String(),
			"account", p.Destination.String(),
			"balance", amount,
			"pre_balance", p.PreBalance,
			"expected", p.Expected,
		)
		c.recordConfirmationCheck("balance", "confirmed")
		return true
	}

	c.recordConfirmationCheck("balance", "pending")
	return false
}

// historyCheck fetches the full transaction record. Any non-null record
// counts as confirmed, independent of the record's own success field: the
// ledger having the transaction at all means the network accepted it.
func (c *Client) historyCheck(ctx context.Context, sig solana.Signature) bool {
	maxVersion := uint64(0)
	res, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		c.logger.DebugContext(ctx, "history check failed",
			"signature", sig.String(),
			"error", err,
		)
		c.recordConfirmationCheck("history", "error")
		return false
	}
	if res == nil {
		c.recordConfirmationCheck("history", "pending")
		return false
	}

	c.logger.InfoContext(ctx, "transaction verified via history check", "signature", sig.String())
	c.recordConfirmationCheck("history", "confirmed")
	return true
}

// confirmTransfer is the orchestrator-facing entry point.
func (c *Client) confirmTransfer(ctx context.Context, sig solana.Signature, dest solana.PublicKey, preBalance, expected uint64) ConfirmationOutcome {
	return c.Verify(ctx, sig, VerifyParams{
		Destination: dest,
		PreBalance:  preBalance,
		Expected:    expected,
	})
}

func (c *Client) recordConfirmationCheck(strategy, outcome string) {
	if c.metrics != nil {
		c.metrics.RecordConfirmationCheck(strategy, outcome)
	}
}
