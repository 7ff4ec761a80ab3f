package solana

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

// SendTokens moves params.Amount of params.Mint from the signing wallet to
// params.Recipient and returns the settled transaction signature.
//
// The sequence is strictly sequential: resolve source account, resolve
// destination account, advisory balance check, build, sign, submit, confirm.
// No two network calls for the same transfer are ever in flight at once. The
// whole sequence runs under the transfer timeout, which is longer than any
// step-level timeout, so a stuck step surfaces as a step error and a stuck
// sequence surfaces as a flow-level timeout.
//
// A declined signature prompt returns a TransferResult with Cancelled set
// and a nil error; every other terminal condition is a classified error.
func (c *Client) SendTokens(ctx context.Context, params TransferParams) (*TransferResult, error) {
	if params.Wallet == nil {
		return nil, newTransferError(CodeWallet, "transfer", fmt.Errorf("no signing wallet configured"))
	}
	if params.Amount == 0 {
		return nil, newTransferError(CodeOperationFailed, "transfer", fmt.Errorf("transfer amount must be greater than zero"))
	}

	return withTimeout(ctx, c, c.timeouts.Transfer, "transfer", func(ctx context.Context) (*TransferResult, error) {
		return c.sendTokens(ctx, params)
	})
}

func (c *Client) sendTokens(ctx context.Context, params TransferParams) (*TransferResult, error) {
	sourceOwner := params.Wallet.PublicKey()

	c.logger.InfoContext(ctx, "starting token transfer",
		"from", sourceOwner.String(),
		"to", params.Recipient.String(),
		"mint", params.Mint.String(),
		"amount", params.Amount,
	)

	fromATA, err := c.EnsureTokenAccount(ctx, params.Mint, sourceOwner, sourceOwner, params.Wallet)
	if err != nil {
		if CodeOf(err) == CodeUserCancelled {
			return &TransferResult{Cancelled: true}, nil
		}
		return nil, err
	}

	// The sender sponsors the recipient's account rent when it is missing.
	toATA, err := c.EnsureTokenAccount(ctx, params.Mint, params.Recipient, sourceOwner, params.Wallet)
	if err != nil {
		if CodeOf(err) == CodeUserCancelled {
			return &TransferResult{Cancelled: true}, nil
		}
		return nil, err
	}

	// Advisory check only: the balance can change between here and
	// settlement. A race is the ledger's to reject, not ours.
	sourceBalance, err := c.tokenAccountBalance(ctx, fromATA)
	if err != nil {
		return nil, err
	}
	if sourceBalance < params.Amount {
		return nil, newTransferError(CodeInsufficientFunds, "balance check",
			fmt.Errorf("wallet holds %d, transfer needs %d", sourceBalance, params.Amount))
	}

	// Snapshot the destination so confirmation can compare deltas instead of
	// trusting a bare nonzero balance.
	destPreBalance, err := c.tokenAccountBalance(ctx, toATA)
	if err != nil {
		c.logger.WarnContext(ctx, "could not read destination pre-balance, delta check degraded",
			"account", toATA.String(),
			"error", err,
		)
		destPreBalance = 0
	}

	blockhash, err := c.latestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	ix := token.NewTransferInstruction(
		params.Amount,
		fromATA,
		toATA,
		sourceOwner,
		[]solana.PublicKey{},
	).Build()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		blockhash.Value.Blockhash,
		solana.TransactionPayer(sourceOwner),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer transaction: %w", err)
	}

	c.logger.DebugContext(ctx, "requesting signature",
		"fee_payer", sourceOwner.String(),
		"blockhash", blockhash.Value.Blockhash.String(),
		"last_valid_block_height", blockhash.Value.LastValidBlockHeight,
	)

	signed, err := params.Wallet.SignTransaction(ctx, tx)
	if err != nil {
		if isUserDeclined(err) {
			c.logger.InfoContext(ctx, "transfer cancelled by user", "from", sourceOwner.String())
			if c.metrics != nil {
				c.metrics.RecordTransfer("cancelled")
			}
			return &TransferResult{Cancelled: true}, nil
		}
		return nil, newTransferError(CodeWallet, "transaction signing", err)
	}

	sig, err := c.submitTransaction(ctx, signed, "transaction send")
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordTransfer("send_failed")
		}
		return nil, err
	}

	c.logger.InfoContext(ctx, "transaction sent, confirming", "signature", sig.String())

	outcome := c.confirmTransfer(ctx, sig, toATA, destPreBalance, params.Amount)
	if outcome != OutcomeConfirmed {
		if c.metrics != nil {
			c.metrics.RecordTransfer("unconfirmed")
		}
		// The transfer may still have landed; tell the user to check their
		// wallet before retrying rather than pretending we know it failed.
		return nil, newTransferError(CodeConfirmation, "transaction confirmation",
			fmt.Errorf("transaction %s could not be confirmed; check your wallet before retrying", sig))
	}

	if c.metrics != nil {
		c.metrics.RecordTransfer("confirmed")
	}
	c.logger.InfoContext(ctx, "transfer complete",
		"signature", sig.String(),
		"from", sourceOwner.String(),
		"to", params.Recipient.String(),
		"amount", params.Amount,
	)
	return &TransferResult{Signature: sig}, nil
}

// tokenAccountBalance reads one token account's raw balance with the read
// retry budget.
func (c *Client) tokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	const op = "balance check"
	return withTimeout(ctx, c, c.timeouts.RPC, op, func(ctx context.Context) (uint64, error) {
		return withRetry(ctx, c, c.readPolicy, op, func(ctx context.Context) (uint64, error) {
			res, err := c.rpc.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
			if err != nil {
				return 0, err
			}
			if res == nil || res.Value == nil {
				return 0, fmt.Errorf("empty balance response for %s", account)
			}
			amount, err := strconv.ParseUint(res.Value.Amount, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("unparseable balance %q for %s: %w", res.Value.Amount, account, err)
			}
			return amount, nil
		})
	})
}
