package solana

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/rpc"
)

// EnsureTokenAccount returns the associated token account address that holds
// mint for owner, creating it on-chain if absent.
//
// The derivation is pure computation; only the existence probe and the
// optional creation touch the network. Payer may differ from owner, which
// lets a sender sponsor the rent for a recipient's account. When a creation
// is needed, the transaction is signed by wallet, submitted with the send
// retry budget, and confirmed with the same multi-strategy verifier as a
// funded transfer before the address is returned.
//
// Calling this twice for an existing (mint, owner) pair performs zero write
// transactions on the second call.
func (c *Client) EnsureTokenAccount(ctx context.Context, mint, owner, payer solana.PublicKey, wallet Signer) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token account: %w", err)
	}

	exists, err := c.tokenAccountExists(ctx, ata)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if exists {
		c.logger.DebugContext(ctx, "token account exists",
			"account", ata.String(),
			"owner", owner.String(),
		)
		return ata, nil
	}

	c.logger.InfoContext(ctx, "creating token account",
		"account", ata.String(),
		"owner", owner.String(),
		"mint", mint.String(),
		"payer", payer.String(),
	)

	blockhash, err := c.latestBlockhash(ctx)
	if err != nil {
		return solana.PublicKey{}, err
	}

	ix := associatedtokenaccount.NewCreateInstruction(payer, owner, mint).Build()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		blockhash.Value.Blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to build creation transaction: %w", err)
	}

	signed, err := wallet.SignTransaction(ctx, tx)
	if err != nil {
		if isUserDeclined(err) {
			return solana.PublicKey{}, newTransferError(CodeUserCancelled, "account creation", err)
		}
		return solana.PublicKey{}, newTransferError(CodeWallet, "account creation", err)
	}

	sig, err := c.submitTransaction(ctx, signed, "account creation send")
	if err != nil {
		return solana.PublicKey{}, err
	}

	// A fresh account confirms on existence alone: expected delta zero.
	outcome := c.confirmTransfer(ctx, sig, ata, 0, 0)
	if outcome != OutcomeConfirmed {
		return solana.PublicKey{}, newTransferError(CodeAccountCreation, "account creation",
			fmt.Errorf("creation transaction %s not confirmed", sig))
	}

	// Give the new account a moment to settle before it is read back.
	if err := c.sleep(ctx, 2*time.Second); err != nil {
		return solana.PublicKey{}, newTransferError(CodeTimeout, "account creation", err)
	}

	c.logger.InfoContext(ctx, "token account created",
		"account", ata.String(),
		"signature", sig.String(),
	)
	return ata, nil
}

// tokenAccountExists probes an account with the read retry budget. A
// definitive not-found answer from the RPC is a probe result, not a failure;
// any other error propagates classified.
func (c *Client) tokenAccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	const op = "account check"
	return withTimeout(ctx, c, c.timeouts.RPC, op, func(ctx context.Context) (bool, error) {
		return withRetry(ctx, c, c.readPolicy, op, func(ctx context.Context) (bool, error) {
			info, err := c.rpc.GetAccountInfo(ctx, account)
			if err != nil {
				if errors.Is(err, rpc.ErrNotFound) {
					return false, nil
				}
				return false, err
			}
			return info != nil && info.Value != nil, nil
		})
	})
}

// latestBlockhash fetches a fresh blockhash with the read retry budget.
// Blockhashes have a finite validity window; fetch one immediately before
// signing and never reuse it across flows.
func (c *Client) latestBlockhash(ctx context.Context) (*rpc.GetLatestBlockhashResult, error) {
	const op = "blockhash fetch"
	return withTimeout(ctx, c, c.timeouts.RPC, op, func(ctx context.Context) (*rpc.GetLatestBlockhashResult, error) {
		return withRetry(ctx, c, c.readPolicy, op, func(ctx context.Context) (*rpc.GetLatestBlockhashResult, error) {
			return c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
		})
	})
}

// submitTransaction serializes a signed transaction and sends it with the
// send retry budget under the send timeout.
func (c *Client) submitTransaction(ctx context.Context, signed *solana.Transaction, op string) (solana.Signature, error) {
	raw, err := signed.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	maxRetries := uint(3)
	return withTimeout(ctx, c, c.timeouts.Send, op, func(ctx context.Context) (solana.Signature, error) {
		return withRetry(ctx, c, c.sendPolicy, op, func(ctx context.Context) (solana.Signature, error) {
			return c.rpc.SendRawTransaction(ctx, raw, rpc.TransactionOpts{
				SkipPreflight:       false,
				PreflightCommitment: rpc.CommitmentConfirmed,
				MaxRetries:          &maxRetries,
			})
		})
	})
}
