package solana

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// SPL token account layout: mint (32 bytes), owner (32 bytes), then the raw
// amount as a little-endian u64.
const tokenAmountOffset = 64

// GetTokenBalance returns owner's raw balance of mint, summed over the
// owner's token accounts for that mint. An owner with no token account has a
// balance of zero; that is a result, not an error.
//
// This is a read-only query reusing the retry and timeout layers; it never
// writes to the chain.
func (c *Client) GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	const op = "balance fetch"
	return withTimeout(ctx, c, c.timeouts.RPC, op, func(ctx context.Context) (uint64, error) {
		return withRetry(ctx, c, c.readPolicy, op, func(ctx context.Context) (uint64, error) {
			res, err := c.rpc.GetTokenAccountsByOwner(ctx, owner,
				&rpc.GetTokenAccountsConfig{Mint: &mint},
				&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingBase64},
			)
			if err != nil {
				return 0, err
			}
			if res == nil || len(res.Value) == 0 {
				return 0, nil
			}

			var total uint64
			for _, acct := range res.Value {
				amount, err := parseTokenAccountAmount(acct)
				if err != nil {
					return 0, fmt.Errorf("account %s: %w", acct.Pubkey, err)
				}
				total += amount
			}
			return total, nil
		})
	})
}

// parseTokenAccountAmount extracts the raw amount field from a token
// account's binary data.
func parseTokenAccountAmount(acct *rpc.TokenAccount) (uint64, error) {
	if acct == nil || acct.Account.Data == nil {
		return 0, fmt.Errorf("empty token account data")
	}
	data := acct.Account.Data.GetBinary()
	if len(data) < tokenAmountOffset+8 {
		return 0, fmt.Errorf("token account data too short: %d bytes", len(data))
	}
	return binary.LittleEndian.Uint64(data[tokenAmountOffset : tokenAmountOffset+8]), nil
}
