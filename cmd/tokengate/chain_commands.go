package main

import (
	"context"
	"encoding/json"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/kasuto/tokengate/service/metrics"
	"github.com/kasuto/tokengate/service/solana"
)

func rpcURLFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "rpc-url",
		Value:   "https://api.mainnet-beta.solana.com",
		Usage:   "Solana RPC endpoint URL",
		EnvVars: []string{"SOLANA_RPC_URL"},
	}
}

func mintFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "mint",
		Usage:    "SPL token mint address",
		EnvVars:  []string{"TOKEN_MINT_ADDRESS"},
		Required: true,
	}
}

func chainClient(c *cli.Context) *solana.Client {
	rpcURL := c.String("rpc-url")
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return solana.NewClient(solana.NewRPCClient(rpcURL), rpcURL, m, cliLogger())
}

// transferCommand sends tokens directly from a local keypair. This is the
// same settlement path the storefront uses, driven from the command line.
func transferCommand() *cli.Command {
	return &cli.Command{
		Name:      "transfer",
		Usage:     "Send tokens to a recipient wallet",
		ArgsUsage: "RECIPIENT_ADDRESS AMOUNT_RAW",
		Flags: []cli.Flag{
			rpcURLFlag(),
			mintFlag(),
			jsonFlag(),
			&cli.StringFlag{
				Name:     "keypair",
				Aliases:  []string{"k"},
				Usage:    "Path to a solana-keygen JSON keypair file",
				EnvVars:  []string{"SOLANA_KEYPAIR"},
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("recipient address and amount are required")
			}
			recipient, err := solanago.PublicKeyFromBase58(c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("invalid recipient address: %w", err)
			}
			var amount uint64
			if _, err := fmt.Sscanf(c.Args().Get(1), "%d", &amount); err != nil {
				return fmt.Errorf("invalid amount %q", c.Args().Get(1))
			}
			mint, err := solanago.PublicKeyFromBase58(c.String("mint"))
			if err != nil {
				return fmt.Errorf("invalid mint address: %w", err)
			}

			wallet, err := solana.KeypairSignerFromFile(c.String("keypair"))
			if err != nil {
				return err
			}

			result, err := chainClient(c).SendTokens(context.Background(), solana.TransferParams{
				Mint:      mint,
				Recipient: recipient,
				Amount:    amount,
				Wallet:    wallet,
			})
			if err != nil {
				return fmt.Errorf("transfer failed: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.Marshal(map[string]interface{}{
					"signature": result.Signature.String(),
					"cancelled": result.Cancelled,
				})
				fmt.Println(string(data))
				return nil
			}
			if result.Cancelled {
				fmt.Println("Transfer cancelled by signer")
				return nil
			}
			fmt.Printf("✓ Transfer confirmed\n")
			fmt.Printf("  Signature: %s\n", result.Signature)
			return nil
		},
	}
}

// confirmCommand re-runs confirmation for an already-submitted transaction.
func confirmCommand() *cli.Command {
	return &cli.Command{
		Name:      "confirm",
		Usage:     "Check whether a transaction has settled on-chain",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			rpcURLFlag(),
			jsonFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("transaction signature is required")
			}
			sig, err := solanago.SignatureFromBase58(c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("invalid signature: %w", err)
			}

			outcome := chainClient(c).Verify(context.Background(), sig, solana.VerifyParams{})

			if c.Bool("json") {
				data, _ := json.Marshal(map[string]interface{}{
					"signature": sig.String(),
					"outcome":   outcome.String(),
				})
				fmt.Println(string(data))
			} else {
				fmt.Printf("Signature: %s\n", sig)
				fmt.Printf("Outcome:   %s\n", outcome)
			}

			if outcome != solana.OutcomeConfirmed {
				return fmt.Errorf("transaction not confirmed")
			}
			return nil
		},
	}
}
