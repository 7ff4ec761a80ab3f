package solana

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Signer is the wallet collaborator that owns the private key material. The
// settlement core never inspects or mutates signature bytes; it hands an
// unsigned transaction to the signer and gets a signed one back.
//
// Implementations must return ErrUserDeclined (or wrap it) when the human
// rejects the prompt so callers can distinguish cancellation from failure.
type Signer interface {
	// PublicKey returns the wallet's address.
	PublicKey() solana.PublicKey

	// SignTransaction signs tx and returns it. The call may suspend
	// indefinitely while a human decides; honor ctx for abandonment.
	SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error)
}

// KeypairSigner signs with a locally held private key. Used by the CLI and
// tests; browser wallets implement Signer on the other side of the API.
type KeypairSigner struct {
	key solana.PrivateKey
}

// NewKeypairSigner wraps a private key in a Signer.
func NewKeypairSigner(key solana.PrivateKey) *KeypairSigner {
	return &KeypairSigner{key: key}
}

// KeypairSignerFromFile loads a solana-keygen JSON file.
func KeypairSignerFromFile(path string) (*KeypairSigner, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair from %s: %w", path, err)
	}
	return &KeypairSigner{key: key}, nil
}

func (s *KeypairSigner) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

func (s *KeypairSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.key.PublicKey()) {
			return &s.key
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx, nil
}
