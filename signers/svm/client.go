// Package svm implements the client-side Solana signer used by the
// Exact-SVM scheme (spec §4.B, non-EVM network family).
package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// ClientSigner implements the signing surface mechanisms/svm's exact client
// scheme needs: an address to build transactions against and a way to sign
// the finished transaction.
type ClientSigner struct {
	privateKey solana.PrivateKey
}

// NewClientSignerFromPrivateKey builds a signer from a base58-encoded
// Solana private key (64-byte ed25519 seed+public key, the format the
// Solana CLI and wallets export).
func NewClientSignerFromPrivateKey(privateKeyBase58 string) (*ClientSigner, error) {
	if privateKeyBase58 == "" {
		return nil, fmt.Errorf("private key must not be empty")
	}
	key, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &ClientSigner{privateKey: key}, nil
}

// Address returns the signer's Solana public key.
func (s *ClientSigner) Address() solana.PublicKey {
	return s.privateKey.PublicKey()
}

// SignTransaction signs every message byte the transaction's fee payer and
// other required signers need, filling in tx.Signatures in place.
func (s *ClientSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.Address()) {
			return &s.privateKey
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	return nil
}
